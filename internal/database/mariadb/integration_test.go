//go:build integration

package mariadb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-auth/internal/config"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_USER":          "test",
			"MARIADB_PASSWORD":      "test",
			"MARIADB_DATABASE":      "testdb",
			"MARIADB_ROOT_PASSWORD": "root",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("test:test@tcp(%s:%s)/testdb", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	// The port opens before the server accepts logins.
	var pool *Pool
	for range 30 {
		pool, err = NewPool(cfg)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.EnsureSchema(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to apply schema: %v", err)
	}

	return pool, func() {
		pool.Close()
		container.Terminate(ctx)
	}
}

func TestPool_Repository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	aliceID, err := pool.CreateIdentity(ctx, "Alice", "/static/fotos/alice.jpg")
	if err != nil {
		t.Fatalf("Failed to create Alice: %v", err)
	}
	if _, err := pool.CreateIdentity(ctx, "Bob", "/static/fotos/bob.jpg"); err != nil {
		t.Fatalf("Failed to create Bob: %v", err)
	}

	t.Run("ListEnrolled", func(t *testing.T) {
		rows, err := pool.ListEnrolled(ctx)
		if err != nil {
			t.Fatalf("Failed to list enrolled: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("Expected 2 rows, got %d", len(rows))
		}
		if rows[0].DisplayName != "Alice" || rows[0].PhotoReference != "/static/fotos/alice.jpg" {
			t.Errorf("Unexpected first row: %+v", rows[0])
		}
		if rows[0].IdentityID != aliceID {
			t.Errorf("Expected identity %s, got %s", aliceID, rows[0].IdentityID)
		}
	})

	t.Run("CountIdentities", func(t *testing.T) {
		count, err := pool.CountIdentities(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2, got %d", count)
		}
	})

	t.Run("RecordAndListLogins", func(t *testing.T) {
		at := time.Date(2024, 5, 17, 9, 30, 15, 0, time.UTC)
		if err := pool.RecordLogin(ctx, aliceID, at); err != nil {
			t.Fatalf("Failed to record login: %v", err)
		}

		events, err := pool.RecentLogins(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to list logins: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("Expected 1 login, got %d", len(events))
		}
		if events[0].IdentityID != aliceID || events[0].DisplayName != "Alice" {
			t.Errorf("Unexpected login event: %+v", events[0])
		}
		if events[0].LoggedAt.Format("2006-01-02 15:04:05") != "2024-05-17 09:30:15" {
			t.Errorf("Unexpected login time: %v", events[0].LoggedAt)
		}
	})

	t.Run("RecordLoginRejectsNonNumericID", func(t *testing.T) {
		if err := pool.RecordLogin(ctx, "abc", time.Now()); err == nil {
			t.Error("Expected error for non-numeric identity id")
		}
	})
}
