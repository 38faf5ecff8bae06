package mariadb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/face-auth/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// normalizeDSN forces parseTime so DATE/DATETIME columns scan into time.Time.
func normalizeDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse MariaDB DSN: %w", err)
	}
	parsed.ParseTime = true
	return parsed.FormatDSN(), nil
}

// NewPool creates a new MariaDB connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	dsn, err := normalizeDSN(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// Ping verifies the database is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping MariaDB: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// EnsureSchema creates the user, photo and login tables when they do not exist yet.
// Production databases usually already have them; this is for fresh installs and tests.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	for stmt := range strings.SplitSeq(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
