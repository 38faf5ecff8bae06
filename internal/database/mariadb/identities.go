package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/kozaktomas/face-auth/internal/database"
)

// ListEnrolled returns every (identity, photo) pair in repository order.
// Identities with several photos yield several rows, oldest capture first.
func (p *Pool) ListEnrolled(ctx context.Context) ([]database.EnrolledIdentity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT u.id, u.nome, f.caminho, f.data_captura
		FROM usuario u
		INNER JOIN fotos_usuario f ON u.id = f.usuario_id
		ORDER BY u.id, f.data_captura, f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query enrolled identities: %w", err)
	}
	defer rows.Close()

	var result []database.EnrolledIdentity
	for rows.Next() {
		var (
			id         int64
			name, path string
			capturedAt sql.NullTime
		)
		if err := rows.Scan(&id, &name, &path, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e := database.EnrolledIdentity{
			IdentityID:     strconv.FormatInt(id, 10),
			DisplayName:    name,
			PhotoReference: path,
		}
		if capturedAt.Valid {
			e.PhotoCapturedAt = capturedAt.Time
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// CountIdentities returns the number of registered users, with or without photos.
func (p *Pool) CountIdentities(ctx context.Context) (int, error) {
	var count int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usuario").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// CreateIdentity inserts a user together with one photo reference and returns its id.
// Used by the integration tests and by operators seeding a fresh database.
func (p *Pool) CreateIdentity(ctx context.Context, name, photoReference string) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, "INSERT INTO usuario (nome) VALUES (?)", name)
	if err != nil {
		return "", fmt.Errorf("insert identity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("read identity id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO fotos_usuario (usuario_id, caminho) VALUES (?, ?)", id, photoReference); err != nil {
		return "", fmt.Errorf("insert photo reference: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit identity: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}
