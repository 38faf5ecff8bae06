package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/kozaktomas/face-auth/internal/database"
)

// ListEnrolled returns every (identity, photo) pair ordered by identity and capture time.
func (p *Pool) ListEnrolled(ctx context.Context) ([]database.EnrolledIdentity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.display_name, ph.photo_reference, ph.captured_at
		FROM identities i
		INNER JOIN identity_photos ph ON ph.identity_id = i.id
		ORDER BY i.id, ph.captured_at NULLS FIRST, ph.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query enrolled identities: %w", err)
	}
	defer rows.Close()

	var result []database.EnrolledIdentity
	for rows.Next() {
		var (
			id         int64
			e          database.EnrolledIdentity
			capturedAt sql.NullTime
		)
		if err := rows.Scan(&id, &e.DisplayName, &e.PhotoReference, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan enrolled identity: %w", err)
		}
		e.IdentityID = strconv.FormatInt(id, 10)
		if capturedAt.Valid {
			e.PhotoCapturedAt = capturedAt.Time
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrolled identities: %w", err)
	}
	return result, nil
}

// CountIdentities returns the number of identities, with or without photos.
func (p *Pool) CountIdentities(ctx context.Context) (int, error) {
	var count int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// CreateIdentity inserts an identity with one photo reference and returns its id.
func (p *Pool) CreateIdentity(ctx context.Context, name, photoReference string) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var id int64
	if err := tx.QueryRowContext(ctx,
		"INSERT INTO identities (display_name) VALUES ($1) RETURNING id", name).Scan(&id); err != nil {
		return "", fmt.Errorf("insert identity: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO identity_photos (identity_id, photo_reference) VALUES ($1, $2)", id, photoReference); err != nil {
		return "", fmt.Errorf("insert photo reference: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit identity: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}
