package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kozaktomas/face-auth/internal/database"
)

// RecordLogin appends a login event.
func (p *Pool) RecordLogin(ctx context.Context, identityID string, at time.Time) error {
	id, err := strconv.ParseInt(identityID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid identity id %q: %w", identityID, err)
	}

	if _, err := p.db.ExecContext(ctx,
		"INSERT INTO logins (identity_id, logged_at) VALUES ($1, $2)", id, at); err != nil {
		return fmt.Errorf("insert login: %w", err)
	}
	return nil
}

// RecentLogins returns the latest login events, newest first.
func (p *Pool) RecentLogins(ctx context.Context, limit int) ([]database.LoginEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.display_name, l.logged_at
		FROM logins l
		INNER JOIN identities i ON i.id = l.identity_id
		ORDER BY l.logged_at DESC, l.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent logins: %w", err)
	}
	defer rows.Close()

	var events []database.LoginEvent
	for rows.Next() {
		var (
			id int64
			ev database.LoginEvent
		)
		if err := rows.Scan(&id, &ev.DisplayName, &ev.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan login: %w", err)
		}
		ev.IdentityID = strconv.FormatInt(id, 10)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logins: %w", err)
	}
	return events, nil
}
