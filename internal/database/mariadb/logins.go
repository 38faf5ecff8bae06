package mariadb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kozaktomas/face-auth/internal/database"
)

// RecordLogin appends a login event. The login table splits the timestamp
// into a DATE and a TIME column.
func (p *Pool) RecordLogin(ctx context.Context, identityID string, at time.Time) error {
	id, err := strconv.ParseInt(identityID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid identity id %q: %w", identityID, err)
	}

	_, err = p.db.ExecContext(ctx,
		"INSERT INTO login (usuario_id, data_login, hora_login) VALUES (?, ?, ?)",
		id, at.Format("2006-01-02"), at.Format("15:04:05"))
	if err != nil {
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
		SELECT u.id, u.nome, TIMESTAMP(l.data_login, l.hora_login) AS logged_at
		FROM login l
		INNER JOIN usuario u ON u.id = l.usuario_id
		ORDER BY logged_at DESC, l.id DESC
		LIMIT ?
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
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ev.IdentityID = strconv.FormatInt(id, 10)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}
