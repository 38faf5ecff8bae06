package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-auth/internal/database"
)

// LoadVector returns the memoized vector for a photo reference and extractor model.
// Returns database.ErrNotFound when nothing was stored yet.
func (p *Pool) LoadVector(ctx context.Context, sourceRef, model string) ([]float32, error) {
	var vec pgvector.Vector
	err := p.db.QueryRowContext(ctx,
		"SELECT embedding FROM reference_vectors WHERE source_ref = $1 AND model = $2",
		sourceRef, model).Scan(&vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reference vector: %w", err)
	}
	return vec.Slice(), nil
}

// StoreVector upserts the vector extracted from a photo reference.
func (p *Pool) StoreVector(ctx context.Context, sourceRef, model string, vector []float32) error {
	if len(vector) == 0 {
		return errors.New("refusing to store empty vector")
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reference_vectors (source_ref, model, dim, embedding, created_at)
		VALUES ($1, $2, $3, $4::vector, NOW())
		ON CONFLICT (source_ref, model) DO UPDATE SET
			dim = EXCLUDED.dim,
			embedding = EXCLUDED.embedding,
			created_at = NOW()
	`, sourceRef, model, len(vector), pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("upsert reference vector: %w", err)
	}
	return nil
}
