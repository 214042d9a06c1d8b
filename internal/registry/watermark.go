package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetWatermark returns the persisted last_created_at for subscription, or 0
// if never advanced.
func (s *Store) GetWatermark(ctx context.Context, subscription string) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `SELECT last_created_at FROM watermarks WHERE subscription = $1`, subscription).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get watermark: %w", err)
	}
	return last, nil
}

// AdvanceWatermark persists max(prev, createdAt) for subscription.
func (s *Store) AdvanceWatermark(ctx context.Context, subscription string, createdAt int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watermarks (subscription, last_created_at) VALUES ($1,$2)
		ON CONFLICT (subscription) DO UPDATE
			SET last_created_at = GREATEST(watermarks.last_created_at, EXCLUDED.last_created_at)`,
		subscription, createdAt)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}
