package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lawalletio/card/internal/suuid"
)

// IssueResetToken upserts a ResetToken for targetHolderPubKey with a fresh
// suuid nonce, returning the nonce.
func (s *Store) IssueResetToken(ctx context.Context, targetHolderPubKey string) (string, error) {
	nonce, _, err := suuid.New()
	if err != nil {
		return "", fmt.Errorf("failed to mint reset token: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO reset_tokens (holder_pub_key, token, created_at)
		VALUES ($1,$2, now())
		ON CONFLICT (holder_pub_key) DO UPDATE SET token = EXCLUDED.token, created_at = now()`,
		targetHolderPubKey, nonce)
	if err != nil {
		return "", fmt.Errorf("failed to issue reset token: %w", err)
	}
	return nonce, nil
}

// ClaimResetToken deletes the ResetToken matching otc unconditionally
// (the "point of no return") and returns the holder it was issued for.
// Fails ErrNotFound if missing, ErrExpired if older than expiry.
func (s *Store) ClaimResetToken(ctx context.Context, otc string, expiry time.Duration) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var rt ResetToken
	err = tx.QueryRow(ctx, `SELECT holder_pub_key, token, created_at FROM reset_tokens
		WHERE token = $1 FOR UPDATE`, otc).
		Scan(&rt.HolderPubKey, &rt.Token, &rt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to look up reset token: %w", err)
	}

	expired := time.Since(rt.CreatedAt) > expiry

	if _, err := tx.Exec(ctx, `DELETE FROM reset_tokens WHERE token = $1`, otc); err != nil {
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit reset token claim: %w", err)
	}

	if expired {
		return "", ErrExpired
	}
	return rt.HolderPubKey, nil
}
