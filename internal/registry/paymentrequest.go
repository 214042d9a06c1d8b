package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lawalletio/card/internal/suuid"
)

// IssuePaymentRequest inserts a PaymentRequest for cardUUID with the given
// pre-rendered scan response (without its k1), and returns the k1 (suuid
// of the new row).
func (s *Store) IssuePaymentRequest(ctx context.Context, cardUUID, response string) (string, error) {
	k1, u, err := suuid.New()
	if err != nil {
		return "", fmt.Errorf("failed to mint payment request id: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO payment_requests (uuid, card_uuid, response, created_at)
		VALUES ($1,$2,$3, now())`, u.String(), cardUUID, response)
	if err != nil {
		return "", fmt.Errorf("failed to issue payment request: %w", err)
	}
	return k1, nil
}

// ConsumePaymentRequest decodes k1, locks the matching PaymentRequest row
// within tx, and validates it is neither expired nor already consumed. The
// caller MUST, within the same transaction, insert the Payment row that
// marks it consumed (C4's exactly-once contract).
func (s *Store) ConsumePaymentRequest(ctx context.Context, tx pgx.Tx, k1 string, expiry time.Duration) (*PaymentRequest, error) {
	u, err := suuid.ToUUID(k1)
	if err != nil {
		return nil, ErrNotFound
	}

	var pr PaymentRequest
	err = tx.QueryRow(ctx, `SELECT uuid, card_uuid, response, created_at FROM payment_requests
		WHERE uuid = $1 FOR UPDATE`, u.String()).
		Scan(&pr.UUID, &pr.CardUUID, &pr.Response, &pr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up payment request: %w", err)
	}

	if time.Since(pr.CreatedAt) > expiry {
		return nil, ErrExpired
	}

	var paymentCount int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM payments WHERE payment_request_uuid = $1`, pr.UUID).Scan(&paymentCount); err != nil {
		return nil, fmt.Errorf("failed to check payment request consumption: %w", err)
	}
	if paymentCount > 0 {
		return nil, ErrAlreadyUsed
	}

	return &pr, nil
}
