package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LimitsOf returns every Limit configured on a card.
func (s *Store) LimitsOf(ctx context.Context, cardUUID string) ([]Limit, error) {
	rows, err := s.pool.Query(ctx, `SELECT uuid, card_uuid, name, description, token, amount, delta_seconds
		FROM limits WHERE card_uuid = $1`, cardUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list limits: %w", err)
	}
	defer rows.Close()

	var out []Limit
	for rows.Next() {
		var l Limit
		if err := rows.Scan(&l.UUID, &l.CardUUID, &l.Name, &l.Description, &l.Token, &l.Amount, &l.Delta); err != nil {
			return nil, fmt.Errorf("failed to scan limit: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ReplaceLimits atomically replaces a card's entire Limit set, within an
// existing transaction (used by config-change apply, §4.6).
func (s *Store) ReplaceLimits(ctx context.Context, tx pgx.Tx, cardUUID string, limits []DefaultLimit) error {
	if _, err := tx.Exec(ctx, `DELETE FROM limits WHERE card_uuid = $1`, cardUUID); err != nil {
		return fmt.Errorf("failed to clear limits: %w", err)
	}
	for _, l := range limits {
		_, err := tx.Exec(ctx, `INSERT INTO limits (uuid, card_uuid, name, description, token, amount, delta_seconds)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			uuid.NewString(), cardUUID, l.Name, l.Description, l.Token, l.Amount, l.Delta)
		if err != nil {
			return fmt.Errorf("failed to insert limit: %w", err)
		}
	}
	return nil
}

// Remaining computes, for each requested token, the minimum over the
// card's Limits of (limit.amount - sum of Payments within the limit's
// sliding window), clamped to >= 0. Tokens whose minimum is <= 0 are
// omitted (C3 exactly per spec.md §4.3/§8).
func (s *Store) Remaining(ctx context.Context, cardUUID string, tokens []string) (map[string]int64, error) {
	if len(tokens) == 0 {
		tokens = []string{"BTC"}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT l.token, l.amount - COALESCE(SUM(p.amount), 0) AS remaining
		FROM limits l
		LEFT JOIN payments p
			ON p.card_uuid = l.card_uuid
			AND p.token = l.token
			AND p.created_at >= now() - (l.delta_seconds * interval '1 second')
			AND p.created_at <= now()
		WHERE l.card_uuid = $1 AND l.token = ANY($2)
		GROUP BY l.uuid, l.token, l.amount`,
		cardUUID, tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to compute remaining limits: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	seen := make(map[string]bool)
	for rows.Next() {
		var token string
		var remaining int64
		if err := rows.Scan(&token, &remaining); err != nil {
			return nil, fmt.Errorf("failed to scan remaining row: %w", err)
		}
		if remaining < 0 {
			remaining = 0
		}
		if !seen[token] || remaining < result[token] {
			result[token] = remaining
		}
		seen[token] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for token, remaining := range result {
		if remaining <= 0 {
			delete(result, token)
		}
	}
	return result, nil
}

// InsertPayment records a confirmed deduction against cardUUID, consuming
// paymentRequestUUID. Callers run this inside the same transaction as the
// PaymentRequest consumption check (C4.consume's contract).
func (s *Store) InsertPayment(ctx context.Context, tx pgx.Tx, cardUUID, token string, amount int64, paymentRequestUUID string) (*Payment, error) {
	p := &Payment{
		UUID:               uuid.NewString(),
		CardUUID:           cardUUID,
		Token:              token,
		Amount:             amount,
		Status:             PaymentEmitted,
		PaymentRequestUUID: paymentRequestUUID,
	}
	err := tx.QueryRow(ctx, `INSERT INTO payments (uuid, card_uuid, token, amount, status, payment_request_uuid, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, now()) RETURNING created_at`,
		p.UUID, p.CardUUID, p.Token, p.Amount, p.Status, p.PaymentRequestUUID).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}
	return p, nil
}
