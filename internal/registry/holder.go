package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// NewDelegation is the delegation a caller wants attached to a holder when
// upserting it.
type NewDelegation struct {
	DelegatorPubKey string
	Conditions      string
	DelegationToken string
	Since           int64
	Until           int64
}

// UpsertHolder creates the holder (with delegation and default trusted
// merchants) if absent; otherwise adds the delegation if new and
// connects any default merchants not already present.
func (s *Store) UpsertHolder(ctx context.Context, pubKey string, delegation NewDelegation, defaultMerchants []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO holders (pub_key) VALUES ($1) ON CONFLICT (pub_key) DO NOTHING`, pubKey)
	if err != nil {
		return fmt.Errorf("failed to upsert holder: %w", err)
	}

	var existingCount int
	err = tx.QueryRow(ctx, `SELECT count(*) FROM delegations
		WHERE holder_pub_key = $1 AND delegator_pub_key = $2 AND conditions = $3`,
		pubKey, delegation.DelegatorPubKey, delegation.Conditions).Scan(&existingCount)
	if err != nil {
		return fmt.Errorf("failed to check existing delegation: %w", err)
	}

	if existingCount == 0 {
		_, err = tx.Exec(ctx, `INSERT INTO delegations
			(uuid, holder_pub_key, delegator_pub_key, conditions, delegation_token, since_at, until_at)
			VALUES ($1,$2,$3,$4,$5, to_timestamp($6), to_timestamp($7))`,
			uuid.NewString(), pubKey, delegation.DelegatorPubKey, delegation.Conditions,
			delegation.DelegationToken, delegation.Since, delegation.Until)
		if err != nil {
			return fmt.Errorf("failed to insert delegation: %w", err)
		}
	}

	for _, merchant := range defaultMerchants {
		if _, err := tx.Exec(ctx, `INSERT INTO merchants (pub_key) VALUES ($1) ON CONFLICT DO NOTHING`, merchant); err != nil {
			return fmt.Errorf("failed to register default merchant: %w", err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO trusted_merchants (holder_pub_key, merchant_pub_key)
			VALUES ($1,$2) ON CONFLICT DO NOTHING`, pubKey, merchant)
		if err != nil {
			return fmt.Errorf("failed to connect default merchant: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetHolder returns the holder row, or ErrNotFound.
func (s *Store) GetHolder(ctx context.Context, pubKey string) (*Holder, error) {
	var h Holder
	err := s.pool.QueryRow(ctx, `SELECT pub_key FROM holders WHERE pub_key = $1`, pubKey).Scan(&h.PubKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get holder: %w", err)
	}
	return &h, nil
}

// CurrentDelegation returns the most recently granted delegation for a
// holder that is currently within its since/until window.
func (s *Store) CurrentDelegation(ctx context.Context, holderPubKey string) (*Delegation, error) {
	var d Delegation
	err := s.pool.QueryRow(ctx, `
		SELECT uuid, holder_pub_key, delegator_pub_key, conditions, delegation_token, since_at, until_at
		FROM delegations
		WHERE holder_pub_key = $1 AND now() BETWEEN since_at AND until_at
		ORDER BY since_at DESC LIMIT 1`, holderPubKey).
		Scan(&d.UUID, &d.HolderPubKey, &d.DelegatorPubKey, &d.Conditions, &d.DelegationToken, &d.Since, &d.Until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get current delegation: %w", err)
	}
	return &d, nil
}

// TrustedMerchantsOf lists a holder's trusted merchant pubkeys.
func (s *Store) TrustedMerchantsOf(ctx context.Context, holderPubKey string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT merchant_pub_key FROM trusted_merchants WHERE holder_pub_key = $1`, holderPubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted merchants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan trusted merchant: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CloneTrustedMerchants copies fromHolder's trusted merchants under
// toHolder (used by admin-reset-claim).
func (s *Store) CloneTrustedMerchants(ctx context.Context, tx pgx.Tx, fromHolder, toHolder string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trusted_merchants (holder_pub_key, merchant_pub_key)
		SELECT $2, merchant_pub_key FROM trusted_merchants WHERE holder_pub_key = $1
		ON CONFLICT DO NOTHING`, fromHolder, toHolder)
	if err != nil {
		return fmt.Errorf("failed to clone trusted merchants: %w", err)
	}
	return nil
}

// ReplaceTrustedMerchants atomically replaces holderPubKey's trusted
// merchant set with candidates, silently dropping any pubkey that is not a
// known Merchant (§4.6).
func (s *Store) ReplaceTrustedMerchants(ctx context.Context, tx pgx.Tx, holderPubKey string, candidates []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM trusted_merchants WHERE holder_pub_key = $1`, holderPubKey); err != nil {
		return fmt.Errorf("failed to clear trusted merchants: %w", err)
	}

	for _, candidate := range candidates {
		_, err := tx.Exec(ctx, `INSERT INTO trusted_merchants (holder_pub_key, merchant_pub_key)
			SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM merchants WHERE pub_key = $2)
			ON CONFLICT DO NOTHING`, holderPubKey, candidate)
		if err != nil {
			return fmt.Errorf("failed to insert trusted merchant: %w", err)
		}
	}
	return nil
}

// RegisterMerchant adds pubKey to the Merchant registry (idempotent), used
// to seed DEFAULT_TRUSTED_MERCHANTS at startup.
func (s *Store) RegisterMerchant(ctx context.Context, pubKey string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO merchants (pub_key) VALUES ($1) ON CONFLICT DO NOTHING`, pubKey)
	if err != nil {
		return fmt.Errorf("failed to register merchant: %w", err)
	}
	return nil
}
