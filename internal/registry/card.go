package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultLimit seeds a Limit row at Card creation.
type DefaultLimit struct {
	Name        string
	Description string
	Token       string
	Amount      int64
	Delta       int64
}

// CreateCard creates the logical Card bound to ntagCid and holderPubKey in
// a single transaction, seeding it with designName/Description and
// defaultLimits. Card starts enabled.
func (s *Store) CreateCard(ctx context.Context, ntagCid, holderPubKey, designName, designDescription string, defaultLimits []DefaultLimit) (*Card, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	card := &Card{
		UUID:         uuid.NewString(),
		Name:         designName,
		Description:  designDescription,
		Enabled:      true,
		NTAG424Cid:   ntagCid,
		HolderPubKey: &holderPubKey,
	}

	_, err = tx.Exec(ctx, `INSERT INTO cards (uuid, name, description, enabled, ntag424_cid, holder_pub_key)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		card.UUID, card.Name, card.Description, card.Enabled, card.NTAG424Cid, card.HolderPubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	for _, l := range defaultLimits {
		_, err = tx.Exec(ctx, `INSERT INTO limits (uuid, card_uuid, name, description, token, amount, delta_seconds)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			uuid.NewString(), card.UUID, l.Name, l.Description, l.Token, l.Amount, l.Delta)
		if err != nil {
			return nil, fmt.Errorf("failed to seed default limit: %w", err)
		}
	}

	return card, tx.Commit(ctx)
}

// GetCardByUUID looks up a card by its uuid.
func (s *Store) GetCardByUUID(ctx context.Context, cardUUID string) (*Card, error) {
	var c Card
	err := s.pool.QueryRow(ctx, `SELECT uuid, name, description, enabled, ntag424_cid, holder_pub_key
		FROM cards WHERE uuid = $1`, cardUUID).
		Scan(&c.UUID, &c.Name, &c.Description, &c.Enabled, &c.NTAG424Cid, &c.HolderPubKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get card %s: %w", cardUUID, err)
	}
	return &c, nil
}

// GetCardByNTAGCid looks up a card by its bound NTAG cid.
func (s *Store) GetCardByNTAGCid(ctx context.Context, ntagCid string) (*Card, error) {
	var c Card
	err := s.pool.QueryRow(ctx, `SELECT uuid, name, description, enabled, ntag424_cid, holder_pub_key
		FROM cards WHERE ntag424_cid = $1`, ntagCid).
		Scan(&c.UUID, &c.Name, &c.Description, &c.Enabled, &c.NTAG424Cid, &c.HolderPubKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get card for ntag %s: %w", ntagCid, err)
	}
	return &c, nil
}

// CardsOfHolder lists every card currently bound to holderPubKey.
func (s *Store) CardsOfHolder(ctx context.Context, holderPubKey string) ([]*Card, error) {
	rows, err := s.pool.Query(ctx, `SELECT uuid, name, description, enabled, ntag424_cid, holder_pub_key
		FROM cards WHERE holder_pub_key = $1`, holderPubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards for holder: %w", err)
	}
	defer rows.Close()

	var out []*Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.UUID, &c.Name, &c.Description, &c.Enabled, &c.NTAG424Cid, &c.HolderPubKey); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// TransferCard atomically reassigns cardUUID from fromPubKey to toPubKey,
// disabling it so the new holder must re-enable it explicitly.
func (s *Store) TransferCard(ctx context.Context, cardUUID, fromPubKey, toPubKey string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE cards SET holder_pub_key = $3, enabled = false
		WHERE uuid = $1 AND holder_pub_key = $2`, cardUUID, fromPubKey, toPubKey)
	if err != nil {
		return fmt.Errorf("failed to transfer card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReassignAllCards moves every card owned by fromPubKey to toPubKey
// (admin-reset-claim).
func (s *Store) ReassignAllCards(ctx context.Context, tx pgx.Tx, fromPubKey, toPubKey string) error {
	_, err := tx.Exec(ctx, `UPDATE cards SET holder_pub_key = $2 WHERE holder_pub_key = $1`, fromPubKey, toPubKey)
	if err != nil {
		return fmt.Errorf("failed to reassign cards: %w", err)
	}
	return nil
}

// UpdateCardConfig updates whichever of name/description/enabled are
// provided (non-nil) for a card.
func (s *Store) UpdateCardConfig(ctx context.Context, tx pgx.Tx, cardUUID string, name, description *string, enabled *bool) error {
	_, err := tx.Exec(ctx, `UPDATE cards SET
		name = COALESCE($2, name),
		description = COALESCE($3, description),
		enabled = COALESCE($4, enabled)
		WHERE uuid = $1`, cardUUID, name, description, enabled)
	if err != nil {
		return fmt.Errorf("failed to update card config: %w", err)
	}
	return nil
}

// BeginTx exposes a raw transaction for multi-entity operations (C5/C6)
// that span several repository files.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}
