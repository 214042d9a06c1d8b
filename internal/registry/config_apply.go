package registry

import (
	"context"
	"fmt"
)

// CardConfigEntry is one card's portion of an inbound card-config document.
// Name/Description/Status are pointers so "absent" and "empty string" are
// distinguishable (§4.6: update whichever are present).
type CardConfigEntry struct {
	Name        *string
	Description *string
	Status      *string // "ENABLED" | "DISABLED"
	Limits      []DefaultLimit
}

// HolderConfig is the parsed form of a card-config document's content.
type HolderConfig struct {
	TrustedMerchants []string
	Cards            map[string]CardConfigEntry
}

// ApplyConfig applies an inbound holder config transactionally (§4.2
// applyConfig, §4.6 inbound apply): replaces the holder's trusted
// merchants (dropping unknown pubkeys), and for each card entry that
// belongs to the holder, replaces its limits and updates name/description/
// enabled. Card entries not owned by the holder are silently skipped.
func (s *Store) ApplyConfig(ctx context.Context, holderPubKey string, cfg HolderConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ReplaceTrustedMerchants(ctx, tx, holderPubKey, cfg.TrustedMerchants); err != nil {
		return err
	}

	for cardUUID, entry := range cfg.Cards {
		var owner *string
		err := tx.QueryRow(ctx, `SELECT holder_pub_key FROM cards WHERE uuid = $1`, cardUUID).Scan(&owner)
		if err != nil || owner == nil || *owner != holderPubKey {
			continue
		}

		if err := s.ReplaceLimits(ctx, tx, cardUUID, entry.Limits); err != nil {
			return err
		}

		var enabled *bool
		if entry.Status != nil {
			v := *entry.Status == string(CardEnabled)
			enabled = &v
		}
		if err := s.UpdateCardConfig(ctx, tx, cardUUID, entry.Name, entry.Description, enabled); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
