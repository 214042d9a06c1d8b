package configchannel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

// KindParameterizedReplaceable is the event kind both card-data and
// card-config are published under (NIP-33 parameterized replaceable range).
const KindParameterizedReplaceable = 31111

// KindConfigChange is the inbound card-config-change event kind (§4.6).
const KindConfigChange = 1112

// BuildCardDataEvent renders and signs a card-data event for holderPubKey,
// encrypted to both the module and the holder.
func BuildCardDataEvent(modulePrivHex, modulePubHex, holderPubKey string, doc CardDataDocument, now time.Time) (*nostr.Event, error) {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize card-data document: %w", err)
	}

	content, err := Encrypt(modulePrivHex, []string{modulePubHex, holderPubKey}, string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt card-data: %w", err)
	}

	ev := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      KindParameterizedReplaceable,
		Tags: nostr.Tags{
			{"t", "card-data"},
			{"d", holderPubKey + ":card-data"},
		},
		Content: content,
	}
	if err := nostr.Sign(ev, modulePrivHex); err != nil {
		return nil, fmt.Errorf("failed to sign card-data event: %w", err)
	}
	return ev, nil
}

// BuildCardConfigEvent renders and signs a card-config event for
// holderPubKey. inReplyTo, when non-empty, e-tags the request event this is
// confirming (the inbound card-config-change apply republishes one).
func BuildCardConfigEvent(modulePrivHex, modulePubHex, holderPubKey string, doc CardConfigDocument, inReplyTo string, now time.Time) (*nostr.Event, error) {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize card-config document: %w", err)
	}

	content, err := Encrypt(modulePrivHex, []string{modulePubHex, holderPubKey}, string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt card-config: %w", err)
	}

	tags := nostr.Tags{
		{"t", "card-config"},
		{"d", holderPubKey + ":card-config"},
	}
	if inReplyTo != "" {
		tags = append(tags, nostr.Tag{"e", inReplyTo})
	}

	ev := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      KindParameterizedReplaceable,
		Tags:      tags,
		Content:   content,
	}
	if err := nostr.Sign(ev, modulePrivHex); err != nil {
		return nil, fmt.Errorf("failed to sign card-config event: %w", err)
	}
	return ev, nil
}

// CardDataDocumentOf renders the card-data document for a set of cards.
func CardDataDocumentOf(cards []*registry.Card, designs map[string]*registry.Design) CardDataDocument {
	doc := CardDataDocument{}
	for _, c := range cards {
		d := designs[c.UUID]
		if d == nil {
			continue
		}
		doc[c.UUID] = CardDataEntry{Design: DesignSummary{UUID: d.UUID, Name: d.Name, Description: d.Description}}
	}
	return doc
}

// CardConfigDocumentOf renders the card-config document for a holder's
// trusted merchants, cards, and their limits.
func CardConfigDocumentOf(merchants []string, cards []*registry.Card, limitsByCard map[string][]registry.Limit) CardConfigDocument {
	doc := CardConfigDocument{
		TrustedMerchants: make([]MerchantRef, len(merchants)),
		Cards:            map[string]CardConfigEntry{},
	}
	for i, m := range merchants {
		doc.TrustedMerchants[i] = MerchantRef{Pubkey: m}
	}
	for _, c := range cards {
		limits := limitsByCard[c.UUID]
		entries := make([]LimitEntry, len(limits))
		for i, l := range limits {
			entries[i] = LimitEntry{Name: l.Name, Description: l.Description, Token: l.Token, Amount: l.Amount, Delta: l.Delta}
		}
		doc.Cards[c.UUID] = CardConfigEntry{
			Name:        c.Name,
			Description: c.Description,
			Status:      statusOf(c.Enabled),
			Limits:      entries,
		}
	}
	return doc
}

// ParseConfigChange decrypts and parses an inbound card-config-change event
// (kind 1112) into a registry.HolderConfig ready for ApplyConfig.
func ParseConfigChange(ev *nostr.Event, modulePrivHex, modulePubHex string) (registry.HolderConfig, error) {
	plaintext, err := Decrypt(ev.Content, modulePrivHex, ev.PubKey, modulePubHex)
	if err != nil {
		return registry.HolderConfig{}, err
	}

	var doc CardConfigDocument
	if err := json.Unmarshal([]byte(plaintext), &doc); err != nil {
		return registry.HolderConfig{}, fmt.Errorf("%w: malformed card-config-change content", ErrInvalidEnvelope)
	}

	cfg := registry.HolderConfig{
		TrustedMerchants: make([]string, len(doc.TrustedMerchants)),
		Cards:            map[string]registry.CardConfigEntry{},
	}
	for i, m := range doc.TrustedMerchants {
		cfg.TrustedMerchants[i] = m.Pubkey
	}
	for cardUUID, entry := range doc.Cards {
		limits := make([]registry.DefaultLimit, len(entry.Limits))
		for i, l := range entry.Limits {
			limits[i] = registry.DefaultLimit{Name: l.Name, Description: l.Description, Token: l.Token, Amount: l.Amount, Delta: l.Delta}
		}
		status := entry.Status
		cfg.Cards[cardUUID] = registry.CardConfigEntry{
			Name:        strPtr(entry.Name),
			Description: strPtr(entry.Description),
			Status:      strPtr(status),
			Limits:      limits,
		}
	}
	return cfg, nil
}

// strPtr maps an empty (or absent) document field to nil, so ApplyConfig
// leaves that card attribute unchanged.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
