package configchannel

import "github.com/lawalletio/card/internal/registry"

// DesignSummary is the design slice exposed in a card-data entry.
type DesignSummary struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CardDataEntry is one card's entry within a card-data document.
type CardDataEntry struct {
	Design DesignSummary `json:"design"`
}

// CardDataDocument maps cardUuid -> CardDataEntry (§4.6 card-data shape).
type CardDataDocument map[string]CardDataEntry

// MerchantRef is one entry of a card-config document's trusted-merchants list.
type MerchantRef struct {
	Pubkey string `json:"pubkey"`
}

// LimitEntry is one of a card's limits within a card-config document.
type LimitEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Token       string `json:"token"`
	Amount      int64  `json:"amount"`
	Delta       int64  `json:"delta"`
}

// CardConfigEntry is one card's entry within a card-config document.
type CardConfigEntry struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Status      string       `json:"status"` // "ENABLED" | "DISABLED"
	Limits      []LimitEntry `json:"limits"`
}

// CardConfigDocument is the full card-config plaintext shape (§4.6).
type CardConfigDocument struct {
	TrustedMerchants []MerchantRef              `json:"trusted-merchants"`
	Cards            map[string]CardConfigEntry `json:"cards"`
}

// statusOf translates a card's enabled flag to the wire's ENABLED/DISABLED
// strings (registry.CardEnabled/registry.CardDisabled).
func statusOf(enabled bool) string {
	if enabled {
		return string(registry.CardEnabled)
	}
	return string(registry.CardDisabled)
}
