// Package registry is the Card Registry (C2): the single owner of every
// persisted entity (NTAG, Card, Holder, Delegation, TrustedMerchant, Limit,
// Payment, PaymentRequest, ResetToken, Design, and the subscription
// high-watermark) and the transactional operations that mutate them.
package registry

import "time"

// Design is a card "theme" shared across NTAGs.
type Design struct {
	UUID        string `db:"uuid"`
	Name        string `db:"name"`
	Description string `db:"description"`
}

// NTAG is a physical card's cryptographic identity.
type NTAG struct {
	Cid        string  `db:"cid"`
	K0         string  `db:"k0"`
	K1         string  `db:"k1"`
	K2         string  `db:"k2"`
	K3         string  `db:"k3"`
	K4         string  `db:"k4"`
	Ctr        int64   `db:"ctr"`
	OTC        *string `db:"otc"`
	DesignUUID string  `db:"design_uuid"`
}

// CardStatus is whether the card currently accepts spends.
type CardStatus string

const (
	CardEnabled  CardStatus = "ENABLED"
	CardDisabled CardStatus = "DISABLED"
)

// Card is the logical card bound to a holder.
type Card struct {
	UUID         string  `db:"uuid"`
	Name         string  `db:"name"`
	Description  string  `db:"description"`
	Enabled      bool    `db:"enabled"`
	NTAG424Cid   string  `db:"ntag424_cid"`
	HolderPubKey *string `db:"holder_pub_key"`
}

// Holder is an end-user identity keyed by a 32-byte (64 hex char) pubkey.
type Holder struct {
	PubKey string `db:"pub_key"`
}

// Delegation is a NIP-26-style authorization a holder has granted the
// module.
type Delegation struct {
	UUID            string    `db:"uuid"`
	HolderPubKey    string    `db:"holder_pub_key"`
	DelegatorPubKey string    `db:"delegator_pub_key"`
	Conditions      string    `db:"conditions"`
	DelegationToken string    `db:"delegation_token"`
	Since           time.Time `db:"since_at"`
	Until           time.Time `db:"until_at"`
}

// TrustedMerchant is a (holder, merchant) allow-list entry.
type TrustedMerchant struct {
	HolderPubKey   string `db:"holder_pub_key"`
	MerchantPubKey string `db:"merchant_pub_key"`
}

// Merchant is a pubkey known to the Merchant registry. Only merchants
// present here survive a card-config-change's trusted-merchants replace
// (§4.6); unknown pubkeys are silently dropped.
type Merchant struct {
	PubKey string `db:"pub_key"`
}

// Limit is a per-card spending rule: a sliding window of `delta` seconds
// capping cumulative spend of `token` at `amount` (base units, e.g. msat).
type Limit struct {
	UUID        string `db:"uuid"`
	CardUUID    string `db:"card_uuid"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Token       string `db:"token"`
	Amount      int64  `db:"amount"`
	Delta       int64  `db:"delta_seconds"`
}

// PaymentStatus is the lifecycle state of a Payment, used by the background
// reconciler (not built — out of scope) to find transfer events that never
// confirmed on the bus.
type PaymentStatus string

const (
	PaymentEmitted PaymentStatus = "emitted"
	PaymentPending PaymentStatus = "pending"
)

// Payment is a confirmed deduction against a Limit, consuming a
// PaymentRequest.
type Payment struct {
	UUID               string        `db:"uuid"`
	CardUUID           string        `db:"card_uuid"`
	Token              string        `db:"token"`
	Amount             int64         `db:"amount"`
	Status             PaymentStatus `db:"status"`
	PaymentRequestUUID string        `db:"payment_request_uuid"`
	CreatedAt          time.Time     `db:"created_at"`
}

// PaymentRequest is a single-use scan token (the `k1` of LNURL-withdraw).
type PaymentRequest struct {
	UUID      string    `db:"uuid"`
	CardUUID  string    `db:"card_uuid"`
	Response  string    `db:"response"`
	CreatedAt time.Time `db:"created_at"`
}

// ResetToken is a transient admin-issued reset nonce.
type ResetToken struct {
	HolderPubKey string    `db:"holder_pub_key"`
	Token        string    `db:"token"`
	CreatedAt    time.Time `db:"created_at"`
}

// Watermark is the persisted per-subscription replay cursor (C8).
type Watermark struct {
	Subscription  string `db:"subscription"`
	LastCreatedAt int64  `db:"last_created_at"`
}
