package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lawalletio/card/internal/configchannel"
	"github.com/lawalletio/card/internal/lifecycle"
	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/sun"
	"github.com/lawalletio/card/internal/withdraw"
	"github.com/lawalletio/card/pkg/logger"

	"go.uber.org/zap"
)

// errorResponse is the error body shape spec.md §7 mandates for the
// "Exhausted" taxonomy and, uniformly, every other error here.
type errorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// statusFor maps every sentinel error surfaced by sun/registry/lifecycle/
// withdraw/configchannel/nostr onto the HTTP status spec.md §7's taxonomy
// assigns it. Verifier failures are deliberately collapsed to a single
// generic reason outside the diagnostic `info` scan action (§7 policy: "never
// reveal which of (cid, counter, cmac) failed").
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sun.ErrNotFound):
		return http.StatusNotFound, "Failed to retrieve card data"
	case errors.Is(err, sun.ErrMalformedPLength),
		errors.Is(err, sun.ErrMalformedPPrefix),
		errors.Is(err, sun.ErrMalformedPCtrTooOld),
		errors.Is(err, sun.ErrMalformedCLength),
		errors.Is(err, sun.ErrMalformedCSDMMAC):
		return http.StatusUnprocessableEntity, "Failed to retrieve card data"

	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, registry.ErrConflict),
		errors.Is(err, registry.ErrOTCConflict),
		errors.Is(err, registry.ErrOTCAlreadyBound):
		return http.StatusConflict, "conflict"
	case errors.Is(err, registry.ErrDesignNotFound):
		return http.StatusUnprocessableEntity, "unknown design"
	case errors.Is(err, registry.ErrExpired):
		return http.StatusBadRequest, "expired"
	case errors.Is(err, registry.ErrAlreadyUsed):
		return http.StatusBadRequest, "already used"
	case errors.Is(err, registry.ErrCardNotEnabled),
		errors.Is(err, registry.ErrHolderNotBound):
		return http.StatusUnprocessableEntity, "card not usable"
	case errors.Is(err, registry.ErrUnknownMerchants):
		return http.StatusUnprocessableEntity, "unknown merchants"

	case errors.Is(err, lifecycle.ErrUnprocessable):
		return http.StatusUnprocessableEntity, "unprocessable request"
	case errors.Is(err, lifecycle.ErrNotAdmin):
		return http.StatusBadRequest, "pubkey is not an admin"
	case errors.Is(err, lifecycle.ErrTargetIsAdmin):
		return http.StatusBadRequest, "target pubkey is an admin"
	case errors.Is(err, lifecycle.ErrSameHolder):
		return http.StatusBadRequest, "admin and target must differ"
	case errors.Is(err, lifecycle.ErrDonorMismatch):
		return http.StatusUnprocessableEntity, "donor pubkey mismatch"

	case errors.Is(err, withdraw.ErrUnprocessable):
		return http.StatusUnprocessableEntity, "unprocessable request"
	case errors.Is(err, withdraw.ErrCardDisabled):
		return http.StatusUnprocessableEntity, "card is disabled or unbound"
	case errors.Is(err, withdraw.ErrNoDelegation):
		return http.StatusUnprocessableEntity, "holder has no active delegation"
	case errors.Is(err, withdraw.ErrInvoiceExpired):
		return http.StatusBadRequest, "invoice is expired"
	case errors.Is(err, withdraw.ErrLimitExceeded):
		return http.StatusBadRequest, "requested amount exceeds a limit"
	case errors.Is(err, withdraw.ErrBadPaymentTag):
		return http.StatusBadRequest, "payment request tag mismatch"
	case errors.Is(err, withdraw.ErrUnknownToken):
		return http.StatusBadRequest, "token not present in scan response"

	case errors.Is(err, configchannel.ErrInvalidEnvelope):
		return http.StatusUnprocessableEntity, "invalid config envelope"

	case errors.Is(err, nostr.ErrMalformedEvent),
		errors.Is(err, nostr.ErrInvalidSignature),
		errors.Is(err, nostr.ErrInvalidDelegation),
		errors.Is(err, nostr.ErrEventTooOld),
		errors.Is(err, nostr.ErrUnexpectedPubkey):
		return http.StatusUnprocessableEntity, "invalid event"

	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError writes the §7 error body at the status statusFor(err) maps to.
func writeError(w http.ResponseWriter, err error) {
	status, reason := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Status: "ERROR", Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response body", zap.Error(err))
	}
}
