// Package httpapi wires the spec's §6 HTTP surface onto the core C1-C8
// services with the standard library's net/http (no third-party router
// appears anywhere in the retrieval pack for this concern — see DESIGN.md).
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lawalletio/card/internal/lifecycle"
	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/withdraw"
	"github.com/lawalletio/card/pkg/logger"

	"go.uber.org/zap"
)

// Clock lets tests freeze "now"; production passes time.Now.
type Clock func() time.Time

// Server holds the handlers' dependencies and implements http.Handler via
// its ServeMux.
type Server struct {
	orch     *lifecycle.Orchestrator
	withdraw *withdraw.Dispatcher
	now      Clock
	mux      *http.ServeMux
}

// New builds the Server and registers every route.
func New(orch *lifecycle.Orchestrator, wd *withdraw.Dispatcher, now Clock) *Server {
	if now == nil {
		now = time.Now
	}
	s := &Server{orch: orch, withdraw: wd, now: now, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logRequest(s.mux).ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /ntag424", s.handleInitialize)
	s.mux.HandleFunc("PATCH /ntag424", s.handleAssociate)
	s.mux.HandleFunc("DELETE /ntag424", s.handleAdminDeleteNTAG)

	s.mux.HandleFunc("POST /card", s.handleCard)
	s.mux.HandleFunc("GET /card/scan", s.handleScan)
	s.mux.HandleFunc("GET /card/holder", s.handleHolder)
	s.mux.HandleFunc("GET /card/pay", s.handleStandardPay)
	s.mux.HandleFunc("POST /card/pay", s.handleExtendedPay)
	s.mux.HandleFunc("POST /card/data/request", s.handleRequestCardData)
	s.mux.HandleFunc("POST /card/config/request", s.handleRequestCardConfig)
	s.mux.HandleFunc("POST /card/publish-data", s.handlePublishData)
	s.mux.HandleFunc("POST /card/reset/request", s.handleResetRequest)
	s.mux.HandleFunc("POST /card/reset/claim", s.handleResetClaim)
}

func decodeEvent(r *http.Request) (*nostr.Event, error) {
	var ev nostr.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		return nil, fmt.Errorf("%w: malformed event body", nostr.ErrMalformedEvent)
	}
	return &ev, nil
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ntag, resp, err := s.orch.Initialize(r.Context(), ev, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		NTAG  *registry.NTAG `json:"ntag"`
		Event *nostr.Event   `json:"event"`
	}{NTAG: ntag, Event: resp})
}

func (s *Server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, c := r.URL.Query().Get("p"), r.URL.Query().Get("c")
	if err := s.orch.Associate(r.Context(), ev, p, c, s.now()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminDeleteNTAG(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Event *nostr.Event `json:"event"`
		Cid   string       `json:"cid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", nostr.ErrMalformedEvent))
		return
	}
	if err := s.orch.AdminDeleteNTAG(r.Context(), body.Event, body.Cid, s.now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "OK"})
}

// cardRequestTag names the request-event tag value POST /card dispatches on
// (spec.md §6: "Activate or Transfer (dispatched by request t tag)").
const (
	cardRequestTagActivate = "card-activation-request"
	cardRequestTagAccept   = "card-transfer-acceptance"
)

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, err)
		return
	}

	switch t := ev.Tags.Get("t"); {
	case len(t) > 1 && t[1] == cardRequestTagAccept:
		card, resp, err := s.orch.AcceptTransfer(r.Context(), ev, s.now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Card  *registry.Card `json:"card"`
			Event *nostr.Event   `json:"event"`
		}{Card: card, Event: resp})
	case len(t) > 1 && t[1] == cardRequestTagActivate, len(t) <= 1:
		card, resp, err := s.orch.Activate(r.Context(), ev, s.now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Card  *registry.Card `json:"card"`
			Event *nostr.Event   `json:"event"`
		}{Card: card, Event: resp})
	default:
		writeError(w, fmt.Errorf("%w: unknown request tag %q", lifecycle.ErrUnprocessable, t))
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	p, c := r.URL.Query().Get("p"), r.URL.Query().Get("c")
	action := r.Header.Get("X-LaWallet-Action")
	param := withdraw.ParseParam(r.Header.Get("X-LaWallet-Param"))

	result, err := s.withdraw.Scan(r.Context(), p, c, action, param, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHolder(w http.ResponseWriter, r *http.Request) {
	p, c := r.URL.Query().Get("p"), r.URL.Query().Get("c")
	result, err := s.withdraw.Scan(r.Context(), p, c, "identityQuery", nil, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStandardPay(w http.ResponseWriter, r *http.Request) {
	k1, pr := r.URL.Query().Get("k1"), r.URL.Query().Get("pr")
	result, err := s.withdraw.StandardPay(r.Context(), k1, pr, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExtendedPay(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.withdraw.ExtendedPay(r.Context(), ev, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRequestCardData(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.orch.RequestCardData(r.Context(), ev, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequestCardConfig(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.orch.RequestCardConfig(r.Context(), ev, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePublishData(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.PublishData(r.Context(), ev, s.now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "OK"})
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var body lifecycle.ResetRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", nostr.ErrMalformedEvent))
		return
	}
	otc, err := s.orch.RequestReset(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OTC string `json:"otc"`
	}{OTC: otc})
}

func (s *Server) handleResetClaim(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome, resp, err := s.orch.ClaimReset(r.Context(), ev, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Outcome *lifecycle.ResetOutcome `json:"outcome"`
		Event   *nostr.Event            `json:"event"`
	}{Outcome: outcome, Event: resp})
}

// logRequest logs every request's method, path, and duration.
func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
