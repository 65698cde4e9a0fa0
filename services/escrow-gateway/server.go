package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coreerrors "stakeshack/core/errors"
	"stakeshack/core/types"
	"stakeshack/ledger"
	native "stakeshack/native/escrow"
	"stakeshack/observability"
	"stakeshack/reconcile"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestBody  = 64 << 10
	requestTimeout  = 15 * time.Second
	// relayTimeout covers broadcast plus confirmation.
	relayTimeout = 2 * time.Minute
)

var (
	errTooManyRequests = errors.New("too many requests")
	errForeignProgram  = errors.New("relay accepts escrow program instructions only")
)

// Reconciler is the view and preparation side of reconcile.Reconciler.
type Reconciler interface {
	Program() native.Program
	Load(ctx context.Context, session reconcile.Session, apartmentID string) (*reconcile.View, error)
	Prepare(ctx context.Context, session reconcile.Session, req reconcile.ActionRequest) (*reconcile.Prepared, error)
}

// Relay broadcasts wallet-signed transactions. *ledger.Submitter implements it.
type Relay interface {
	SubmitSigned(ctx context.Context, raw []byte) (string, error)
}

type Server struct {
	router     chi.Router
	reconciler Reconciler
	relay      Relay
	auth       *Authenticator
	limiter    *RateLimiter
	logger     *slog.Logger
	metrics    *observability.EscrowClientMetrics
	relayed    *relayMetrics
}

func NewServer(reconciler Reconciler, relay Relay, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if reconciler == nil {
		panic("reconciler required")
	}
	if relay == nil {
		panic("relay required")
	}
	if auth == nil {
		panic("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		reconciler: reconciler,
		relay:      relay,
		auth:       auth,
		limiter:    limiter,
		logger:     logger,
		metrics:    observability.EscrowClient(),
		relayed:    gatewayMetrics(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.Middleware)
		v1.Get("/apartments/{id}/addresses", s.handleAddresses)
		v1.Group(func(authed chi.Router) {
			authed.Use(s.auth.Middleware)
			authed.Get("/apartments/{id}/view", s.handleView)
			authed.Post("/apartments/{id}/actions/{action}", s.handleAction)
			authed.Post("/transactions", s.handleRelay)
		})
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(route, status, time.Since(start))
		s.logger.Debug("request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"request_id", w.Header().Get(headerRequestID),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type addressesResponse struct {
	ApartmentID string `json:"apartmentId"`
	Escrow      string `json:"escrow"`
	EscrowBump  uint8  `json:"escrowBump"`
	ProfileID   string `json:"profileId,omitempty"`
	Stake       string `json:"stake,omitempty"`
	StakeBump   *uint8 `json:"stakeBump,omitempty"`
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request) {
	apartmentID := chi.URLParam(r, "id")
	program := s.reconciler.Program()
	escrowAddr, escrowBump, err := native.DeriveEscrowAddress(program.ID, apartmentID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := addressesResponse{ApartmentID: apartmentID, Escrow: escrowAddr.String(), EscrowBump: escrowBump}
	if profileID := strings.TrimSpace(r.URL.Query().Get("profile")); profileID != "" {
		stakeAddr, stakeBump, err := native.DeriveStakeAddress(program.ID, apartmentID, profileID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		resp.ProfileID = profileID
		resp.Stake = stakeAddr.String()
		resp.StakeBump = &stakeBump
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	view, err := s.reconciler.Load(ctx, sessionFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.logFailure(r, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type actionRequest struct {
	ProfileID string `json:"profileId"`
	Amount    uint64 `json:"amount"`
}

type preparedResponse struct {
	Action               reconcile.Action `json:"action"`
	Transaction          string           `json:"transaction"`
	Blockhash            string           `json:"blockhash"`
	LastValidBlockHeight uint64           `json:"lastValidBlockHeight"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action, err := reconcile.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var body actionRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	prepared, err := s.reconciler.Prepare(ctx, sessionFrom(r.Context()), reconcile.ActionRequest{
		ApartmentID: chi.URLParam(r, "id"),
		Action:      action,
		ProfileID:   body.ProfileID,
		Amount:      body.Amount,
	})
	if err != nil {
		s.logFailure(r, err)
		writeError(w, statusFor(err), err)
		return
	}
	raw, err := prepared.Transaction.MarshalBinary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.relayed.recordPrepared(ctx, string(prepared.Action))
	writeJSON(w, http.StatusOK, preparedResponse{
		Action:               prepared.Action,
		Transaction:          base64.StdEncoding.EncodeToString(raw),
		Blockhash:            prepared.Blockhash.Blockhash.String(),
		LastValidBlockHeight: prepared.Blockhash.LastValidBlockHeight,
	})
}

type relayRequest struct {
	Transaction string `json:"transaction"`
}

type relayResponse struct {
	Signature string `json:"signature"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var body relayRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body.Transaction))
	if err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("transaction must be base64"))
		return
	}
	if err := s.checkRelayTarget(raw); err != nil {
		s.logFailure(r, err)
		s.relayed.recordRelay(r.Context(), "refused")
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), relayTimeout)
	defer cancel()
	sig, err := s.relay.SubmitSigned(ctx, raw)
	if err != nil {
		s.logFailure(r, err)
		s.relayed.recordRelay(ctx, "rejected")
		var subErr *ledger.SubmissionError
		if errors.As(err, &subErr) {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":     subErr.Reason,
				"signature": subErr.Signature,
				"logs":      subErr.Logs,
			})
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.relayed.recordRelay(ctx, "confirmed")
	writeJSON(w, http.StatusOK, relayResponse{Signature: sig})
}

// checkRelayTarget accepts only transactions whose every instruction calls
// the escrow program.
func (s *Server) checkRelayTarget(raw []byte) error {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}
	instructions, err := tx.Message.Decompile()
	if err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}
	if len(instructions) == 0 {
		return errors.New("transaction has no instructions")
	}
	programID := s.reconciler.Program().ID
	for i, ix := range instructions {
		if ix.ProgramID != programID {
			return fmt.Errorf("%w: instruction %d calls %s", errForeignProgram, i, ix.ProgramID)
		}
	}
	return nil
}

func (s *Server) logFailure(r *http.Request, err error) {
	s.logger.Warn("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get(headerRequestID),
		"error", err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coreerrors.ErrApartmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, coreerrors.ErrActionNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, coreerrors.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrInvalidAmount),
		errors.Is(err, native.ErrIDTooLong),
		errors.Is(err, native.ErrEmptyID):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
