// Package handler exposes the verification key API over HTTP. It is a thin
// chi layer: decode, delegate to the service, translate domain errors.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"verikey/internal/verification/models"
	"verikey/internal/verification/service"
	authmw "verikey/pkg/platform/middleware/auth"
	"verikey/pkg/platform/sentinel"
	"verikey/pkg/requestcontext"
)

// Service defines the operations the HTTP layer needs from the key engine.
type Service interface {
	CreateGroup(ctx context.Context, name, generator string, ttlMinutes int, hasFact bool) (*models.KeyGroup, error)
	GetGroup(ctx context.Context, name string) (*models.KeyGroup, error)
	ListGroups(ctx context.Context) ([]*models.KeyGroup, error)
	DeleteGroup(ctx context.Context, name string) error
	PurgeGroup(ctx context.Context, name string) (int64, error)
	GenerateKey(ctx context.Context, group string, opts ...service.GenerateOption) (*models.Key, error)
	ListKeys(ctx context.Context, state models.KeyState, group string) ([]*models.Key, error)
	Claim(ctx context.Context, token string, claimant uuid.UUID) (*models.Key, error)
	ClaimPreAddressed(ctx context.Context, token string) (*models.Key, error)
}

// Handler handles verification key endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator authmw.TokenValidator
}

// New creates a new key Handler. The validator guards the authenticated
// claim endpoint.
func New(svc Service, logger *slog.Logger, validator authmw.TokenValidator) *Handler {
	return &Handler{logger: logger, service: svc, validator: validator}
}

// Register mounts the key routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/groups", func(r chi.Router) {
		r.Post("/", h.handleCreateGroup)
		r.Get("/", h.handleListGroups)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.handleGetGroup)
			r.Delete("/", h.handleDeleteGroup)
			r.Post("/purge", h.handlePurgeGroup)
			r.Post("/keys", h.handleGenerateKey)
		})
	})
	r.Get("/keys", h.handleListKeys)
	r.With(authmw.RequireClaimant(h.validator, h.logger)).Post("/claim", h.handleClaim)
	// Magic-URL redemption for keys pre-addressed at issuance. The token is
	// the only credential, so it must only be delivered out-of-band.
	r.Get("/claim/{token}", h.handleClaimPreAddressed)
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create group request", "error", err)
		writeError(w, errBadRequest)
		return
	}

	group, err := h.service.CreateGroup(ctx, req.Name, req.Generator, req.TTLMinutes, req.HasFact)
	if err != nil {
		h.logError(ctx, "create group failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		h.logError(r.Context(), "list groups failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.service.GetGroup(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	if err := h.service.DeleteGroup(ctx, name); err != nil {
		h.logError(ctx, "delete group failed", err)
		writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "group deleted", "group", name)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePurgeGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	removed, err := h.service.PurgeGroup(ctx, name)
	if err != nil {
		h.logError(ctx, "purge group failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Removed: removed})
}

func (h *Handler) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	var req generateKeyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.WarnContext(ctx, "invalid generate key request", "group", name, "error", err)
			writeError(w, errBadRequest)
			return
		}
	}

	var opts []service.GenerateOption
	if req.Fact != "" {
		opts = append(opts, service.WithFact(req.Fact))
	}
	if len(req.GeneratorArgs) > 0 {
		opts = append(opts, service.WithGeneratorArgs(req.GeneratorArgs...))
	}
	if req.ClaimedBy != "" {
		claimant, err := uuid.Parse(req.ClaimedBy)
		if err != nil {
			writeError(w, errBadRequest)
			return
		}
		opts = append(opts, service.WithClaimant(claimant))
	}

	key, err := h.service.GenerateKey(ctx, name, opts...)
	if err != nil {
		h.logError(ctx, "generate key failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state := models.StateAvailable
	if raw := r.URL.Query().Get("state"); raw != "" {
		parsed, err := models.ParseKeyState(raw)
		if err != nil {
			writeError(w, errBadRequest)
			return
		}
		state = parsed
	}

	keys, err := h.service.ListKeys(ctx, state, r.URL.Query().Get("group"))
	if err != nil {
		h.logError(ctx, "list keys failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleClaim redeems a token for the authenticated claimant. The claimant
// comes from the auth middleware, never from the request body.
func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claimant := requestcontext.ClaimantID(ctx)
	if claimant == uuid.Nil {
		writeError(w, errUnauthorized)
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, errBadRequest)
		return
	}

	key, err := h.service.Claim(ctx, req.Token, claimant)
	if err != nil {
		h.logger.InfoContext(ctx, "claim rejected", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *Handler) handleClaimPreAddressed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := h.service.ClaimPreAddressed(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.logger.InfoContext(ctx, "pre-addressed claim rejected", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	if isClientError(err) {
		h.logger.WarnContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
		return
	}
	h.logger.ErrorContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
}

func isClientError(err error) bool {
	return httpStatus(err) < http.StatusInternalServerError
}

var (
	errBadRequest   = errors.New("invalid request")
	errUnauthorized = errors.New("unauthorized")
)

// httpStatus maps domain errors onto the claim error taxonomy: unknown token
// 404, expired 410, already claimed 409.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrInvalidGroup),
		errors.Is(err, models.ErrFactRequired),
		errors.Is(err, models.ErrNoClaimant):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrKeyNotFound), errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrKeyExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrKeyAlreadyClaimed), errors.Is(err, sentinel.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrNoGenerator):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	body := errorResponse{Error: http.StatusText(status)}
	if status < http.StatusInternalServerError {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
