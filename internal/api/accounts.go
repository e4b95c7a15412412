package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/open-wecom/kfsync/internal/accounts"
	"github.com/open-wecom/kfsync/internal/platform/logutil"
	"github.com/open-wecom/kfsync/internal/store"
)

// Syncer runs one sync pass for an account.
type Syncer interface {
	Sync(ctx context.Context, accountID, seedToken string) error
}

// Handler serves the account management endpoints.
type Handler struct {
	registry *accounts.Registry
	syncer   Syncer
	auth     *BasicAuth
	logger   *slog.Logger

	// baseCtx scopes manually triggered syncs past the request lifetime.
	baseCtx context.Context
}

// NewHandler creates the management handler.
func NewHandler(baseCtx context.Context, registry *accounts.Registry, syncer Syncer, auth *BasicAuth, logger *slog.Logger) *Handler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{
		registry: registry,
		syncer:   syncer,
		auth:     auth,
		logger:   logutil.NoopIfNil(logger),
		baseCtx:  baseCtx,
	}
}

// Routes mounts the management endpoints under /api with basic auth.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Get("/accounts", h.listAccounts)
		r.Put("/accounts/{id}/status", h.setStatus)
		r.Post("/accounts/{id}/sync", h.triggerSync)
	})
}

// accountView is the wire representation of one account.
type accountView struct {
	OpenKFID  string `json:"open_kfid"`
	Status    string `json:"status"`
	FirstSeen int64  `json:"first_seen"`
	UpdatedAt int64  `json:"updated_at"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	views := make([]accountView, 0, len(list))
	for _, acct := range list {
		views = append(views, accountView{
			OpenKFID:  acct.OpenKFID,
			Status:    acct.Status,
			FirstSeen: acct.FirstSeen,
			UpdatedAt: acct.UpdatedAt,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ReasonBadRequest, "invalid JSON body")
		return
	}

	err := h.registry.SetStatus(r.Context(), id, body.Status)
	switch {
	case errors.Is(err, accounts.ErrInvalidStatus):
		WriteError(w, http.StatusBadRequest, ReasonInvalidField, "status must be one of active, disabled, deleted")
	case errors.Is(err, accounts.ErrUnknownAccount):
		WriteError(w, http.StatusNotFound, ReasonNotFound, "unknown account")
	case err != nil:
		h.logger.Error("status change failed", "account", id, "error", err)
		WriteError(w, http.StatusInternalServerError, ReasonInternalError, "status change failed")
	default:
		acct, _ := h.registry.Get(id)
		WriteJSON(w, http.StatusOK, accountView{
			OpenKFID:  acct.OpenKFID,
			Status:    acct.Status,
			FirstSeen: acct.FirstSeen,
			UpdatedAt: acct.UpdatedAt,
		})
	}
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	acct, err := h.registry.Get(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, ReasonNotFound, "unknown account")
		return
	}
	if acct.Status != store.StatusActive {
		WriteError(w, http.StatusConflict, ReasonInvalidField, "account is not active")
		return
	}

	go func() {
		if err := h.syncer.Sync(h.baseCtx, id, ""); err != nil {
			h.logger.Error("manual sync failed", "account", id, "error", err)
		}
	}()

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// Healthz is the unauthenticated liveness endpoint.
func Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
