// Package webhook terminates the platform's encrypted callback protocol:
// the GET verification handshake and POST event delivery.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/open-wecom/kfsync/internal/platform/logutil"
	wecomcrypto "github.com/open-wecom/kfsync/internal/wecom/crypto"
)

// MaxBodyBytes is the request body ceiling; anything larger is rejected
// before content validation.
const MaxBodyBytes = 64 << 10

// Registrar records discovered accounts.
type Registrar interface {
	Register(ctx context.Context, openKFID string) bool
}

// Syncer runs one sync pass for an account.
type Syncer interface {
	Sync(ctx context.Context, accountID, seedToken string) error
}

// Handler serves the callback endpoint. The request path is a strict stage
// sequence: method, path, size, params, signature, decrypt. Event POSTs are
// acknowledged before any processing happens; registration and the sync
// trigger run in the background against the handler's base context.
type Handler struct {
	codec     *wecomcrypto.Codec
	registrar Registrar
	syncer    Syncer
	logger    *slog.Logger

	// baseCtx scopes background work so shutdown can cancel it; the
	// request context dies with the response and must not be used.
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewHandler creates the callback handler. baseCtx bounds the asynchronous
// post-response work; pass the server's root context.
func NewHandler(baseCtx context.Context, codec *wecomcrypto.Codec, registrar Registrar, syncer Syncer, logger *slog.Logger) *Handler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{
		codec:     codec,
		registrar: registrar,
		syncer:    syncer,
		logger:    logutil.NoopIfNil(logger),
		baseCtx:   baseCtx,
	}
}

// Routes mounts the callback endpoint on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/callback", h.handleVerify)
	r.Post("/callback", h.handleEvent)
}

// Wait blocks until all in-flight background work has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// handleVerify implements the GET verification handshake: verify the
// signature over echostr, decrypt it, and return the plaintext body.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	signature := q.Get("msg_signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")
	echostr := q.Get("echostr")

	if signature == "" || timestamp == "" || nonce == "" || echostr == "" {
		writeStatus(w, http.StatusBadRequest, "bad request")
		return
	}

	if err := h.codec.VerifySignature(signature, timestamp, nonce, echostr); err != nil {
		h.logger.Warn("verification handshake signature mismatch", "error", err)
		writeStatus(w, http.StatusForbidden, "forbidden")
		return
	}

	plaintext, err := h.codec.Decrypt(echostr)
	if err != nil {
		h.logger.Error("verification handshake decrypt failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(plaintext)
}

// handleEvent implements encrypted event delivery. The platform enforces an
// aggressive response budget, so "success" goes out before any processing.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	// Size check fires strictly before content validation.
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "bad request")
		return
	}
	if len(body) > MaxBodyBytes {
		writeStatus(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	q := r.URL.Query()
	signature := q.Get("msg_signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")
	if signature == "" || timestamp == "" || nonce == "" {
		writeStatus(w, http.StatusBadRequest, "bad request")
		return
	}

	env, err := parseEnvelope(body)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "bad request")
		return
	}

	if err := h.codec.VerifySignature(signature, timestamp, nonce, env.Encrypt); err != nil {
		h.logger.Warn("callback signature mismatch")
		writeStatus(w, http.StatusForbidden, "forbidden")
		return
	}

	plaintext, err := h.codec.Decrypt(env.Encrypt)
	if err != nil {
		h.logger.Error("callback decrypt failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, "internal error")
		return
	}

	event, err := parseEvent(plaintext)
	if err != nil {
		h.logger.Error("callback event unparsable", "error", err)
		writeStatus(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeStatus(w, http.StatusOK, "success")

	h.wg.Add(1)
	go h.processEvent(event)
}

// processEvent runs after the response is sent. Failures are logged, never
// surfaced: the HTTP transaction is already complete.
func (h *Handler) processEvent(event *callbackEvent) {
	defer h.wg.Done()

	if event.OpenKFID == "" {
		h.logger.Debug("callback event without account id", "msg_type", event.MsgType, "event", event.Event)
		return
	}

	h.registrar.Register(h.baseCtx, event.OpenKFID)

	if err := h.syncer.Sync(h.baseCtx, event.OpenKFID, event.Token); err != nil {
		h.logger.Error("callback-triggered sync failed", "account", event.OpenKFID, "error", err)
	}
}

func writeStatus(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}
