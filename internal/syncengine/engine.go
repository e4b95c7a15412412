// Package syncengine pulls customer-service messages per account and feeds
// them through the filter pipeline to the dispatcher.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/open-wecom/kfsync/internal/dedup"
	"github.com/open-wecom/kfsync/internal/dispatch"
	"github.com/open-wecom/kfsync/internal/platform/keyedmutex"
	"github.com/open-wecom/kfsync/internal/platform/logutil"
	"github.com/open-wecom/kfsync/internal/wecom"
)

// MessageSource pulls one page of messages from the platform.
type MessageSource interface {
	SyncMessages(ctx context.Context, req wecom.SyncRequest) (*wecom.SyncResponse, error)
}

// CursorStore persists per-account cursors.
type CursorStore interface {
	Load(accountID string) string
	Save(accountID, cursor string) error
}

// AccountGate answers whether an account should be synced at all.
type AccountGate interface {
	IsActive(openKFID string) bool
}

// Options bound the engine's behavior.
type Options struct {
	// PageSize is the per-request message limit.
	PageSize int

	// MaxMessageAge drops messages older than this before dispatch.
	MaxMessageAge time.Duration

	// MaxDrainPages caps how many pages one cold-start drain may fetch
	// before releasing the account.
	MaxDrainPages int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PageSize <= 0 || out.PageSize > 1000 {
		out.PageSize = 1000
	}
	if out.MaxMessageAge <= 0 {
		out.MaxMessageAge = 10 * time.Minute
	}
	if out.MaxDrainPages <= 0 {
		out.MaxDrainPages = 1000
	}
	return out
}

// Engine synchronizes messages for discovered accounts. Invocations for the
// same account are serialized in arrival order; distinct accounts run
// concurrently.
type Engine struct {
	source     MessageSource
	cursors    CursorStore
	window     *dedup.Window
	dispatcher dispatch.Dispatcher
	gate       AccountGate
	locks      *keyedmutex.Mutex
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a sync engine.
func New(source MessageSource, cursors CursorStore, window *dedup.Window, dispatcher dispatch.Dispatcher, gate AccountGate, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		source:     source,
		cursors:    cursors,
		window:     window,
		dispatcher: dispatcher,
		gate:       gate,
		locks:      keyedmutex.New(),
		opts:       opts.withDefaults(),
		logger:     logutil.NoopIfNil(logger),
		now:        time.Now,
	}
}

// Sync runs one synchronization pass for the account. seedToken is the
// one-shot voucher from a callback event; it seeds only the first pull of a
// cold start and is ignored otherwise. A fetch failure aborts the pass
// without touching the persisted cursor.
func (e *Engine) Sync(ctx context.Context, accountID, seedToken string) error {
	if accountID == "" {
		return fmt.Errorf("empty account id")
	}
	if e.gate != nil && !e.gate.IsActive(accountID) {
		e.logger.Debug("sync skipped for inactive account", "account", accountID)
		return nil
	}

	unlock := e.locks.Lock(accountID)
	defer unlock()

	runID := uuid.NewString()
	logger := e.logger.With("account", accountID, "run", runID)

	cursor := e.cursors.Load(accountID)
	if cursor == "" {
		return e.drain(ctx, logger, accountID, seedToken)
	}
	return e.incremental(ctx, logger, accountID, cursor)
}

// drain is the cold-start path: walk the full backlog persisting cursors but
// dispatching nothing, so only messages arriving after discovery flow out.
func (e *Engine) drain(ctx context.Context, logger *slog.Logger, accountID, seedToken string) error {
	logger.Info("cold start, draining backlog")

	cursor := ""
	token := seedToken
	pages := 0
	drained := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pages >= e.opts.MaxDrainPages {
			logger.Warn("drain page cap reached, resuming on next trigger", "pages", pages)
			return nil
		}

		resp, err := e.source.SyncMessages(ctx, wecom.SyncRequest{
			Cursor:   cursor,
			Token:    token,
			Limit:    e.opts.PageSize,
			OpenKFID: accountID,
		})
		if err != nil {
			return fmt.Errorf("drain fetch failed: %w", err)
		}
		token = "" // the voucher is one-shot
		pages++
		drained += len(resp.Messages)

		if resp.NextCursor != "" {
			cursor = resp.NextCursor
			if err := e.cursors.Save(accountID, cursor); err != nil {
				logger.Error("failed to persist cursor during drain", "error", err)
			}
		}
		if !resp.HasMore {
			break
		}
	}

	logger.Info("backlog drained", "pages", pages, "messages", drained)
	return nil
}

// incremental is the steady-state path: fetch pages from the persisted
// cursor and run each message through the filter pipeline.
func (e *Engine) incremental(ctx context.Context, logger *slog.Logger, accountID, cursor string) error {
	dispatched := 0
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := e.source.SyncMessages(ctx, wecom.SyncRequest{
			Cursor:   cursor,
			Limit:    e.opts.PageSize,
			OpenKFID: accountID,
		})
		if err != nil {
			return fmt.Errorf("sync fetch failed: %w", err)
		}
		pages++

		for i := range resp.Messages {
			if e.process(ctx, logger, &resp.Messages[i]) {
				dispatched++
			}
		}

		// The cursor moves only after the whole page was processed, so a
		// crash mid-page replays the page instead of losing it.
		if resp.NextCursor != "" {
			cursor = resp.NextCursor
			if err := e.cursors.Save(accountID, cursor); err != nil {
				logger.Error("failed to persist cursor", "error", err)
			}
		}
		if !resp.HasMore {
			break
		}
	}

	if dispatched > 0 {
		logger.Info("sync pass complete", "pages", pages, "dispatched", dispatched)
	} else {
		logger.Debug("sync pass complete", "pages", pages)
	}
	return nil
}

// process runs one message through the filter pipeline and reports whether
// it was dispatched. Dispatcher errors are isolated per message.
func (e *Engine) process(ctx context.Context, logger *slog.Logger, msg *wecom.Message) bool {
	if msg.MsgType == "event" {
		eventType := ""
		if msg.Event != nil {
			eventType = msg.Event.EventType
		}
		logger.Debug("platform event", "msgid", msg.MsgID, "event_type", eventType)
		return false
	}
	if msg.Origin != wecom.OriginCustomer {
		return false
	}
	if age := e.now().Sub(time.Unix(msg.SendTime, 0)); age > e.opts.MaxMessageAge {
		logger.Debug("stale message skipped", "msgid", msg.MsgID, "age", age)
		return false
	}
	if e.window.Seen(msg.MsgID) {
		logger.Debug("duplicate message skipped", "msgid", msg.MsgID)
		return false
	}
	if msg.DisplayText() == "" {
		logger.Debug("message without dispatchable content skipped", "msgid", msg.MsgID, "type", msg.MsgType)
		return false
	}

	if err := e.dispatcher.Dispatch(ctx, msg); err != nil {
		logger.Error("dispatch failed", "msgid", msg.MsgID, "error", err)
		return false
	}
	return true
}
