// Package dispatch delivers synchronized customer messages to downstream
// consumers.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/open-wecom/kfsync/internal/platform/logutil"
	"github.com/open-wecom/kfsync/internal/wecom"
)

// Dispatcher receives each customer message exactly once per sync run.
// Implementations must not retain the message past the call.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *wecom.Message) error
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, msg *wecom.Message) error

func (f Func) Dispatch(ctx context.Context, msg *wecom.Message) error {
	return f(ctx, msg)
}

// LogDispatcher writes each message to the structured log. It is the default
// sink when no downstream consumer is wired.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a dispatcher that logs messages.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logutil.NoopIfNil(logger)}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, msg *wecom.Message) error {
	d.logger.Info("customer message",
		"msgid", msg.MsgID,
		"account", msg.OpenKFID,
		"user", msg.UserID,
		"type", msg.MsgType,
		"text", msg.DisplayText(),
	)
	return nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
var _ Dispatcher = Func(nil)
