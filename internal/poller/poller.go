// Package poller triggers periodic sync passes for all active accounts.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/open-wecom/kfsync/internal/platform/logutil"
)

// Syncer runs one sync pass for an account.
type Syncer interface {
	Sync(ctx context.Context, accountID, seedToken string) error
}

// AccountLister supplies the accounts to poll.
type AccountLister interface {
	ListActive() []string
}

// Poller ticks at a fixed interval and triggers a sync pass per active
// account. Accounts run concurrently; a tick never waits for the previous
// one (per-account serialization happens inside the engine).
type Poller struct {
	syncer   Syncer
	accounts AccountLister
	interval time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a poller. A non-positive interval disables it (Run returns
// immediately).
func New(syncer Syncer, accounts AccountLister, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		syncer:   syncer,
		accounts: accounts,
		interval: interval,
		logger:   logutil.NoopIfNil(logger),
	}
}

// Run blocks until ctx is cancelled, scheduling a sync pass for every active
// account on each tick. On shutdown it stops scheduling immediately and
// waits for in-flight passes to drain.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("poller disabled")
		return
	}

	p.logger.Info("poller started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// In-flight passes run on a context that survives shutdown so the
	// current pull finishes; the outbound client's timeout bounds the drain.
	syncCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.tick(syncCtx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	for _, id := range p.accounts.ListActive() {
		id := id
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.syncer.Sync(ctx, id, ""); err != nil {
				p.logger.Error("scheduled sync failed", "account", id, "error", err)
			}
		}()
	}
}
