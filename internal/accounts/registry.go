// Package accounts tracks the set of discovered customer-service accounts
// and their management status overlay.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-wecom/kfsync/internal/platform/logutil"
	"github.com/open-wecom/kfsync/internal/store"
)

var (
	// ErrUnknownAccount is returned for operations on an account that was
	// never discovered.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrInvalidStatus is returned when a status value is not one of
	// active, disabled, deleted.
	ErrInvalidStatus = errors.New("invalid status")
)

// Registry is the in-memory account set backed by a persistent store.
// Discovery (Register) is idempotent; status changes come from management
// calls and overlay the discovered set.
type Registry struct {
	store  store.AccountStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	accounts map[string]*store.Account
}

// NewRegistry creates a registry over the given store. Load must be called
// before use.
func NewRegistry(st store.AccountStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:    st,
		logger:   logutil.NoopIfNil(logger),
		now:      time.Now,
		accounts: make(map[string]*store.Account),
	}
}

// Load populates the in-memory set from the store.
func (r *Registry) Load(ctx context.Context) error {
	list, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[string]*store.Account, len(list))
	for _, acct := range list {
		r.accounts[acct.OpenKFID] = acct
	}
	r.logger.Info("account registry loaded", "accounts", len(list))
	return nil
}

// Register records a discovered account. New accounts start active; known
// accounts are untouched, whatever their status. It returns true when the
// account was new. Persistence failures are logged and do not fail the
// registration: the in-memory set keeps serving and the next write retries.
func (r *Registry) Register(ctx context.Context, openKFID string) bool {
	if openKFID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[openKFID]; ok {
		return false
	}

	nowUnix := r.now().Unix()
	acct := &store.Account{
		OpenKFID:  openKFID,
		Status:    store.StatusActive,
		FirstSeen: nowUnix,
		UpdatedAt: nowUnix,
	}
	r.accounts[openKFID] = acct

	if err := r.store.Upsert(ctx, acct); err != nil {
		r.logger.Error("failed to persist discovered account", "account", openKFID, "error", err)
	} else {
		r.logger.Info("account discovered", "account", openKFID)
	}
	return true
}

// SetStatus applies a management status change to a known account.
func (r *Registry) SetStatus(ctx context.Context, openKFID, status string) error {
	if !store.ValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[openKFID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, openKFID)
	}
	if acct.Status == status {
		return nil
	}

	acct.Status = status
	acct.UpdatedAt = r.now().Unix()
	if err := r.store.Upsert(ctx, acct); err != nil {
		return fmt.Errorf("failed to persist status change: %w", err)
	}
	r.logger.Info("account status changed", "account", openKFID, "status", status)
	return nil
}

// Get returns a copy of the account record.
func (r *Registry) Get(openKFID string) (*store.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[openKFID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, openKFID)
	}
	cp := *acct
	return &cp, nil
}

// IsActive reports whether the account exists and is in active status.
func (r *Registry) IsActive(openKFID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[openKFID]
	return ok && acct.Status == store.StatusActive
}

// List returns copies of all account records.
func (r *Registry) List() []*store.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*store.Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		cp := *acct
		list = append(list, &cp)
	}
	return list
}

// ListActive returns the ids of all active accounts.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.accounts))
	for id, acct := range r.accounts {
		if acct.Status == store.StatusActive {
			ids = append(ids, id)
		}
	}
	return ids
}
