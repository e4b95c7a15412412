// Package json implements a JSON file-based account store driver.
// It uses atomic writes (temp file + fsync + rename) and in-process locking.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/open-wecom/kfsync/internal/store"
)

const accountsFile = "accounts.json"

func init() {
	store.Register("json", NewDriver)
}

// Driver implements store.AccountStore using a single JSON array file.
type Driver struct {
	dataDir string
	mu      sync.RWMutex
	closed  bool

	// In-memory state loaded from JSON, keyed by account id
	accounts map[string]*store.Account
}

// NewDriver creates a new JSON driver instance.
func NewDriver(cfg *store.DriverConfig) (store.AccountStore, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for json driver")
	}

	return &Driver{
		dataDir:  cfg.DataDir,
		accounts: make(map[string]*store.Account),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "json"
}

// Init loads the account file. A missing file is an empty store.
func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(d.dataDir, accountsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	var list []*store.Account
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("failed to parse accounts file: %w", err)
	}
	for _, acct := range list {
		d.accounts[acct.OpenKFID] = acct
	}
	return nil
}

// Close releases resources.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// save atomically writes the account set as a sorted JSON array.
// Pattern: write to temp file, fsync, rename. Caller holds d.mu.
func (d *Driver) save() error {
	list := make([]*store.Account, 0, len(d.accounts))
	for _, acct := range d.accounts {
		list = append(list, acct)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OpenKFID < list[j].OpenKFID })

	jsonData, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	path := filepath.Join(d.dataDir, accountsFile)
	tempPath := path + ".tmp"

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Upsert inserts or replaces an account record.
func (d *Driver) Upsert(ctx context.Context, acct *store.Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}

	cp := *acct
	d.accounts[acct.OpenKFID] = &cp
	return d.save()
}

// Get retrieves an account by id.
func (d *Driver) Get(ctx context.Context, openKFID string) (*store.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}

	acct, ok := d.accounts[openKFID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

// List returns all known accounts sorted by id.
func (d *Driver) List(ctx context.Context) ([]*store.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}

	list := make([]*store.Account, 0, len(d.accounts))
	for _, acct := range d.accounts {
		cp := *acct
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OpenKFID < list[j].OpenKFID })
	return list, nil
}

// Delete removes an account record.
func (d *Driver) Delete(ctx context.Context, openKFID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}

	if _, ok := d.accounts[openKFID]; !ok {
		return store.ErrNotFound
	}
	delete(d.accounts, openKFID)
	return d.save()
}

// Compile-time interface check
var _ store.AccountStore = (*Driver)(nil)
