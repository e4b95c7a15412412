// Package store provides persistence primitives and driver abstractions for
// the discovered-account set.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Account status values.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
	StatusDeleted  = "deleted"
)

// ValidStatus reports whether s is a known account status.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusDisabled, StatusDeleted:
		return true
	}
	return false
}

// Account is one discovered customer-service account with its status overlay.
type Account struct {
	OpenKFID  string `json:"open_kfid" gorm:"primaryKey"`
	Status    string `json:"status"`
	FirstSeen int64  `json:"first_seen"`
	UpdatedAt int64  `json:"updated_at"`
}

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (json, sqlite).
	Name() string
}

// AccountStore defines operations for account persistence.
type AccountStore interface {
	Driver

	// Upsert inserts or replaces an account record.
	Upsert(ctx context.Context, acct *Account) error

	// Get retrieves an account by id, returning ErrNotFound when absent.
	Get(ctx context.Context, openKFID string) (*Account, error)

	// List returns all known accounts.
	List(ctx context.Context) ([]*Account, error)

	// Delete removes an account record, returning ErrNotFound when absent.
	Delete(ctx context.Context, openKFID string) error
}
