// Package sqlite implements a SQLite-based account store driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/open-wecom/kfsync/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// options holds sqlite-specific settings from [store.drivers.sqlite].
type options struct {
	// Path overrides the database file location; default <data_dir>/kfsync.db.
	Path string `mapstructure:"path"`
}

// Driver implements store.AccountStore using SQLite via GORM.
type Driver struct {
	dbPath string
	db     *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.AccountStore, error) {
	var opts options
	if len(cfg.Options) > 0 {
		if err := mapstructure.Decode(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("invalid sqlite driver options: %w", err)
		}
	}

	dbPath := opts.Path
	if dbPath == "" {
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir is required for sqlite driver")
		}
		dbPath = filepath.Join(cfg.DataDir, "kfsync.db")
	}

	return &Driver{dbPath: dbPath}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init opens the database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(d.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(&store.Account{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert inserts or replaces an account record.
func (d *Driver) Upsert(ctx context.Context, acct *store.Account) error {
	return d.db.WithContext(ctx).Save(acct).Error
}

// Get retrieves an account by id.
func (d *Driver) Get(ctx context.Context, openKFID string) (*store.Account, error) {
	var acct store.Account
	result := d.db.WithContext(ctx).First(&acct, "open_kf_id = ?", openKFID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &acct, nil
}

// List returns all known accounts sorted by id.
func (d *Driver) List(ctx context.Context) ([]*store.Account, error) {
	var accts []*store.Account
	result := d.db.WithContext(ctx).Order("open_kf_id").Find(&accts)
	if result.Error != nil {
		return nil, result.Error
	}
	return accts, nil
}

// Delete removes an account record.
func (d *Driver) Delete(ctx context.Context, openKFID string) error {
	result := d.db.WithContext(ctx).Delete(&store.Account{}, "open_kf_id = ?", openKFID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Compile-time interface check
var _ store.AccountStore = (*Driver)(nil)
