package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/open-wecom/kfsync/internal/store"
)

func newTestDriver(t *testing.T) store.AccountStore {
	t.Helper()
	d, err := NewDriver(&store.DriverConfig{Driver: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestUpsertGetList(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.Upsert(ctx, &store.Account{OpenKFID: "kf002", Status: store.StatusActive}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := d.Upsert(ctx, &store.Account{OpenKFID: "kf001", Status: store.StatusDisabled}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := d.Get(ctx, "kf001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusDisabled {
		t.Errorf("status = %q", got.Status)
	}

	list, err := d.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].OpenKFID != "kf001" {
		t.Errorf("list = %+v, want 2 sorted records", list)
	}
}

func TestUpsertReplaces(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	d.Upsert(ctx, &store.Account{OpenKFID: "kf001", Status: store.StatusActive})
	d.Upsert(ctx, &store.Account{OpenKFID: "kf001", Status: store.StatusDeleted})

	got, err := d.Get(ctx, "kf001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusDeleted {
		t.Errorf("status = %q, want replaced value", got.Status)
	}
}

func TestGetMissing(t *testing.T) {
	d := newTestDriver(t)
	if _, err := d.Get(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	d.Upsert(ctx, &store.Account{OpenKFID: "kf001", Status: store.StatusActive})

	if err := d.Delete(ctx, "kf001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := d.Delete(ctx, "kf001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestPathOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	d, err := NewDriver(&store.DriverConfig{
		Driver:  "sqlite",
		Options: map[string]any{"path": path},
	})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer d.Close()

	if err := d.Upsert(context.Background(), &store.Account{OpenKFID: "kf001"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}
