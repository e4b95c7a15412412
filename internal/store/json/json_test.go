package json

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-wecom/kfsync/internal/store"
)

func newTestDriver(t *testing.T, dir string) store.AccountStore {
	t.Helper()
	d, err := NewDriver(&store.DriverConfig{Driver: "json", DataDir: dir})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d
}

func TestUpsertGet(t *testing.T) {
	d := newTestDriver(t, t.TempDir())
	ctx := context.Background()

	acct := &store.Account{OpenKFID: "kf001", Status: store.StatusActive, FirstSeen: 100}
	if err := d.Upsert(ctx, acct); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := d.Get(ctx, "kf001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusActive || got.FirstSeen != 100 {
		t.Errorf("got = %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	d := newTestDriver(t, t.TempDir())
	if _, err := d.Get(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d := newTestDriver(t, dir)
	d.Upsert(ctx, &store.Account{OpenKFID: "kf001", Status: store.StatusActive})
	d.Upsert(ctx, &store.Account{OpenKFID: "kf002", Status: store.StatusDisabled})
	d.Close()

	d2 := newTestDriver(t, dir)
	list, err := d2.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].OpenKFID != "kf001" || list[1].OpenKFID != "kf002" {
		t.Errorf("list = %+v, want sorted by id", list)
	}
	if list[1].Status != store.StatusDisabled {
		t.Errorf("kf002 status = %q", list[1].Status)
	}
}

func TestFileIsJSONArray(t *testing.T) {
	dir := t.TempDir()
	d := newTestDriver(t, dir)
	d.Upsert(context.Background(), &store.Account{OpenKFID: "kf001", Status: store.StatusActive})

	data, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("file is not a JSON array: %v", err)
	}
	if len(list) != 1 || list[0]["open_kfid"] != "kf001" {
		t.Errorf("file content = %v", list)
	}
}

func TestDelete(t *testing.T) {
	d := newTestDriver(t, t.TempDir())
	ctx := context.Background()
	d.Upsert(ctx, &store.Account{OpenKFID: "kf001", Status: store.StatusActive})

	if err := d.Delete(ctx, "kf001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := d.Get(ctx, "kf001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := d.Delete(ctx, "kf001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestClosedStore(t *testing.T) {
	d := newTestDriver(t, t.TempDir())
	ctx := context.Background()
	d.Close()

	if err := d.Upsert(ctx, &store.Account{OpenKFID: "kf001"}); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Upsert err = %v, want ErrClosed", err)
	}
	if _, err := d.List(ctx); !errors.Is(err, store.ErrClosed) {
		t.Errorf("List err = %v, want ErrClosed", err)
	}
}

func TestMissingDataDirRejected(t *testing.T) {
	if _, err := NewDriver(&store.DriverConfig{Driver: "json"}); err == nil {
		t.Fatal("expected error for missing data_dir")
	}
}

func TestRegistered(t *testing.T) {
	d, err := store.New(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if d.Name() != "json" {
		t.Errorf("Name = %q", d.Name())
	}
}
