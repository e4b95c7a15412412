package accounts

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/open-wecom/kfsync/internal/store"
	jsonstore "github.com/open-wecom/kfsync/internal/store/json"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := jsonstore.NewDriver(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	r := NewRegistry(st, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestRegisterIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if !r.Register(ctx, "kf001") {
		t.Error("first Register = false, want true")
	}
	if r.Register(ctx, "kf001") {
		t.Error("second Register = true, want false")
	}
	if !r.IsActive("kf001") {
		t.Error("new account not active")
	}
}

func TestRegisterEmptyIDIgnored(t *testing.T) {
	r := newTestRegistry(t)
	if r.Register(context.Background(), "") {
		t.Error("empty id registered")
	}
}

func TestRegisterDoesNotResetStatus(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Register(ctx, "kf001")
	if err := r.SetStatus(ctx, "kf001", store.StatusDisabled); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	r.Register(ctx, "kf001")
	if r.IsActive("kf001") {
		t.Error("re-registration reactivated a disabled account")
	}
}

func TestSetStatusValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	r.Register(ctx, "kf001")

	if err := r.SetStatus(ctx, "kf001", "frozen"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}
	if err := r.SetStatus(ctx, "kf999", store.StatusDisabled); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("err = %v, want ErrUnknownAccount", err)
	}
}

func TestListActive(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Register(ctx, "kf001")
	r.Register(ctx, "kf002")
	r.Register(ctx, "kf003")
	r.SetStatus(ctx, "kf002", store.StatusDisabled)
	r.SetStatus(ctx, "kf003", store.StatusDeleted)

	active := r.ListActive()
	sort.Strings(active)
	if len(active) != 1 || active[0] != "kf001" {
		t.Errorf("active = %v, want [kf001]", active)
	}
	if len(r.List()) != 3 {
		t.Errorf("List len = %d, want all 3 records", len(r.List()))
	}
}

func TestStatusSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, _ := jsonstore.NewDriver(&store.DriverConfig{Driver: "json", DataDir: dir})
	st.Init(ctx)
	r := NewRegistry(st, nil)
	r.Load(ctx)
	r.Register(ctx, "kf001")
	r.SetStatus(ctx, "kf001", store.StatusDisabled)
	st.Close()

	st2, _ := jsonstore.NewDriver(&store.DriverConfig{Driver: "json", DataDir: dir})
	st2.Init(ctx)
	r2 := NewRegistry(st2, nil)
	if err := r2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	acct, err := r2.Get("kf001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if acct.Status != store.StatusDisabled {
		t.Errorf("status = %q after reload", acct.Status)
	}
}
