package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

const managerConfig = `
providers:
  - id: a
    priority: 1
`

func TestManager_Status(t *testing.T) {
	path := writeConfigFile(t, managerConfig)
	mgr, err := NewManager(path, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	status := mgr.Status()
	if status.Path != path {
		t.Errorf("Status().Path = %q, want %q", status.Path, path)
	}
	if status.Checksum == "" || status.LoadedAt.IsZero() || status.ReloadCount != 1 {
		t.Errorf("Status() = %+v", status)
	}
	if len(mgr.Get().Providers) != 1 {
		t.Errorf("providers = %d, want 1", len(mgr.Get().Providers))
	}
}

func TestManager_Reload(t *testing.T) {
	path := writeConfigFile(t, managerConfig)
	mgr, err := NewManager(path, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var calls atomic.Int32
	mgr.OnChange(func(cfg *Config) { calls.Add(1) })

	changed, err := mgr.Reload(context.Background())
	if err != nil || changed {
		t.Fatalf("Reload() of unchanged file = %v, %v", changed, err)
	}

	before := mgr.Status().Checksum
	if err := os.WriteFile(path, []byte(managerConfig+"  - id: b\n    priority: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	changed, err = mgr.Reload(context.Background())
	if err != nil || !changed {
		t.Fatalf("Reload() = %v, %v", changed, err)
	}
	if len(mgr.Get().Providers) != 2 {
		t.Errorf("providers = %d, want 2", len(mgr.Get().Providers))
	}
	if mgr.Status().Checksum == before || mgr.Status().ReloadCount != 2 {
		t.Errorf("Status() = %+v", mgr.Status())
	}
	if calls.Load() != 1 {
		t.Errorf("OnChange called %d times, want 1", calls.Load())
	}
}

func TestManager_ReloadInvalidKeepsCurrent(t *testing.T) {
	path := writeConfigFile(t, managerConfig)
	mgr, err := NewManager(path, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	current := mgr.Get()

	if err := os.WriteFile(path, []byte("service:\n  strategy: random\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Reload(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if mgr.Get() != current {
		t.Error("invalid reload replaced the configuration")
	}
	if mgr.Status().LastError == "" {
		t.Error("Status().LastError not set")
	}
}

func TestManager_Watch(t *testing.T) {
	path := writeConfigFile(t, managerConfig)
	mgr, err := NewManager(path, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	changed := make(chan *Config, 1)
	mgr.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer mgr.Close()

	if err := os.WriteFile(path, []byte(managerConfig+"  - id: c\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if len(cfg.Providers) != 2 {
			t.Errorf("providers = %d, want 2", len(cfg.Providers))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the configuration")
	}
}

func TestNewManager_InvalidFile(t *testing.T) {
	path := writeConfigFile(t, "cache:\n  backend: disk\n")
	if _, err := NewManager(path, nil); err == nil {
		t.Fatal("expected error for invalid configuration")
	}
}
