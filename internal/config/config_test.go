package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.BudgetMs != 16 || cfg.Log.Level != "info" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.toml")
	content := `
[log]
level = "debug"

[scheduler]
budget_ms = 8
max_pending = 64
merge = false

[receiver]
max_batch_size = 32
strict = true

[plugin]
dir = "/opt/plugins"
entry = "main.lua"

[plugin.settings]
theme = "dark"
tab_width = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Scheduler.BudgetMs != 8 || cfg.Scheduler.Merge {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Receiver.Strict || cfg.Receiver.MaxBatchSize != 32 {
		t.Errorf("receiver = %+v", cfg.Receiver)
	}
	// Untouched sections keep their defaults.
	if cfg.Promise.TimeoutMs != 30_000 {
		t.Errorf("promise = %+v", cfg.Promise)
	}
	if cfg.Plugin.Settings["theme"] != "dark" {
		t.Errorf("settings = %v", cfg.Plugin.Settings)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"bad level", "[log]\nlevel = \"loud\"\n", ErrBadLogLevel},
		{"negative budget", "[scheduler]\nbudget_ms = -1\n", ErrBadBudget},
		{"zero pending", "[scheduler]\nmax_pending = 0\n", ErrBadPending},
		{"zero batch", "[receiver]\nmax_batch_size = 0\n", ErrBadBatchSize},
		{"negative timeout", "[promise]\ntimeout_ms = -5\n", ErrBadTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "weft.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); !errors.Is(err, tt.wantErr) {
				t.Errorf("Load = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.toml")
	if err := os.WriteFile(path, []byte("[log\nlevel"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed TOML accepted")
	}
}

func TestGuestTable(t *testing.T) {
	cfg := Default()
	cfg.Plugin.Settings = map[string]any{"theme": "dark"}

	table := cfg.GuestTable()
	if table["theme"] != "dark" {
		t.Errorf("table = %v", table)
	}
	if table["scheduler_budget_ms"] != int64(16) {
		t.Errorf("budget entry = %v", table["scheduler_budget_ms"])
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.toml")
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []Config
	w, err := Watch(path, func(c Config) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c)
	}, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("change never observed")
	}
	if got[len(got)-1].Log.Level != "debug" {
		t.Errorf("reloaded level = %q", got[len(got)-1].Log.Level)
	}
}

func TestWatcherIgnoresBrokenRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.toml")
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := make(chan Config, 4)
	w, err := Watch(path, func(c Config) { calls <- c }, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	// A broken save never reaches the callback.
	if err := os.WriteFile(path, []byte("[log\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-calls:
		t.Errorf("broken config delivered: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}

	// Fixing it does.
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-calls:
		if c.Log.Level != "warn" {
			t.Errorf("level = %q", c.Log.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fixed config never delivered")
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := Watch(path, func(Config) {})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
