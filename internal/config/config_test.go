package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service_name: merge-service\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ASIDE_CONFIG", writeTestConfig(t))
	t.Setenv("ASIDE_JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// the join cutoff sits one hour ahead of the merge time
	if cfg.Schedule.CutoffLead != time.Hour {
		t.Fatalf("expected 1h cutoff lead, got %s", cfg.Schedule.CutoffLead)
	}
	if cfg.Schedule.JoinWindow != 5*time.Minute {
		t.Fatalf("expected 5m join window, got %s", cfg.Schedule.JoinWindow)
	}
	if len(cfg.Schedule.MergeTimes) != 3 {
		t.Fatalf("expected three default merge times, got %v", cfg.Schedule.MergeTimes)
	}
}

func TestLoadCutoffLeadOverride(t *testing.T) {
	t.Setenv("ASIDE_CONFIG", writeTestConfig(t))
	t.Setenv("ASIDE_JWT_SECRET", "test-secret")
	t.Setenv("ASIDE_CUTOFF_LEAD", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Schedule.CutoffLead != 30*time.Minute {
		t.Fatalf("expected 30m cutoff lead, got %s", cfg.Schedule.CutoffLead)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("ASIDE_CONFIG", writeTestConfig(t))
	t.Setenv("ASIDE_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing jwt secret to fail")
	}
}
