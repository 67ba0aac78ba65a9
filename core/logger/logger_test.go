package logger

import (
	"log/slog"
	"testing"

	coreconfig "github.com/m3rciful/fleetbot/core/config"
)

func TestResolveSettingsDefaults(t *testing.T) {
	st := resolveSettings(nil)
	if st.format != formatJSON || st.level != slog.LevelInfo || st.profile != "prod" {
		t.Fatalf("defaults = %+v", st)
	}
	if st.sampleN != 1 || st.sampleD != 50 || st.stacks {
		t.Fatalf("sampling/stacks defaults = %+v", st)
	}
}

func TestResolveSettingsDebugProfile(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Logging.Profile = "Dev"
	cfg.Logging.Level = "warning"
	cfg.Logging.DebugSample = "0"
	cfg.Logging.KeysOrder = "event, run_id,,"
	st := resolveSettings(cfg)
	if st.format != formatKV {
		t.Fatalf("format = %v, want kv for dev profile", st.format)
	}
	if st.level != slog.LevelWarn {
		t.Fatalf("level = %v", st.level)
	}
	if st.sampleN != 0 || st.sampleD != 0 {
		t.Fatalf("sample = %d/%d, want disabled", st.sampleN, st.sampleD)
	}
	if len(st.order) != 2 || st.order[1] != "run_id" {
		t.Fatalf("order = %v", st.order)
	}
	if !st.stacks {
		t.Fatal("dev profile should enable stacks")
	}

	cfg.Logging.Format = "json"
	cfg.Logging.Stacks = "off"
	cfg.Logging.Level = "loud"
	st = resolveSettings(cfg)
	if st.format != formatJSON || st.stacks || st.level != slog.LevelInfo {
		t.Fatalf("overrides = %+v", st)
	}
}
