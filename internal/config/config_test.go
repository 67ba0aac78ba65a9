package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
telegram:
  token: "123:abc"
  operator_ids: [11, 22]
database:
  name: fleet
  user: fleet
mtproto:
  api_id: 12345
  api_hash: 0123456789abcdef
fleet:
  flow_ttl: 15m
runner:
  account_delay: 2s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("FLEET_ACCOUNT_LIMIT", "5")
	t.Setenv("RUNNER_JITTER", "500ms")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.CoreConfig().Telegram.OperatorIDs; len(got) != 2 || got[1] != 22 {
		t.Fatalf("operator ids = %v", got)
	}
	if cfg.Telegram.RunMode != "longpoll" {
		t.Fatalf("run mode = %q", cfg.Telegram.RunMode)
	}
	if cfg.Fleet.AccountLimit != 5 {
		t.Fatalf("account limit = %d, want env override 5", cfg.Fleet.AccountLimit)
	}
	if cfg.Fleet.FlowTTL != 15*time.Minute {
		t.Fatalf("flow ttl = %v", cfg.Fleet.FlowTTL)
	}
	if cfg.Fleet.PageSize != 10 {
		t.Fatalf("page size default = %d", cfg.Fleet.PageSize)
	}
	if cfg.Runner.AccountDelay != 2*time.Second || cfg.Runner.Jitter != 500*time.Millisecond {
		t.Fatalf("runner = %+v", cfg.Runner)
	}
	if cfg.Runner.ProgressEvery != 10 {
		t.Fatalf("progress every = %d", cfg.Runner.ProgressEvery)
	}
	if cfg.Database.Host != "localhost" || cfg.Database.Port != "5432" {
		t.Fatalf("database defaults not applied: %+v", cfg.Database)
	}
}

func TestLoadRejectsHalfAPICredentials(t *testing.T) {
	body := strings.Replace(sample, "  api_hash: 0123456789abcdef\n", "", 1)
	_, err := Load(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "set together") {
		t.Fatalf("err = %v, want api credential error", err)
	}
}

func TestNormalizeRequiresOperators(t *testing.T) {
	var cfg Config
	cfg.Telegram.Token = "123:abc"
	cfg.Database.Name = "fleet"
	if err := cfg.Normalize(); err == nil || !strings.Contains(err.Error(), "operator_ids") {
		t.Fatalf("err = %v, want operator_ids error", err)
	}
	cfg.Telegram.OperatorIDs = []int64{7}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg.Fleet.PageSize = 50
	if err := cfg.Normalize(); err == nil {
		t.Fatal("oversized page accepted")
	}
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "999:xyz")
	t.Setenv("TELEGRAM_OPERATOR_IDS", "5,6")
	t.Setenv("DB_NAME", "fleet")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "999:xyz" || len(cfg.Telegram.OperatorIDs) != 2 {
		t.Fatalf("env not applied: %+v", cfg.Telegram)
	}
}
