package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/fleetbot/core/config"
	coredatabase "github.com/m3rciful/fleetbot/core/database"
)

func TestRunOrder(t *testing.T) {
	var steps []string
	db := &sqlx.DB{}
	res, err := Run(context.Background(), Options{
		Config: &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error {
			steps = append(steps, "logger")
			return nil
		},
		Migrate: func(context.Context, coredatabase.Config) error {
			steps = append(steps, "migrate")
			return nil
		},
		Connect: func(context.Context, coredatabase.Config) (*sqlx.DB, error) {
			steps = append(steps, "connect")
			return db, nil
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DB != db {
		t.Fatal("result does not carry the connected db")
	}
	want := []string{"logger", "migrate", "connect"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
	}
}

func TestRunStopsOnMigrationError(t *testing.T) {
	boom := errors.New("boom")
	connected := false
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return nil },
		Migrate:    func(context.Context, coredatabase.Config) error { return boom },
		Connect: func(context.Context, coredatabase.Config) (*sqlx.DB, error) {
			connected = true
			return nil, nil
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if connected {
		t.Fatal("connected after failed migration")
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Fatal("nil config accepted")
	}
}
