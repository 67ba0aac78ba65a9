package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/m3rciful/fleetbot/core/logger"
)

const migrateComponent = "db.migrate"

// Direction selects which way migrations run.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrator applies the SQL files of an fs.FS to a postgres database.
type Migrator struct {
	cfg   Config
	files fs.FS
	dir   string
}

// NewMigrator reads migrations from dir inside files.
func NewMigrator(cfg Config, files fs.FS, dir string) *Migrator {
	cfg.Normalize()
	if dir == "" {
		dir = "."
	}
	return &Migrator{cfg: cfg, files: files, dir: dir}
}

func (m *Migrator) open(ctx context.Context) (*migrate.Migrate, error) {
	if err := WaitForPostgres(ctx, m.cfg.DSN(), 30*time.Second); err != nil {
		logger.Error(ctx, migrateComponent, "db.migrate",
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	src, err := iofs.New(m.files, m.dir)
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	mg, err := migrate.NewWithSourceInstance("iofs", src, m.cfg.URL())
	if err != nil {
		logger.Error(ctx, migrateComponent, "db.migrate",
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return mg, nil
}

// Version reports the applied schema version.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mg, err := m.open(ctx)
	if err != nil {
		return 0, false, err
	}
	defer mg.Close()
	v, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Run applies every pending migration in dir. Down rolls back one step.
func (m *Migrator) Run(ctx context.Context, dir Direction) error {
	files := m.list()
	preview, truncated := logger.SummarizeStrings(files, 6)
	logger.Debug(ctx, migrateComponent, "resolve",
		slog.String("dir", m.dir),
		slog.Int("files_total", len(files)),
		slog.String("files_preview", preview),
		slog.Bool("files_truncated", truncated),
	)

	mg, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer mg.Close()

	fromVer, _, _ := mg.Version()
	start := time.Now()
	switch dir {
	case Down:
		err = mg.Steps(-1)
	default:
		err = mg.Up()
	}
	took := time.Since(start)

	switch {
	case err == nil:
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info(ctx, migrateComponent, "summary",
			slog.String("direction", string(dir)),
			slog.Uint64("from_ver", uint64(fromVer)),
			slog.Uint64("to_ver", uint64(fromVer)),
			slog.Int("files", 0),
			slog.Duration("duration", logger.RoundMS(took)),
		)
		return nil
	default:
		logger.Error(ctx, migrateComponent, "apply",
			slog.String("direction", string(dir)),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.RoundMS(took)),
		)
		return fmt.Errorf("migration execution failed: %w", err)
	}

	toVer, _, _ := mg.Version()
	lo, hi := uint64(fromVer), uint64(toVer)
	if hi < lo {
		lo, hi = hi, lo
	}
	applied := between(files, lo, hi)
	if len(applied) > 0 {
		p, t := logger.SummarizeStrings(applied, 6)
		logger.Debug(ctx, migrateComponent, "apply",
			slog.Int("files_total", len(applied)),
			slog.String("files_preview", p),
			slog.Bool("files_truncated", t),
		)
	}
	logger.Info(ctx, migrateComponent, "summary",
		slog.String("direction", string(dir)),
		slog.Uint64("from_ver", uint64(fromVer)),
		slog.Uint64("to_ver", uint64(toVer)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return nil
}

func (m *Migrator) list() []string {
	entries, err := fs.ReadDir(m.files, m.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func parseVersion(name string) uint64 {
	head, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(head, 10, 64)
	return v
}

// between returns the files with from < version <= to.
func between(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := parseVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
