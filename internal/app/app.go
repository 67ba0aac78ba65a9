// Package app assembles fleetbot: storage, MTProto sessions, the flow
// engine, the run manager and the Telegram handlers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/fleetbot/core/bootstrap"
	"github.com/m3rciful/fleetbot/core/logger"
	coretelegram "github.com/m3rciful/fleetbot/core/telegram"
	"github.com/m3rciful/fleetbot/core/telegram/router"
	"github.com/m3rciful/fleetbot/internal/bot"
	"github.com/m3rciful/fleetbot/internal/config"
	"github.com/m3rciful/fleetbot/internal/flow"
	"github.com/m3rciful/fleetbot/internal/mtproto"
	"github.com/m3rciful/fleetbot/internal/runner"
	"github.com/m3rciful/fleetbot/internal/store"
	"github.com/m3rciful/fleetbot/migrations"
)

const component = "app"

// shutdownTimeout bounds how long stop waits for runs to wind down.
const shutdownTimeout = 30 * time.Second

// App holds the assembled services.
type App struct {
	cfg      *config.Config
	db       *sqlx.DB
	flows    *flow.Engine
	runs     *runner.Manager
	bot      *bot.Bot
	sweepEnd context.CancelFunc
}

// Bootstrap initializes logging, migrates and connects the database and
// builds every service. ctx is the process context; runs started later
// stop when it is cancelled.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     cfg.CoreConfig(),
		Database:   cfg.Database,
		Migrations: migrations.FS,
	})
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, res.DB), nil
}

// New builds the services over an open database.
func New(ctx context.Context, cfg *config.Config, db *sqlx.DB) *App {
	accounts := store.NewAccounts(db)
	mtOpts := mtproto.Options{
		DialTimeout: cfg.MTProto.DialTimeout,
		Lifetime:    cfg.MTProto.Lifetime,
		// A login waiting at the code step lives as long as its flow.
		LoginLifetime: cfg.Fleet.FlowTTL + time.Minute,
		RequestRate:   cfg.MTProto.RequestRate,
		RequestBurst:  cfg.MTProto.RequestBurst,
		DeviceModel:   cfg.MTProto.DeviceModel,
		AppVersion:    cfg.MTProto.AppVersion,
	}
	run := runner.New(mtproto.NewProvider(mtOpts), accounts, runner.NewLocks(), runner.Options{
		AccountDelay:  cfg.Runner.AccountDelay,
		RiskyDelay:    cfg.Runner.RiskyDelay,
		RepeatDelay:   cfg.Runner.RepeatDelay,
		Jitter:        cfg.Runner.Jitter,
		ProgressEvery: cfg.Runner.ProgressEvery,
		DetailLimit:   cfg.Runner.DetailLimit,
	})

	a := &App{cfg: cfg, db: db, runs: runner.NewManager(ctx, run)}
	a.flows = flow.New(accounts, mtproto.NewAuthenticator(mtOpts), flow.Options{
		TTL:            cfg.Fleet.FlowTTL,
		PageSize:       cfg.Fleet.PageSize,
		AccountLimit:   cfg.Fleet.AccountLimit,
		DefaultAPIID:   cfg.MTProto.APIID,
		DefaultAPIHash: cfg.MTProto.APIHash,
		OnExpire: func(operatorID int64, kind flow.Kind) {
			if a.bot != nil {
				a.bot.NotifyExpired(operatorID, kind)
			}
		},
	})
	a.bot = bot.New(a.flows, a.runs, accounts, store.NewActionLog(db), bot.Options{})
	return a
}

// TelegramRunOptions wires the handlers into the shared Telegram runtime.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	core := a.cfg.CoreConfig()
	reg := coretelegram.NewRegistry()
	if err := a.bot.Register(reg); err != nil {
		return coretelegram.RunOptions{}, fmt.Errorf("app: register handlers: %w", err)
	}

	routes := router.CommandRoutes(reg)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{NotFound: a.bot.UnknownCallback()}))
	routes = append(routes, router.TextRoutes(a.bot, reg, router.TextOptions{
		UnknownText:  a.bot.UnknownText(),
		UnknownMedia: a.bot.UnknownMedia(),
	})...)

	return coretelegram.RunOptions{
		Config:             core,
		Registry:           reg,
		DropPendingUpdates: !core.Telegram.KeepPendingUpdates,
		Middlewares:        coretelegram.DefaultMiddlewares(core, a.bot.Limited, a.bot.Denied),
		Routes:             routes,
		OnStart:            a.start,
		OnStop:             a.stop,
	}, nil
}

func (a *App) start(ctx context.Context, rt coretelegram.Runtime) error {
	if rt.Bot == nil {
		return fmt.Errorf("app: telegram runtime without bot")
	}
	a.bot.Attach(bot.NewFrontEnd(rt.Bot, rt.Dispatcher), rt.Bot)

	sweepCtx, cancel := context.WithCancel(ctx)
	a.sweepEnd = cancel
	go a.flows.RunSweeper(sweepCtx)

	logger.Info(ctx, component, "services.started",
		slog.Int("account_limit", a.cfg.Fleet.AccountLimit),
		slog.Duration("flow_ttl", a.cfg.Fleet.FlowTTL),
		slog.Bool("default_api", a.cfg.MTProto.APIID != 0),
	)
	return nil
}

// stop waits for running actions, then closes the database. ctx is already
// cancelled at this point, so the wait gets its own deadline.
func (a *App) stop(ctx context.Context, _ coretelegram.Runtime) error {
	if a.sweepEnd != nil {
		a.sweepEnd()
	}
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	start := time.Now()
	if err := a.runs.Wait(waitCtx); err != nil {
		logger.Warn(waitCtx, component, "runs.wait_timeout",
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
	}
	if a.db == nil {
		return nil
	}
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("app: close database: %w", err)
	}
	return nil
}
