package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"github.com/m3rciful/fleetbot/core/logger"
)

const component = "fleet.mtproto"

// conn is one running client. The client's Run loop lives in its own
// goroutine until Close.
type conn struct {
	client  *telegram.Client
	api     *tg.Client
	storage *memStorage
	limiter *rate.Limiter
	phone   string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	runErr error
}

type dialConfig struct {
	APIID   int
	APIHash string
	Phone   string
	Seed    []byte
	Timeout time.Duration
	// Lifetime caps how long the connection may stay open.
	Lifetime time.Duration
	Rate     rate.Limit
	Burst    int
	Device   telegram.DeviceConfig
}

// dial starts a client and waits until it is connected. The connection
// outlives ctx; only Close stops it.
func dial(ctx context.Context, cfg dialConfig) (*conn, error) {
	storage := newMemStorage(cfg.Seed)
	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: storage,
		Device:         cfg.Device,
		NoUpdates:      true,
	})

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Lifetime)
	c := &conn{
		client:  client,
		api:     client.API(),
		storage: storage,
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		phone:   cfg.Phone,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.runErr = client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()
	select {
	case <-ready:
		logger.Debug(ctx, component, "conn.ready",
			slog.String("phone", logger.MaskPhone(cfg.Phone)),
		)
		return c, nil
	case <-c.done:
		cancel()
		if c.runErr == nil {
			return nil, errors.New("mtproto: client stopped before ready")
		}
		return nil, fmt.Errorf("mtproto: connect: %w", c.runErr)
	case <-timer.C:
		c.shutdown()
		return nil, fmt.Errorf("mtproto: connect: %w", context.DeadlineExceeded)
	case <-ctx.Done():
		c.shutdown()
		return nil, ctx.Err()
	}
}

// wait paces API calls.
func (c *conn) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mtproto: rate limit wait: %w", err)
	}
	return nil
}

func (c *conn) shutdown() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
}

// Close stops the client and waits for it up to ctx.
func (c *conn) Close(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		c.shutdown()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		logger.Warn(ctx, component, "conn.close_timeout",
			slog.String("phone", logger.MaskPhone(c.phone)),
		)
		return ctx.Err()
	}
}
