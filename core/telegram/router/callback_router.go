package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/fleetbot/core/telegram"
	"github.com/m3rciful/fleetbot/core/telegram/callbacks"
	"github.com/m3rciful/fleetbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute routes button presses through the registry by unique key.
// Handlers may answer the query themselves, for example with an alert;
// otherwise it is answered empty afterwards so the client stops spinning.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}

		key := callbacks.CallbackKey(c)
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}

		h, ok := reg.GetCallback(key)
		if !ok || h == nil {
			h = reg.CallbackNotFound()
			if h == nil {
				h = opts.NotFound
			}
			extras = append(extras, slog.String("reason", "not_found"))
		}

		return handleWithSummary(c, name, start, "", "", func() error {
			var err error
			if h != nil {
				err = h(c)
			}
			if !middleware.Stats(c).Answered {
				_ = c.Respond()
			}
			return err
		}, extras...)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
