package middleware

import (
	"log/slog"

	"github.com/m3rciful/fleetbot/core/logger"
	tghelpers "github.com/m3rciful/fleetbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware turns a handler panic into an error log so one bad
// update cannot stop the poller.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			ctx := tghelpers.BuildContext(c)
			logger.Panic(ctx, "tg", "tg.panic", rec,
				slog.String("handler", logger.HandlerFrom(ctx)),
			)
			err = nil
		}()
		return next(c)
	}
}
