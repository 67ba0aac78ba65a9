package middleware

import (
	"context"
	"log/slog"

	"github.com/m3rciful/fleetbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// AccessOptions lists the users allowed past OperatorOnly. An empty list
// lets everyone through.
type AccessOptions struct {
	OperatorIDs []int64
	OnReject    tele.HandlerFunc
}

// Allowed reports whether userID may use guarded handlers.
func (o AccessOptions) Allowed(userID int64) bool {
	if len(o.OperatorIDs) == 0 {
		return true
	}
	for _, id := range o.OperatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OperatorOnly rejects updates from users outside opts.OperatorIDs.
func OperatorOnly(opts AccessOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			var userID int64
			if u := c.Sender(); u != nil {
				userID = u.ID
			}
			if !opts.Allowed(userID) {
				logger.Warn(context.Background(), "tg", "access.denied",
					slog.Int64("user_id", userID),
				)
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
