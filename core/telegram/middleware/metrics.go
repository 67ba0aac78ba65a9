package middleware

import (
	tele "gopkg.in/telebot.v4"
)

const statsKey = "reply_stats"

// ReplyStats counts what a handler sent back for one update.
type ReplyStats struct {
	Sent     int
	Edited   int
	Answered bool
	Keyboard bool
}

// metricsContext wraps tele.Context to count replies. Prompts in the
// operator flows are mostly edits of one message, so those are kept apart.
type metricsContext struct {
	tele.Context
	stats *ReplyStats
}

func (m metricsContext) count(edit bool, opts []interface{}) {
	if edit {
		m.stats.Edited++
	} else {
		m.stats.Sent++
	}
	if hasKeyboard(opts) {
		m.stats.Keyboard = true
	}
}

func hasKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (m metricsContext) Send(what interface{}, opts ...interface{}) error {
	err := m.Context.Send(what, opts...)
	if err == nil {
		m.count(false, opts)
	}
	return err
}

func (m metricsContext) Reply(what interface{}, opts ...interface{}) error {
	err := m.Context.Reply(what, opts...)
	if err == nil {
		m.count(false, opts)
	}
	return err
}

func (m metricsContext) Edit(what interface{}, opts ...interface{}) error {
	err := m.Context.Edit(what, opts...)
	if err == nil {
		m.count(true, opts)
	}
	return err
}

// EditOrSend counts as an edit only when there was a message to edit.
func (m metricsContext) EditOrSend(what interface{}, opts ...interface{}) error {
	err := m.Context.EditOrSend(what, opts...)
	if err == nil {
		m.count(m.Context.Callback() != nil, opts)
	}
	return err
}

func (m metricsContext) EditOrReply(what interface{}, opts ...interface{}) error {
	err := m.Context.EditOrReply(what, opts...)
	if err == nil {
		m.count(m.Context.Callback() != nil, opts)
	}
	return err
}

// Respond answers a callback query; a button press left unanswered keeps
// spinning in the client.
func (m metricsContext) Respond(resp ...*tele.CallbackResponse) error {
	err := m.Context.Respond(resp...)
	if err == nil {
		m.stats.Answered = true
	}
	return err
}

// MessageMetricsMiddleware wraps the context so handlers' replies are counted.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		stats := &ReplyStats{}
		c.Set(statsKey, stats)
		return next(metricsContext{Context: c, stats: stats})
	}
}

// Stats returns the counters collected for c, zero when the middleware did
// not run.
func Stats(c tele.Context) ReplyStats {
	if c == nil {
		return ReplyStats{}
	}
	if s, ok := c.Get(statsKey).(*ReplyStats); ok && s != nil {
		return *s
	}
	return ReplyStats{}
}
