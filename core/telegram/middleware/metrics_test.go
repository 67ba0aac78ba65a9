package middleware

import (
	"log/slog"
	"testing"

	tele "gopkg.in/telebot.v4"
)

// stubContext implements the parts of tele.Context the middleware touches.
type stubContext struct {
	tele.Context
	upd  tele.Update
	vals map[string]interface{}
}

func newStub(upd tele.Update) *stubContext {
	return &stubContext{upd: upd, vals: map[string]interface{}{}}
}

func (s *stubContext) Update() tele.Update           { return s.upd }
func (s *stubContext) Callback() *tele.Callback      { return s.upd.Callback }
func (s *stubContext) Get(key string) interface{}    { return s.vals[key] }
func (s *stubContext) Set(key string, v interface{}) { s.vals[key] = v }
func (s *stubContext) Send(interface{}, ...interface{}) error {
	return nil
}
func (s *stubContext) Edit(interface{}, ...interface{}) error {
	return nil
}
func (s *stubContext) EditOrSend(interface{}, ...interface{}) error {
	return nil
}
func (s *stubContext) Respond(...*tele.CallbackResponse) error {
	return nil
}

func TestMessageMetricsCountsReplies(t *testing.T) {
	c := newStub(tele.Update{Callback: &tele.Callback{Data: "fleet|menu"}})
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		_ = c.Respond()
		_ = c.Edit("menu", &tele.ReplyMarkup{})
		_ = c.Send("report")
		return c.EditOrSend("again")
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	got := Stats(c)
	want := ReplyStats{Sent: 1, Edited: 2, Answered: true, Keyboard: true}
	if got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
}

func TestStatsWithoutMiddleware(t *testing.T) {
	if got := Stats(newStub(tele.Update{})); got != (ReplyStats{}) {
		t.Fatalf("stats = %+v", got)
	}
}

func attrMap(attrs []slog.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value.String()
	}
	return m
}

func TestUpdateAttrsHidesText(t *testing.T) {
	c := newStub(tele.Update{Message: &tele.Message{Text: "hunter2 secret"}})
	got := attrMap(updateAttrs(c))
	if got["text_len"] != "14" {
		t.Fatalf("text_len = %q", got["text_len"])
	}
	for k, v := range got {
		if v == "hunter2 secret" {
			t.Fatalf("text leaked under %s", k)
		}
	}

	c = newStub(tele.Update{Message: &tele.Message{Text: "/login +15550001"}})
	got = attrMap(updateAttrs(c))
	if got["command"] != "/login" {
		t.Fatalf("command = %q", got["command"])
	}
	if _, ok := got["text_len"]; ok {
		t.Fatal("commands should not report text_len")
	}
}
