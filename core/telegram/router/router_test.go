package router

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tg "github.com/m3rciful/fleetbot/core/telegram"
	"github.com/m3rciful/fleetbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

type stubContext struct {
	tele.Context
	upd      tele.Update
	vals     map[string]interface{}
	responds int
}

func newCallbackContext(data string) *stubContext {
	return &stubContext{
		upd: tele.Update{ID: 5, Callback: &tele.Callback{
			Data:   data,
			Sender: &tele.User{ID: 7},
		}},
		vals: map[string]interface{}{},
	}
}

func (s *stubContext) Update() tele.Update           { return s.upd }
func (s *stubContext) Callback() *tele.Callback      { return s.upd.Callback }
func (s *stubContext) Sender() *tele.User            { return s.upd.Callback.Sender }
func (s *stubContext) Chat() *tele.Chat              { return nil }
func (s *stubContext) Get(key string) interface{}    { return s.vals[key] }
func (s *stubContext) Set(key string, v interface{}) { s.vals[key] = v }
func (s *stubContext) Respond(...*tele.CallbackResponse) error {
	s.responds++
	return nil
}

func TestCallbackRouteAnswersOnce(t *testing.T) {
	reg := tg.NewRegistry()
	_ = reg.RegisterCallback("quiet", func(tele.Context) error { return nil })
	_ = reg.RegisterCallback("alert", func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: "done", ShowAlert: true})
	})
	route := CallbackRoute(reg, CallbackOptions{})
	h := middleware.MessageMetricsMiddleware(route.Handler)

	for _, key := range []string{"quiet", "alert", "missing"} {
		c := newCallbackContext("\f" + key + "|x")
		if err := h(c); err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if c.responds != 1 {
			t.Fatalf("%s: answered %d times", key, c.responds)
		}
	}
}

func TestCallbackRouteReturnsHandlerError(t *testing.T) {
	reg := tg.NewRegistry()
	boom := errors.New("boom")
	_ = reg.RegisterCallback("fail", func(tele.Context) error { return boom })
	h := CallbackRoute(reg, CallbackOptions{}).Handler
	c := newCallbackContext("\ffail|")
	if err := h(c); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if c.responds == 0 {
		t.Fatal("failed handler left the query unanswered")
	}
}

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Code() string  { return "bad input" }

type plainErr struct{}

func (*plainErr) Error() string { return "plain" }

func TestDeriveErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{tele.FloodError{RetryAfter: 3}, "FLOOD_WAIT"},
		{fmt.Errorf("send: %w", &tele.Error{Code: 403, Description: "blocked"}), "TG_403"},
		{context.Canceled, "CANCELLED"},
		{fmt.Errorf("wait: %w", context.DeadlineExceeded), "TIMEOUT"},
		{codedErr{}, "BAD_INPUT"},
		{&plainErr{}, "PLAINERR"},
	}
	for _, tc := range cases {
		if got := deriveErrorCode(tc.err); got != tc.want {
			t.Fatalf("deriveErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestNormalizeHandlerName(t *testing.T) {
	if got := normalizeHandlerName(" /Login Start"); got != "login_start" {
		t.Fatalf("got %q", got)
	}
	if got := normalizeHandlerName(""); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}
