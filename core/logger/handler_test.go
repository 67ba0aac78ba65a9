package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// logLine runs one event through a fresh handler and returns the output line.
func logLine(t *testing.T, format logFormat, ctx context.Context, level slog.Level, component, event string, attrs ...slog.Attr) string {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter(1024, output{w: buf})
	h := newStructuredHandler(handlerConfig{level: slog.LevelDebug, writer: aw, format: format})
	LogEvent(ctx, slog.New(h).With("component", component), level, event, attrs...)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return strings.TrimSpace(buf.String())
}

// inOrder fails unless every part occurs in line, in the given order.
func inOrder(t *testing.T, line string, parts ...string) {
	t.Helper()
	pos := -1
	for _, p := range parts {
		idx := strings.Index(line, p)
		if idx < 0 || idx < pos {
			t.Fatalf("%q missing or out of order in %s", p, line)
		}
		pos = idx
	}
}

func TestHandlerKeyOrder(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(context.Background(), "op-7"), 42, 7, 9)

	kv := logLine(t, formatKV, ctx, slog.LevelInfo, "fleet.flow", "flow.step",
		slog.String("step", "get_name"),
		slog.String("status", "ok"),
	)
	if !strings.HasPrefix(kv, "ts=") {
		t.Fatalf("kv line should start with ts: %s", kv)
	}
	inOrder(t, kv, "level=INFO", "component=fleet.flow", "event=flow.step", "status=ok", "rid=op-7", "user_id=7", "step=get_name")

	js := logLine(t, formatJSON, ctx, slog.LevelError, "fleet.store", "account.update",
		slog.String("status", "fail"),
		slog.String("err_code", "DB"),
	)
	inOrder(t, js, `{"ts":`, `"level":"ERROR"`, `"component":"fleet.store"`, `"event":"account.update"`, `"status":"fail"`, `"rid":"op-7"`)
}

func TestHandlerCompactsRID(t *testing.T) {
	ctx := WithRID(context.Background(), "123:456:789")
	short := CompactRID("123:456:789")

	kv := logLine(t, formatKV, ctx, slog.LevelInfo, "tg", "update")
	if !strings.Contains(kv, "rid="+short) || strings.Contains(kv, "rid_full=") {
		t.Fatalf("kv rid: %s", kv)
	}
	js := logLine(t, formatJSON, ctx, slog.LevelInfo, "tg", "update")
	for _, want := range []string{`"rid":"` + short + `"`, `"rid_full":"123:456:789"`, `"ts_unix_nano"`} {
		if !strings.Contains(js, want) {
			t.Fatalf("json line lacks %s: %s", want, js)
		}
	}
}

func TestHandlerDurationsAndGroups(t *testing.T) {
	line := logLine(t, formatKV, context.Background(), slog.LevelDebug, "fleet.runner", "run.delay",
		slog.Duration("wait", 1500*time.Millisecond),
		slog.Group("plan", slog.Int("accounts", 3)),
		slog.String("note", "two words"),
	)
	for _, want := range []string{"level=DEBUG", "wait_ms=1500", "plan.accounts=3", `note="two words"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line lacks %s: %s", want, line)
		}
	}
}

func TestStructuredHandlerRedactsSecrets(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter(1024, output{w: buf})
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatKV,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	log := slog.New(handler).With("component", "fleet.login")
	LogEvent(context.Background(), log, slog.LevelInfo, "login.step",
		slog.String("phone", "+15550001234"),
		slog.String("session", "c2VjcmV0"),
		slog.String("api_hash", "deadbeef"),
		slog.String("password", "hunter2"),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	for _, leak := range []string{"+15550001234", "c2VjcmV0", "deadbeef", "hunter2"} {
		if strings.Contains(line, leak) {
			t.Fatalf("secret %q leaked: %s", leak, line)
		}
	}
	if !strings.Contains(line, "phone="+MaskPhone("+15550001234")) {
		t.Fatalf("expected masked phone, got %s", line)
	}
}

func TestStructuredHandlerRunContext(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter(1024, output{w: buf})
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatKV,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	log := slog.New(handler).With("component", "fleet.runner")
	ctx := WithAccount(WithRun(context.Background(), "run-9"), 17)
	LogEvent(ctx, log, slog.LevelInfo, "run.account",
		slog.String("kind", "Success"),
	)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	runIdx := strings.Index(line, "run_id=run-9")
	accIdx := strings.Index(line, "account_id=17")
	if runIdx < 0 || accIdx < 0 {
		t.Fatalf("expected run and account ids, got %s", line)
	}
	if runIdx > accIdx {
		t.Fatalf("run_id should precede account_id: %s", line)
	}
	if !strings.Contains(line, "kind=success") {
		t.Fatalf("expected normalized kind, got %s", line)
	}
}

func TestAsyncWriterLevelSinks(t *testing.T) {
	all, errs := &bytes.Buffer{}, &bytes.Buffer{}
	aw := newAsyncWriter(1024, output{w: all, min: slog.LevelDebug}, output{w: errs, min: slog.LevelWarn})
	_ = aw.Write(slog.LevelInfo, []byte("info\n"))
	_ = aw.Write(slog.LevelError, []byte("boom\n"))
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if all.String() != "info\nboom\n" {
		t.Fatalf("all sink = %q", all.String())
	}
	if errs.String() != "boom\n" {
		t.Fatalf("errors sink = %q", errs.String())
	}
	if err := aw.Write(slog.LevelInfo, []byte("late\n")); err != errWriterClosed {
		t.Fatalf("write after close = %v", err)
	}
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush after close = %v", err)
	}
}
