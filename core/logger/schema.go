package logger

import (
	"log/slog"
	"strings"
)

// statuses and outcomes are the closed sets dashboards filter on. Unknown
// statuses pass through lowercased; unknown outcomes are dropped.
var (
	statuses = map[string]bool{
		"ok": true, "fail": true, "skip": true, "retry": true,
		"rate_limited": true, "cancelled": true,
	}
	outcomes = map[string]bool{
		"ok": true, "fail": true, "cancelled": true, "rate_limited": true,
	}
)

// normalizeLevel maps slog level names, including offsets like "INFO+2"
// and the "warning" alias, to their canonical upper-case form.
func normalizeLevel(level string) string {
	level = strings.TrimSpace(level)
	if level == "" {
		return slog.LevelInfo.String()
	}
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn.String()
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err == nil {
		return l.String()
	}
	return strings.ToUpper(level)
}

func normalizeStatus(status string) (string, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	return status, statuses[status]
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	return outcome, outcomes[outcome]
}

// defaultKeyOrder puts the fields operators scan first at the front of
// every line; everything else follows alphabetically.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"chat_type",
	"handler",
	"operation",
	"op",
	"cb_key",
	"outcome",
	"duration_ms",
	"run_id",
	"operator_id",
	"account_id",
	"action",
	"flow",
	"step",
	"phone",
	"kind",
	"total",
	"processed",
	"success",
	"failed",
	"sent",
	"cancelled",
	"messages",
	"edits",
	"kb",
	"answered",
	"command",
	"text_len",
	"count",
	"page",
	"payload",
	"username",
	"mode",
	"listen",
	"public_url",
	"http_code",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
	"wait",
	"rate_limited",
	"collapsed",
	"repeats",
}
