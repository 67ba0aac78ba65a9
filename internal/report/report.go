// Package report renders run progress and results for the chat front-end.
// Output depends only on its arguments.
package report

import (
	"fmt"
	"strings"

	"github.com/m3rciful/fleetbot/internal/classify"
	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/runner"
)

// PreviewLimit is the number of items shown in confirmation previews.
const PreviewLimit = 10

// Progress renders the running counters.
func Progress(kind fleet.ActionKind, c runner.Counters) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ %s: %d/%d\n", kind.Title(), c.Processed, c.Total)
	fmt.Fprintf(&b, "✅ Success: %d\n❌ Failed: %d", c.Success, c.Failed)
	if kind == fleet.ActionSend {
		fmt.Fprintf(&b, "\n📨 Sent: %d", c.Sent)
	}
	return b.String()
}

// Final renders the finished report.
func Final(r runner.Report) string {
	var b strings.Builder
	title := "✅ " + r.Action.Title() + " finished"
	if r.Cancelled {
		title = "⛔ " + r.Action.Title() + " stopped"
	}
	b.WriteString(title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Processed: %d/%d\n", r.Counters.Processed, r.Counters.Total)
	fmt.Fprintf(&b, "Success: %d\nFailed: %d", r.Counters.Success, r.Counters.Failed)
	if r.Action == fleet.ActionSend {
		fmt.Fprintf(&b, "\nMessages sent: %d", r.Counters.Sent)
	}
	if len(r.Outcomes) > 0 {
		b.WriteString("\n")
		for _, o := range r.Outcomes {
			b.WriteString("\n")
			b.WriteString(Line(o))
		}
		if r.Truncated > 0 {
			fmt.Fprintf(&b, "\n… and %d more", r.Truncated)
		}
	}
	return b.String()
}

// Line renders one outcome.
func Line(o runner.Outcome) string {
	icon := "❌"
	switch {
	case o.Kind == classify.Throttled:
		icon = "⏱"
	case o.Kind == classify.AlreadyInDesiredState:
		icon = "☑️"
	case o.Succeeded():
		icon = "✅"
	}
	line := icon + " " + o.Label
	if o.Detail != "" {
		line += ": " + classify.Truncate(o.Detail, classify.DetailLimit)
	}
	return line
}

// Preview renders a bounded numbered list with a "+N more" suffix.
func Preview(items []string) string {
	var b strings.Builder
	n := min(len(items), PreviewLimit)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, items[i])
	}
	if rest := len(items) - n; rest > 0 {
		fmt.Fprintf(&b, "\n+%d more", rest)
	}
	return b.String()
}

// Pairs renders "account → value" preview lines.
func Pairs(accounts []fleet.Account, values []string) []string {
	out := make([]string, 0, len(accounts))
	for i, a := range accounts {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		if v == "" {
			v = "(cleared)"
		}
		out = append(out, a.Label()+" → "+v)
	}
	return out
}

// Labels returns account labels in order.
func Labels(accounts []fleet.Account) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Label()
	}
	return out
}

// Accounts renders an account listing with status icons.
func Accounts(accounts []fleet.Account) string {
	if len(accounts) == 0 {
		return "No accounts yet. Use /login to add one."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Accounts (%d):\n", len(accounts))
	for i, a := range accounts {
		fmt.Fprintf(&b, "\n%d. %s %s", i+1, a.Status.Icon(), a.Label())
	}
	return b.String()
}

// Stats renders account counts by status.
func Stats(counts map[fleet.Status]int) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	return fmt.Sprintf("📊 Accounts: %d\n%s Active: %d\n%s Inactive: %d\n%s Frozen: %d",
		total,
		fleet.StatusActive.Icon(), counts[fleet.StatusActive],
		fleet.StatusInactive.Icon(), counts[fleet.StatusInactive],
		fleet.StatusFrozen.Icon(), counts[fleet.StatusFrozen],
	)
}

// MessageLimit is the longest text one Telegram message can carry.
const MessageLimit = 4096

// Split cuts text into parts of at most limit runes, breaking at line ends
// where it can.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	var (
		parts []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.TrimRight(string(cur), "\n"))
			cur = cur[:0]
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		if len(cur)+len(r) > limit {
			flush()
		}
		for len(r) > limit {
			parts = append(parts, string(r[:limit]))
			r = r[limit:]
		}
		cur = append(cur, r...)
	}
	flush()
	return parts
}
