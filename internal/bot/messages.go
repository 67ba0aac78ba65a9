package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/flow"
)

const helpText = `🤖 Fleet control

Accounts
/login add an account
/accounts list your accounts
/stats counts by status
/check check account health
/remove remove accounts, /remove inactive drops revoked ones

Bulk actions
/name /username /bio /photo
/twofa /privacy
/join /leave /send

Add "one", "several" or "all" after a command to skip the account scope question, e.g. /bio all.

/cancel drops the current dialog, /stop stops a running action.`

const (
	textDenied    = "⛔ This bot is private."
	textCancelled = "❌ Cancelled."
	textNoFlow    = "Nothing to cancel."
	textNoRun     = "No action is running."
	textStopping  = "⛔ Stopping after the current account…"
	textIdle      = "Use a command to start. /start shows the list."
	textFailed    = "⚠️ Something went wrong. Try again later."
	textLimited   = "⏱ Slow down a little."
	textInactive  = "⚠️ This button is no longer active."

	textNoInactive = "✅ No inactive accounts."
)

// expiredText is sent when an idle flow is dropped.
func expiredText(title string) string {
	if title == "" {
		return "⌛ The dialog expired. Start again with a command."
	}
	return fmt.Sprintf("⌛ %s expired. Start again with a command.", title)
}

// userMessage maps err to operator text. An empty string with ok true means
// the operator was already told.
func userMessage(err error) (string, bool) {
	if ve, ok := fleet.IsValidation(err); ok {
		return "⚠️ " + ve.Message, true
	}
	switch {
	case errors.Is(err, fleet.ErrSessionExpired):
		return "", true
	case errors.Is(err, fleet.ErrSelectionEmpty):
		return "⚠️ Select at least one account.", true
	case errors.Is(err, fleet.ErrNoAccounts):
		return "No accounts yet. Use /login to add one.", true
	case errors.Is(err, fleet.ErrAccountLimit):
		return "⚠️ You reached the account limit.", true
	case errors.Is(err, fleet.ErrRunInProgress):
		return "⏳ Another action is still running. Wait for it or /stop it.", true
	case errors.Is(err, flow.ErrUnknownFlow):
		return "⚠️ This action is not available.", true
	}
	return "", false
}

// inactiveText lists inactive accounts above the remove button.
func inactiveText(accs []fleet.Account) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %d inactive account(s):", len(accs))
	for _, a := range accs {
		b.WriteString("\n• ")
		b.WriteString(a.Label())
	}
	return b.String()
}

// removedText summarizes a remove flow.
func removedText(removed []string, failed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🗑 Removed %d account(s).", len(removed))
	for _, label := range removed {
		b.WriteString("\n• ")
		b.WriteString(label)
	}
	if failed > 0 {
		fmt.Fprintf(&b, "\n⚠️ %d could not be removed.", failed)
	}
	return b.String()
}
