package telegram

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/fleetbot/core/config"

	tele "gopkg.in/telebot.v4"
)

// WebhookOptions declares webhook listener settings.
type WebhookOptions struct {
	Listen string
	Port   int
	URL    string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	// DropPending asks Telegram to discard queued updates when the webhook
	// is installed.
	DropPending bool
	Webhook     WebhookOptions
}

// BuildPoller returns a Telebot poller based on provided options.
func BuildPoller(opts PollerOptions) tele.Poller {
	runMode := strings.ToLower(strings.TrimSpace(opts.RunMode))
	if runMode == coreconfig.RunModeWebhook {
		return &tele.Webhook{
			Listen:      fmt.Sprintf("%s:%d", opts.Webhook.Listen, opts.Webhook.Port),
			Endpoint:    &tele.WebhookEndpoint{PublicURL: opts.Webhook.URL},
			DropUpdates: opts.DropPending,
		}
	}

	return &tele.LongPoller{Timeout: pollTimeout(opts.LongPollTimeoutSeconds)}
}

// pollTimeout converts the configured getUpdates timeout, defaulting to 10s.
func pollTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}
