package telegram

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/v2raybot/core/config"
)

const defaultLongPollTimeout = 10 * time.Second

// allowedUpdates lists the update kinds the router handles; anything else
// is filtered out by Telegram before it reaches the bot.
var allowedUpdates = []string{"message", "callback_query"}

// BuildPoller returns the update source selected by cfg.Telegram.RunMode
// along with the attributes logged when the bot starts.
func BuildPoller(cfg *coreconfig.Config) (tele.Poller, []slog.Attr) {
	if strings.EqualFold(strings.TrimSpace(cfg.Telegram.RunMode), coreconfig.RunModeWebhook) {
		wh := &tele.Webhook{
			Listen:         fmt.Sprintf("%s:%d", cfg.Webhook.Listen, cfg.Webhook.Port),
			AllowedUpdates: allowedUpdates,
			Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
		}
		return wh, []slog.Attr{
			slog.String("mode", "webhook"),
			slog.String("listen", wh.Listen),
			slog.String("public_url", wh.Endpoint.PublicURL),
		}
	}

	timeout := defaultLongPollTimeout
	if s := cfg.Telegram.LongPollTimeoutSeconds; s > 0 {
		timeout = time.Duration(s) * time.Second
	}
	lp := &tele.LongPoller{Timeout: timeout, AllowedUpdates: allowedUpdates}
	return lp, []slog.Attr{
		slog.String("mode", "polling"),
		slog.Int("timeout_seconds", int(timeout/time.Second)),
	}
}
