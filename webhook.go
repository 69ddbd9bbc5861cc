package pricer

import (
	"net/url"

	"github.com/maxbolgarin/errm"
	tele "gopkg.in/telebot.v4"
)

const webhookMaxConnections = 40

// newPoller picks the update transport: a webhook server when a public URL
// is configured, long polling otherwise.
func newPoller(cfg Config) (tele.Poller, error) {
	if cfg.WebhookURL == "" {
		return &tele.LongPoller{Timeout: cfg.LPTimeout}, nil
	}

	u, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return nil, errm.Wrap(err, "parse webhook url")
	}
	if u.Scheme != "https" || u.Host == "" {
		return nil, errm.Wrap(ErrInvalidInput, "webhook url must be a public https address", "url", cfg.WebhookURL)
	}

	return &tele.Webhook{
		Listen:         cfg.WebhookListen,
		MaxConnections: webhookMaxConnections,
		Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.WebhookURL},
	}, nil
}
