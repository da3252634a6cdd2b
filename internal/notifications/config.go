package notifications

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NotificationConfig holds the delivery-related configuration.
type NotificationConfig struct {
	WebhookURL     string
	RecipientEmail string
	WebhookTimeout time.Duration
	ShoutrrrURLs   []string
}

// LoadNotificationConfig loads notification configuration from environment variables.
// Every value is optional: without a webhook URL nothing is delivered.
func LoadNotificationConfig() (*NotificationConfig, error) {
	webhookURL := strings.TrimSpace(os.Getenv("MAKE_WEBHOOK_URL"))
	if webhookURL != "" {
		if _, err := url.ParseRequestURI(webhookURL); err != nil {
			return nil, fmt.Errorf("invalid MAKE_WEBHOOK_URL: %w", err)
		}
	}

	timeout := 60
	if raw := os.Getenv("WEBHOOK_TIMEOUT_SECONDS"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			logrus.Infof("Invalid WEBHOOK_TIMEOUT_SECONDS. Defaulting to %d seconds.", timeout)
		} else {
			timeout = v
		}
	}

	return &NotificationConfig{
		WebhookURL:     webhookURL,
		RecipientEmail: strings.TrimSpace(os.Getenv("EMAIL_TO")),
		WebhookTimeout: time.Duration(timeout) * time.Second,
		ShoutrrrURLs:   parseShoutrrrURLs(os.Getenv("SHOUTRRR_URLS")),
	}, nil
}

// parseShoutrrrURLs parses a comma-separated list of Shoutrrr URLs.
func parseShoutrrrURLs(urls string) []string {
	var result []string
	for _, url := range strings.Split(urls, ",") {
		trimmed := strings.TrimSpace(url)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
