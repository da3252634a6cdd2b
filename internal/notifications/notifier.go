package notifications

import (
	"fmt"

	"github.com/containrrr/shoutrrr/pkg/router"
	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/sirupsen/logrus"

	"github.com/y0ug/expirymon/internal/models"
)

// Notifier sends short run summaries via Shoutrrr (Slack, Teams, SMTP, ...).
type Notifier struct {
	sr     *router.ServiceRouter
	logger *logrus.Logger
}

// NewNotifier initializes a new Notifier with the provided Shoutrrr URLs.
// It returns nil when no URL is configured.
func NewNotifier(urls []string, logger *logrus.Logger) (*Notifier, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	sr, err := router.New(nil, urls...)
	if err != nil {
		return nil, err
	}
	return &Notifier{sr: sr, logger: logger}, nil
}

// Send sends a notification message to all configured services.
func (n *Notifier) Send(title, message string) {
	if n == nil {
		return
	}
	params := types.Params{
		"title": title,
	}
	failed := false
	for _, err := range n.sr.Send(message, &params) {
		if err != nil {
			failed = true
			n.logger.WithError(err).Error("Failed to send notification")
		}
	}
	if !failed {
		n.logger.Info("Notification sent successfully")
	}
}

// SummaryMessage renders a one-paragraph description of a run.
func SummaryMessage(report models.RunReport) string {
	s := report.Summary
	status := "delivered to the webhook"
	switch {
	case s.TotalCount == 0:
		status = "nothing to deliver"
	case !report.Delivered:
		status = "webhook delivery FAILED"
	}
	return fmt.Sprintf(
		"Expiration sweep: %d alerts (overdue %d, critical %d, warning %d, info %d); %d assets analysed, %d excluded, %d contracts; %s.",
		s.TotalCount, s.OverdueCount, s.CriticalCount, s.WarningCount, s.InfoCount,
		report.AssetsAnalyzed, report.AssetsExcluded, report.Contracts, status,
	)
}
