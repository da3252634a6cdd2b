package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/y0ug/expirymon/internal/metrics"
	"github.com/y0ug/expirymon/internal/models"
)

// Dispatcher posts the alert payload to the automation webhook.
type Dispatcher struct {
	URL    string
	Client *http.Client
	logger *logrus.Logger
}

// NewDispatcher initializes a Dispatcher. An empty url disables delivery.
func NewDispatcher(url string, timeout time.Duration, logger *logrus.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Configured reports whether a webhook URL is set.
func (d *Dispatcher) Configured() bool {
	return d != nil && d.URL != ""
}

// Deliver performs a single POST of payload. It returns false when no webhook is
// configured, on transport errors and on any non-2xx answer. There is no retry.
func (d *Dispatcher) Deliver(ctx context.Context, payload models.AlertPayload) bool {
	if d == nil {
		return false
	}
	if d.URL == "" {
		d.logger.Info("No webhook configured, payload not delivered")
		return false
	}

	s := payload.Summary
	d.logger.WithFields(logrus.Fields{
		"total":    s.TotalCount,
		"overdue":  s.OverdueCount,
		"critical": s.CriticalCount,
		"warning":  s.WarningCount,
		"info":     s.InfoCount,
	}).Info("Sending alerts to webhook")

	if err := d.post(ctx, payload); err != nil {
		metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
		d.logger.WithError(err).Error("Webhook delivery failed")
		return false
	}
	metrics.DeliveriesTotal.WithLabelValues("success").Inc()
	d.logger.Info("Webhook delivery succeeded")
	return true
}

func (d *Dispatcher) post(ctx context.Context, payload models.AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}
