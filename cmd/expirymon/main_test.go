package main

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/y0ug/expirymon/internal/expirymon"
	"github.com/y0ug/expirymon/internal/expirymon/apis"
	"github.com/y0ug/expirymon/internal/models"
)

type stubRunner struct {
	report models.RunReport
	err    error
}

func (s stubRunner) Run(context.Context) (models.RunReport, error) {
	return s.report, s.err
}

func TestRunOnceExitCodes(t *testing.T) {
	alerts := models.RunReport{Summary: models.Summary{TotalCount: 3, CriticalCount: 3}}

	tests := []struct {
		name       string
		runner     stubRunner
		configured bool
		want       int
	}{
		{"no alerts", stubRunner{}, true, exitOK},
		{"delivered", stubRunner{report: models.RunReport{Delivered: true, Summary: alerts.Summary}}, true, exitOK},
		{"delivery failed", stubRunner{report: alerts, err: expirymon.ErrNotDelivered}, true, exitNotDelivered},
		{"no webhook", stubRunner{report: alerts, err: expirymon.ErrNotDelivered}, false, exitNotDelivered},
		{"rate limit exhausted", stubRunner{err: fmt.Errorf("fetch assets: %w", apis.ErrRateLimitExhausted)}, true, exitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := logrus.New()
			log.SetOutput(io.Discard)
			if got := runOnce(context.Background(), tt.runner, tt.configured, log); got != tt.want {
				t.Errorf("runOnce() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunOnceWithoutWebhookWarns(t *testing.T) {
	log, hook := test.NewNullLogger()
	runner := stubRunner{
		report: models.RunReport{Summary: models.Summary{TotalCount: 1, WarningCount: 1}},
		err:    expirymon.ErrNotDelivered,
	}

	runOnce(context.Background(), runner, false, log)
	last := hook.LastEntry()
	if assert.NotNil(t, last) {
		assert.Equal(t, logrus.WarnLevel, last.Level)
	}

	hook.Reset()
	runOnce(context.Background(), runner, true, log)
	last = hook.LastEntry()
	if assert.NotNil(t, last) {
		assert.Equal(t, logrus.ErrorLevel, last.Level)
	}
}
