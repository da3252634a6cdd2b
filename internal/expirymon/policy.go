package expirymon

import (
	"fmt"
	"strings"
	"time"

	"github.com/y0ug/expirymon/internal/models"
)

const (
	PolicyCanonical = "canonical"
	PolicyLegacy    = "legacy"
)

// Policy decides which expirations are reported and how severe they are.
//
// Severity bands: days <= CriticalDays is critical, days <= CriticalDays+WarningMarginDays
// is warning, anything later is info. When IncludeOverdue is set, negative day counts are
// reported as overdue; otherwise they fall outside the window.
type Policy struct {
	Name              string `json:"name" validate:"required,oneof=canonical legacy"`
	LookaheadDays     int    `json:"lookahead_days" validate:"min=0"`
	CriticalDays      int    `json:"critical_days" validate:"min=0"`
	WarningMarginDays int    `json:"warning_margin_days" validate:"min=0"`
	IncludeOverdue    bool   `json:"include_overdue"`
}

// CanonicalPolicy reports expirations within [today, today+120] and drops overdue items.
func CanonicalPolicy() Policy {
	return Policy{
		Name:              PolicyCanonical,
		LookaheadDays:     120,
		CriticalDays:      90,
		WarningMarginDays: 30,
	}
}

// LegacyPolicy is the 365-day sweep that also reports every already-expired item.
func LegacyPolicy() Policy {
	return Policy{
		Name:              PolicyLegacy,
		LookaheadDays:     365,
		CriticalDays:      90,
		WarningMarginDays: 30,
		IncludeOverdue:    true,
	}
}

// PolicyByName returns the preset with the given name.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyCanonical:
		return CanonicalPolicy(), nil
	case PolicyLegacy:
		return LegacyPolicy(), nil
	default:
		return Policy{}, fmt.Errorf("unknown alert policy: %q", name)
	}
}

// WarningDays is the last day count still classified as warning.
func (p Policy) WarningDays() int {
	return p.CriticalDays + p.WarningMarginDays
}

// Classify maps a day count to a severity.
func (p Policy) Classify(days int) models.Severity {
	switch {
	case days < 0 && p.IncludeOverdue:
		return models.SeverityOverdue
	case days <= p.CriticalDays:
		return models.SeverityCritical
	case days <= p.WarningDays():
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// Includes reports whether an expiration days away is inside the alert window.
func (p Policy) Includes(days int) bool {
	if days > p.LookaheadDays {
		return false
	}
	return days >= 0 || p.IncludeOverdue
}

// Thresholds echoes the policy in the payload.
func (p Policy) Thresholds(excluded int) *models.ThresholdConfig {
	return &models.ThresholdConfig{
		Policy:           p.Name,
		LookaheadDays:    p.LookaheadDays,
		CriticalDays:     p.CriticalDays,
		WarningDays:      p.WarningDays(),
		IncludesOverdue:  p.IncludeOverdue,
		ExcludedTagCount: excluded,
	}
}

// Today returns the local calendar date of now as a UTC midnight.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads the first ten characters of s as a year-month-day date. Month and
// day may omit the leading zero ("2025-1-5").
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("2006-1-2", s[:min(len(s), 10)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DaysUntil counts whole days from today to date; negative when date is past.
func DaysUntil(today, date time.Time) int {
	return int(date.Sub(today).Hours() / 24)
}
