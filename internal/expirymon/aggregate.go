package expirymon

import (
	"strings"
	"time"

	"github.com/y0ug/expirymon/internal/metrics"
	"github.com/y0ug/expirymon/internal/models"
)

// AssetFinding is an asset whose resolved expiration is inside the window.
type AssetFinding struct {
	Name         string
	Tag          string
	Serial       string
	ContractName string
	Expiry       time.Time
	Days         int
}

// ContractFinding is a contract whose end date is inside the window.
type ContractFinding struct {
	Name   string
	ID     any
	Vendor string
	End    time.Time
	Days   int
}

// Aggregator turns findings into the webhook payload.
type Aggregator struct {
	Policy       Policy
	DateLayout   string
	IncludeStyle bool
	Recipient    string
	Excluded     int
	Now          func() time.Time
}

// Clean trims a free-text value and flattens line breaks; empty values become "N/A".
func Clean(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "N/A"
	}
	v = strings.ReplaceAll(v, "\r\n", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(v, "\r", "")
}

var styles = map[models.Severity]models.Style{
	models.SeverityOverdue:  {Emoji: dot("#721c24"), BgColor: "#f8d7da", TextColor: "#721c24"},
	models.SeverityCritical: {Emoji: dot("#d32f2f"), BgColor: "#ffebee", TextColor: "#d32f2f"},
	models.SeverityWarning:  {Emoji: dot("#856404"), BgColor: "#fff3cd", TextColor: "#856404"},
	models.SeverityInfo:     {Emoji: dot("#0056b3"), BgColor: "#ffffff", TextColor: "#333333"},
}

// dot is a colored HTML bullet that mail clients render without loading images.
func dot(color string) string {
	return "<span style='color: " + color + "; font-size: 16px;'>&#9679;</span>"
}

func (a *Aggregator) style(level models.Severity) *models.Style {
	if !a.IncludeStyle {
		return nil
	}
	s := styles[level]
	return &s
}

// BuildPayload classifies and cleans findings. Contract alerts are counted before
// asset alerts; each list keeps processing order.
func (a *Aggregator) BuildPayload(contracts []ContractFinding, assets []AssetFinding) models.AlertPayload {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	payload := models.AlertPayload{
		AssetAlerts:    make([]models.AssetAlert, 0, len(assets)),
		ContractAlerts: make([]models.ContractAlert, 0, len(contracts)),
		RecipientEmail: a.Recipient,
		GeneratedAt:    now().Format(time.RFC3339),
		Config:         a.Policy.Thresholds(a.Excluded),
	}

	for _, c := range contracts {
		level := a.Policy.Classify(c.Days)
		payload.ContractAlerts = append(payload.ContractAlerts, models.ContractAlert{
			ContractName:  Clean(c.Name),
			ContractID:    c.ID,
			Vendor:        Clean(c.Vendor),
			EndDate:       c.End.Format(a.DateLayout),
			DaysRemaining: c.Days,
			AlertLevel:    level,
			Style:         a.style(level),
		})
		payload.Summary.Add(level)
		metrics.AlertsTotal.WithLabelValues("contract", string(level)).Inc()
	}

	for _, f := range assets {
		level := a.Policy.Classify(f.Days)
		payload.AssetAlerts = append(payload.AssetAlerts, models.AssetAlert{
			AssetName:     Clean(f.Name),
			AssetTag:      Clean(f.Tag),
			SerialNumber:  Clean(f.Serial),
			ContractName:  Clean(f.ContractName),
			ExpiryDate:    f.Expiry.Format(a.DateLayout),
			DaysRemaining: f.Days,
			AlertLevel:    level,
			Style:         a.style(level),
		})
		payload.Summary.Add(level)
		metrics.AlertsTotal.WithLabelValues("asset", string(level)).Inc()
	}

	return payload
}
