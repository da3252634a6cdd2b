package models

import (
	"fmt"
	"time"
)

// RawRecord is one decoded JSON object returned by the asset platform.
type RawRecord map[string]any

// String returns the value stored under key rendered as a string, or "" when absent.
func (r RawRecord) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Map returns the nested object stored under key, or nil.
func (r RawRecord) Map(key string) map[string]any {
	m, _ := r[key].(map[string]any)
	return m
}

// Severity is the coarse classification of an expiration.
type Severity string

const (
	SeverityOverdue  Severity = "overdue"
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Severities lists every level in summary order.
var Severities = []Severity{SeverityOverdue, SeverityCritical, SeverityWarning, SeverityInfo}

// AssetRecord is the expanded detail of one asset.
type AssetRecord struct {
	ID         string
	DisplayID  string
	Name       string
	AssetTag   string
	TypeFields map[string]any
}

// AssetFromRaw converts the `asset` object of a detail response.
func AssetFromRaw(r RawRecord) AssetRecord {
	return AssetRecord{
		ID:         r.String("id"),
		DisplayID:  r.String("display_id"),
		Name:       r.String("name"),
		AssetTag:   r.String("asset_tag"),
		TypeFields: r.Map("type_fields"),
	}
}

// ContractRecord is one contract list item.
type ContractRecord struct {
	ID         string
	RawID      any
	Name       string
	VendorName string
	EndDate    string
}

// ContractFromRaw converts a contract list item.
func ContractFromRaw(r RawRecord) ContractRecord {
	return ContractRecord{
		ID:         r.String("id"),
		RawID:      r["id"],
		Name:       r.String("name"),
		VendorName: r.String("vendor_name"),
		EndDate:    r.String("end_date"),
	}
}

// ContractLink is the contract information attached to an asset.
type ContractLink struct {
	ContractName    string
	ContractEndDate string
}

// ResolvedExpiration is what the field resolver extracts from custom fields.
// Empty strings mean the value was not found.
type ResolvedExpiration struct {
	Serial string
	Expiry string
}

// Style carries optional presentation hints for the downstream renderer.
type Style struct {
	Emoji     string `json:"emoji,omitempty"`
	BgColor   string `json:"bg_color,omitempty"`
	TextColor string `json:"text_color,omitempty"`
}

// AssetAlert is an alert raised for a single asset.
type AssetAlert struct {
	AssetName     string   `json:"asset_name"`
	AssetTag      string   `json:"asset_tag"`
	SerialNumber  string   `json:"serial_number"`
	ContractName  string   `json:"contract_name"`
	ExpiryDate    string   `json:"expiry_date"`
	DaysRemaining int      `json:"days_remaining"`
	AlertLevel    Severity `json:"alert_level"`
	*Style        `json:",omitempty"`
}

// ContractAlert is an alert raised for a contract.
type ContractAlert struct {
	ContractName  string   `json:"contract_name"`
	ContractID    any      `json:"contract_id"`
	Vendor        string   `json:"vendor"`
	EndDate       string   `json:"end_date"`
	DaysRemaining int      `json:"days_remaining"`
	AlertLevel    Severity `json:"alert_level"`
	*Style        `json:",omitempty"`
}

// Summary is the severity histogram of a payload.
type Summary struct {
	TotalCount    int `json:"total_count"`
	OverdueCount  int `json:"overdue_count"`
	CriticalCount int `json:"critical_count"`
	WarningCount  int `json:"warning_count"`
	InfoCount     int `json:"info_count"`
}

// Add counts one alert of the given level.
func (s *Summary) Add(level Severity) {
	s.TotalCount++
	switch level {
	case SeverityOverdue:
		s.OverdueCount++
	case SeverityCritical:
		s.CriticalCount++
	case SeverityWarning:
		s.WarningCount++
	case SeverityInfo:
		s.InfoCount++
	}
}

// ThresholdConfig echoes the active policy in the payload.
type ThresholdConfig struct {
	Policy           string `json:"policy"`
	LookaheadDays    int    `json:"lookahead_days"`
	CriticalDays     int    `json:"critical_threshold"`
	WarningDays      int    `json:"warning_threshold"`
	IncludesOverdue  bool   `json:"includes_overdue"`
	ExcludedTagCount int    `json:"excluded_asset_count"`
}

// AlertPayload is the body posted to the webhook.
type AlertPayload struct {
	AssetAlerts    []AssetAlert     `json:"asset_alerts"`
	ContractAlerts []ContractAlert  `json:"contract_alerts"`
	Summary        Summary          `json:"summary"`
	RecipientEmail string           `json:"recipient_email"`
	GeneratedAt    string           `json:"generated_at"`
	Config         *ThresholdConfig `json:"config,omitempty"`
}

// Empty reports whether the payload carries no alert at all.
func (p AlertPayload) Empty() bool {
	return len(p.AssetAlerts) == 0 && len(p.ContractAlerts) == 0
}

// RunReport describes the outcome of one pipeline run.
type RunReport struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	AssetsFetched  int       `json:"assets_fetched"`
	AssetsAnalyzed int       `json:"assets_analyzed"`
	AssetsExcluded int       `json:"assets_excluded"`
	Contracts      int       `json:"contracts"`
	Summary        Summary   `json:"summary"`
	Delivered      bool      `json:"delivered"`
	Error          string    `json:"error,omitempty"`
}
