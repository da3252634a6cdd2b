package expirymon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config holds the expiration-sweep configuration.
type Config struct {
	APIKey              string        `validate:"required"`
	BaseURL             string        `validate:"required,url"`
	Policy              Policy
	MaxAssets           int           `validate:"min=0"`
	Excluded            ExclusionSet  `validate:"-"`
	FieldRules          []FieldRule   `validate:"required,min=1,dive"`
	RateLimits          []RateLimitConfig
	RequestTimeout      time.Duration `validate:"gt=0"`
	PageDelay           time.Duration `validate:"min=0"`
	AssetDelay          time.Duration `validate:"min=0"`
	MaxRateLimitRetries int           `validate:"min=1"`
	DetailConcurrency   int64         `validate:"min=1,max=32"`
	DateLayout          string        `validate:"required"`
	IncludeStyle        bool
	PollInterval        time.Duration `validate:"gt=0"`
	Progress            bool
}

// RateLimitConfig defines rate limiting settings per API.
type RateLimitConfig struct {
	APIName string
	Rate    rate.Limit // Requests per second
	Burst   int        // Maximum burst size
}

// LoadConfig loads the sweep configuration from environment variables.
func LoadConfig() (*Config, error) {
	apiKey := os.Getenv("FRESHSERVICE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("FRESHSERVICE_API_KEY environment variable is required")
	}

	baseURL := os.Getenv("FRESHSERVICE_BASE_URL")
	if baseURL == "" {
		domain := os.Getenv("FRESHSERVICE_DOMAIN")
		if domain == "" {
			return nil, fmt.Errorf("FRESHSERVICE_DOMAIN or FRESHSERVICE_BASE_URL environment variable is required")
		}
		baseURL = fmt.Sprintf("https://%s/api/v2", domain)
	}

	policy, err := PolicyByName(os.Getenv("ALERT_POLICY"))
	if err != nil {
		return nil, err
	}
	policy.LookaheadDays = intEnv("DAYS_TO_WARN", policy.LookaheadDays)
	policy.CriticalDays = intEnv("CRITICAL_DAYS", policy.CriticalDays)
	policy.WarningMarginDays = intEnv("WARNING_MARGIN_DAYS", policy.WarningMarginDays)

	excluded := ParseExclusionList(os.Getenv("EXCLUDED_ASSETS"))
	if path := os.Getenv("EXCLUDED_ASSETS_FILE"); path != "" {
		fromFile, err := ReadExclusionFile(path)
		if err != nil {
			return nil, err
		}
		for tag := range fromFile {
			excluded.Add(tag)
		}
	}

	rules := DefaultFieldRules()
	if path := os.Getenv("FIELD_RULES_FILE"); path != "" {
		rules, err = LoadFieldRules(path)
		if err != nil {
			return nil, err
		}
	}

	rateLimits, err := parseRateLimits(os.Getenv("RATE_LIMITS"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RATE_LIMITS: %v", err)
	}

	dateLayout := os.Getenv("DATE_LAYOUT")
	if dateLayout == "" {
		dateLayout = "02/01/2006"
	}

	cfg := &Config{
		APIKey:              apiKey,
		BaseURL:             baseURL,
		Policy:              policy,
		MaxAssets:           intEnv("MAX_ASSETS", 0),
		Excluded:            excluded,
		FieldRules:          rules,
		RateLimits:          rateLimits,
		RequestTimeout:      time.Duration(intEnv("REQUEST_TIMEOUT_SECONDS", 20)) * time.Second,
		PageDelay:           time.Duration(intEnv("PAGE_DELAY_MS", 100)) * time.Millisecond,
		AssetDelay:          time.Duration(intEnv("ASSET_DELAY_MS", 50)) * time.Millisecond,
		MaxRateLimitRetries: intEnv("MAX_RATE_LIMIT_RETRIES", 1000),
		DetailConcurrency:   int64(intEnv("DETAIL_CONCURRENCY", 1)),
		DateLayout:          dateLayout,
		IncludeStyle:        boolEnv("INCLUDE_STYLE", false),
		PollInterval:        time.Duration(intEnv("POLL_INTERVAL_HOURS", 24)) * time.Hour,
		Progress:            boolEnv("PROGRESS", true),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// intEnv reads a non-negative integer, falling back to def when missing or invalid.
func intEnv(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		logrus.Infof("Invalid %s value %q. Defaulting to %d.", name, raw, def)
		return def
	}
	return v
}

func boolEnv(name string, def bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		logrus.Infof("Invalid %s value %q. Defaulting to %t.", name, raw, def)
		return def
	}
	return v
}

// parseRateLimits parses rate limits from a comma-separated list of API:rate:burst.
func parseRateLimits(input string) ([]RateLimitConfig, error) {
	var rateLimits []RateLimitConfig
	if input == "" {
		return rateLimits, nil // No rate limits defined
	}
	entries := strings.Split(input, ",")
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid rate limit entry: %s", entry)
		}
		apiName := strings.TrimSpace(parts[0])
		rateValue, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate value in entry '%s': %v", entry, err)
		}
		burstValue, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid burst value in entry '%s': %v", entry, err)
		}
		rateLimits = append(rateLimits, RateLimitConfig{
			APIName: apiName,
			Rate:    rate.Limit(rateValue),
			Burst:   burstValue,
		})
	}
	return rateLimits, nil
}
