package apis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/y0ug/expirymon/internal/metrics"
	"github.com/y0ug/expirymon/internal/models"
)

// PageSize is the number of records requested per page.
const PageSize = 100

const (
	defaultRetryAfter          = 60 * time.Second
	defaultPageDelay           = 100 * time.Millisecond
	defaultMaxRateLimitRetries = 1000
)

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// FreshserviceClient implements the APIClient interface for the Freshservice v2 API.
type FreshserviceClient struct {
	BaseURL     string
	APIKey      string
	Client      *http.Client
	RateLimiter *RateLimiter
	Logger      *logrus.Logger

	PageDelay           time.Duration
	MaxRateLimitRetries int
	Sleep               SleepFunc
}

// Option customises a FreshserviceClient.
type Option func(*FreshserviceClient)

func WithHTTPClient(client *http.Client) Option {
	return func(c *FreshserviceClient) { c.Client = client }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *FreshserviceClient) { c.Logger = logger }
}

func WithPageDelay(d time.Duration) Option {
	return func(c *FreshserviceClient) { c.PageDelay = d }
}

func WithSleep(sleep SleepFunc) Option {
	return func(c *FreshserviceClient) { c.Sleep = sleep }
}

// WithMaxRateLimitRetries caps consecutive 429 answers for one request. Zero or a
// negative value keeps the default.
func WithMaxRateLimitRetries(n int) Option {
	return func(c *FreshserviceClient) {
		if n > 0 {
			c.MaxRateLimitRetries = n
		}
	}
}

// NewFreshserviceClient initializes a new FreshserviceClient. baseURL is the API root,
// e.g. https://acme.freshservice.com/api/v2.
func NewFreshserviceClient(baseURL, apiKey string, opts ...Option) *FreshserviceClient {
	c := &FreshserviceClient{
		BaseURL:             strings.TrimRight(baseURL, "/"),
		APIKey:              apiKey,
		Client:              &http.Client{Timeout: 20 * time.Second},
		Logger:              logrus.StandardLogger(),
		PageDelay:           defaultPageDelay,
		MaxRateLimitRetries: defaultMaxRateLimitRetries,
		Sleep:               SleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetRateLimiter sets the rate limiter for the FreshserviceClient.
func (c *FreshserviceClient) SetRateLimiter(limiter *RateLimiter) {
	c.RateLimiter = limiter
}

// ProviderName returns the name of the API provider.
func (c *FreshserviceClient) ProviderName() string {
	return "freshservice"
}

// FetchAll walks the pages of a list endpoint until a short or empty page.
func (c *FreshserviceClient) FetchAll(ctx context.Context, path string, params url.Values) ([]models.RawRecord, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = append([]string(nil), v...)
	}
	query.Set("per_page", strconv.Itoa(PageSize))

	var results []models.RawRecord
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		batch, err := c.fetchPage(ctx, path, query)
		if err != nil {
			if isFatal(ctx, err) {
				return results, err
			}
			c.Logger.WithError(err).WithFields(logrus.Fields{
				"endpoint": path,
				"page":     page,
			}).Error("Error fetching page, keeping partial results")
			break
		}
		if len(batch) == 0 {
			break
		}
		results = append(results, batch...)
		if len(batch) < PageSize {
			break
		}
		if err := c.Sleep(ctx, c.PageDelay); err != nil {
			return results, err
		}
	}
	return results, nil
}

// ListAssets returns every asset of the account.
func (c *FreshserviceClient) ListAssets(ctx context.Context) ([]models.RawRecord, error) {
	return c.FetchAll(ctx, PathAssets, nil)
}

// ListContracts returns every contract of the account.
func (c *FreshserviceClient) ListContracts(ctx context.Context) ([]models.RawRecord, error) {
	return c.FetchAll(ctx, PathContracts, nil)
}

// ListAssociatedAssets returns the assets linked to a contract.
func (c *FreshserviceClient) ListAssociatedAssets(ctx context.Context, contractID string) ([]models.RawRecord, error) {
	return c.FetchAll(ctx, AssociatedAssetsPath(contractID), nil)
}

// GetAsset fetches /assets/{display_id}?include=type_fields.
func (c *FreshserviceClient) GetAsset(ctx context.Context, displayID string) (models.RawRecord, error) {
	u := fmt.Sprintf("%s/assets/%s?include=type_fields", c.BaseURL, url.PathEscape(displayID))
	resp, err := c.do(ctx, "asset-detail", u)
	if err != nil {
		if isFatal(ctx, err) {
			return models.RawRecord{}, err
		}
		c.Logger.WithError(err).WithField("display_id", displayID).Debug("Asset detail lookup failed")
		return models.RawRecord{}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.Logger.WithFields(logrus.Fields{
			"display_id": displayID,
			"status":     resp.StatusCode,
		}).Debug("Asset detail lookup returned non-200")
		return models.RawRecord{}, nil
	}

	var body struct {
		Asset models.RawRecord `json:"asset"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body.Asset == nil {
		return models.RawRecord{}, nil
	}
	return body.Asset, nil
}

func (c *FreshserviceClient) fetchPage(ctx context.Context, path string, query url.Values) ([]models.RawRecord, error) {
	u := c.BaseURL + path + "?" + query.Encode()
	resp, err := c.do(ctx, endpointLabel(path), u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status: %d", path, resp.StatusCode)
	}

	var body map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode %s page: %w", path, err)
	}
	return collection(body), nil
}

// do issues a GET and sleeps through 429 answers, retrying the same request.
func (c *FreshserviceClient) do(ctx context.Context, label, rawURL string) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		if c.RateLimiter != nil {
			if err := c.RateLimiter.Limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter error: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.APIKey, "X")
		req.Header.Set("Accept", "application/json")

		resp, err := c.Client.Do(req)
		if err != nil {
			metrics.APIRequestsTotal.WithLabelValues(label, "error").Inc()
			return nil, err
		}
		metrics.APIRequestsTotal.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		if attempt > c.MaxRateLimitRetries {
			return nil, fmt.Errorf("%s: %w after %d attempts", label, ErrRateLimitExhausted, attempt)
		}

		wait := retryAfter(resp.Header.Get("Retry-After"))
		metrics.RateLimitWaitsTotal.Inc()
		c.Logger.WithFields(logrus.Fields{
			"endpoint":    label,
			"retry_after": wait.String(),
			"attempt":     attempt,
		}).Warn("Rate limited, waiting before retrying")
		if err := c.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// collection returns the first array-valued key of a list response, in sorted key order.
func collection(body map[string]any) []models.RawRecord {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		items, ok := body[k].([]any)
		if !ok {
			continue
		}
		records := make([]models.RawRecord, 0, len(items))
		for _, item := range items {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, models.RawRecord(obj))
			}
		}
		return records
	}
	return nil
}

// maxRetryAfterSeconds bounds a Retry-After header to one day.
const maxRetryAfterSeconds = 24 * 60 * 60

func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(header); err == nil {
		secs = max(0, min(secs, maxRetryAfterSeconds))
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return min(d, maxRetryAfterSeconds*time.Second)
		}
		return 0
	}
	return defaultRetryAfter
}

func endpointLabel(path string) string {
	if strings.HasSuffix(path, "/associated-assets") {
		return "associated-assets"
	}
	trimmed := strings.Trim(path, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ErrRateLimitExhausted)
}

// SleepContext waits for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
