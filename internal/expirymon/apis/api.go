package apis

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/y0ug/expirymon/internal/models"
)

// APIClient defines the methods the expiration sweep needs from an asset platform.
type APIClient interface {
	// FetchAll retrieves every record of a paginated collection. Transport failures
	// end the pagination early and the records gathered so far are returned; only
	// ErrRateLimitExhausted and context cancellation are reported as errors.
	FetchAll(ctx context.Context, path string, params url.Values) ([]models.RawRecord, error)
	// GetAsset returns the detail of one asset including its custom fields.
	// An empty record is returned when the lookup fails.
	GetAsset(ctx context.Context, displayID string) (models.RawRecord, error)
	// SetRateLimiter sets the rate limiter for the API client.
	SetRateLimiter(limiter *RateLimiter)
	// ProviderName returns the name of the API provider.
	ProviderName() string
}

type RateLimiter struct {
	Limiter *rate.Limiter
	Burst   int
	Rate    rate.Limit // Requests per second
}

// ErrRateLimitExhausted is returned when the server keeps answering 429 past the
// configured number of attempts.
var ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

const (
	PathAssets    = "/assets"
	PathContracts = "/contracts"
)

// AssociatedAssetsPath is the collection of assets linked to a contract.
func AssociatedAssetsPath(contractID string) string {
	return fmt.Sprintf("/contracts/%s/associated-assets", url.PathEscape(contractID))
}
