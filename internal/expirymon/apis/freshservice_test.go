package apis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(url string, sleeps *sleepRecorder, opts ...Option) *FreshserviceClient {
	base := []Option{WithLogger(quietLogger()), WithSleep(sleeps.sleep)}
	return NewFreshserviceClient(url, "secret-key", append(base, opts...)...)
}

func page(key string, from, n int) map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{"id": from + i}
	}
	return map[string]any{key: items}
}

func TestFetchAllThreePages(t *testing.T) {
	var requests atomic.Int32
	sizes := []int{100, 100, 37}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "secret-key" || pass != "X" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, PathAssets, r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		json.NewEncoder(w).Encode(page("assets", (p-1)*100, sizes[p-1]))
	}))
	defer server.Close()

	sleeps := &sleepRecorder{}
	client := newTestClient(server.URL, sleeps)

	records, err := client.ListAssets(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 237)
	assert.Equal(t, int32(3), requests.Load())
	// one delay between each pair of pages, none after the last
	assert.Equal(t, []time.Duration{defaultPageDelay, defaultPageDelay}, sleeps.calls)
	assert.Equal(t, "236", records[236].String("id"))
}

func TestFetchAllRetriesSamePageAfter429(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		if n == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(page("contracts", 0, 3))
	}))
	defer server.Close()

	sleeps := &sleepRecorder{}
	client := newTestClient(server.URL, sleeps)

	records, err := client.ListContracts(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeps.calls)
}

func TestFetchAllRateLimitCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sleeps := &sleepRecorder{}
	client := newTestClient(server.URL, sleeps, WithMaxRateLimitRetries(3))

	_, err := client.FetchAll(context.Background(), PathAssets, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitExhausted))
	assert.Len(t, sleeps.calls, 3)
	// no header means the default backoff
	assert.Equal(t, defaultRetryAfter, sleeps.calls[0])
}

func TestFetchAllKeepsPartialResultsOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(page("assets", 0, 100))
	}))
	defer server.Close()

	client := newTestClient(server.URL, &sleepRecorder{})
	records, err := client.FetchAll(context.Background(), PathAssets, nil)
	require.NoError(t, err)
	assert.Len(t, records, 100)
}

func TestFetchAllStopsWithoutCollectionKey(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"meta": {"total": 0}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, &sleepRecorder{})
	records, err := client.FetchAll(context.Background(), PathAssets, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int32(1), requests.Load())
}

func TestListAssociatedAssets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contracts/42/associated-assets", r.URL.Path)
		fmt.Fprint(w, `{"associated_assets": [{"id": 9001}, {"id": 9002}]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, &sleepRecorder{})
	records, err := client.ListAssociatedAssets(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "9001", records[0].String("id"))
}

func TestGetAsset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "type_fields", r.URL.Query().Get("include"))
		switch r.URL.Path {
		case "/assets/17":
			fmt.Fprint(w, `{"asset": {"id": 5017, "display_id": 17, "name": "Laptop", "asset_tag": "ASSET-17",
				"type_fields": {"serial_number_17": "SN-1"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, &sleepRecorder{})

	asset, err := client.GetAsset(context.Background(), "17")
	require.NoError(t, err)
	assert.Equal(t, "5017", asset.String("id"))
	assert.Equal(t, "SN-1", asset.Map("type_fields")["serial_number_17"])

	missing, err := client.GetAsset(context.Background(), "18")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, defaultRetryAfter, retryAfter(""))
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Equal(t, time.Duration(0), retryAfter("-5"))
	assert.Equal(t, 24*time.Hour, retryAfter("9999999999"))
	assert.Equal(t, 24*time.Hour, retryAfter("99999999999"))
	assert.Equal(t, defaultRetryAfter, retryAfter("soon"))
	assert.Equal(t, time.Duration(0), retryAfter(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)))
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "assets", endpointLabel("/assets"))
	assert.Equal(t, "contracts", endpointLabel("/contracts"))
	assert.Equal(t, "associated-assets", endpointLabel("/contracts/3/associated-assets"))
}
