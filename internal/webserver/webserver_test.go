package webserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y0ug/expirymon/internal/models"
)

type fakeSweeper struct {
	mu      sync.Mutex
	running bool
	report  *models.RunReport
	payload *models.AlertPayload
	runs    chan struct{}
}

func (f *fakeSweeper) Run(context.Context) (models.RunReport, error) {
	f.runs <- struct{}{}
	return models.RunReport{}, nil
}

func (f *fakeSweeper) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSweeper) LastReport() (models.RunReport, bool) {
	if f.report == nil {
		return models.RunReport{}, false
	}
	return *f.report, true
}

func (f *fakeSweeper) LastPayload() (models.AlertPayload, bool) {
	if f.payload == nil {
		return models.AlertPayload{}, false
	}
	return *f.payload, true
}

func newTestServer(t *testing.T, sweeper *fakeSweeper) *httptest.Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ws := NewWebServer(sweeper, &WebserverConfig{ListenTo: ":0"}, logger)
	server := httptest.NewServer(ws.InitRouter())
	t.Cleanup(server.Close)
	return server
}

func decode(t *testing.T, resp *http.Response) HttpResp {
	t.Helper()
	defer resp.Body.Close()
	var body HttpResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestStatusBeforeFirstRun(t *testing.T) {
	server := newTestServer(t, &fakeSweeper{})

	resp, err := http.Get(server.URL + "/api/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, map[string]any{"running": false, "last_report": nil}, body.Data)
}

func TestStatusWithReport(t *testing.T) {
	report := models.RunReport{AssetsFetched: 12, Delivered: true}
	server := newTestServer(t, &fakeSweeper{report: &report})

	resp, err := http.Get(server.URL + "/api/status")
	require.NoError(t, err)
	data := decode(t, resp).Data.(map[string]any)
	last := data["last_report"].(map[string]any)
	assert.Equal(t, float64(12), last["assets_fetched"])
	assert.Equal(t, true, last["delivered"])
}

func TestAlerts(t *testing.T) {
	sweeper := &fakeSweeper{}
	server := newTestServer(t, sweeper)

	resp, err := http.Get(server.URL + "/api/alerts")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "error", decode(t, resp).Status)

	payload := models.AlertPayload{RecipientEmail: "ops@example.com"}
	payload.Summary.Add(models.SeverityWarning)
	sweeper.payload = &payload

	resp, err = http.Get(server.URL + "/api/alerts")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := decode(t, resp).Data.(map[string]any)
	assert.Equal(t, "ops@example.com", data["recipient_email"])
	assert.Equal(t, float64(1), data["summary"].(map[string]any)["warning_count"])
}

func TestRunTrigger(t *testing.T) {
	sweeper := &fakeSweeper{runs: make(chan struct{}, 1)}
	server := newTestServer(t, sweeper)

	resp, err := http.Post(server.URL+"/api/run", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	select {
	case <-sweeper.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep was not started")
	}
}

func TestRunConflict(t *testing.T) {
	sweeper := &fakeSweeper{running: true}
	server := newTestServer(t, sweeper)

	resp, err := http.Post(server.URL+"/api/run", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/api/run")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeSweeper{})

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewWebserverConfig(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := NewWebserverConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenTo)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsAllowedOrigins)
}
