package webserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/y0ug/expirymon/internal/expirymon"
	"github.com/y0ug/expirymon/internal/models"
)

// Sweeper is the part of the monitor exposed over HTTP.
type Sweeper interface {
	Run(ctx context.Context) (models.RunReport, error)
	Running() bool
	LastReport() (models.RunReport, bool)
	LastPayload() (models.AlertPayload, bool)
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Running    bool              `json:"running"`
	LastReport *models.RunReport `json:"last_report"`
}

// WebServer holds the data needed for handling HTTP requests.
type WebServer struct {
	Monitor Sweeper
	config  *WebserverConfig
	Logger  *logrus.Logger
	// runCtx outlives the request that triggered a manual run.
	runCtx context.Context
}

// StartWebServer starts the HTTP server.
func StartWebServer(ctx context.Context, ws *WebServer) (*http.Server, error) {
	ws.runCtx = ctx
	router := ws.InitRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   ws.config.CorsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		Debug:            false,
	}
	handler := cors.New(corsOptions).Handler(router)

	server := &http.Server{
		Addr:              ws.config.ListenTo,
		Handler:           handler,
		ReadHeaderTimeout: ws.config.ReadHeaderTimeout,
	}

	go func() {
		ws.Logger.Infof("Server starting on %s", ws.config.ListenTo)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.Logger.Errorf("ListenAndServe(): %v", err)
		}
	}()

	return server, nil
}

// NewWebServer initializes a new WebServer.
func NewWebServer(monitor Sweeper, config *WebserverConfig, logger *logrus.Logger) *WebServer {
	return &WebServer{
		Monitor: monitor,
		config:  config,
		Logger:  logger,
		runCtx:  context.Background(),
	}
}

// InitRouter initializes the HTTP routes.
func (ws *WebServer) InitRouter() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", ws.handleGetStatus).Methods(http.MethodGet)
	api.HandleFunc("/alerts", ws.handleGetAlerts).Methods(http.MethodGet)
	api.HandleFunc("/run", ws.handleRun).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// handleGetStatus handles the GET /api/status endpoint.
func (ws *WebServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{Running: ws.Monitor.Running()}
	if report, ok := ws.Monitor.LastReport(); ok {
		response.LastReport = &report
	}
	WriteSuccessResponse(w, "Status retrieved successfully", response)
}

// handleGetAlerts handles the GET /api/alerts endpoint.
func (ws *WebServer) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	payload, ok := ws.Monitor.LastPayload()
	if !ok {
		WriteErrorResponse(w, "No sweep has completed yet", http.StatusNotFound)
		return
	}
	WriteSuccessResponse(w, "Alerts retrieved successfully", payload)
}

// handleRun handles the POST /api/run endpoint.
func (ws *WebServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if ws.Monitor.Running() {
		WriteErrorResponse(w, "A sweep is already running", http.StatusConflict)
		return
	}

	go func() {
		_, err := ws.Monitor.Run(ws.runCtx)
		switch {
		case errors.Is(err, expirymon.ErrRunInProgress):
			ws.Logger.Debug("Manual sweep skipped, another one started first")
		case err != nil:
			ws.Logger.WithError(err).Error("Manual sweep finished with an error")
		}
	}()

	ws.Logger.Info("Manual sweep triggered")
	WriteAcceptedResponse(w, "Sweep started")
}
