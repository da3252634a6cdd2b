package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/y0ug/expirymon/internal/expirymon"
	"github.com/y0ug/expirymon/internal/expirymon/apis"
	"github.com/y0ug/expirymon/internal/logger"
	"github.com/y0ug/expirymon/internal/models"
	"github.com/y0ug/expirymon/internal/notifications"
	"github.com/y0ug/expirymon/internal/webserver"
)

const (
	exitOK           = 0
	exitFatal        = 1
	exitNotDelivered = 2
)

func main() {
	serveFlag := flag.Bool("serve", false, "Run on a schedule and expose the status server")
	dryRunFlag := flag.Bool("dry-run", false, "Build the alert payload and print it instead of delivering it")
	envFileFlag := flag.String("env", "", "Path to the env file (default .env)")
	flag.Parse()

	// Load .env file if present
	var err error
	if *envFileFlag != "" {
		err = godotenv.Load(*envFileFlag)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		logrus.Info("No .env file found. Proceeding with environment variables.")
	}

	log, err := logger.New(logger.LoadConfig())
	if err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg, err := expirymon.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	notificationCfg, err := notifications.LoadNotificationConfig()
	if err != nil {
		log.Fatalf("Failed to load notification configuration: %v", err)
	}

	notifier, err := notifications.NewNotifier(notificationCfg.ShoutrrrURLs, log)
	if err != nil {
		log.Fatalf("Failed to initialize notifier: %v", err)
	}
	if notifier != nil {
		log.Info("Notifier initialized successfully")
	}

	dispatcher := notifications.NewDispatcher(notificationCfg.WebhookURL, notificationCfg.WebhookTimeout, log)
	if !dispatcher.Configured() {
		log.Warn("MAKE_WEBHOOK_URL is not set, alerts will not be delivered")
	}

	client := apis.NewFreshserviceClient(cfg.BaseURL, cfg.APIKey,
		apis.WithLogger(log),
		apis.WithHTTPClient(newHTTPClient(cfg.RequestTimeout)),
		apis.WithPageDelay(cfg.PageDelay),
		apis.WithMaxRateLimitRetries(cfg.MaxRateLimitRetries),
	)
	for _, rl := range cfg.RateLimits {
		if rl.APIName == client.ProviderName() {
			limiter := &apis.RateLimiter{
				Limiter: rate.NewLimiter(rl.Rate, rl.Burst),
				Burst:   rl.Burst,
				Rate:    rl.Rate,
			}
			log.Infof("Setting rate limiter for %s: %v", client.ProviderName(), limiter)
			client.SetRateLimiter(limiter)
		}
	}

	monitor := expirymon.NewMonitor(expirymon.MonitorConfig{
		Config:         cfg,
		Client:         client,
		Dispatcher:     dispatcher,
		Notifier:       notifier,
		Recipient:      notificationCfg.RecipientEmail,
		Logger:         log,
		ProgressWriter: os.Stderr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var code int
	switch {
	case *dryRunFlag:
		code = dryRun(ctx, monitor, log)
	case *serveFlag:
		code = serve(ctx, monitor, log)
	default:
		code = runOnce(ctx, monitor, dispatcher.Configured(), log)
	}
	cancel()
	os.Exit(code)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

type runner interface {
	Run(ctx context.Context) (models.RunReport, error)
}

// runOnce maps the outcome of a single run to the process exit code.
func runOnce(ctx context.Context, monitor runner, webhookConfigured bool, log *logrus.Logger) int {
	report, err := monitor.Run(ctx)
	switch {
	case errors.Is(err, expirymon.ErrNotDelivered):
		entry := log.WithField("total", report.Summary.TotalCount)
		if webhookConfigured {
			entry.Error("Alerts were found but not delivered")
		} else {
			entry.Warn("Alerts were found but no webhook is configured")
		}
		return exitNotDelivered
	case err != nil:
		log.WithError(err).Error("Sweep failed")
		return exitFatal
	}
	log.WithFields(logrus.Fields{
		"total":     report.Summary.TotalCount,
		"delivered": report.Delivered,
		"duration":  report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Sweep complete")
	return exitOK
}

func dryRun(ctx context.Context, monitor *expirymon.Monitor, log *logrus.Logger) int {
	payload, _, err := monitor.Sweep(ctx)
	if err != nil {
		log.WithError(err).Error("Sweep failed")
		return exitFatal
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		log.WithError(err).Error("Failed to encode payload")
		return exitFatal
	}
	return exitOK
}

func serve(ctx context.Context, monitor *expirymon.Monitor, log *logrus.Logger) int {
	webServerConfig, err := webserver.NewWebserverConfig()
	if err != nil {
		log.Errorf("Failed to load webserver configuration: %v", err)
		return exitFatal
	}

	webServer := webserver.NewWebServer(monitor, webServerConfig, log)
	server, err := webserver.StartWebServer(ctx, webServer)
	if err != nil {
		log.Errorf("Failed to start web server: %v", err)
		return exitFatal
	}

	go func() {
		log.Info("Starting monitoring process")
		monitor.Start(ctx)
	}()

	<-ctx.Done()
	log.Info("Received shutdown signal. Initiating shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to gracefully shutdown the server: %v", err)
		return exitFatal
	}

	log.Info("Shutdown complete. Exiting.")
	return exitOK
}
