package expirymon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/y0ug/expirymon/internal/expirymon/apis"
	"github.com/y0ug/expirymon/internal/metrics"
	"github.com/y0ug/expirymon/internal/models"
	"github.com/y0ug/expirymon/internal/notifications"
)

var (
	// ErrNotDelivered is returned by Run when alerts were found but not delivered.
	ErrNotDelivered = errors.New("alerts were not delivered")
	// ErrRunInProgress is returned when a sweep is already running.
	ErrRunInProgress = errors.New("a sweep is already running")
)

// MonitorConfig holds the collaborators of the expiration sweep.
type MonitorConfig struct {
	Config     *Config
	Client     apis.APIClient
	Dispatcher *notifications.Dispatcher
	Notifier   *notifications.Notifier
	Recipient  string
	Logger     *logrus.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Sleep paces asset detail lookups; defaults to apis.SleepContext.
	Sleep apis.SleepFunc
	// ProgressWriter receives progress bars; nil disables them.
	ProgressWriter io.Writer
}

// Monitor runs expiration sweeps.
type Monitor struct {
	Config   MonitorConfig
	resolver *FieldResolver
	sem      *semaphore.Weighted
	running  atomic.Bool

	mu          sync.RWMutex
	lastReport  *models.RunReport
	lastPayload *models.AlertPayload
}

// NewMonitor initializes a new Monitor.
func NewMonitor(config MonitorConfig) *Monitor {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Sleep == nil {
		config.Sleep = apis.SleepContext
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	concurrency := config.Config.DetailConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Monitor{
		Config:   config,
		resolver: NewFieldResolver(config.Config.FieldRules),
		sem:      semaphore.NewWeighted(concurrency),
	}
}

// Start runs a sweep immediately and then every PollInterval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.Config.Config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := m.Run(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			m.Config.Logger.WithError(err).Error("Sweep finished with an error")
		}
		select {
		case <-ctx.Done():
			m.Config.Logger.Info("Monitoring stopped due to context cancellation")
			return
		case <-ticker.C:
		}
	}
}

// Run performs one sweep and delivers its payload.
func (m *Monitor) Run(ctx context.Context) (models.RunReport, error) {
	if !m.running.CompareAndSwap(false, true) {
		return models.RunReport{}, ErrRunInProgress
	}
	defer m.running.Store(false)

	start := time.Now()
	payload, report, err := m.sweep(ctx)
	if err != nil {
		report.Error = err.Error()
		report.FinishedAt = m.Config.Now()
		m.record(report, nil)
		return report, err
	}

	if payload.Empty() {
		m.Config.Logger.Info("No alerts today")
	} else {
		report.Delivered = m.Config.Dispatcher.Deliver(ctx, payload)
		if !report.Delivered {
			err = ErrNotDelivered
			report.Error = err.Error()
		}
	}
	report.FinishedAt = m.Config.Now()

	metrics.RunDuration.Observe(time.Since(start).Seconds())
	metrics.LastRunTimestamp.SetToCurrentTime()
	m.record(report, &payload)
	m.Config.Notifier.Send("Expiration sweep", notifications.SummaryMessage(report))
	return report, err
}

// Sweep builds the payload without delivering it.
func (m *Monitor) Sweep(ctx context.Context) (models.AlertPayload, models.RunReport, error) {
	if !m.running.CompareAndSwap(false, true) {
		return models.AlertPayload{}, models.RunReport{}, ErrRunInProgress
	}
	defer m.running.Store(false)
	return m.sweep(ctx)
}

// Running reports whether a sweep is in progress.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// LastReport returns the report of the last completed run, if any.
func (m *Monitor) LastReport() (models.RunReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastReport == nil {
		return models.RunReport{}, false
	}
	return *m.lastReport, true
}

// LastPayload returns the payload of the last completed run, if any.
func (m *Monitor) LastPayload() (models.AlertPayload, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastPayload == nil {
		return models.AlertPayload{}, false
	}
	return *m.lastPayload, true
}

func (m *Monitor) record(report models.RunReport, payload *models.AlertPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReport = &report
	if payload != nil {
		m.lastPayload = payload
	}
}

func (m *Monitor) sweep(ctx context.Context) (models.AlertPayload, models.RunReport, error) {
	cfg := m.Config.Config
	logger := m.Config.Logger
	today := Today(m.Config.Now())
	report := models.RunReport{StartedAt: m.Config.Now()}

	logger.WithFields(logrus.Fields{
		"policy":        cfg.Policy.Name,
		"lookahead":     cfg.Policy.LookaheadDays,
		"critical_days": cfg.Policy.CriticalDays,
		"warning_days":  cfg.Policy.WarningDays(),
	}).Info("Starting expiration sweep")

	assetsRaw, err := m.Config.Client.FetchAll(ctx, apis.PathAssets, nil)
	if err != nil {
		return models.AlertPayload{}, report, fmt.Errorf("fetch assets: %w", err)
	}
	contractsRaw, err := m.Config.Client.FetchAll(ctx, apis.PathContracts, nil)
	if err != nil {
		return models.AlertPayload{}, report, fmt.Errorf("fetch contracts: %w", err)
	}
	report.AssetsFetched = len(assetsRaw)
	report.Contracts = len(contractsRaw)
	logger.WithFields(logrus.Fields{
		"assets":    len(assetsRaw),
		"contracts": len(contractsRaw),
	}).Info("Collections fetched")

	contractFindings, contractMap, err := m.analyzeContracts(ctx, contractsRaw, today)
	if err != nil {
		return models.AlertPayload{}, report, err
	}

	if cfg.MaxAssets > 0 && len(assetsRaw) > cfg.MaxAssets {
		assetsRaw = assetsRaw[:cfg.MaxAssets]
	}
	candidates := make([]models.RawRecord, 0, len(assetsRaw))
	for _, a := range assetsRaw {
		if cfg.Excluded.Contains(a.String("asset_tag")) {
			report.AssetsExcluded++
			continue
		}
		candidates = append(candidates, a)
	}
	report.AssetsAnalyzed = len(candidates)

	assetFindings, err := m.analyzeAssets(ctx, candidates, contractMap, today)
	if err != nil {
		return models.AlertPayload{}, report, err
	}

	agg := &Aggregator{
		Policy:       cfg.Policy,
		DateLayout:   cfg.DateLayout,
		IncludeStyle: cfg.IncludeStyle,
		Recipient:    m.Config.Recipient,
		Excluded:     len(cfg.Excluded),
		Now:          m.Config.Now,
	}
	payload := agg.BuildPayload(contractFindings, assetFindings)
	report.Summary = payload.Summary
	return payload, report, nil
}

// analyzeContracts flags contracts inside the window and builds the asset map.
func (m *Monitor) analyzeContracts(ctx context.Context, raw []models.RawRecord, today time.Time) ([]ContractFinding, AssetContractMap, error) {
	correlator := NewCorrelator(m.Config.Client, m.Config.Logger)
	bar := m.progress(len(raw), "Analysing contracts")
	defer finish(bar)

	var findings []ContractFinding
	contractMap := AssetContractMap{}
	for _, r := range raw {
		c := models.ContractFromRaw(r)
		if end, ok := ParseDate(c.EndDate); ok {
			days := DaysUntil(today, end)
			if m.Config.Config.Policy.Includes(days) {
				findings = append(findings, ContractFinding{
					Name:   c.Name,
					ID:     c.RawID,
					Vendor: c.VendorName,
					End:    end,
					Days:   days,
				})
			}
		}
		if err := correlator.Link(ctx, contractMap, c); err != nil {
			return nil, nil, err
		}
		advance(bar)
	}
	return findings, contractMap, nil
}

// analyzeAssets expands every candidate and keeps those inside the window. Results
// keep the order of candidates whatever the lookup concurrency.
func (m *Monitor) analyzeAssets(ctx context.Context, candidates []models.RawRecord, contractMap AssetContractMap, today time.Time) ([]AssetFinding, error) {
	bar := m.progress(len(candidates), "Analysing assets")
	defer finish(bar)

	results := make([]*AssetFinding, len(candidates))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i, raw := range candidates {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			errOnce.Do(func() { firstErr = err })
			break
		}
		wg.Add(1)
		go func(i int, raw models.RawRecord) {
			defer wg.Done()
			defer m.sem.Release(1)

			finding, err := m.analyzeAsset(ctx, raw, contractMap, today)
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			results[i] = finding
			advance(bar)
			if err := m.Config.Sleep(ctx, m.Config.Config.AssetDelay); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(i, raw)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	findings := make([]AssetFinding, 0, len(results))
	for _, f := range results {
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}

func (m *Monitor) analyzeAsset(ctx context.Context, raw models.RawRecord, contractMap AssetContractMap, today time.Time) (*AssetFinding, error) {
	detail, err := m.Config.Client.GetAsset(ctx, raw.String("display_id"))
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", raw.String("display_id"), err)
	}
	asset := models.AssetFromRaw(detail)
	resolved := m.resolver.Resolve(asset.TypeFields)

	var link models.ContractLink
	if asset.ID != "" {
		link = contractMap[asset.ID]
	}

	check := resolved.Expiry
	if check == "" {
		check = link.ContractEndDate
	}
	date, ok := ParseDate(check)
	if !ok {
		return nil, nil
	}
	days := DaysUntil(today, date)
	if !m.Config.Config.Policy.Includes(days) {
		return nil, nil
	}

	m.Config.Logger.WithFields(logrus.Fields{
		"asset_tag": asset.AssetTag,
		"days":      days,
	}).Debug("Asset flagged")
	return &AssetFinding{
		Name:         asset.Name,
		Tag:          asset.AssetTag,
		Serial:       resolved.Serial,
		ContractName: link.ContractName,
		Expiry:       date,
		Days:         days,
	}, nil
}

func (m *Monitor) progress(total int, description string) *progressbar.ProgressBar {
	if m.Config.ProgressWriter == nil || !m.Config.Config.Progress || total == 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(m.Config.ProgressWriter),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func advance(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Add(1)
	}
}

func finish(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
