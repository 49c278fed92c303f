package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DependencyRecorder receives probe results. The metrics collector
// satisfies it.
type DependencyRecorder interface {
	SetDependencyUp(name string, up bool)
}

// Prober runs the checker on a cron schedule between scrapes so that
// dependency gauges stay fresh even when nobody calls /health.
type Prober struct {
	checker  *Checker
	recorder DependencyRecorder
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewProber creates a prober. logger may be nil.
func NewProber(checker *Checker, recorder DependencyRecorder, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		checker:  checker,
		recorder: recorder,
		cron:     cron.New(),
		logger:   logger.With("component", "health.prober"),
	}
}

// Start schedules probes. An empty schedule disables probing. The prober
// stops itself when ctx is cancelled.
func (p *Prober) Start(ctx context.Context, schedule string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if schedule == "" {
		p.logger.Info("probe schedule not configured, skipping prober")
		return nil
	}

	if _, err := p.cron.AddFunc(schedule, func() { p.ProbeOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("dependency prober started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

// ProbeOnce runs one probe cycle and records the results.
func (p *Prober) ProbeOnce(ctx context.Context) Report {
	report := p.checker.Check(ctx)

	p.recorder.SetDependencyUp("database", report.Database.Healthy())
	p.recorder.SetDependencyUp("cache", report.Cache.Healthy())
	for name, s := range report.Services {
		p.recorder.SetDependencyUp(name, s.Healthy())
	}

	if report.Status != StatusHealthy {
		p.logger.Warn("dependency probe", "status", report.Status)
	} else {
		p.logger.Debug("dependency probe", "status", report.Status)
	}
	return report
}

// Stop stops the scheduler and waits for a running probe to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		<-p.cron.Stop().Done()
		p.running = false
		p.logger.Info("dependency prober stopped")
	}
}
