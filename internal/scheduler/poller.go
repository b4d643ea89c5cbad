package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dataforge/catalog-sync/internal/audit"
	"github.com/dataforge/catalog-sync/internal/engine"
	"github.com/dataforge/catalog-sync/internal/settings"
	"github.com/dataforge/catalog-sync/internal/source"
)

const (
	// MinimumInterval is the floor for the operator-configured poll cadence.
	MinimumInterval = time.Minute

	defaultPerPage = 50
)

// PageSource fetches one page of Source records at a time. The poller never
// uses an unbounded fetch so one HTTP failure cannot discard prior pages.
type PageSource interface {
	FetchProductsPage(ctx context.Context, page, perPage int) ([]source.Record, error)
}

// Syncer applies one Source record to the catalog.
type Syncer interface {
	Sync(ctx context.Context, record source.Record, trigger audit.Trigger, cfg engine.SyncConfig) engine.Result
}

// RunRecorder persists the outcome of a completed scheduled pass for the
// dashboard.
type RunRecorder interface {
	SetLastRun(ctx context.Context, summary settings.RunSummary) error
}

// PollerConfig bundles the dependencies of the batch poller.
type PollerConfig struct {
	Pages    PageSource
	Syncer   Syncer
	Snapshot func(ctx context.Context) (engine.SyncConfig, error)
	Recorder RunRecorder
	PerPage  int
	Logger   *zap.Logger
	Clock    func() time.Time
}

// PageResult is the outcome of syncing one page: the per-action stats and
// whether another page remains.
type PageResult struct {
	Processed int
	Stats     map[string]int
	More      bool
	NextPage  int
}

// Poller drives the scheduled and manual batch sync paths. Scheduled runs
// loop pages internally; the manual path calls SyncPage one page per request
// so a client can report progress incrementally.
type Poller struct {
	pages    PageSource
	syncer   Syncer
	snapshot func(ctx context.Context) (engine.SyncConfig, error)
	recorder RunRecorder
	perPage  int
	logger   *zap.Logger
	clock    func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPoller validates configuration and returns a poller. The poller starts
// idle; call Reschedule to arm the scheduled loop.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Pages == nil {
		return nil, fmt.Errorf("scheduler: page source is required")
	}
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("scheduler: syncer is required")
	}
	if cfg.Snapshot == nil {
		return nil, fmt.Errorf("scheduler: config snapshot is required")
	}

	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Poller{
		pages:    cfg.Pages,
		syncer:   cfg.Syncer,
		snapshot: cfg.Snapshot,
		recorder: cfg.Recorder,
		perPage:  perPage,
		logger:   logger,
		clock:    clock,
	}, nil
}

// SyncPage fetches and syncs exactly one page under a fresh configuration
// snapshot, reporting whether more pages remain.
func (p *Poller) SyncPage(ctx context.Context, page, perPage int) (PageResult, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = p.perPage
	}

	cfg, err := p.snapshot(ctx)
	if err != nil {
		return PageResult{}, fmt.Errorf("scheduler: config snapshot: %w", err)
	}
	return p.syncPage(ctx, page, perPage, cfg)
}

func (p *Poller) syncPage(ctx context.Context, page, perPage int, cfg engine.SyncConfig) (PageResult, error) {
	records, err := p.pages.FetchProductsPage(ctx, page, perPage)
	if err != nil {
		return PageResult{}, fmt.Errorf("scheduler: fetch page %d: %w", page, err)
	}

	result := PageResult{
		Processed: len(records),
		Stats:     map[string]int{"created": 0, "updated": 0, "skipped": 0, "errors": 0},
		More:      len(records) == perPage,
	}
	if result.More {
		result.NextPage = page + 1
	}

	for _, record := range records {
		outcome := p.syncer.Sync(ctx, record, audit.TriggerCron, cfg)
		switch outcome.Action {
		case audit.ActionCreated:
			result.Stats["created"]++
		case audit.ActionUpdated:
			result.Stats["updated"]++
		case audit.ActionError:
			result.Stats["errors"]++
		default:
			result.Stats["skipped"]++
		}
	}
	return result, nil
}

// RunOnce performs one full scheduled pass: every page from page 1 until a
// short page, under a single configuration snapshot. The aggregate counts
// are recorded as the last-run summary even when a page fails mid-pass.
func (p *Poller) RunOnce(ctx context.Context) (settings.RunSummary, error) {
	summary := settings.RunSummary{
		Stats: map[string]int{"created": 0, "updated": 0, "skipped": 0, "errors": 0},
	}

	cfg, err := p.snapshot(ctx)
	if err != nil {
		return summary, fmt.Errorf("scheduler: config snapshot: %w", err)
	}

	var runErr error
	page := 1
	for {
		result, err := p.syncPage(ctx, page, p.perPage, cfg)
		if err != nil {
			runErr = err
			break
		}
		for action, count := range result.Stats {
			summary.Stats[action] += count
		}
		if !result.More {
			break
		}
		page = result.NextPage
	}

	summary.TimeSeconds = p.clock().UTC().Unix()

	if p.recorder != nil {
		if err := p.recorder.SetLastRun(ctx, summary); err != nil {
			p.logger.Warn("failed to record last run", zap.Error(err))
		}
	}
	return summary, runErr
}

// Reschedule replaces the scheduled loop: the current schedule (if any) is
// fully torn down before a new one is armed. Disabled or sub-minimum
// intervals leave the poller idle.
func (p *Poller) Reschedule(interval time.Duration, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	if !enabled {
		return
	}
	if interval < MinimumInterval {
		interval = MinimumInterval
	}

	stop := make(chan struct{})
	p.stop = stop
	p.wg.Add(1)
	go p.loop(interval, stop)
}

// Stop tears down the scheduled loop and waits for an in-flight pass.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) stopLocked() {
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *Poller) loop(interval time.Duration, stop chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			summary, err := p.RunOnce(context.Background())
			if err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn("scheduled sync pass failed",
					zap.Any("stats", summary.Stats),
					zap.Error(err))
				continue
			}
			p.logger.Info("scheduled sync pass finished", zap.Any("stats", summary.Stats))
		}
	}
}
