package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dataforge/catalog-sync/internal/audit"
	"github.com/dataforge/catalog-sync/internal/engine"
	"github.com/dataforge/catalog-sync/internal/settings"
	"github.com/dataforge/catalog-sync/internal/source"
)

type fakePages struct {
	pages   map[int][]source.Record
	failOn  int
	fetched []int
}

func (f *fakePages) FetchProductsPage(_ context.Context, page, _ int) ([]source.Record, error) {
	f.fetched = append(f.fetched, page)
	if f.failOn != 0 && page == f.failOn {
		return nil, errors.New("upstream unavailable")
	}
	return f.pages[page], nil
}

type scriptedSyncer struct {
	actions map[int64]audit.Action
	calls   int
}

func (s *scriptedSyncer) Sync(_ context.Context, record source.Record, _ audit.Trigger, _ engine.SyncConfig) engine.Result {
	s.calls++
	action, ok := s.actions[record.ID()]
	if !ok {
		action = audit.ActionSkipped
	}
	return engine.Result{Action: action}
}

type fakeRecorder struct {
	summaries []settings.RunSummary
}

func (f *fakeRecorder) SetLastRun(_ context.Context, summary settings.RunSummary) error {
	f.summaries = append(f.summaries, summary)
	return nil
}

func staticSnapshot(context.Context) (engine.SyncConfig, error) {
	return engine.SyncConfig{}, nil
}

func productPage(ids ...int64) []source.Record {
	records := make([]source.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, source.Record{"id": float64(id)})
	}
	return records
}

func mustPoller(t *testing.T, cfg PollerConfig) *Poller {
	t.Helper()
	if cfg.Snapshot == nil {
		cfg.Snapshot = staticSnapshot
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	}
	poller, err := NewPoller(cfg)
	if err != nil {
		t.Fatalf("failed to build poller: %v", err)
	}
	return poller
}

func TestSyncPageReportsMorePages(t *testing.T) {
	pages := &fakePages{pages: map[int][]source.Record{
		1: productPage(1, 2),
		2: productPage(3),
	}}
	syncer := &scriptedSyncer{actions: map[int64]audit.Action{
		1: audit.ActionCreated,
		2: audit.ActionUpdated,
	}}
	poller := mustPoller(t, PollerConfig{Pages: pages, Syncer: syncer, PerPage: 2})

	result, err := poller.SyncPage(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("expected 2 processed, got %d", result.Processed)
	}
	if !result.More || result.NextPage != 2 {
		t.Fatalf("full page must signal a next page, got %+v", result)
	}
	if result.Stats["created"] != 1 || result.Stats["updated"] != 1 {
		t.Fatalf("unexpected stats %v", result.Stats)
	}

	last, err := poller.SyncPage(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last.More {
		t.Fatalf("short page must end the batch, got %+v", last)
	}
}

func TestSyncPageDefaultsPageAndSize(t *testing.T) {
	pages := &fakePages{pages: map[int][]source.Record{1: productPage(1)}}
	poller := mustPoller(t, PollerConfig{Pages: pages, Syncer: &scriptedSyncer{}, PerPage: 50})

	if _, err := poller.SyncPage(context.Background(), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages.fetched) != 1 || pages.fetched[0] != 1 {
		t.Fatalf("expected page default of 1, fetched %v", pages.fetched)
	}
}

func TestRunOnceLoopsUntilShortPage(t *testing.T) {
	pages := &fakePages{pages: map[int][]source.Record{
		1: productPage(1, 2),
		2: productPage(3, 4),
		3: productPage(5),
	}}
	syncer := &scriptedSyncer{actions: map[int64]audit.Action{
		1: audit.ActionCreated,
		2: audit.ActionCreated,
		3: audit.ActionUpdated,
		5: audit.ActionError,
	}}
	recorder := &fakeRecorder{}
	poller := mustPoller(t, PollerConfig{Pages: pages, Syncer: syncer, Recorder: recorder, PerPage: 2})

	summary, err := poller.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syncer.calls != 5 {
		t.Fatalf("expected every record synced, got %d calls", syncer.calls)
	}
	if summary.Stats["created"] != 2 || summary.Stats["updated"] != 1 || summary.Stats["skipped"] != 1 || summary.Stats["errors"] != 1 {
		t.Fatalf("unexpected aggregate stats %v", summary.Stats)
	}
	if summary.TimeSeconds != 1700000000 {
		t.Fatalf("unexpected run timestamp %d", summary.TimeSeconds)
	}
	if len(recorder.summaries) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(recorder.summaries))
	}
}

func TestRunOnceStopsOnPageError(t *testing.T) {
	pages := &fakePages{
		pages: map[int][]source.Record{
			1: productPage(1, 2),
			3: productPage(9, 10),
		},
		failOn: 2,
	}
	syncer := &scriptedSyncer{actions: map[int64]audit.Action{1: audit.ActionCreated, 2: audit.ActionCreated}}
	recorder := &fakeRecorder{}
	poller := mustPoller(t, PollerConfig{Pages: pages, Syncer: syncer, Recorder: recorder, PerPage: 2})

	summary, err := poller.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected the page failure to surface")
	}
	if syncer.calls != 2 {
		t.Fatalf("expected the pass to stop at the failed page, got %d calls", syncer.calls)
	}
	if summary.Stats["created"] != 2 {
		t.Fatalf("expected partial stats preserved, got %v", summary.Stats)
	}
	if len(recorder.summaries) != 1 {
		t.Fatalf("partial runs are still recorded, got %d", len(recorder.summaries))
	}
}

func TestRescheduleAndStopAreIdempotent(t *testing.T) {
	pages := &fakePages{pages: map[int][]source.Record{1: productPage(1)}}
	poller := mustPoller(t, PollerConfig{Pages: pages, Syncer: &scriptedSyncer{}, PerPage: 2})

	poller.Reschedule(5*time.Minute, true)
	poller.Reschedule(10*time.Minute, true)
	poller.Reschedule(0, false)
	poller.Stop()
	poller.Stop()

	if len(pages.fetched) != 0 {
		t.Fatalf("no tick should have fired, fetched %v", pages.fetched)
	}
}
