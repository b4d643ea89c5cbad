package category

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	discoveryPayloadLimit = 500
	defaultLiveCacheTTL   = time.Hour

	payloadCategoryField = "product_category"
	payloadAttributesKey = "attributes"
)

// WebhookPayloadSource lists recent raw webhook payload bodies.
type WebhookPayloadSource interface {
	RecentPayloads(ctx context.Context, limit int) ([]string, error)
}

// SyncedRecordSource lists Source category names already stored on synced
// catalog records.
type SyncedRecordSource interface {
	DistinctAttributeValues(ctx context.Context, name string) ([]string, error)
}

// LiveCategorySource lists category names straight from the Source API.
type LiveCategorySource interface {
	FetchCategories(ctx context.Context) ([]string, error)
}

// DiscovererConfig bundles the three category name sources.
type DiscovererConfig struct {
	Webhooks          WebhookPayloadSource
	Records           SyncedRecordSource
	Live              LiveCategorySource
	CategoryAttribute string
	LiveCacheTTL      time.Duration
	Clock             func() time.Time
}

// Discoverer aggregates candidate Source category names for the mapping
// UI. This is an administrative convenience, not part of the sync decision.
type Discoverer struct {
	webhooks          WebhookPayloadSource
	records           SyncedRecordSource
	live              LiveCategorySource
	categoryAttribute string
	liveCacheTTL      time.Duration
	clock             func() time.Time

	mu           sync.Mutex
	cachedLive   []string
	cachedLiveAt time.Time
}

// NewDiscoverer constructs a discoverer; any nil source is simply skipped.
func NewDiscoverer(cfg DiscovererConfig) *Discoverer {
	ttl := cfg.LiveCacheTTL
	if ttl <= 0 {
		ttl = defaultLiveCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Discoverer{
		webhooks:          cfg.Webhooks,
		records:           cfg.Records,
		live:              cfg.Live,
		categoryAttribute: cfg.CategoryAttribute,
		liveCacheTTL:      ttl,
		clock:             clock,
	}
}

// Discover returns the deduplicated, sorted union of category names from
// webhook history, synced records, and the live Source listing. A failing
// source does not discard the others' names: the partial result is returned
// together with the joined errors so the caller can decide how to degrade.
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var failures []error

	webhookNames, err := d.fromWebhooks(ctx)
	if err != nil {
		failures = append(failures, fmt.Errorf("webhook payloads: %w", err))
	}
	recordNames, err := d.fromRecords(ctx)
	if err != nil {
		failures = append(failures, fmt.Errorf("record attributes: %w", err))
	}
	liveNames, err := d.fromLive(ctx)
	if err != nil {
		failures = append(failures, fmt.Errorf("live listing: %w", err))
	}

	for _, group := range [][]string{webhookNames, recordNames, liveNames} {
		for _, name := range group {
			seen[name] = struct{}{}
		}
	}
	delete(seen, "")

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, errors.Join(failures...)
}

// InvalidateLiveCache forces the next Discover call to hit the Source API
// again. Used by the administrative refresh action.
func (d *Discoverer) InvalidateLiveCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedLive = nil
	d.cachedLiveAt = time.Time{}
}

func (d *Discoverer) fromWebhooks(ctx context.Context) ([]string, error) {
	if d.webhooks == nil {
		return nil, nil
	}
	payloads, err := d.webhooks.RecentPayloads(ctx, discoveryPayloadLimit)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, payload := range payloads {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			continue
		}
		// Webhook payloads wrap the record one level under "attributes".
		record := decoded
		if wrapped, ok := decoded[payloadAttributesKey].(map[string]any); ok {
			record = wrapped
		}
		if name, ok := record[payloadCategoryField].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (d *Discoverer) fromRecords(ctx context.Context) ([]string, error) {
	if d.records == nil {
		return nil, nil
	}
	return d.records.DistinctAttributeValues(ctx, d.categoryAttribute)
}

func (d *Discoverer) fromLive(ctx context.Context) ([]string, error) {
	if d.live == nil {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	if d.cachedLive != nil && now.Sub(d.cachedLiveAt) < d.liveCacheTTL {
		return d.cachedLive, nil
	}

	names, err := d.live.FetchCategories(ctx)
	if err != nil {
		return nil, err
	}

	d.cachedLive = names
	d.cachedLiveAt = now
	return names, nil
}
