package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("audit: database handle is required")

// StoreConfig bundles the dependencies of the audit store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	NewID    func() string
}

// Store persists the append-only webhook and sync logs.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
	newID func() string
}

// NewStore validates dependencies and returns an audit store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Store{db: cfg.Database, clock: clock, newID: newID}, nil
}

// RawWebhook captures an incoming webhook delivery before any parsing.
type RawWebhook struct {
	Method   string
	Headers  map[string][]string
	Payload  string
	SourceIP string
}

// LogWebhook appends a raw webhook delivery. Called before parsing so even
// malformed payloads are retained.
func (s *Store) LogWebhook(ctx context.Context, raw RawWebhook) error {
	headers, err := json.Marshal(raw.Headers)
	if err != nil {
		return fmt.Errorf("audit: encode headers: %w", err)
	}

	entry := WebhookEntry{
		ID:                s.newID(),
		ReceivedAtSeconds: s.clock().UTC().Unix(),
		HTTPMethod:        raw.Method,
		Headers:           datatypes.JSON(headers),
		Payload:           raw.Payload,
		SourceIP:          raw.SourceIP,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("audit: webhook insert: %w", err)
	}
	return nil
}

// RecentPayloads returns the newest webhook payload bodies, newest first.
func (s *Store) RecentPayloads(ctx context.Context, limit int) ([]string, error) {
	var payloads []string
	err := s.db.WithContext(ctx).Model(&WebhookEntry{}).
		Order("received_at_s DESC").
		Limit(limit).
		Pluck("payload", &payloads).Error
	if err != nil {
		return nil, fmt.Errorf("audit: recent payloads: %w", err)
	}
	return payloads, nil
}

// ListWebhooks pages through the webhook log, newest first.
func (s *Store) ListWebhooks(ctx context.Context, limit, offset int) ([]WebhookEntry, error) {
	var entries []WebhookEntry
	err := s.db.WithContext(ctx).
		Order("received_at_s DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("audit: list webhooks: %w", err)
	}
	return entries, nil
}

// CountWebhooks returns the webhook log size.
func (s *Store) CountWebhooks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&WebhookEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("audit: count webhooks: %w", err)
	}
	return count, nil
}

// ClearWebhooks deletes the entire webhook log. Operator action only.
func (s *Store) ClearWebhooks(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&WebhookEntry{}).Error; err != nil {
		return fmt.Errorf("audit: clear webhooks: %w", err)
	}
	return nil
}

// LogSync appends one sync decision, honoring the configured logging level:
// none drops everything, changes_only drops skipped results.
func (s *Store) LogSync(ctx context.Context, level Level, sourceProductID int64, catalogRecordID string, action Action, trigger Trigger, changes any) error {
	if level == LevelNone {
		return nil
	}
	if level == LevelChangesOnly && action == ActionSkipped {
		return nil
	}

	encoded, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("audit: encode changes: %w", err)
	}

	entry := SyncEntry{
		ID:              s.newID(),
		SyncedAtSeconds: s.clock().UTC().Unix(),
		SourceProductID: sourceProductID,
		CatalogRecordID: catalogRecordID,
		Action:          action,
		Trigger:         trigger,
		Changes:         datatypes.JSON(encoded),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("audit: sync insert: %w", err)
	}
	return nil
}

// ListSyncEntries pages through the sync log, newest first.
func (s *Store) ListSyncEntries(ctx context.Context, limit, offset int) ([]SyncEntry, error) {
	var entries []SyncEntry
	err := s.db.WithContext(ctx).
		Order("synced_at_s DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("audit: list sync entries: %w", err)
	}
	return entries, nil
}

// CountSyncEntries returns the sync log size.
func (s *Store) CountSyncEntries(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&SyncEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("audit: count sync entries: %w", err)
	}
	return count, nil
}

// ClearSyncEntries deletes the entire sync log. Operator action only.
func (s *Store) ClearSyncEntries(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&SyncEntry{}).Error; err != nil {
		return fmt.Errorf("audit: clear sync entries: %w", err)
	}
	return nil
}

// Stats summarizes sync activity for the dashboard: the most recent entry
// and today's per-action counts (UTC day boundary).
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	var latest SyncEntry
	err := s.db.WithContext(ctx).Order("synced_at_s DESC").Take(&latest).Error
	if err == nil {
		stats.LastSyncSeconds = latest.SyncedAtSeconds
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Stats{}, fmt.Errorf("audit: last sync: %w", err)
	}

	now := s.clock().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Unix()

	type aggregate struct {
		Action Action
		Total  int64
	}
	var rows []aggregate
	err = s.db.WithContext(ctx).Model(&SyncEntry{}).
		Select("action, COUNT(*) as total").
		Where("synced_at_s >= ?", startOfDay).
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("audit: today stats: %w", err)
	}

	for _, row := range rows {
		stats.Today.Total += row.Total
		switch row.Action {
		case ActionCreated:
			stats.Today.Created = row.Total
		case ActionUpdated:
			stats.Today.Updated = row.Total
		case ActionSkipped:
			stats.Today.Skipped = row.Total
		}
	}

	return stats, nil
}
