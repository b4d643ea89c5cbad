package audit

import (
	"strings"

	"gorm.io/datatypes"
)

// Action enumerates sync decision outcomes.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionError   Action = "error"
)

// Trigger identifies which ingestion path produced a sync decision.
type Trigger string

const (
	TriggerWebhook    Trigger = "webhook"
	TriggerCron       Trigger = "cron"
	TriggerManual     Trigger = "manual"
	TriggerEnrichment Trigger = "enrichment"
)

// Level controls which sync decisions reach the audit trail.
type Level string

const (
	// LevelAll records every decision including skips.
	LevelAll Level = "all"
	// LevelChangesOnly drops skipped results. This is the default and tests
	// assert its exact boundary.
	LevelChangesOnly Level = "changes_only"
	// LevelNone disables the sync log entirely.
	LevelNone Level = "none"
)

// ParseLevel normalizes a configured logging level, defaulting to
// changes_only for unknown values.
func ParseLevel(value string) Level {
	switch Level(strings.TrimSpace(value)) {
	case LevelAll, LevelChangesOnly, LevelNone:
		return Level(value)
	default:
		return LevelChangesOnly
	}
}

// WebhookEntry is one raw webhook delivery, retained verbatim (even when
// unparseable) for forensic replay.
type WebhookEntry struct {
	ID                string         `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	ReceivedAtSeconds int64          `gorm:"column:received_at_s;not null;index:idx_webhook_received" json:"received_at_s"`
	HTTPMethod        string         `gorm:"column:http_method;size:10;not null" json:"http_method"`
	Headers           datatypes.JSON `gorm:"column:headers" json:"headers"`
	Payload           string         `gorm:"column:payload;type:text;not null" json:"payload"`
	SourceIP          string         `gorm:"column:source_ip;size:45;not null" json:"source_ip"`
}

// TableName provides the explicit table binding for GORM.
func (WebhookEntry) TableName() string {
	return "webhook_log"
}

// SyncEntry is one append-only sync decision record. Never mutated after
// insertion.
type SyncEntry struct {
	ID              string         `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SyncedAtSeconds int64          `gorm:"column:synced_at_s;not null;index:idx_sync_synced" json:"synced_at_s"`
	SourceProductID int64          `gorm:"column:source_product_id;not null;index:idx_sync_source_id" json:"source_product_id"`
	CatalogRecordID string         `gorm:"column:catalog_record_id;size:190;not null;default:''" json:"catalog_record_id"`
	Action          Action         `gorm:"column:action;size:20;not null" json:"action"`
	Trigger         Trigger        `gorm:"column:trigger;size:20;not null" json:"trigger"`
	Changes         datatypes.JSON `gorm:"column:changes" json:"changes"`
}

// TableName provides the explicit table binding for GORM.
func (SyncEntry) TableName() string {
	return "sync_log"
}

// Counts aggregates sync outcomes for the dashboard.
type Counts struct {
	Total   int64 `json:"total"`
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
	Skipped int64 `json:"skipped"`
}

// Stats is the dashboard summary of recent sync activity.
type Stats struct {
	LastSyncSeconds int64  `json:"last_sync_s"`
	Today           Counts `json:"today"`
}
