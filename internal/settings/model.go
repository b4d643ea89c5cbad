package settings

// Setting is a single named operational value. Credentials are stored
// encrypted; everything else is plaintext.
type Setting struct {
	Name  string `gorm:"column:name;primaryKey;size:190;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Setting) TableName() string {
	return "settings"
}

// Setting names. These mirror the operator-facing configuration surface.
const (
	KeyWebhookKey      = "webhook_key"
	KeySourceAPIKey    = "source_api_key"
	KeySourceBaseURL   = "source_api_url"
	KeyAutoSync        = "auto_sync"
	KeySyncInterval    = "sync_interval_minutes"
	KeyLoggingLevel    = "logging_level"
	KeyNewRecordStatus = "new_record_status"
	KeyRewriteEnabled  = "rewrite_enabled"
	KeyRewriteAPIKey   = "rewrite_api_key"
	KeyRewriteModel    = "rewrite_model"
	KeyRewritePrompt   = "rewrite_prompt"
	KeyRewriteLogging  = "rewrite_logging"
	KeyLastCronRun     = "last_cron_run"
)

const (
	defaultSyncIntervalMinutes = 60
	defaultLoggingLevel        = "changes_only"
	defaultNewRecordStatus     = "published"
)

// Snapshot is an immutable view of the operational settings, taken once per
// consumer invocation so a mid-batch settings change cannot produce
// inconsistent per-record behavior.
type Snapshot struct {
	WebhookKey          string `json:"webhook_key"`
	SourceBaseURL       string `json:"source_base_url"`
	AutoSync            bool   `json:"auto_sync"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes"`
	LoggingLevel        string `json:"logging_level"`
	NewRecordStatus     string `json:"new_record_status"`
	RewriteEnabled      bool   `json:"rewrite_enabled"`
	RewriteModel        string `json:"rewrite_model"`
	RewritePrompt       string `json:"rewrite_prompt"`
	RewriteLogging      bool   `json:"rewrite_logging"`
	SourceKeySet        bool   `json:"source_key_set"`
	RewriteKeySet       bool   `json:"rewrite_key_set"`
}

// RunSummary records the outcome of the most recent scheduled sync pass.
type RunSummary struct {
	TimeSeconds int64          `json:"time_s"`
	Stats       map[string]int `json:"stats"`
}
