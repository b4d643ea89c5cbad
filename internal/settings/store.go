package settings

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dataforge/catalog-sync/internal/secrets"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("settings: database handle is required")
	errMissingCipher   = errors.New("settings: cipher is required")
)

// StoreConfig bundles the dependencies of the settings store.
type StoreConfig struct {
	Database *gorm.DB
	Cipher   *secrets.Cipher
}

// Store persists operational settings and decrypts stored credentials on
// demand. It is the concrete credential collaborator for the Source client
// and the enrichment rewriter.
type Store struct {
	db     *gorm.DB
	cipher *secrets.Cipher
}

// NewStore validates dependencies and returns a settings store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Cipher == nil {
		return nil, errMissingCipher
	}
	return &Store{db: cfg.Database, cipher: cfg.Cipher}, nil
}

// Get returns the stored value for name, or empty string when absent.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	var setting Setting
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("settings: load %s: %w", name, err)
	}
	return setting.Value, nil
}

// Set upserts the value for name.
func (s *Store) Set(ctx context.Context, name, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Setting{Name: name, Value: value}).Error
	if err != nil {
		return fmt.Errorf("settings: save %s: %w", name, err)
	}
	return nil
}

// SetSecret encrypts the plaintext before storing it.
func (s *Store) SetSecret(ctx context.Context, name, plaintext string) error {
	ciphertext, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return err
	}
	return s.Set(ctx, name, ciphertext)
}

// DecryptedKey returns the decrypted credential stored under name, or empty
// string when it was never configured.
func (s *Store) DecryptedKey(ctx context.Context, name string) (string, error) {
	ciphertext, err := s.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if ciphertext == "" {
		return "", nil
	}
	return s.cipher.Decrypt(ciphertext)
}

// SourceAPIKey implements the Source client's credential contract.
func (s *Store) SourceAPIKey(ctx context.Context) (string, error) {
	return s.DecryptedKey(ctx, KeySourceAPIKey)
}

// SourceBaseURL returns the configured Source API base URL without a
// trailing slash.
func (s *Store) SourceBaseURL(ctx context.Context) (string, error) {
	url, err := s.Get(ctx, KeySourceBaseURL)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(url, "/"), nil
}

// RewriteAPIKey implements the enrichment rewriter's credential contract.
func (s *Store) RewriteAPIKey(ctx context.Context) (string, error) {
	return s.DecryptedKey(ctx, KeyRewriteAPIKey)
}

// WebhookKey returns the pre-shared webhook secret. Empty means open mode.
func (s *Store) WebhookKey(ctx context.Context) (string, error) {
	return s.Get(ctx, KeyWebhookKey)
}

// EnsureWebhookKey generates and stores a random webhook secret when none
// exists yet, and returns the active one.
func (s *Store) EnsureWebhookKey(ctx context.Context) (string, error) {
	existing, err := s.Get(ctx, KeyWebhookKey)
	if err != nil || existing != "" {
		return existing, err
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("settings: generate webhook key: %w", err)
	}
	generated := hex.EncodeToString(raw)
	if err := s.Set(ctx, KeyWebhookKey, generated); err != nil {
		return "", err
	}
	return generated, nil
}

// Snapshot reads all operational settings at once.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	var rows []Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return Snapshot{}, fmt.Errorf("settings: snapshot: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Name] = row.Value
	}

	snapshot := Snapshot{
		WebhookKey:          values[KeyWebhookKey],
		SourceBaseURL:       strings.TrimRight(values[KeySourceBaseURL], "/"),
		AutoSync:            values[KeyAutoSync] == "1",
		SyncIntervalMinutes: parsePositiveInt(values[KeySyncInterval], defaultSyncIntervalMinutes),
		LoggingLevel:        defaulted(values[KeyLoggingLevel], defaultLoggingLevel),
		NewRecordStatus:     defaulted(values[KeyNewRecordStatus], defaultNewRecordStatus),
		RewriteEnabled:      values[KeyRewriteEnabled] == "1",
		RewriteModel:        values[KeyRewriteModel],
		RewritePrompt:       values[KeyRewritePrompt],
		RewriteLogging:      values[KeyRewriteLogging] == "1",
		SourceKeySet:        values[KeySourceAPIKey] != "",
		RewriteKeySet:       values[KeyRewriteAPIKey] != "",
	}
	return snapshot, nil
}

// LastRun returns the recorded outcome of the most recent scheduled pass.
func (s *Store) LastRun(ctx context.Context) (RunSummary, error) {
	raw, err := s.Get(ctx, KeyLastCronRun)
	if err != nil || raw == "" {
		return RunSummary{}, err
	}
	var summary RunSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return RunSummary{}, fmt.Errorf("settings: decode last run: %w", err)
	}
	return summary, nil
}

// SetLastRun records the outcome of a scheduled pass.
func (s *Store) SetLastRun(ctx context.Context, summary RunSummary) error {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("settings: encode last run: %w", err)
	}
	return s.Set(ctx, KeyLastCronRun, string(encoded))
}

func parsePositiveInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func defaulted(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
