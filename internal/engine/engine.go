package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dataforge/catalog-sync/internal/audit"
	"github.com/dataforge/catalog-sync/internal/catalog"
	"github.com/dataforge/catalog-sync/internal/category"
	"github.com/dataforge/catalog-sync/internal/enrich"
	"github.com/dataforge/catalog-sync/internal/source"
)

// Skip reason codes reported in sync results and log payloads.
const (
	ReasonNoID             = "no_id"
	ReasonUnmappedCategory = "unmapped_category"
	ReasonEmptyDescription = "empty_description"
	ReasonUnchanged        = "unchanged"
)

// SyncConfig is the immutable per-invocation configuration snapshot. Callers
// build it once per batch so an administrative change mid-batch cannot
// produce inconsistent per-record behavior.
type SyncConfig struct {
	Categories     category.Policy
	DefaultStatus  catalog.Status
	LoggingLevel   audit.Level
	RewriteEnabled bool
	Rewrite        enrich.Options
}

// Result is the structured outcome of one sync pass. The engine reports
// failures through the Action/Error fields rather than aborting, so one bad
// record never takes down a batch.
type Result struct {
	Action   audit.Action   `json:"action"`
	RecordID string         `json:"record_id,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Error    string         `json:"error,omitempty"`
	Changes  map[string]any `json:"changes"`
}

// DescriptionRewriter is the optional enrichment hook invoked when a synced
// description changed.
type DescriptionRewriter interface {
	Rewrite(ctx context.Context, description, productName string, opts enrich.Options) (enrich.Result, error)
}

// Config bundles the dependencies of the sync engine.
type Config struct {
	Catalog  *catalog.Store
	Audit    *audit.Store
	Rewriter DescriptionRewriter
	Logger   *zap.Logger
}

// Engine applies Source records to the catalog: one idempotent Sync
// operation shared by the webhook, scheduled and manual ingestion paths.
type Engine struct {
	catalog  *catalog.Store
	audit    *audit.Store
	rewriter DescriptionRewriter
	logger   *zap.Logger
}

// NewEngine validates dependencies and returns a sync engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("engine: catalog store is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("engine: audit store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		catalog:  cfg.Catalog,
		audit:    cfg.Audit,
		rewriter: cfg.Rewriter,
		logger:   logger,
	}, nil
}

// Sync applies one Source record to the catalog and reports the outcome.
func (e *Engine) Sync(ctx context.Context, record source.Record, trigger audit.Trigger, cfg SyncConfig) Result {
	sourceID := record.ID()
	if sourceID == 0 {
		// No identity, nothing to correlate; not worth a log entry.
		return Result{Action: audit.ActionSkipped, Reason: ReasonNoID, Changes: map[string]any{}}
	}

	categoryName := record.Category()
	if !cfg.Categories.Allowed(categoryName) {
		changes := map[string]any{"reason": ReasonUnmappedCategory, "category": categoryName}
		e.logSync(ctx, cfg, sourceID, "", audit.ActionSkipped, trigger, changes)
		return Result{Action: audit.ActionSkipped, Reason: ReasonUnmappedCategory, Changes: map[string]any{}}
	}

	existing, err := e.catalog.FindBySourceID(ctx, sourceID)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return e.failure(ctx, cfg, sourceID, "", trigger, fmt.Errorf("lookup: %w", err))
	}
	if existing != nil {
		return e.update(ctx, record, existing, trigger, cfg)
	}
	return e.create(ctx, record, trigger, cfg)
}

func (e *Engine) create(ctx context.Context, src source.Record, trigger audit.Trigger, cfg SyncConfig) Result {
	sourceID := src.ID()
	record := &catalog.Record{
		SKU:         strconv.FormatInt(sourceID, 10),
		Kind:        catalog.KindSimple,
		ManageStock: true,
		Status:      cfg.DefaultStatus,
		CategoryIDs: nil,
	}

	changes := map[string]any{}
	for _, field := range mappedFields {
		raw, present := src.Value(field.sourceKey)
		if !present {
			continue
		}
		field.apply(record, raw)
		changes[field.sourceKey] = field.current(record)
	}
	if value, present := src.BoolFlag(source.FieldMaintainStock); present {
		record.ManageStock = value
	}
	if value, present := src.BoolFlag(source.FieldTaxable); present {
		record.TaxStatus = taxStatus(value)
	}
	if src.Disabled() {
		record.Status = catalog.StatusDraft
	}
	changes["status"] = string(record.Status)

	persisted, created, err := e.catalog.Create(ctx, record)
	if err != nil {
		return e.failure(ctx, cfg, sourceID, "", trigger, fmt.Errorf("create: %w", err))
	}
	if !created {
		// Lost the create race; the winner already holds this Source id,
		// so this pass becomes an ordinary update against it.
		return e.update(ctx, src, persisted, trigger, cfg)
	}

	if err := e.catalog.SetAttribute(ctx, persisted.CatalogID, catalog.AttrSourceProductID, persisted.SKU); err != nil {
		return e.failure(ctx, cfg, sourceID, persisted.CatalogID, trigger, fmt.Errorf("id attribute: %w", err))
	}
	for _, attr := range attributeFields {
		raw, present := src.Value(attr.sourceKey)
		if !present {
			continue
		}
		if err := e.catalog.SetAttribute(ctx, persisted.CatalogID, attr.attribute, source.Stringify(raw)); err != nil {
			return e.failure(ctx, cfg, sourceID, persisted.CatalogID, trigger, fmt.Errorf("attribute %s: %w", attr.sourceKey, err))
		}
	}

	categoryIDs := cfg.Categories.Resolve(src.Category())
	if err := e.catalog.SetCategories(ctx, persisted.CatalogID, categoryIDs); err != nil {
		return e.failure(ctx, cfg, sourceID, persisted.CatalogID, trigger, fmt.Errorf("categories: %w", err))
	}
	changes["category_ids"] = categoryIDs

	e.logSync(ctx, cfg, sourceID, persisted.CatalogID, audit.ActionCreated, trigger, changes)

	if cfg.RewriteEnabled {
		e.enrichDescription(ctx, persisted, sourceID, cfg)
	}

	return Result{Action: audit.ActionCreated, RecordID: persisted.CatalogID, Changes: changes}
}

func (e *Engine) update(ctx context.Context, src source.Record, existing *catalog.Record, trigger audit.Trigger, cfg SyncConfig) Result {
	sourceID := src.ID()
	changes := map[string]any{}
	dirty := false

	for _, field := range mappedFields {
		raw, present := src.Value(field.sourceKey)
		if !present {
			continue
		}
		if field.overwritable != nil && !field.overwritable(existing) {
			continue
		}
		if !field.differs(existing, raw) {
			continue
		}
		previous := field.current(existing)
		field.apply(existing, raw)
		changes[field.sourceKey] = fieldChange{Old: previous, New: field.current(existing)}
		dirty = true
	}

	if value, present := src.BoolFlag(source.FieldMaintainStock); present && existing.ManageStock != value {
		changes[source.FieldMaintainStock] = fieldChange{Old: existing.ManageStock, New: value}
		existing.ManageStock = value
		dirty = true
	}
	if value, present := src.BoolFlag(source.FieldTaxable); present {
		next := taxStatus(value)
		if existing.TaxStatus != next {
			changes[source.FieldTaxable] = fieldChange{Old: existing.TaxStatus, New: next}
			existing.TaxStatus = next
			dirty = true
		}
	}

	// A disabled record is forced into draft, never the reverse: the flag
	// must not un-draft a record a human drafted for other reasons. Variant
	// status belongs to the parent.
	if src.Disabled() && existing.SupportsStatusForce() && existing.Status != catalog.StatusDraft {
		changes["status"] = fieldChange{Old: string(existing.Status), New: string(catalog.StatusDraft)}
		existing.Status = catalog.StatusDraft
		dirty = true
	}

	// Category reassignment compares against the category attribute as it
	// stood before this pass, so it has to run before the attribute table
	// below overwrites it. Variant categories belong to the parent record.
	if existing.SupportsCategoryAssign() {
		previousCategory, err := e.catalog.Attribute(ctx, existing.CatalogID, catalog.AttrSourceCategory)
		if err != nil {
			return e.failure(ctx, cfg, sourceID, existing.CatalogID, trigger, fmt.Errorf("category attribute: %w", err))
		}
		if src.Category() != previousCategory {
			if err := e.catalog.SetCategories(ctx, existing.CatalogID, cfg.Categories.Resolve(src.Category())); err != nil {
				return e.failure(ctx, cfg, sourceID, existing.CatalogID, trigger, fmt.Errorf("categories: %w", err))
			}
		}
	}

	for _, attr := range attributeFields {
		raw, present := src.Value(attr.sourceKey)
		if !present {
			continue
		}
		next := source.Stringify(raw)
		previous, err := e.catalog.Attribute(ctx, existing.CatalogID, attr.attribute)
		if err != nil {
			return e.failure(ctx, cfg, sourceID, existing.CatalogID, trigger, fmt.Errorf("attribute %s: %w", attr.sourceKey, err))
		}
		if previous == next {
			continue
		}
		if err := e.catalog.SetAttribute(ctx, existing.CatalogID, attr.attribute, next); err != nil {
			return e.failure(ctx, cfg, sourceID, existing.CatalogID, trigger, fmt.Errorf("attribute %s: %w", attr.sourceKey, err))
		}
		changes[attr.sourceKey] = fieldChange{Old: previous, New: next}
	}

	// The redundant id attribute is rewritten on every pass; it is the
	// fallback lookup path and self-heals if it was ever lost.
	if err := e.catalog.SetAttribute(ctx, existing.CatalogID, catalog.AttrSourceProductID, strconv.FormatInt(sourceID, 10)); err != nil {
		return e.failure(ctx, cfg, sourceID, existing.CatalogID, trigger, fmt.Errorf("id attribute: %w", err))
	}

	if dirty {
		if err := e.catalog.Save(ctx, existing); err != nil {
			return e.failure(ctx, cfg, sourceID, existing.CatalogID, trigger, fmt.Errorf("save: %w", err))
		}
		if change, ok := changes[fieldQuantity].(fieldChange); ok {
			if reloaded, err := e.catalog.Reload(ctx, existing.CatalogID); err == nil {
				changes[fieldQuantity] = quantityChange{Old: change.Old, New: change.New, Verified: reloaded.StockQuantity}
			}
		}
	}

	action := audit.ActionSkipped
	if len(changes) > 0 {
		action = audit.ActionUpdated
	}
	e.logSync(ctx, cfg, sourceID, existing.CatalogID, action, trigger, changes)

	if _, descriptionChanged := changes[source.FieldDescription]; descriptionChanged && cfg.RewriteEnabled {
		e.enrichDescription(ctx, existing, sourceID, cfg)
	}

	return Result{Action: action, RecordID: existing.CatalogID, Changes: changes}
}

// enrichDescription runs the rewrite hook after the field sync has been
// persisted and records its outcome as a separate log entry. A rewrite
// failure never reverses the sync that triggered it.
func (e *Engine) enrichDescription(ctx context.Context, record *catalog.Record, sourceID int64, cfg SyncConfig) {
	if e.rewriter == nil {
		return
	}
	if strings.TrimSpace(record.Description) == "" {
		e.logSync(ctx, cfg, sourceID, record.CatalogID, audit.ActionSkipped, audit.TriggerEnrichment, map[string]any{"reason": ReasonEmptyDescription})
		return
	}

	result, err := e.rewriter.Rewrite(ctx, record.Description, record.Name, cfg.Rewrite)
	if err != nil {
		payload := map[string]any{"error": err.Error()}
		if result.Log != nil {
			payload["exchange"] = result.Log
		}
		e.logSync(ctx, cfg, sourceID, record.CatalogID, audit.ActionError, audit.TriggerEnrichment, payload)
		e.logger.Warn("description rewrite failed",
			zap.Int64("source_product_id", sourceID),
			zap.String("catalog_record_id", record.CatalogID),
			zap.Error(err))
		return
	}
	if result.Text == record.Description {
		payload := map[string]any{"reason": ReasonUnchanged}
		if result.Log != nil {
			payload["exchange"] = result.Log
		}
		e.logSync(ctx, cfg, sourceID, record.CatalogID, audit.ActionSkipped, audit.TriggerEnrichment, payload)
		return
	}

	previous := record.Description
	record.Description = result.Text
	if err := e.catalog.Save(ctx, record); err != nil {
		e.logSync(ctx, cfg, sourceID, record.CatalogID, audit.ActionError, audit.TriggerEnrichment, map[string]any{"error": err.Error()})
		return
	}

	payload := map[string]any{
		source.FieldDescription: fieldChange{Old: previous, New: result.Text},
	}
	if result.Log != nil {
		payload["exchange"] = result.Log
	}
	e.logSync(ctx, cfg, sourceID, record.CatalogID, audit.ActionUpdated, audit.TriggerEnrichment, payload)
}

func (e *Engine) failure(ctx context.Context, cfg SyncConfig, sourceID int64, recordID string, trigger audit.Trigger, err error) Result {
	e.logger.Error("sync failed",
		zap.Int64("source_product_id", sourceID),
		zap.String("trigger", string(trigger)),
		zap.Error(err))
	e.logSync(ctx, cfg, sourceID, recordID, audit.ActionError, trigger, map[string]any{"error": err.Error()})
	return Result{Action: audit.ActionError, RecordID: recordID, Error: err.Error(), Changes: map[string]any{}}
}

func (e *Engine) logSync(ctx context.Context, cfg SyncConfig, sourceID int64, recordID string, action audit.Action, trigger audit.Trigger, changes map[string]any) {
	if err := e.audit.LogSync(ctx, cfg.LoggingLevel, sourceID, recordID, action, trigger, changes); err != nil {
		e.logger.Warn("sync log write failed",
			zap.Int64("source_product_id", sourceID),
			zap.Error(err))
	}
}
