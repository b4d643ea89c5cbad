package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates that no catalog record matches the lookup.
	ErrNotFound = errors.New("catalog: record not found")

	errMissingDatabase = errors.New("catalog: database handle is required")
)

// StoreConfig bundles the dependencies of the catalog store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Store persists catalog records and their attribute fields.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
}

// NewStore validates dependencies and returns a catalog store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	return &Store{db: cfg.Database, clock: clock, idProvider: idProvider}, nil
}

// FindBySourceID locates the record correlated with a Source product id.
// Primary path is the unique SKU column; the redundant source-id attribute
// serves as fallback for record subtypes without a SKU, e.g. variants
// imported by other tooling.
func (s *Store) FindBySourceID(ctx context.Context, sourceID int64) (*Record, error) {
	sku := strconv.FormatInt(sourceID, 10)

	var record Record
	err := s.db.WithContext(ctx).Where("sku = ?", sku).Take(&record).Error
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("catalog: sku lookup: %w", err)
	}

	var attribute AttributeRow
	err = s.db.WithContext(ctx).
		Where("name = ? AND value = ?", AttrSourceProductID, sku).
		Take(&attribute).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: attribute lookup: %w", err)
	}

	return s.Reload(ctx, attribute.RecordID)
}

// Create persists a new record. The unique SKU index guards against the
// race between two concurrent create paths for the same Source id: when the
// insert conflicts, the winner's record is returned with created=false and
// the caller proceeds as an update.
func (s *Store) Create(ctx context.Context, record *Record) (*Record, bool, error) {
	if record.CatalogID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			return nil, false, fmt.Errorf("catalog: id generation: %w", err)
		}
		record.CatalogID = id
	}

	now := s.clock().UTC().Unix()
	record.CreatedAtSeconds = now
	record.UpdatedAtSeconds = now

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoNothing: true,
	}).Create(record)
	if result.Error != nil {
		return nil, false, fmt.Errorf("catalog: create: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		var winner Record
		if err := s.db.WithContext(ctx).Where("sku = ?", record.SKU).Take(&winner).Error; err != nil {
			return nil, false, fmt.Errorf("catalog: conflict re-lookup: %w", err)
		}
		return &winner, false, nil
	}

	return record, true, nil
}

// Save persists field changes on an existing record.
func (s *Store) Save(ctx context.Context, record *Record) error {
	record.UpdatedAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("catalog: save: %w", err)
	}
	return nil
}

// Reload fetches the current persisted state of a record.
func (s *Store) Reload(ctx context.Context, catalogID string) (*Record, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("catalog_id = ?", catalogID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: reload: %w", err)
	}
	return &record, nil
}

// SetCategories replaces the category assignments of a record.
func (s *Store) SetCategories(ctx context.Context, catalogID string, categoryIDs []int64) error {
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("catalog_id = ?", catalogID).
		Updates(map[string]any{
			"category_ids": datatypes.NewJSONSlice(categoryIDs),
			"updated_at_s": s.clock().UTC().Unix(),
		}).Error
	if err != nil {
		return fmt.Errorf("catalog: set categories: %w", err)
	}
	return nil
}

// Attribute returns the stored attribute value, or empty string when the
// attribute was never written.
func (s *Store) Attribute(ctx context.Context, recordID, name string) (string, error) {
	var row AttributeRow
	err := s.db.WithContext(ctx).
		Where("record_id = ? AND name = ?", recordID, name).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog: attribute read: %w", err)
	}
	return row.Value, nil
}

// SetAttribute upserts one attribute field.
func (s *Store) SetAttribute(ctx context.Context, recordID, name, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&AttributeRow{RecordID: recordID, Name: name, Value: value}).Error
	if err != nil {
		return fmt.Errorf("catalog: attribute write: %w", err)
	}
	return nil
}

// DistinctAttributeValues lists every distinct non-empty value stored under
// an attribute name. Category discovery uses this to recover Source
// category names from previously synced records.
func (s *Store) DistinctAttributeValues(ctx context.Context, name string) ([]string, error) {
	var values []string
	err := s.db.WithContext(ctx).Model(&AttributeRow{}).
		Distinct("value").
		Where("name = ? AND value != ''", name).
		Pluck("value", &values).Error
	if err != nil {
		return nil, fmt.Errorf("catalog: distinct attributes: %w", err)
	}
	return values, nil
}
