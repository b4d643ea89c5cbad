package category

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("category: database handle is required")

// Mapping binds one Source category name to the Catalog categories its
// records should be filed under. An absent row (or an empty id set) means
// the category is unmapped and its records are excluded from sync.
type Mapping struct {
	SourceName string                     `gorm:"column:source_name;primaryKey;size:190;not null"`
	CatalogIDs datatypes.JSONSlice[int64] `gorm:"column:catalog_ids"`
}

// TableName provides the explicit table binding for GORM.
func (Mapping) TableName() string {
	return "category_mappings"
}

// Policy is an immutable snapshot of the category map, taken once per sync
// invocation so an administrative change mid-batch cannot flip the gate for
// part of a batch.
type Policy map[string][]int64

// Allowed reports whether records in the named Source category are eligible
// for sync.
func (p Policy) Allowed(sourceName string) bool {
	if sourceName == "" {
		return false
	}
	return len(p[sourceName]) > 0
}

// Resolve returns the Catalog category ids mapped to the Source category,
// or an empty slice.
func (p Policy) Resolve(sourceName string) []int64 {
	return p[sourceName]
}

// StoreConfig bundles the dependencies of the category map store.
type StoreConfig struct {
	Database *gorm.DB
}

// Store persists the category map. Mutated only through explicit
// administrative action; read on every sync decision via Policy snapshots.
type Store struct {
	db *gorm.DB
}

// NewStore validates dependencies and returns a category map store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: cfg.Database}, nil
}

// Policy snapshots the full category map.
func (s *Store) Policy(ctx context.Context) (Policy, error) {
	var mappings []Mapping
	if err := s.db.WithContext(ctx).Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("category: load map: %w", err)
	}

	policy := make(Policy, len(mappings))
	for _, mapping := range mappings {
		policy[mapping.SourceName] = mapping.CatalogIDs
	}
	return policy, nil
}

// Save sets the mapping for one Source category. An empty id set removes
// the mapping, excluding the category from sync.
func (s *Store) Save(ctx context.Context, sourceName string, catalogIDs []int64) error {
	if sourceName == "" {
		return fmt.Errorf("category: source name is required")
	}

	if len(catalogIDs) == 0 {
		if err := s.db.WithContext(ctx).Delete(&Mapping{SourceName: sourceName}).Error; err != nil {
			return fmt.Errorf("category: unmap %s: %w", sourceName, err)
		}
		return nil
	}

	mapping := Mapping{SourceName: sourceName, CatalogIDs: datatypes.NewJSONSlice(catalogIDs)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"catalog_ids"}),
	}).Create(&mapping).Error
	if err != nil {
		return fmt.Errorf("category: save %s: %w", sourceName, err)
	}
	return nil
}
