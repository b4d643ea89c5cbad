package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dataforge/catalog-sync/internal/catalog"
)

const migrationBackfillSourceIDAttribute = "2026-08-12_backfill_source_id_attribute"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillSourceIDAttribute, apply: backfillSourceIDAttribute},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillSourceIDAttribute repairs records synced before the redundant id
// attribute existed: their SKU holds the Source id, so the fallback lookup
// row can be reconstructed from it.
func backfillSourceIDAttribute(db *gorm.DB) error {
	const insert = `
		INSERT INTO catalog_record_attributes (record_id, name, value)
		SELECT catalog_id, ?, sku FROM catalog_records
		WHERE kind = ? AND sku GLOB '[0-9]*'
		AND catalog_id NOT IN (
			SELECT record_id FROM catalog_record_attributes WHERE name = ?
		);`
	return db.Exec(insert, catalog.AttrSourceProductID, catalog.KindSimple, catalog.AttrSourceProductID).Error
}
