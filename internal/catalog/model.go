package catalog

import (
	"gorm.io/datatypes"
)

// Kind distinguishes standalone records from variants of a parent record.
// Variants are produced by the hosting store, never by this system; they
// restrict which fields a sync pass may overwrite.
type Kind string

const (
	KindSimple  Kind = "simple"
	KindVariant Kind = "variant"
)

// Status enumerates catalog record publication states.
type Status string

const (
	StatusPublished Status = "published"
	StatusPending   Status = "pending"
	StatusDraft     Status = "draft"
)

// ParseStatus normalizes a configured status string, falling back to
// published for unknown values.
func ParseStatus(value string) Status {
	switch Status(value) {
	case StatusPublished, StatusPending, StatusDraft:
		return Status(value)
	default:
		return StatusPublished
	}
}

// Attribute names written by the sync engine that other components consult.
const (
	AttrSourceProductID = "_source_product_id"
	AttrSourceCategory  = "_source_category"
)

// Record is the destination catalog entity. The SKU column holds the Source
// product id and is the primary correlation key; AttrSourceProductID is kept
// redundantly for record subtypes that cannot be found through the SKU path.
type Record struct {
	CatalogID        string                      `gorm:"column:catalog_id;primaryKey;size:190;not null"`
	SKU              string                      `gorm:"column:sku;size:190;not null;uniqueIndex:idx_catalog_sku"`
	Kind             Kind                        `gorm:"column:kind;size:20;not null;default:'simple'"`
	ParentID         string                      `gorm:"column:parent_id;size:190;not null;default:''"`
	Name             string                      `gorm:"column:name;type:text;not null"`
	Description      string                      `gorm:"column:description;type:text;not null"`
	ShortDescription string                      `gorm:"column:short_description;type:text;not null;default:''"`
	RegularPrice     float64                     `gorm:"column:regular_price;not null;default:0"`
	StockQuantity    int64                       `gorm:"column:stock_quantity;not null;default:0"`
	MenuOrder        int64                       `gorm:"column:menu_order;not null;default:0"`
	Status           Status                      `gorm:"column:status;size:20;not null;default:'draft'"`
	TaxStatus        string                      `gorm:"column:tax_status;size:20;not null;default:''"`
	ManageStock      bool                        `gorm:"column:manage_stock;not null;default:true"`
	CategoryIDs      datatypes.JSONSlice[int64]  `gorm:"column:category_ids"`
	CreatedAtSeconds int64                       `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64                       `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "catalog_records"
}

// IsVariant reports whether the record is a variant subtype.
func (r *Record) IsVariant() bool {
	return r.Kind == KindVariant
}

// SupportsTitleOverwrite reports whether a sync pass may replace the title.
// Variant titles belong to the parent record.
func (r *Record) SupportsTitleOverwrite() bool {
	return r.Kind != KindVariant
}

// SupportsStatusForce reports whether the disabled-flag policy may force the
// record into draft status.
func (r *Record) SupportsStatusForce() bool {
	return r.Kind != KindVariant
}

// SupportsCategoryAssign reports whether a sync pass may reassign catalog
// categories. Variant categories belong to the parent record.
func (r *Record) SupportsCategoryAssign() bool {
	return r.Kind != KindVariant
}

// AttributeRow stores one opaque key/value attribute field of a record.
type AttributeRow struct {
	RecordID string `gorm:"column:record_id;primaryKey;size:190;not null"`
	Name     string `gorm:"column:name;primaryKey;size:190;not null;index:idx_catalog_attr_name"`
	Value    string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AttributeRow) TableName() string {
	return "catalog_record_attributes"
}
