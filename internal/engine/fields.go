package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/dataforge/catalog-sync/internal/catalog"
	"github.com/dataforge/catalog-sync/internal/source"
)

// Source field names consumed by the mapped-field and attribute tables, in
// addition to the well-known names declared by the source package.
const (
	fieldLongDescription = "long_description"
	fieldPriceRetail     = "price_retail"
	fieldQuantity        = "quantity"
	fieldSortOrder       = "sort_order"
)

// priceEpsilon is the tolerance below which two prices compare equal; the
// Source API renders prices as strings and re-parsing can wobble in the last
// decimal places.
const priceEpsilon = 0.0001

// fieldChange is the old/new diff entry recorded per changed field.
type fieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// quantityChange extends the stock diff with the value re-read after
// persistence, since the storage layer may normalize stock counts.
type quantityChange struct {
	Old      any   `json:"old"`
	New      any   `json:"new"`
	Verified int64 `json:"verified"`
}

// mappedField binds one Source field to a catalog record column with its
// comparison and assignment semantics. A static table instead of
// name-to-setter dispatch keeps the per-field rules typed and reviewable.
type mappedField struct {
	sourceKey string
	// overwritable gates the field per record kind on update; nil means
	// every kind accepts it. Titles belong to a variant's parent.
	overwritable func(*catalog.Record) bool
	current      func(*catalog.Record) any
	differs      func(*catalog.Record, any) bool
	apply        func(*catalog.Record, any)
}

var mappedFields = []mappedField{
	{
		sourceKey:    source.FieldName,
		overwritable: (*catalog.Record).SupportsTitleOverwrite,
		current:      func(r *catalog.Record) any { return r.Name },
		differs: func(r *catalog.Record, raw any) bool {
			return normalizeText(r.Name) != normalizeText(toText(raw))
		},
		apply: func(r *catalog.Record, raw any) { r.Name = normalizeText(toText(raw)) },
	},
	{
		sourceKey: source.FieldDescription,
		current:   func(r *catalog.Record) any { return r.Description },
		differs: func(r *catalog.Record, raw any) bool {
			return normalizeText(r.Description) != normalizeText(toText(raw))
		},
		apply: func(r *catalog.Record, raw any) { r.Description = normalizeText(toText(raw)) },
	},
	{
		sourceKey: fieldLongDescription,
		current:   func(r *catalog.Record) any { return r.ShortDescription },
		differs: func(r *catalog.Record, raw any) bool {
			return normalizeText(r.ShortDescription) != normalizeText(toText(raw))
		},
		apply: func(r *catalog.Record, raw any) { r.ShortDescription = normalizeText(toText(raw)) },
	},
	{
		sourceKey: fieldPriceRetail,
		current:   func(r *catalog.Record) any { return r.RegularPrice },
		differs: func(r *catalog.Record, raw any) bool {
			return math.Abs(r.RegularPrice-toFloat(raw)) > priceEpsilon
		},
		apply: func(r *catalog.Record, raw any) { r.RegularPrice = toFloat(raw) },
	},
	{
		sourceKey: fieldQuantity,
		current:   func(r *catalog.Record) any { return r.StockQuantity },
		differs: func(r *catalog.Record, raw any) bool {
			return r.StockQuantity != toInt(raw)
		},
		apply: func(r *catalog.Record, raw any) { r.StockQuantity = toInt(raw) },
	},
	{
		sourceKey: fieldSortOrder,
		current:   func(r *catalog.Record) any { return r.MenuOrder },
		differs: func(r *catalog.Record, raw any) bool {
			return r.MenuOrder != toInt(raw)
		},
		apply: func(r *catalog.Record, raw any) { r.MenuOrder = toInt(raw) },
	},
}

// attributeField binds one Source field to the catalog attribute row it is
// mirrored into. Diffed by string identity after canonical serialization.
type attributeField struct {
	sourceKey string
	attribute string
}

var attributeFields = []attributeField{
	{sourceKey: "price_cost", attribute: "_source_price_cost"},
	{sourceKey: "price_wholesale", attribute: "_source_price_wholesale"},
	{sourceKey: source.FieldCategory, attribute: catalog.AttrSourceCategory},
	{sourceKey: "category_path", attribute: "_source_category_path"},
	{sourceKey: "upc_code", attribute: "_source_upc_code"},
	{sourceKey: "condition", attribute: "_source_condition"},
	{sourceKey: "physical_location", attribute: "_source_physical_location"},
	{sourceKey: "serialized", attribute: "_source_serialized"},
	{sourceKey: "notes", attribute: "_source_notes"},
	{sourceKey: "reorder_at", attribute: "_source_reorder_at"},
	{sourceKey: "desired_stock_level", attribute: "_source_desired_stock_level"},
	{sourceKey: "discount_percent", attribute: "_source_discount_percent"},
	{sourceKey: "warranty", attribute: "_source_warranty"},
	{sourceKey: "warranty_template_id", attribute: "_source_warranty_template_id"},
	{sourceKey: "qb_item_id", attribute: "_source_qb_item_id"},
	{sourceKey: "tax_rate_id", attribute: "_source_tax_rate_id"},
	{sourceKey: "vendor_ids", attribute: "_source_vendor_ids"},
	{sourceKey: "location_quantities", attribute: "_source_location_quantities"},
	{sourceKey: "since_updated_at", attribute: "_source_since_updated_at"},
}

// normalizeText canonicalizes a text field for comparison and storage:
// Windows line endings collapse to newlines and surrounding whitespace is
// stripped, so cosmetic re-encodings do not register as changes.
func normalizeText(value string) string {
	return strings.TrimSpace(strings.ReplaceAll(value, "\r\n", "\n"))
}

func toText(raw any) string {
	return source.Stringify(raw)
}

func toFloat(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		return parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func toInt(raw any) int64 {
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return int64(toFloat(raw))
		}
		return parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return int64(toFloat(raw))
		}
		return parsed
	default:
		return 0
	}
}

func taxStatus(taxable bool) string {
	if taxable {
		return "taxable"
	}
	return "none"
}
