package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/yourorg/gstrecon/apps/api/internal/extract"
)

// Entry is one master-catalog record, keyed by normalized model
// string. The JSON shape matches the on-disk catalog:
// {"sku": "...", "product_name": "...", "hsn_code": "94017900", "gst_rate": 18}.
type Entry struct {
	SKU         string              `json:"sku"`
	ProductName string              `json:"product_name,omitempty"`
	HSNCode     string              `json:"hsn_code,omitempty"`
	Rate        decimal.NullDecimal `json:"gst_rate,omitempty"`
}

// Catalog maps normalized model strings to master product records.
// Read-only after load; safe for concurrent use.
type Catalog struct {
	entries map[string]Entry
}

// New builds a catalog from raw entries, normalizing the keys the same
// way line-item descriptions are normalized so both sides of a lookup
// agree.
func New(entries map[string]Entry) *Catalog {
	normalized := make(map[string]Entry, len(entries))
	for model, e := range entries {
		key := extract.NormalizeModel(model)
		if key == "" {
			continue
		}
		normalized[key] = e
	}
	return &Catalog{entries: normalized}
}

// Load reads the master catalog file. A missing file yields an empty
// catalog, not an error; mapping then simply matches nothing.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("read master catalog %s: %w", path, err)
	}
	var entries map[string]Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse master catalog %s: %w", path, err)
	}
	return New(entries), nil
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Match looks up a normalized model string.
func (c *Catalog) Match(normalizedModel string) (Entry, bool) {
	if c == nil || normalizedModel == "" {
		return Entry{}, false
	}
	e, ok := c.entries[normalizedModel]
	return e, ok
}

// Annotate matches each line's normalized model against the catalog.
// A match marks the line Mapped and fills its SKU; when the extracted
// product code is missing or defective, the catalog's code replaces it
// so the rate resolver has something to resolve, and the defect is
// cleared because the code is now known. A declared rate absent from
// extraction is filled from the catalog record. Unmatched lines pass
// through untouched.
func (c *Catalog) Annotate(items []extract.LineItem) []extract.LineItem {
	for i, li := range items {
		e, ok := c.Match(li.NormalizedModel)
		if !ok {
			continue
		}
		li.Mapped = true
		li.SKU = e.SKU
		if e.HSNCode != "" && (li.HSNCode == "" || li.DefectOn("hsn_code")) {
			li.HSNCode = e.HSNCode
			li.Defects = dropDefect(li.Defects, "hsn_code")
		}
		if !li.DeclaredRate.Valid && e.Rate.Valid {
			li.DeclaredRate = e.Rate
		}
		items[i] = li
	}
	return items
}

func dropDefect(defects []extract.FieldDefect, field string) []extract.FieldDefect {
	kept := defects[:0]
	for _, d := range defects {
		if d.Field != field {
			kept = append(kept, d)
		}
	}
	return kept
}
