package extract

import "github.com/shopspring/decimal"

// FieldStatus tags one extracted field. Every raw field is exactly one
// of present, missing, or malformed; the normalizer consumes all three.
type FieldStatus string

const (
	FieldPresent   FieldStatus = "present"
	FieldMissing   FieldStatus = "missing"
	FieldMalformed FieldStatus = "malformed"
)

// RawField is a single field as handed over by the OCR/LLM extraction
// wrapper. Raw keeps the original text for malformed values.
type RawField struct {
	Status FieldStatus
	Raw    string
}

func Present(raw string) RawField { return RawField{Status: FieldPresent, Raw: raw} }
func Missing() RawField           { return RawField{Status: FieldMissing} }

// RawItem is one unnormalized invoice line from extraction.
type RawItem struct {
	Serial      RawField
	Description RawField
	HSNCode     RawField
	Quantity    RawField
	Unit        RawField
	UnitPrice   RawField
	TaxRate     RawField
	TaxAmount   RawField
	LineTotal   RawField
}

// FieldDefect records a per-field extraction problem on a line item.
// Defective lines are kept and flagged downstream, never dropped.
type FieldDefect struct {
	Field  string
	Raw    string
	Reason string
}

// LineItem is the canonical numeric form of one invoice line. Immutable
// once produced by Normalize.
type LineItem struct {
	Serial          int
	HSNCode         string
	Description     string
	NormalizedModel string
	Unit            string

	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal

	DeclaredRate decimal.NullDecimal
	DeclaredTax  decimal.NullDecimal
	LineTotal    decimal.NullDecimal

	// Set by catalog mapping when NormalizedModel matches a master
	// record.
	SKU    string
	Mapped bool

	Defects []FieldDefect
}

// Defective reports whether any field on the line failed extraction.
func (li LineItem) Defective() bool { return len(li.Defects) > 0 }

// DefectOn reports whether the named field failed extraction.
func (li LineItem) DefectOn(field string) bool {
	for _, d := range li.Defects {
		if d.Field == field {
			return true
		}
	}
	return false
}

// Computable reports whether the line carries the quantity and unit
// price needed to recompute its tax amount.
func (li LineItem) Computable() bool {
	return !li.DefectOn("quantity") && !li.DefectOn("unit_price")
}
