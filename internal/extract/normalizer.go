package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	currencyMarks = strings.NewReplacer("₹", "", "INR", "", "Rs.", "", "Rs", "", ",", "")
	bracketedHSN  = regexp.MustCompile(`\(\d+\)`)
	multiSpace    = regexp.MustCompile(`\s+`)
)

// Normalize coerces raw extracted items into canonical LineItems.
// Unparseable fields become FieldDefects on the line rather than
// dropping it; exact duplicates from repeated OCR passes (same code,
// quantity, unit price) are removed, first occurrence kept.
func Normalize(raw []RawItem) []LineItem {
	items := make([]LineItem, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for i, r := range raw {
		li := normalizeOne(i+1, r)
		if li.Computable() && !li.DefectOn("hsn_code") {
			key := li.HSNCode + "|" + li.Quantity.String() + "|" + li.UnitPrice.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		items = append(items, li)
	}
	return items
}

func normalizeOne(serial int, r RawItem) LineItem {
	li := LineItem{Serial: serial}

	if n, ok := parseInt(r.Serial); ok {
		li.Serial = n
	}
	li.Description = strings.TrimSpace(r.Description.Raw)
	li.NormalizedModel = NormalizeModel(li.Description)
	li.Unit = strings.TrimSpace(r.Unit.Raw)

	li.HSNCode = strings.TrimSpace(r.HSNCode.Raw)
	if li.HSNCode == "" {
		li.addDefect("hsn_code", r.HSNCode.Raw, "missing product code")
	}

	if qty, defect := coerceAmount("quantity", r.Quantity); defect != nil {
		li.Defects = append(li.Defects, *defect)
	} else if qty.Sign() <= 0 {
		li.addDefect("quantity", r.Quantity.Raw, "quantity must be positive")
	} else {
		li.Quantity = qty
	}

	if price, defect := coerceAmount("unit_price", r.UnitPrice); defect != nil {
		li.Defects = append(li.Defects, *defect)
	} else if price.Sign() < 0 {
		li.addDefect("unit_price", r.UnitPrice.Raw, "unit price must be non-negative")
	} else {
		li.UnitPrice = price
	}

	li.DeclaredRate = coerceOptional(&li, "tax_rate", r.TaxRate)
	if li.DeclaredRate.Valid {
		rate := li.DeclaredRate.Decimal
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
			li.addDefect("tax_rate", r.TaxRate.Raw, "rate outside 0-100")
			li.DeclaredRate = decimal.NullDecimal{}
		}
	}
	li.DeclaredTax = coerceOptional(&li, "tax_amount", r.TaxAmount)
	li.LineTotal = coerceOptional(&li, "line_total", r.LineTotal)

	return li
}

func (li *LineItem) addDefect(field, raw, reason string) {
	li.Defects = append(li.Defects, FieldDefect{Field: field, Raw: raw, Reason: reason})
}

// coerceAmount handles required numeric fields; missing counts as a
// defect because the engine cannot recompute without it.
func coerceAmount(field string, f RawField) (decimal.Decimal, *FieldDefect) {
	switch f.Status {
	case FieldPresent:
	case FieldMalformed:
		return decimal.Decimal{}, &FieldDefect{Field: field, Raw: f.Raw, Reason: "marked malformed by extraction"}
	default:
		return decimal.Decimal{}, &FieldDefect{Field: field, Reason: "field missing from extraction"}
	}
	d, err := ParseAmount(f.Raw)
	if err != nil {
		return decimal.Decimal{}, &FieldDefect{Field: field, Raw: f.Raw, Reason: "unparseable number"}
	}
	return d, nil
}

// coerceOptional handles fields the engine can work around (declared
// rate/tax/total): missing stays null without a defect, malformed text
// is a defect.
func coerceOptional(li *LineItem, field string, f RawField) decimal.NullDecimal {
	switch f.Status {
	case FieldPresent:
	case FieldMalformed:
		li.addDefect(field, f.Raw, "marked malformed by extraction")
		return decimal.NullDecimal{}
	default:
		return decimal.NullDecimal{}
	}
	if strings.TrimSpace(f.Raw) == "" {
		return decimal.NullDecimal{}
	}
	d, err := ParseAmount(f.Raw)
	if err != nil {
		li.addDefect(field, f.Raw, "unparseable number")
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// ParseAmount coerces free text like "₹ 1,250.50" or "18%" or
// "120.00 NOS" into a decimal. The first numeric token wins when the
// OCR glued a unit onto the number.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := currencyMarks.Replace(strings.TrimSpace(raw))
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	s = strings.TrimSpace(s)
	if d, err := decimal.NewFromString(s); err == nil {
		return d, nil
	}
	fields := strings.Fields(s)
	if len(fields) > 1 {
		return decimal.NewFromString(fields[0])
	}
	return decimal.Decimal{}, &strconv.NumError{Func: "ParseAmount", Num: raw, Err: strconv.ErrSyntax}
}

// NormalizeModel canonicalizes a description for master-data matching:
// uppercase, model-number prefix and bracketed HSN stripped, spaces
// collapsed.
func NormalizeModel(desc string) string {
	s := strings.ToUpper(desc)
	s = strings.ReplaceAll(s, "MODEL NO", "")
	s = bracketedHSN.ReplaceAllString(s, "")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func parseInt(f RawField) (int, bool) {
	if f.Status != FieldPresent {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(f.Raw))
	if err != nil {
		return 0, false
	}
	return n, true
}
