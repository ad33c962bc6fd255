package qrpayload

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Summary is the canonical record decoded from the authority's invoice
// QR payload. It is the trusted side of every reconciliation and is
// never mutated after parsing.
type Summary struct {
	SellerGSTIN string
	BuyerGSTIN  string
	DocNo       string
	DocType     string
	DocDate     time.Time
	DocDateRaw  string

	TotalInvoiceValue decimal.Decimal
	ItemCount         int
	MainHSNCode       string
	IRN               string
	IRNDate           string

	// Optional breakdown fields; older payload versions omit them.
	TaxableValue decimal.NullDecimal
	CGST         decimal.NullDecimal
	SGST         decimal.NullDecimal
	IGST         decimal.NullDecimal
}

// TaxTotal sums whichever of CGST/SGST/IGST the payload declared.
// The second return is false when none were present.
func (s Summary) TaxTotal() (decimal.Decimal, bool) {
	total := decimal.Zero
	present := false
	for _, part := range []decimal.NullDecimal{s.CGST, s.SGST, s.IGST} {
		if part.Valid {
			total = total.Add(part.Decimal)
			present = true
		}
	}
	return total, present
}

// MalformedPayloadErr reports a QR string that failed structural or
// signature-shape validation. Reconciliation must not proceed on it.
type MalformedPayloadErr struct {
	Reason string
	Err    error
}

func (e *MalformedPayloadErr) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed QR payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed QR payload: %s", e.Reason)
}

func (e *MalformedPayloadErr) Unwrap() error { return e.Err }
