package report

import (
	"github.com/yourorg/gstrecon/apps/api/internal/reconcile"
)

// ReviewRecord is the flat, sheet-ready shape of one reconciliation:
// a single summary row plus one sub-row per mismatch. Pure data, no
// decision logic.
type ReviewRecord struct {
	InvoiceID     string        `json:"invoiceId"`
	DocNo         string        `json:"docNo"`
	SellerGSTIN   string        `json:"sellerGstin"`
	Verdict       string        `json:"verdict"`
	FailureReason string        `json:"failureReason,omitempty"`
	LineCount     int           `json:"lineCount"`
	MappedItems   int           `json:"mappedItems"`
	UnmappedItems int           `json:"unmappedItems"`
	Taxable       string        `json:"taxable"`
	TaxTotal      string        `json:"taxTotal"`
	ExpectedTotal string        `json:"expectedTotal"`
	QRTotal       string        `json:"qrTotal"`
	Diff          string        `json:"diff"`
	Mismatches    []MismatchRow `json:"mismatches"`
}

// MismatchRow is one mismatch sub-row, in the engine's detection order.
type MismatchRow struct {
	InvoiceID string `json:"invoiceId"`
	Field     string `json:"field"`
	Line      int    `json:"line,omitempty"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Delta     string `json:"delta,omitempty"`
	Severity  string `json:"severity"`
	Note      string `json:"note,omitempty"`
}

// Build flattens a reconciliation result into its review record.
// Mismatch ordering is preserved exactly as detected.
func Build(res reconcile.Result) ReviewRecord {
	rec := ReviewRecord{
		InvoiceID:     res.InvoiceID,
		DocNo:         res.Meta.DocNo,
		SellerGSTIN:   res.Meta.SellerGSTIN,
		Verdict:       string(res.Verdict),
		FailureReason: res.FailureReason,
		LineCount:     len(res.Items),
		Taxable:       res.RecomputedTaxable.StringFixed(2),
		TaxTotal:      res.RecomputedTax.StringFixed(2),
		ExpectedTotal: res.RecomputedTaxable.Add(res.RecomputedTax).StringFixed(2),
		Mismatches:    make([]MismatchRow, 0, len(res.Mismatches)),
	}
	for _, li := range res.Items {
		if li.Mapped {
			rec.MappedItems++
		} else {
			rec.UnmappedItems++
		}
	}
	if res.QR != nil {
		rec.QRTotal = res.QR.TotalInvoiceValue.StringFixed(2)
		diff := res.RecomputedTaxable.Add(res.RecomputedTax).Sub(res.QR.TotalInvoiceValue)
		rec.Diff = diff.Round(2).StringFixed(2)
	}
	for _, m := range res.Mismatches {
		rec.Mismatches = append(rec.Mismatches, MismatchRow{
			InvoiceID: res.InvoiceID,
			Field:     m.Field,
			Line:      m.Line,
			Expected:  m.Expected,
			Actual:    m.Actual,
			Delta:     m.Delta,
			Severity:  string(m.Severity),
			Note:      m.Note,
		})
	}
	return rec
}
