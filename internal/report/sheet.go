package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Sheet column layouts. Kept stable: downstream tooling keys on these
// headers, mirroring the Review_Report / LineItem_Errors sheets the
// review workflow already consumes.
var (
	summaryHeader = []string{
		"InvoiceID", "DocNo", "SellerGstin", "Verdict", "Reason",
		"Lines", "Mapped", "Unmapped",
		"Taxable", "TaxTotal", "ExpectedTotal", "QRTotal", "Diff", "Mismatches",
	}
	mismatchHeader = []string{
		"InvoiceID", "Field", "Line", "Expected", "Actual", "Delta", "Severity", "Note",
	}
)

// WriteSummaryCSV renders one row per invoice.
func WriteSummaryCSV(w io.Writer, records []ReviewRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.InvoiceID, rec.DocNo, rec.SellerGSTIN, rec.Verdict, rec.FailureReason,
			strconv.Itoa(rec.LineCount), strconv.Itoa(rec.MappedItems), strconv.Itoa(rec.UnmappedItems),
			rec.Taxable, rec.TaxTotal,
			rec.ExpectedTotal, rec.QRTotal, rec.Diff,
			strconv.Itoa(len(rec.Mismatches)),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write summary row for %s: %w", rec.InvoiceID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMismatchCSV renders the mismatch sub-rows of all records, in
// record order then detection order.
func WriteMismatchCSV(w io.Writer, records []ReviewRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(mismatchHeader); err != nil {
		return fmt.Errorf("write mismatch header: %w", err)
	}
	for _, rec := range records {
		for _, m := range rec.Mismatches {
			line := ""
			if m.Line > 0 {
				line = strconv.Itoa(m.Line)
			}
			row := []string{m.InvoiceID, m.Field, line, m.Expected, m.Actual, m.Delta, m.Severity, m.Note}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write mismatch row for %s: %w", rec.InvoiceID, err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
