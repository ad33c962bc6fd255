package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/yourorg/gstrecon/apps/api/internal/extract"
	"github.com/yourorg/gstrecon/apps/api/internal/qrpayload"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictFlagged Verdict = "FLAGGED"
	VerdictFailed  Verdict = "FAILED"
)

// Mismatch is one detected discrepancy. Line is 1-based; 0 marks an
// invoice-level finding. Expected/Actual/Delta are pre-rounded strings
// so serialized results are byte-stable.
type Mismatch struct {
	Field    string   `json:"field"`
	Line     int      `json:"line,omitempty"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Delta    string   `json:"delta,omitempty"`
	Severity Severity `json:"severity"`
	Note     string   `json:"note,omitempty"`
}

// InvoiceMeta is invoice-identifying data from the extracted text,
// compared against the QR summary during identity checks.
type InvoiceMeta struct {
	InvoiceID   string
	DocNo       string
	SellerGSTIN string
	VendorName  string
}

// Input carries everything one reconciliation needs. QR is nil when
// the invoice had no QR code or its payload failed validation.
type Input struct {
	Meta  InvoiceMeta
	Items []extract.LineItem
	QR    *qrpayload.Summary
}

// Result is the terminal artifact of the engine: one per invoice,
// always, even on total failure.
type Result struct {
	InvoiceID string
	Meta      InvoiceMeta
	Items     []extract.LineItem
	QR        *qrpayload.Summary

	RecomputedTaxable decimal.Decimal
	RecomputedTax     decimal.Decimal

	// Mismatches appear in detection order: rate checks, then line
	// amounts, then invoice totals, then identity.
	Mismatches    []Mismatch
	Verdict       Verdict
	FailureReason string
}

// WorstSeverity returns the highest severity among the mismatches, or
// "" when there are none.
func (r Result) WorstSeverity() Severity {
	worst := Severity("")
	rank := -1
	for _, m := range r.Mismatches {
		if mr := severityRank(m.Severity); mr > rank {
			rank = mr
			worst = m.Severity
		}
	}
	return worst
}
