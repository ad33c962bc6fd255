package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/gstrecon/apps/api/internal/extract"
	"github.com/yourorg/gstrecon/apps/api/internal/gstrate"
	"github.com/yourorg/gstrecon/apps/api/internal/qrpayload"
)

type mapResolver struct {
	rates map[string]string
}

func (m mapResolver) Resolve(_ context.Context, code string) gstrate.Resolution {
	rate, ok := m.rates[code]
	if !ok {
		return gstrate.Resolution{Code: code, Source: gstrate.SourceUnknown}
	}
	return gstrate.Resolution{
		Code:   code,
		Rate:   decimal.RequireFromString(rate),
		Source: gstrate.SourceLocalCache,
	}
}

func testEngine(rates map[string]string) *Engine {
	return NewEngine(DefaultConfig(), mapResolver{rates: rates}, nil)
}

func line(hsn, qty, price, rate, tax, total string) extract.LineItem {
	li := extract.LineItem{
		HSNCode:   hsn,
		Quantity:  decimal.RequireFromString(qty),
		UnitPrice: decimal.RequireFromString(price),
	}
	if rate != "" {
		li.DeclaredRate = decimal.NullDecimal{Decimal: decimal.RequireFromString(rate), Valid: true}
	}
	if tax != "" {
		li.DeclaredTax = decimal.NullDecimal{Decimal: decimal.RequireFromString(tax), Valid: true}
	}
	if total != "" {
		li.LineTotal = decimal.NullDecimal{Decimal: decimal.RequireFromString(total), Valid: true}
	}
	return li
}

func qr(docNo, seller, total string) *qrpayload.Summary {
	return &qrpayload.Summary{
		DocNo:             docNo,
		SellerGSTIN:       seller,
		TotalInvoiceValue: decimal.RequireFromString(total),
	}
}

func meta(docNo, seller string) InvoiceMeta {
	return InvoiceMeta{InvoiceID: docNo, DocNo: docNo, SellerGSTIN: seller}
}

func criticalCount(res Result) int {
	n := 0
	for _, m := range res.Mismatches {
		if m.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

func TestReconcileCleanInvoicePasses(t *testing.T) {
	// 2 x 500 @ 18% = 180; grand total 1180.
	items := []extract.LineItem{line("94035000", "2", "500", "18", "180.00", "1000.00")}
	res := testEngine(map[string]string{"94035000": "18"}).
		Reconcile(context.Background(), Input{
			Meta:  meta("INV-001", "29AABCT1332L000"),
			Items: items,
			QR:    qr("INV-001", "29AABCT1332L000", "1180.00"),
		})

	require.Equal(t, VerdictPass, res.Verdict)
	assert.Empty(t, res.Mismatches)
	assert.Equal(t, "1000.00", res.RecomputedTaxable.StringFixed(2))
	assert.Equal(t, "180.00", res.RecomputedTax.StringFixed(2))
}

func TestReconcileRoundingLaw(t *testing.T) {
	// 3 x 33.335 @ 18% = 18.0009 -> 18.00 after round-half-up, so a
	// declared tax of 18.00 must not mismatch.
	items := []extract.LineItem{line("94035000", "3", "33.335", "18", "18.00", "100.01")}
	res := testEngine(map[string]string{"94035000": "18"}).
		Reconcile(context.Background(), Input{
			Meta:  meta("INV-002", "29AABCT1332L000"),
			Items: items,
			QR:    qr("INV-002", "29AABCT1332L000", "118.01"),
		})

	require.Equal(t, VerdictPass, res.Verdict, "mismatches: %+v", res.Mismatches)
	assert.Equal(t, "18.00", res.RecomputedTax.StringFixed(2))
}

func TestReconcileZeroLinesFails(t *testing.T) {
	res := testEngine(nil).Reconcile(context.Background(), Input{
		Meta: meta("INV-003", "29AABCT1332L000"),
		QR:   qr("INV-003", "29AABCT1332L000", "100.00"),
	})
	require.Equal(t, VerdictFailed, res.Verdict)
	assert.Empty(t, res.Mismatches)
	assert.Equal(t, "no line items extracted", res.FailureReason)
}

func TestReconcileAbsentQRFails(t *testing.T) {
	items := []extract.LineItem{line("94035000", "1", "100", "18", "18", "100")}
	res := testEngine(nil).Reconcile(context.Background(), Input{
		Meta:  meta("INV-004", "29AABCT1332L000"),
		Items: items,
	})
	require.Equal(t, VerdictFailed, res.Verdict)
	assert.Empty(t, res.Mismatches)
}

func TestReconcileIdentityMismatchIsCritical(t *testing.T) {
	items := []extract.LineItem{line("94035000", "1", "100", "18", "18.00", "100.00")}
	res := testEngine(map[string]string{"94035000": "18"}).
		Reconcile(context.Background(), Input{
			Meta:  meta("INV-002", "29AABCT1332L000"),
			Items: items,
			QR:    qr("INV-001", "29AABCT1332L000", "118.00"),
		})

	require.Equal(t, VerdictFlagged, res.Verdict)
	require.Equal(t, 1, criticalCount(res))
	last := res.Mismatches[len(res.Mismatches)-1]
	assert.Equal(t, "invoice_number", last.Field)
	assert.Equal(t, SeverityCritical, last.Severity)
	assert.Equal(t, "INV-001", last.Expected)
	assert.Equal(t, "INV-002", last.Actual)
}

func TestReconcileIdentityAbsentFails(t *testing.T) {
	items := []extract.LineItem{line("94035000", "1", "100", "18", "18.00", "100.00")}
	res := testEngine(map[string]string{"94035000": "18"}).
		Reconcile(context.Background(), Input{
			Meta:  InvoiceMeta{InvoiceID: "upload-7"},
			Items: items,
			QR:    qr("INV-001", "29AABCT1332L000", "118.00"),
		})
	assert.Equal(t, VerdictFailed, res.Verdict)
	assert.Equal(t, "identity fields absent", res.FailureReason)
}

func TestReconcileToleranceBoundary(t *testing.T) {
	// Line total 100 -> tolerance = min(1 unit, 1% of 100) = 1.00.
	// Expected tax 18.00.
	cases := []struct {
		name     string
		declared string
		severity Severity // "" means no mismatch
	}{
		{"exactly at tolerance", "19.00", ""},
		{"just above tolerance", "19.01", SeverityWarning},
		{"within critical multiplier", "23.00", SeverityWarning},
		{"beyond critical multiplier", "24.01", SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items := []extract.LineItem{line("94035000", "1", "100", "18", tc.declared, "100.00")}
			grand := decimal.NewFromInt(118).StringFixed(2)
			res := testEngine(map[string]string{"94035000": "18"}).
				Reconcile(context.Background(), Input{
					Meta:  meta("INV-005", "29AABCT1332L000"),
					Items: items,
					QR:    qr("INV-005", "29AABCT1332L000", grand),
				})

			var taxMismatch *Mismatch
			for i, m := range res.Mismatches {
				if m.Field == "tax_amount" {
					taxMismatch = &res.Mismatches[i]
				}
			}
			if tc.severity == "" {
				assert.Nil(t, taxMismatch, "unexpected mismatch: %+v", taxMismatch)
			} else {
				require.NotNil(t, taxMismatch)
				assert.Equal(t, tc.severity, taxMismatch.Severity)
			}
		})
	}
}

func TestReconcileUnresolvedRateIsCritical(t *testing.T) {
	items := []extract.LineItem{line("99999999", "1", "100", "", "18.00", "100.00")}
	res := testEngine(nil). // resolver knows nothing
				Reconcile(context.Background(), Input{
			Meta:  meta("INV-006", "29AABCT1332L000"),
			Items: items,
			QR:    qr("INV-006", "29AABCT1332L000", "118.00"),
		})

	require.Equal(t, VerdictFlagged, res.Verdict)
	found := false
	for _, m := range res.Mismatches {
		if m.Field == "tax_amount" && m.Line == 1 {
			found = true
			assert.Equal(t, SeverityCritical, m.Severity)
		}
	}
	assert.True(t, found, "expected a critical tax_amount mismatch, got %+v", res.Mismatches)
}

func TestReconcileRateDriftWarning(t *testing.T) {
	// Declared 18 is a valid slab but the resolver says 12: trust the
	// declared rate for recomputation, warn about the drift.
	items := []extract.LineItem{line("94036000", "1", "100", "18", "18.00", "100.00")}
	res := testEngine(map[string]string{"94036000": "12"}).
		Reconcile(context.Background(), Input{
			Meta:  meta("INV-007", "29AABCT1332L000"),
			Items: items,
			QR:    qr("INV-007", "29AABCT1332L000", "118.00"),
		})

	require.Equal(t, VerdictFlagged, res.Verdict)
	require.NotEmpty(t, res.Mismatches)
	first := res.Mismatches[0]
	assert.Equal(t, "tax_rate", first.Field)
	assert.Equal(t, SeverityWarning, first.Severity)
	assert.Equal(t, "12", first.Expected)
	assert.Equal(t, "18", first.Actual)
}

func TestReconcileImplausibleDeclaredRateUsesResolved(t *testing.T) {
	// Declared 10 is not a GST slab; the resolved 12 governs and the
	// swap surfaces as INFO, which does not flag the invoice.
	items := []extract.LineItem{line("94036000", "1", "100", "10", "12.00", "100.00")}
	res := testEngine(map[string]string{"94036000": "12"}).
		Reconcile(context.Background(), Input{
			Meta:  meta("INV-008", "29AABCT1332L000"),
			Items: items,
			QR:    qr("INV-008", "29AABCT1332L000", "112.00"),
		})

	require.Equal(t, VerdictPass, res.Verdict, "mismatches: %+v", res.Mismatches)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, SeverityInfo, res.Mismatches[0].Severity)
}

func TestReconcileDefectiveLineFlaggedNotDropped(t *testing.T) {
	defective := extract.LineItem{
		HSNCode:     "94035000",
		Description: "Chair",
		Defects: []extract.FieldDefect{
			{Field: "quantity", Raw: "three", Reason: "unparseable number"},
		},
		LineTotal:   decimal.NullDecimal{Decimal: decimal.RequireFromString("100.00"), Valid: true},
		DeclaredTax: decimal.NullDecimal{Decimal: decimal.RequireFromString("18.00"), Valid: true},
	}
	res := testEngine(map[string]string{"94035000": "18"}).
		Reconcile(context.Background(), Input{
			Meta:  meta("INV-009", "29AABCT1332L000"),
			Items: []extract.LineItem{defective},
			QR:    qr("INV-009", "29AABCT1332L000", "118.00"),
		})

	require.Equal(t, VerdictFlagged, res.Verdict)
	assert.Equal(t, "quantity", res.Mismatches[0].Field)
	assert.Equal(t, SeverityWarning, res.Mismatches[0].Severity)
	// Declared figures still feed the invoice totals.
	assert.Equal(t, "100.00", res.RecomputedTaxable.StringFixed(2))
	assert.Equal(t, "18.00", res.RecomputedTax.StringFixed(2))
}

func TestReconcileInvoiceTotalsAgainstQRBreakdown(t *testing.T) {
	items := []extract.LineItem{line("94035000", "2", "500", "18", "180.00", "1000.00")}
	summary := qr("INV-010", "29AABCT1332L000", "1180.00")
	summary.TaxableValue = decimal.NullDecimal{Decimal: decimal.RequireFromString("900.00"), Valid: true}
	summary.CGST = decimal.NullDecimal{Decimal: decimal.RequireFromString("90.00"), Valid: true}
	summary.SGST = decimal.NullDecimal{Decimal: decimal.RequireFromString("80.00"), Valid: true}

	res := testEngine(map[string]string{"94035000": "18"}).
		Reconcile(context.Background(), Input{
			Meta:  meta("INV-010", "29AABCT1332L000"),
			Items: items,
			QR:    summary,
		})

	require.Equal(t, VerdictFlagged, res.Verdict)
	fields := make([]string, 0, len(res.Mismatches))
	for _, m := range res.Mismatches {
		fields = append(fields, m.Field)
	}
	assert.Equal(t, []string{"taxable_value", "tax_total"}, fields)
}

func TestReconcileIdempotent(t *testing.T) {
	items := []extract.LineItem{
		line("94035000", "2", "500", "18", "175.00", "1000.00"),
		line("94036000", "1", "250", "", "30.00", "250.00"),
	}
	input := Input{
		Meta:  meta("INV-011", "29AABCT1332L000"),
		Items: items,
		QR:    qr("INV-011", "29AABCT1332L000", "1475.00"),
	}
	engine := testEngine(map[string]string{"94035000": "18", "94036000": "12"})

	first := engine.Reconcile(context.Background(), input)
	second := engine.Reconcile(context.Background(), input)
	require.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "serialized results must be byte-identical")
}

func TestReconcileUnresolvedRateOnNonComputableLine(t *testing.T) {
	// Quantity failed extraction AND the code resolves nowhere; the
	// line must still carry the CRITICAL unresolved-rate finding, not
	// just the extraction WARNING.
	li := line("99999999", "1", "0", "", "", "450.00")
	li.Defects = append(li.Defects, extract.FieldDefect{Field: "quantity", Raw: "??", Reason: "unparseable number"})

	res := testEngine(nil).Reconcile(context.Background(), Input{
		Meta:  meta("INV-012", "29AABCT1332L000"),
		Items: []extract.LineItem{li},
		QR:    qr("INV-012", "29AABCT1332L000", "450.00"),
	})

	require.Equal(t, VerdictFlagged, res.Verdict)
	critical := make([]Mismatch, 0, 1)
	for _, m := range res.Mismatches {
		if m.Severity == SeverityCritical {
			critical = append(critical, m)
		}
	}
	require.Len(t, critical, 1)
	assert.Equal(t, "tax_amount", critical[0].Field)
	assert.Equal(t, 1, critical[0].Line)
	assert.Contains(t, critical[0].Note, "rate unresolved")
}
