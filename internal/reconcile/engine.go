package reconcile

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/gstrecon/apps/api/internal/extract"
	"github.com/yourorg/gstrecon/apps/api/internal/gstrate"
)

// RateResolver is the slice of the rate service the engine needs.
type RateResolver interface {
	Resolve(ctx context.Context, code string) gstrate.Resolution
}

// Engine aligns normalized line items against the QR summary,
// recomputes tax from resolved rates, and emits mismatches in a fixed
// order. Identical inputs against a warm rate cache yield identical
// results; rate resolutions are captured per invocation and re-joined
// to lines by position.
type Engine struct {
	cfg    Config
	rates  RateResolver
	logger *slog.Logger
}

func NewEngine(cfg Config, rates RateResolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, rates: rates, logger: logger}
}

// Reconcile produces exactly one Result per invoice. Data-quality
// problems become Mismatches or a FAILED verdict, never an error.
func (e *Engine) Reconcile(ctx context.Context, in Input) Result {
	res := Result{
		InvoiceID:  invoiceID(in.Meta),
		Meta:       in.Meta,
		Items:      in.Items,
		QR:         in.QR,
		Mismatches: []Mismatch{},
	}

	if in.QR == nil {
		res.Verdict = VerdictFailed
		res.FailureReason = "qr summary absent or unverified"
		return res
	}
	if len(in.Items) == 0 {
		res.Verdict = VerdictFailed
		res.FailureReason = "no line items extracted"
		return res
	}

	resolutions := e.resolveRates(ctx, in.Items)

	// Step 1: effective rate per line + declared-vs-resolved drift.
	effective := make([]decimal.NullDecimal, len(in.Items))
	for i, li := range in.Items {
		effective[i] = e.checkRate(&res, i, li, resolutions[i])
	}

	// Step 2: per-line recomputation and amount comparison.
	taxable := decimal.Zero
	taxTotal := decimal.Zero
	for i, li := range in.Items {
		lineTaxable, lineTax := e.checkLine(&res, i, li, effective[i])
		taxable = taxable.Add(lineTaxable)
		taxTotal = taxTotal.Add(lineTax)
	}
	res.RecomputedTaxable = taxable.Round(2)
	res.RecomputedTax = taxTotal.Round(2)

	// Step 3: invoice-level totals against the QR summary.
	if in.QR.TaxableValue.Valid {
		e.appendAmountMismatch(&res, "taxable_value", 0, res.RecomputedTaxable, in.QR.TaxableValue.Decimal, res.RecomputedTaxable)
	}
	if declaredTax, ok := in.QR.TaxTotal(); ok {
		e.appendAmountMismatch(&res, "tax_total", 0, res.RecomputedTax, declaredTax, res.RecomputedTaxable)
	}
	grand := res.RecomputedTaxable.Add(res.RecomputedTax)
	e.appendAmountMismatch(&res, "grand_total", 0, grand, in.QR.TotalInvoiceValue, grand)

	// Step 4: identity cross-check. A mismatch here means the wrong
	// invoice was paired with this QR, so it is always CRITICAL;
	// absence of identity fields fails the invoice outright.
	identityMissing := e.checkIdentity(&res, in)

	switch {
	case identityMissing:
		res.Verdict = VerdictFailed
		res.FailureReason = "identity fields absent"
	case severityRank(res.WorstSeverity()) >= severityRank(SeverityWarning):
		res.Verdict = VerdictFlagged
	default:
		res.Verdict = VerdictPass
	}
	return res
}

// resolveRates fetches rates for all lines concurrently but joins the
// results back by line index, keeping downstream output deterministic.
func (e *Engine) resolveRates(ctx context.Context, items []extract.LineItem) []gstrate.Resolution {
	out := make([]gstrate.Resolution, len(items))
	eg, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.ResolveConcurrency
	if limit <= 0 {
		limit = 1
	}
	eg.SetLimit(limit)
	for i, li := range items {
		if li.HSNCode == "" {
			out[i] = gstrate.Resolution{Source: gstrate.SourceUnknown}
			continue
		}
		i, li := i, li
		eg.Go(func() error {
			out[i] = e.rates.Resolve(gctx, li.HSNCode)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// checkRate picks the effective rate for a line. A plausible declared
// rate is trusted but cross-checked against the resolved one; an
// implausible or absent declared rate falls back to the resolver.
func (e *Engine) checkRate(res *Result, idx int, li extract.LineItem, resolution gstrate.Resolution) decimal.NullDecimal {
	line := idx + 1
	declaredPlausible := li.DeclaredRate.Valid && e.cfg.plausibleRate(li.DeclaredRate.Decimal)

	if declaredPlausible {
		declared := li.DeclaredRate.Decimal
		if resolution.Known() {
			drift := declared.Sub(resolution.Rate).Abs()
			if drift.GreaterThan(e.cfg.RateDriftTolerance) {
				res.Mismatches = append(res.Mismatches, Mismatch{
					Field:    "tax_rate",
					Line:     line,
					Expected: resolution.Rate.String(),
					Actual:   declared.String(),
					Delta:    drift.String(),
					Severity: SeverityWarning,
					Note:     "declared rate differs from resolved rate for " + li.HSNCode,
				})
			}
		}
		return decimal.NullDecimal{Decimal: declared, Valid: true}
	}

	if resolution.Known() {
		if li.DeclaredRate.Valid {
			res.Mismatches = append(res.Mismatches, Mismatch{
				Field:    "tax_rate",
				Line:     line,
				Expected: resolution.Rate.String(),
				Actual:   li.DeclaredRate.Decimal.String(),
				Severity: SeverityInfo,
				Note:     "declared rate outside GST slabs; resolved rate used",
			})
		}
		return decimal.NullDecimal{Decimal: resolution.Rate, Valid: true}
	}
	return decimal.NullDecimal{}
}

// checkLine recomputes one line's tax and compares declared amounts.
// Returns the line's contribution to (taxable, tax) totals.
func (e *Engine) checkLine(res *Result, idx int, li extract.LineItem, rate decimal.NullDecimal) (decimal.Decimal, decimal.Decimal) {
	line := idx + 1

	// Extraction defects downgrade the line but never discard it.
	for _, d := range li.Defects {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Field:    d.Field,
			Line:     line,
			Actual:   d.Raw,
			Severity: SeverityWarning,
			Note:     d.Reason,
		})
	}

	if !li.Computable() {
		// An unresolved rate is CRITICAL even when the line cannot be
		// recomputed anyway; the reviewer must see both problems.
		if !rate.Valid {
			res.Mismatches = append(res.Mismatches, unresolvedRateMismatch(line, li))
		}
		// No basis to recompute; fall back to declared figures so the
		// invoice totals still reflect the line.
		taxable := decimal.Zero
		if li.LineTotal.Valid {
			taxable = li.LineTotal.Decimal.Round(2)
		}
		tax := decimal.Zero
		if li.DeclaredTax.Valid {
			tax = li.DeclaredTax.Decimal.Round(2)
		}
		return taxable, tax
	}

	product := li.Quantity.Mul(li.UnitPrice)
	lineTotal := product.Round(2)

	if li.LineTotal.Valid {
		e.appendAmountMismatch(res, "line_total", line, lineTotal, li.LineTotal.Decimal, lineTotal)
	}

	if !rate.Valid {
		res.Mismatches = append(res.Mismatches, unresolvedRateMismatch(line, li))
		tax := decimal.Zero
		if li.DeclaredTax.Valid {
			tax = li.DeclaredTax.Decimal.Round(2)
		}
		return lineTotal, tax
	}

	// Round half-up on the full product, per the invoice rounding rule:
	// tax = round(quantity x price x rate/100, 2).
	expectedTax := product.Mul(rate.Decimal.Shift(-2)).Round(2)

	if li.DeclaredTax.Valid {
		e.appendAmountMismatch(res, "tax_amount", line, expectedTax, li.DeclaredTax.Decimal, lineTotal)
	}
	return lineTotal, expectedTax
}

func unresolvedRateMismatch(line int, li extract.LineItem) Mismatch {
	actual := ""
	if li.DeclaredTax.Valid {
		actual = li.DeclaredTax.Decimal.Round(2).StringFixed(2)
	}
	return Mismatch{
		Field:    "tax_amount",
		Line:     line,
		Actual:   actual,
		Severity: SeverityCritical,
		Note:     "rate unresolved for " + li.HSNCode + "; tax cannot be recomputed",
	}
}

func (e *Engine) checkIdentity(res *Result, in Input) bool {
	missing := false

	extractedDoc := strings.TrimSpace(in.Meta.DocNo)
	qrDoc := strings.TrimSpace(in.QR.DocNo)
	if extractedDoc == "" || qrDoc == "" {
		missing = true
	} else if extractedDoc != qrDoc {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Field:    "invoice_number",
			Expected: qrDoc,
			Actual:   extractedDoc,
			Severity: SeverityCritical,
			Note:     "extracted invoice number does not match QR payload",
		})
	}

	extractedSeller := strings.ToUpper(strings.TrimSpace(in.Meta.SellerGSTIN))
	qrSeller := strings.ToUpper(strings.TrimSpace(in.QR.SellerGSTIN))
	if extractedSeller == "" || qrSeller == "" {
		missing = true
	} else if extractedSeller != qrSeller {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Field:    "seller_gstin",
			Expected: qrSeller,
			Actual:   extractedSeller,
			Severity: SeverityCritical,
			Note:     "extracted seller GSTIN does not match QR payload",
		})
	}
	return missing
}

// appendAmountMismatch compares two amounts rounded to the minor unit
// and appends a mismatch when the delta exceeds tolerance. The
// tolerance is min(AmountToleranceUnits, AmountTolerancePct x base);
// deltas beyond CriticalMultiplier x tolerance escalate to CRITICAL.
func (e *Engine) appendAmountMismatch(res *Result, field string, line int, expected, actual, base decimal.Decimal) {
	exp := expected.Round(2)
	act := actual.Round(2)
	delta := exp.Sub(act).Abs()

	tol := decimal.Min(e.cfg.AmountToleranceUnits, base.Abs().Mul(e.cfg.AmountTolerancePct))
	if delta.LessThanOrEqual(tol) {
		return
	}
	severity := SeverityWarning
	if delta.GreaterThan(tol.Mul(e.cfg.CriticalMultiplier)) {
		severity = SeverityCritical
	}
	res.Mismatches = append(res.Mismatches, Mismatch{
		Field:    field,
		Line:     line,
		Expected: exp.StringFixed(2),
		Actual:   act.StringFixed(2),
		Delta:    delta.StringFixed(2),
		Severity: severity,
	})
}

func invoiceID(meta InvoiceMeta) string {
	if meta.InvoiceID != "" {
		return meta.InvoiceID
	}
	return meta.DocNo
}
