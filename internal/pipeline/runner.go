package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/gstrecon/apps/api/internal/catalog"
	"github.com/yourorg/gstrecon/apps/api/internal/extract"
	"github.com/yourorg/gstrecon/apps/api/internal/qrpayload"
	"github.com/yourorg/gstrecon/apps/api/internal/reconcile"
	"github.com/yourorg/gstrecon/apps/api/internal/report"
)

// Runner drives reconciliation for one invoice or a batch. A batch
// fans out across a bounded worker pool and is re-joined in submission
// order, so two runs over the same input produce the same records.
type Runner struct {
	engine  *reconcile.Engine
	catalog *catalog.Catalog
	cfg     Config
	storage Storage
	logger  *slog.Logger
}

func NewRunner(engine *reconcile.Engine, cat *catalog.Catalog, cfg Config, storage Storage, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: engine, catalog: cat, cfg: cfg, storage: storage, logger: logger}
}

// ReconcileOne parses, normalizes, maps, and reconciles a single
// invoice. A QR string that fails to parse is treated as absent; the
// engine then fails the invoice rather than the request erroring out.
func (r *Runner) ReconcileOne(ctx context.Context, req InvoiceRequest) (reconcile.Result, report.ReviewRecord) {
	items := extract.Normalize(req.Items)
	if r.catalog != nil {
		items = r.catalog.Annotate(items)
	}
	in := reconcile.Input{
		Meta: reconcile.InvoiceMeta{
			InvoiceID:   req.InvoiceID,
			DocNo:       req.DocNo,
			SellerGSTIN: req.SellerGSTIN,
			VendorName:  req.VendorName,
		},
		Items: items,
	}
	if req.QRCode != "" {
		summary, err := qrpayload.Parse(req.QRCode)
		if err != nil {
			r.logger.Warn("qr payload rejected", "invoiceId", req.InvoiceID, "error", err)
		} else {
			in.QR = &summary
		}
	}
	res := r.engine.Reconcile(ctx, in)
	return res, report.Build(res)
}

// RunBatch reconciles every invoice in the request, at most
// cfg.MaxParallelJobs at a time. Every submitted invoice produces
// exactly one record, in submission order. On cancellation the partial
// summary is returned along with the context error.
func (r *Runner) RunBatch(ctx context.Context, reqs []InvoiceRequest) (BatchSummary, error) {
	summary := BatchSummary{
		BatchID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Records:   make([]report.ReviewRecord, len(reqs)),
	}
	verdicts := make([]reconcile.Verdict, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.MaxParallelJobs
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, rec := r.ReconcileOne(gctx, req)
			summary.Records[i] = rec
			verdicts[i] = res.Verdict
			return nil
		})
	}
	_ = g.Wait()

	for _, v := range verdicts {
		summary.Processed++
		switch v {
		case reconcile.VerdictPass:
			summary.Passed++
		case reconcile.VerdictFlagged:
			summary.Flagged++
		default:
			summary.Failed++
		}
	}
	summary.FinishedAt = time.Now().UTC()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if err := r.persistSheets(ctx, &summary); err != nil {
		r.logger.Warn("batch sheet persist failed", "batchId", summary.BatchID, "error", err)
	}
	return summary, nil
}

func (r *Runner) persistSheets(ctx context.Context, summary *BatchSummary) error {
	if r.storage == nil {
		return nil
	}
	var sumBuf, misBuf bytes.Buffer
	if err := report.WriteSummaryCSV(&sumBuf, summary.Records); err != nil {
		return err
	}
	if err := report.WriteMismatchCSV(&misBuf, summary.Records); err != nil {
		return err
	}

	sumKey := fmt.Sprintf("%s/%s/review_report.csv", r.cfg.ArtifactPrefix, summary.BatchID)
	misKey := fmt.Sprintf("%s/%s/lineitem_errors.csv", r.cfg.ArtifactPrefix, summary.BatchID)
	if err := r.storage.PutObject(ctx, sumKey, sumBuf.Bytes(), "text/csv"); err != nil {
		return err
	}
	if err := r.storage.PutObject(ctx, misKey, misBuf.Bytes(), "text/csv"); err != nil {
		return err
	}

	var err error
	if summary.SummaryURL, err = r.storage.GetSignedURL(ctx, sumKey, r.cfg.SignURLTTL); err != nil {
		return err
	}
	if summary.MismatchURL, err = r.storage.GetSignedURL(ctx, misKey, r.cfg.SignURLTTL); err != nil {
		return err
	}
	return nil
}
