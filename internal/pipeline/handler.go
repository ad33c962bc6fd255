package pipeline

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yourorg/gstrecon/apps/api/internal/ingest"
)

// Service wires the runner, batch store, audit trail, and rate limiter
// into HTTP handlers.
type Service struct {
	cfg     Config
	runner  *Runner
	store   *BatchStore
	audit   AuditRecorder
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewService(cfg Config, runner *Runner, store *BatchStore, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		runner:  runner,
		store:   store,
		audit:   audit,
		limiter: NewRateLimiter(map[string]Limit{
			ClassInvoice: {Requests: cfg.RateLimit, Window: cfg.RateWindow},
			ClassBatch:   {Requests: cfg.BatchRateLimit, Window: cfg.RateWindow},
			ClassRead:    {Requests: cfg.RateLimit, Window: cfg.RateWindow},
		}),
		logger:  logger,
	}
}

// Routes mounts the HTTP surface. Health is unauthenticated; the rest
// sits behind the API key and per-client rate limit.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.Healthz)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.With(s.rateLimit(ClassInvoice)).Post("/invoices/ingest", s.IngestPDF)
		r.With(s.rateLimit(ClassInvoice)).Post("/invoices/reconcile", s.ReconcileInvoice)
		r.With(s.rateLimit(ClassBatch)).Post("/batches", s.RunBatch)
		r.With(s.rateLimit(ClassRead)).Get("/batches/{batchID}", s.GetBatch)
		r.With(s.rateLimit(ClassRead)).Get("/invoices/{invoiceID}/report", s.GetInvoiceReport)
	})
	return r
}

func (s *Service) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IngestPDF matches POST /invoices/ingest. Accepts a multipart PDF
// upload and returns the extracted plain text plus the QR string when
// one is present, ready to submit to /invoices/reconcile.
func (s *Service) IngestPDF(w http.ResponseWriter, r *http.Request) {
	corrID, clientID := requestIdentity(r)
	logger := CorrelationLogger(s.logger, corrID, clientID)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "BAD_REQUEST", "message": "multipart field 'file' required"})
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "gst-ingest-*.pdf")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, InternalError{Code: "INTERNAL_ERROR", Message: "temp file", Retryable: true})
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeJSON(w, http.StatusInternalServerError, InternalError{Code: "INTERNAL_ERROR", Message: "buffer upload", Retryable: true})
		return
	}
	tmp.Close()

	doc, err := ingest.ReadPDF(tmp.Name())
	if err != nil {
		logger.Warn("pdf ingest failed", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": "UNREADABLE_PDF", "message": err.Error()})
		return
	}
	if err := s.appendAudit(r.Context(), clientID, corrID, "invoice.ingest", header.Filename); err != nil {
		logger.Warn("audit append failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"text":   doc.Text,
		"qrCode": doc.QRCode,
	})
}

// ReconcileInvoice matches POST /invoices/reconcile
func (s *Service) ReconcileInvoice(w http.ResponseWriter, r *http.Request) {
	corrID, clientID := requestIdentity(r)
	logger := CorrelationLogger(s.logger, corrID, clientID)

	req, err := decodeInvoice(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	res, rec := s.runner.ReconcileOne(r.Context(), req)
	if err := s.appendAudit(r.Context(), clientID, corrID, "invoice.reconcile", res.InvoiceID); err != nil {
		logger.Warn("audit append failed", "error", err)
	}
	logger.Info("invoice reconciled",
		slog.String("invoiceId", res.InvoiceID),
		slog.String("verdict", string(res.Verdict)),
		slog.Int("mismatches", len(res.Mismatches)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"result": res,
		"record": rec,
	})
}

// RunBatch matches POST /batches
func (s *Service) RunBatch(w http.ResponseWriter, r *http.Request) {
	corrID, clientID := requestIdentity(r)
	logger := CorrelationLogger(s.logger, corrID, clientID)

	var req BatchRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	if len(req.Invoices) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "BAD_REQUEST", "message": "at least one invoice required"})
		return
	}

	summary, err := s.runner.RunBatch(r.Context(), req.Invoices)
	if err != nil {
		logger.Warn("batch interrupted", "batchId", summary.BatchID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, InternalError{Code: "BATCH_INTERRUPTED", Message: err.Error(), Retryable: true})
		return
	}
	s.store.SaveBatch(summary)
	if err := s.appendAudit(r.Context(), clientID, corrID, "batch.run", summary.BatchID); err != nil {
		logger.Warn("audit append failed", "error", err)
	}
	logger.Info("batch reconciled",
		slog.String("batchId", summary.BatchID),
		slog.Int("processed", summary.Processed),
		slog.Int("flagged", summary.Flagged),
		slog.Int("failed", summary.Failed),
	)
	writeJSON(w, http.StatusCreated, summary)
}

// GetBatch matches GET /batches/{batchID}
func (s *Service) GetBatch(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.store.Batch(chi.URLParam(r, "batchID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "batch not found"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetInvoiceReport matches GET /invoices/{invoiceID}/report
func (s *Service) GetInvoiceReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Record(chi.URLParam(r, "invoiceID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "invoice report not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		presented := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.APIKey)) != 1 {
			corrID, clientID := requestIdentity(r)
			if err := s.appendAudit(r.Context(), clientID, corrID, "auth.rejected", ""); err != nil {
				s.logger.Warn("audit append failed", "error", err)
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "AUTH_REQUIRED", "message": "valid API key required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) rateLimit(class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, clientID := requestIdentity(r)
			ok, retryAfter := s.limiter.Allow(class, clientID)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"code": "RATE_LIMITED", "message": "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestIdentity(r *http.Request) (corrID, clientID string) {
	corrID = r.Header.Get("X-Correlation-Id")
	if corrID == "" {
		corrID = uuid.NewString()
	}
	clientID = r.Header.Get("X-Client-Id")
	if clientID == "" {
		clientID = "default"
	}
	return corrID, clientID
}

func (s *Service) appendAudit(ctx context.Context, clientID, corrID, action, subject string) error {
	if s.audit == nil {
		return nil
	}
	entry := AuditLog{
		AuditID:   uuid.NewString(),
		CorrID:    corrID,
		ClientID:  clientID,
		Action:    action,
		InvoiceID: subject,
		Ts:        time.Now().UTC(),
	}
	_, err := HashChain(ctx, s.audit, clientID, entry)
	return err
}

func decodeInvoice(body io.ReadCloser) (InvoiceRequest, error) {
	var req InvoiceRequest
	if err := decodeJSON(body, &req); err != nil {
		return req, err
	}
	if req.DocNo == "" && req.InvoiceID == "" {
		return req, errors.New("docNo or invoiceId required")
	}
	return req, nil
}

func decodeJSON(body io.ReadCloser, v any) error {
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
