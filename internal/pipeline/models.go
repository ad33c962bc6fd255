package pipeline

import (
	"time"

	"github.com/yourorg/gstrecon/apps/api/internal/extract"
	"github.com/yourorg/gstrecon/apps/api/internal/report"
)

// InvoiceRequest is one invoice as submitted over HTTP: extracted raw
// fields plus the QR string as scanned. Parsing and normalization
// happen inside the runner so a bad QR still yields a record.
type InvoiceRequest struct {
	InvoiceID   string            `json:"invoiceId"`
	DocNo       string            `json:"docNo"`
	SellerGSTIN string            `json:"sellerGstin"`
	VendorName  string            `json:"vendorName,omitempty"`
	QRCode      string            `json:"qrCode"`
	Items       []extract.RawItem `json:"items"`
}

type BatchRequest struct {
	Invoices []InvoiceRequest `json:"invoices"`
}

// BatchSummary is the outcome of one batch run: per-invoice records in
// submission order plus the verdict counters.
type BatchSummary struct {
	BatchID     string                `json:"batchId"`
	Processed   int                   `json:"processed"`
	Passed      int                   `json:"passed"`
	Flagged     int                   `json:"flagged"`
	Failed      int                   `json:"failed"`
	Records     []report.ReviewRecord `json:"records"`
	SummaryURL  string                `json:"summaryUrl,omitempty"`
	MismatchURL string                `json:"mismatchUrl,omitempty"`
	StartedAt   time.Time             `json:"startedAt"`
	FinishedAt  time.Time             `json:"finishedAt"`
}

type InternalError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type AuditLog struct {
	AuditID   string    `json:"auditId"`
	CorrID    string    `json:"corrId"`
	ClientID  string    `json:"clientId"`
	Action    string    `json:"action"`
	InvoiceID string    `json:"invoiceId,omitempty"`
	Ts        time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prevHash"`
}
