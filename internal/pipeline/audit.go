package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type AuditRecorder interface {
	Append(ctx context.Context, entry AuditLog) error
	Last(ctx context.Context, clientID string) (AuditLog, error)
}

// HashChain links the entry to the client's previous audit record so
// tampering with any earlier entry breaks every later hash.
func HashChain(ctx context.Context, rec AuditRecorder, clientID string, entry AuditLog) (AuditLog, error) {
	prev, _ := rec.Last(ctx, clientID)
	entry.PrevHash = prev.Hash
	entry.Hash = hashAudit(entry)
	return entry, rec.Append(ctx, entry)
}

func hashAudit(entry AuditLog) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s", entry.CorrID, entry.ClientID, entry.Action, entry.InvoiceID, entry.Ts.UTC().Format(time.RFC3339Nano), entry.PrevHash)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func CorrelationLogger(logger *slog.Logger, corrID, clientID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("corrId", corrID, "clientId", clientID)
}

type MemoryAuditRecorder struct {
	mu       sync.Mutex
	byClient map[string][]AuditLog
}

func NewMemoryAuditRecorder() *MemoryAuditRecorder {
	return &MemoryAuditRecorder{byClient: map[string][]AuditLog{}}
}

func (m *MemoryAuditRecorder) Append(_ context.Context, entry AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byClient[entry.ClientID] = append(m.byClient[entry.ClientID], entry)
	return nil
}

func (m *MemoryAuditRecorder) Last(_ context.Context, clientID string) (AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byClient[clientID]
	if len(list) == 0 {
		return AuditLog{}, fmt.Errorf("empty")
	}
	return list[len(list)-1], nil
}
