package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/yourorg/gstrecon/apps/api/internal/report"
)

// Storage holds rendered batch artifacts (summary and mismatch sheets).
type Storage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetSignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type InMemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{data: map[string][]byte{}}
}

func (s *InMemoryStorage) PutObject(ctx context.Context, key string, body []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = body
	return ctx.Err()
}

func (s *InMemoryStorage) GetSignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[key]; !ok {
		return "", fmt.Errorf("not found")
	}
	exp := time.Now().UTC().Add(ttl).Format(time.RFC3339)
	u := url.URL{Scheme: "https", Host: "storage.local", Path: "/" + key, RawQuery: "exp=" + url.QueryEscape(exp)}
	return u.String(), nil
}

// Object returns the raw stored body, for tests and local inspection.
func (s *InMemoryStorage) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	return b, ok
}

// BatchStore keeps finished batch summaries for later retrieval.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[string]BatchSummary
	records map[string]report.ReviewRecord
}

func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches: map[string]BatchSummary{},
		records: map[string]report.ReviewRecord{},
	}
}

func (s *BatchStore) SaveBatch(summary BatchSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[summary.BatchID] = summary
	for _, rec := range summary.Records {
		s.records[rec.InvoiceID] = rec
	}
}

func (s *BatchStore) Batch(id string) (BatchSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	return b, ok
}

func (s *BatchStore) Record(invoiceID string) (report.ReviewRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[invoiceID]
	return r, ok
}
