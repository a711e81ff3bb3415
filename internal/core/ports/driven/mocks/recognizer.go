package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure MockRecognizer implements Recognizer
var _ driven.Recognizer = (*MockRecognizer)(nil)

// MockRecognizer returns canned extractions and records every call.
type MockRecognizer struct {
	mu       sync.Mutex
	requests []domain.RecognitionRequest

	// Extraction is returned when RecognizeFn is nil
	Extraction *domain.Extraction

	// Custom behavior hooks (optional)
	RecognizeFn func(ctx context.Context, req domain.RecognitionRequest) (*domain.Extraction, error)
	HealthFn    func() error
}

// NewMockRecognizer creates a recognizer that always returns extraction.
func NewMockRecognizer(extraction *domain.Extraction) *MockRecognizer {
	return &MockRecognizer{Extraction: extraction}
}

// Recognize records the request and returns the canned extraction.
func (m *MockRecognizer) Recognize(ctx context.Context, req domain.RecognitionRequest) (*domain.Extraction, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RecognizeFn != nil {
		return m.RecognizeFn(ctx, req)
	}
	if m.Extraction == nil {
		return nil, domain.ErrExtractionFailed
	}
	out := *m.Extraction
	return &out, nil
}

// Model returns the canned model name
func (m *MockRecognizer) Model() string {
	if m.Extraction != nil && m.Extraction.Model != "" {
		return m.Extraction.Model
	}
	return "mock-recognizer"
}

// HealthCheck returns HealthFn's result or nil
func (m *MockRecognizer) HealthCheck(ctx context.Context) error {
	if m.HealthFn != nil {
		return m.HealthFn()
	}
	return nil
}

// Calls returns how many times Recognize was invoked.
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockRecognizer) Requests() []domain.RecognitionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RecognitionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
