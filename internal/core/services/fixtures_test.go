package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/custodia-labs/docintel/internal/adapters/driven/memory"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven/mocks"
)

// testNow is the fixed instant every service test runs at.
var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pdf returns a minimal PDF-looking payload; distinct bodies give distinct addresses.
func pdf(body string) []byte {
	return []byte("%PDF-1.4\n" + body + "\n%%EOF")
}

func clipboardHealthExtraction() *domain.Extraction {
	due := testNow.Add(48 * time.Hour)
	total := domain.NewMoney(12419.83, "USD")
	cost := domain.NewMoney(0.02, "USD")
	return &domain.Extraction{
		Facts: domain.ExtractedFacts{
			Kind:           domain.ExtractionKindInvoice,
			DocumentType:   "Invoice",
			DocumentNumber: "INV-2025-0042",
			Vendor: domain.PartyQuery{
				Name:    "Clipboard Health, Inc.",
				TaxID:   "12-3456789",
				Address: "1 Market St, San Francisco, CA 94105",
			},
			Total: &total,
			DueAt: &due,
		},
		Cost:  &cost,
		Model: "recognizer-v1",
	}
}

type pipelineFixture struct {
	store      *memory.Store
	blobs      *mocks.MockBlobStorage
	recognizer *mocks.MockRecognizer
	queue      *mocks.MockTaskQueue
	pipeline   *Pipeline
}

func newPipelineFixture(t *testing.T, extraction *domain.Extraction, opts ...func(*PipelineConfig)) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store:      memory.NewStore(),
		blobs:      mocks.NewMockBlobStorage(),
		recognizer: mocks.NewMockRecognizer(extraction),
		queue:      mocks.NewMockTaskQueue(),
	}
	cfg := PipelineConfig{
		Backend:    f.store,
		Blobs:      f.blobs,
		Recognizer: f.recognizer,
		TaskQueue:  f.queue,
		Resolver:   domain.DefaultResolverConfig(),
		Priority:   domain.DefaultPriorityConfig(),
		Logger:     quietLogger(),
		Now:        fixedClock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.pipeline = NewPipeline(cfg)
	return f
}
