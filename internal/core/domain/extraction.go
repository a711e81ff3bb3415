package domain

import (
	"strings"
	"time"
)

// ExtractionKind tells the recognition collaborator what to look for
type ExtractionKind string

const (
	ExtractionKindInvoice  ExtractionKind = "invoice"
	ExtractionKindReceipt  ExtractionKind = "receipt"
	ExtractionKindContract ExtractionKind = "contract"
)

// IsValid returns true if the kind is recognized
func (k ExtractionKind) IsValid() bool {
	switch k {
	case ExtractionKindInvoice, ExtractionKindReceipt, ExtractionKindContract:
		return true
	}
	return false
}

// defaultSeverity maps extraction kinds to a severity domain when the
// recognizer does not supply one.
var defaultSeverity = map[ExtractionKind]string{
	ExtractionKindInvoice:  "financial",
	ExtractionKindReceipt:  "financial",
	ExtractionKindContract: "contract",
}

// RecognitionRequest is sent to the recognition collaborator.
type RecognitionRequest struct {
	Address   string
	MediaType string
	Data      []byte
	Kind      ExtractionKind
}

// LineItem is one extracted invoice line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity,omitempty"`
	Amount      *Money  `json:"amount,omitempty"`
}

// ExtractedFacts are the structured fields returned by recognition.
type ExtractedFacts struct {
	Kind           ExtractionKind `json:"kind"`
	DocumentType   string         `json:"document_type"`
	DocumentNumber string         `json:"document_number"`
	Vendor         PartyQuery     `json:"vendor"`
	Total          *Money         `json:"total,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	DueAt          *time.Time     `json:"due_at,omitempty"`
	SeverityDomain string         `json:"severity_domain,omitempty"`
	EffortHours    *float64       `json:"effort_hours,omitempty"`
	LineItems      []LineItem     `json:"line_items,omitempty"`
}

// DocTypeLabel returns the human label used in commitment titles.
func (f *ExtractedFacts) DocTypeLabel() string {
	if t := strings.TrimSpace(f.DocumentType); t != "" {
		return strings.ToLower(t)
	}
	if f.Kind != "" {
		return string(f.Kind)
	}
	return "document"
}

// Severity returns the explicit severity domain or the default for the kind.
func (f *ExtractedFacts) Severity() string {
	if f.SeverityDomain != "" {
		return f.SeverityDomain
	}
	return defaultSeverity[f.Kind]
}

// Extraction is the full recognition response including its cost.
type Extraction struct {
	Facts ExtractedFacts `json:"facts"`
	Cost  *Money         `json:"cost,omitempty"`
	Model string         `json:"model"`
}
