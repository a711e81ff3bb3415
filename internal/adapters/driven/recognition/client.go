// Package recognition calls the external document recognition service.
package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure Client implements Recognizer
var _ driven.Recognizer = (*Client)(nil)

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 4 << 20

// Client implements Recognizer over HTTP
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// Config holds recognition client settings
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClient creates a recognition client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("recognition base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// extractRequest is the request body for the extract endpoint
type extractRequest struct {
	Model     string `json:"model"`
	Kind      string `json:"kind"`
	Address   string `json:"address"`
	MediaType string `json:"media_type"`
	Content   string `json:"content"` // base64
}

// amount is a decimal amount with currency
type amount struct {
	Value    float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func (a *amount) money(fallbackCurrency string) *domain.Money {
	if a == nil {
		return nil
	}
	code := a.Currency
	if code == "" {
		code = fallbackCurrency
	}
	m := domain.NewMoney(a.Value, code)
	return &m
}

// extractResponse is the response from the extract endpoint
type extractResponse struct {
	Model          string         `json:"model"`
	DocumentType   string         `json:"document_type"`
	DocumentNumber string         `json:"document_number"`
	Vendor         map[string]any `json:"vendor"`
	Total          *float64       `json:"total"`
	Currency       string         `json:"currency"`
	IssueDate      string         `json:"issue_date"`
	DueDate        string         `json:"due_date"`
	Severity       string         `json:"severity"`
	EffortHours    *float64       `json:"effort_hours"`
	LineItems      []struct {
		Description string   `json:"description"`
		Quantity    float64  `json:"quantity"`
		Amount      *float64 `json:"amount"`
	} `json:"line_items"`
	Cost  *amount `json:"cost"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Recognize sends the document to the service and maps the response to facts.
func (c *Client) Recognize(ctx context.Context, req domain.RecognitionRequest) (*domain.Extraction, error) {
	resp, err := c.doRequest(ctx, extractRequest{
		Model:     c.model,
		Kind:      string(req.Kind),
		Address:   req.Address,
		MediaType: req.MediaType,
		Content:   base64.StdEncoding.EncodeToString(req.Data),
	})
	if err != nil {
		return nil, err
	}
	return resp.extraction(req.Kind, c.model)
}

func (r *extractResponse) extraction(kind domain.ExtractionKind, model string) (*domain.Extraction, error) {
	facts := domain.ExtractedFacts{
		Kind:           kind,
		DocumentType:   r.DocumentType,
		DocumentNumber: r.DocumentNumber,
		Vendor:         domain.PartyQueryFromVendor(r.Vendor),
		SeverityDomain: r.Severity,
		EffortHours:    r.EffortHours,
	}
	if r.Total != nil {
		m := domain.NewMoney(*r.Total, r.Currency)
		facts.Total = &m
	}

	var err error
	if facts.IssuedAt, err = parseDate(r.IssueDate); err != nil {
		return nil, fmt.Errorf("%w: issue_date: %v", domain.ErrExtractionFailed, err)
	}
	if facts.DueAt, err = parseDate(r.DueDate); err != nil {
		return nil, fmt.Errorf("%w: due_date: %v", domain.ErrExtractionFailed, err)
	}

	for _, li := range r.LineItems {
		item := domain.LineItem{Description: li.Description, Quantity: li.Quantity}
		if li.Amount != nil {
			m := domain.NewMoney(*li.Amount, r.Currency)
			item.Amount = &m
		}
		facts.LineItems = append(facts.LineItems, item)
	}

	if r.Model != "" {
		model = r.Model
	}
	return &domain.Extraction{
		Facts: facts,
		Cost:  r.Cost.money("USD"),
		Model: model,
	}, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Calendar
// dates are taken as UTC midnight.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", s)
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.model
}

// HealthCheck verifies the recognition service is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recognition service returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// doRequest makes a request to the extract endpoint
func (c *Client) doRequest(ctx context.Context, reqBody extractRequest) (*extractResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", domain.ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrExtractionFailed, err)
	}

	var extResp extractResponse
	if err := json.Unmarshal(respBody, &extResp); err != nil {
		return nil, fmt.Errorf("%w: status %d: failed to parse response: %v", domain.ErrExtractionFailed, resp.StatusCode, err)
	}

	if extResp.Error != nil {
		return nil, fmt.Errorf("%w: %s (code: %s)", domain.ErrExtractionFailed, extResp.Error.Message, extResp.Error.Code)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: recognition service returned status %d", domain.ErrExtractionFailed, resp.StatusCode)
	}

	return &extResp, nil
}
