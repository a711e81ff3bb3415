package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driven/mocks"
)

// Mock services for testing

type mockAuthService struct {
	validateTokenFn func(ctx context.Context, token string) (*domain.AuthContext, error)
}

func (m *mockAuthService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	if m.validateTokenFn != nil {
		return m.validateTokenFn(ctx, token)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) IssueToken(ctx context.Context, subject, email string, role domain.Role, ttl time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

type mockPipeline struct {
	processFn func(ctx context.Context, req domain.UploadRequest) (*domain.ProcessingResult, error)
	enqueueFn func(ctx context.Context, req domain.UploadRequest) (*domain.EnqueueResult, error)
	last      domain.UploadRequest
}

func (m *mockPipeline) ProcessUpload(ctx context.Context, req domain.UploadRequest) (*domain.ProcessingResult, error) {
	m.last = req
	if m.processFn != nil {
		return m.processFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPipeline) ProcessStored(ctx context.Context, address, declaredName string, kind domain.ExtractionKind, actor string) (*domain.ProcessingResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockPipeline) Enqueue(ctx context.Context, req domain.UploadRequest) (*domain.EnqueueResult, error) {
	m.last = req
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

type mockDocumentService struct {
	files map[string]*domain.StoredFile
	data  map[string][]byte
}

func (m *mockDocumentService) Get(ctx context.Context, id string) (*domain.StoredFile, error) {
	if f, ok := m.files[id]; ok {
		return f, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) GetByAddress(ctx context.Context, address string) (*domain.StoredFile, error) {
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) Download(ctx context.Context, id string) (*domain.StoredFile, []byte, error) {
	f, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return f, m.data[id], nil
}

func (m *mockDocumentService) Links(ctx context.Context, id string) ([]*domain.Link, error) {
	return []*domain.Link{{ID: "l1", DocumentID: id, EntityKind: domain.EntityKindParty, EntityID: "p1"}}, nil
}

func (m *mockDocumentService) Delete(ctx context.Context, id string) error {
	if _, ok := m.files[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.files, id)
	return nil
}

type mockPartyService struct {
	resolveVendorFn func(ctx context.Context, vendor map[string]any) (*domain.PartyMatch, error)
	parties         map[string]*domain.Party
}

func (m *mockPartyService) Resolve(ctx context.Context, q domain.PartyQuery) (*domain.PartyMatch, error) {
	return nil, errors.New("not implemented")
}

func (m *mockPartyService) ResolveVendor(ctx context.Context, vendor map[string]any) (*domain.PartyMatch, error) {
	if m.resolveVendorFn != nil {
		return m.resolveVendorFn(ctx, vendor)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPartyService) Get(ctx context.Context, id string) (*domain.Party, error) {
	if p, ok := m.parties[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockPartyService) List(ctx context.Context, limit, offset int) ([]*domain.Party, int, error) {
	var out []*domain.Party
	for _, p := range m.parties {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockPartyService) History(ctx context.Context, id string) (*domain.PartyHistory, error) {
	p, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.PartyHistory{Party: p}, nil
}

type mockCommitmentService struct {
	fulfillFn func(ctx context.Context, id, actor string) (*domain.Commitment, error)
	cancelFn  func(ctx context.Context, id, actor, reason string) (*domain.Commitment, error)
	factorsFn func(ctx context.Context, id string, factors domain.CommitmentFactors, actor string) (*domain.Commitment, error)
	rescored  int
}

func (m *mockCommitmentService) Get(ctx context.Context, id string) (*domain.Commitment, error) {
	if id == "c1" {
		return &domain.Commitment{ID: "c1", State: domain.CommitmentStatePending}, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockCommitmentService) ListByParty(ctx context.Context, partyID string, limit, offset int) ([]*domain.Commitment, error) {
	return []*domain.Commitment{{ID: "c1", PartyID: partyID}}, nil
}

func (m *mockCommitmentService) Fulfill(ctx context.Context, id, actor string) (*domain.Commitment, error) {
	return m.fulfillFn(ctx, id, actor)
}

func (m *mockCommitmentService) Cancel(ctx context.Context, id, actor, reason string) (*domain.Commitment, error) {
	return m.cancelFn(ctx, id, actor, reason)
}

func (m *mockCommitmentService) UpdateFactors(ctx context.Context, id string, factors domain.CommitmentFactors, actor string) (*domain.Commitment, error) {
	return m.factorsFn(ctx, id, factors, actor)
}

func (m *mockCommitmentService) RescorePending(ctx context.Context) (int, error) {
	m.rescored++
	return 3, nil
}

func (m *mockCommitmentService) PreviewPriority(input domain.PriorityInput) domain.PriorityResult {
	score := 10
	if input.Blocked {
		score = 90
	}
	return domain.PriorityResult{Score: score, Reason: "preview"}
}

type mockAuditService struct {
	byEntity []domain.EntityRef
	recent   int
}

func (m *mockAuditService) ListByEntity(ctx context.Context, ref domain.EntityRef, limit, offset int) ([]*domain.Interaction, error) {
	m.byEntity = append(m.byEntity, ref)
	return []*domain.Interaction{{ID: "i1", Primary: ref}}, nil
}

func (m *mockAuditService) ListRecent(ctx context.Context, limit, offset int) ([]*domain.Interaction, error) {
	m.recent++
	return []*domain.Interaction{}, nil
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(ctx context.Context) error { return p.err }

type mockSchedulerService struct {
	tasks     map[string]*domain.ScheduledTask
	triggered []string
}

func (m *mockSchedulerService) ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	var out []*domain.ScheduledTask
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockSchedulerService) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	if t, ok := m.tasks[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockSchedulerService) EnableScheduledTask(ctx context.Context, id string) error {
	t, err := m.GetScheduledTask(ctx, id)
	if err != nil {
		return err
	}
	t.Enabled = true
	return nil
}

func (m *mockSchedulerService) DisableScheduledTask(ctx context.Context, id string) error {
	t, err := m.GetScheduledTask(ctx, id)
	if err != nil {
		return err
	}
	t.Enabled = false
	return nil
}

func (m *mockSchedulerService) TriggerNow(ctx context.Context, id string) (*domain.Task, error) {
	t, err := m.GetScheduledTask(ctx, id)
	if err != nil {
		return nil, err
	}
	m.triggered = append(m.triggered, id)
	return domain.NewTask(t.Type, map[string]string{"scheduled_id": id}), nil
}

// Test fixture

type fixture struct {
	server      *Server
	pipeline    *mockPipeline
	documents   *mockDocumentService
	parties     *mockPartyService
	commitments *mockCommitmentService
	audit       *mockAuditService
	schedules   *mockSchedulerService
	queue       *mocks.MockTaskQueue
}

func newFixture(t *testing.T, cfg Config, checks map[string]Pinger) *fixture {
	t.Helper()
	f := &fixture{
		pipeline: &mockPipeline{},
		documents: &mockDocumentService{
			files: map[string]*domain.StoredFile{
				"d1": {ID: "d1", Address: strings.Repeat("a", 64), MediaType: "application/pdf", OriginalName: "invoice.pdf", Size: 9},
			},
			data: map[string][]byte{"d1": []byte("%PDF-1.4\n")},
		},
		parties: &mockPartyService{
			parties: map[string]*domain.Party{"p1": {ID: "p1", Name: "Clipboard Health"}},
		},
		commitments: &mockCommitmentService{},
		audit:       &mockAuditService{},
		schedules: &mockSchedulerService{tasks: map[string]*domain.ScheduledTask{
			"signal-reaper": domain.NewScheduledTask("signal-reaper", "Stale Signal Reaper", domain.TaskTypeReapSignals, time.Minute),
		}},
		queue: mocks.NewMockTaskQueue(),
	}
	if cfg.Version == "" {
		cfg.Version = "test"
	}
	f.server = NewServer(cfg, Services{
		Auth:        tokenAuth(),
		Pipeline:    f.pipeline,
		Documents:   f.documents,
		Parties:     f.parties,
		Commitments: f.commitments,
		Audit:       f.audit,
		Scheduler:   f.schedules,
	}, f.queue, checks)
	return f
}

func (f *fixture) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return out
}

// Health

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, Config{Version: "1.2.3"}, nil)

	rec := f.do("GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = f.do("GET", "/version", nil, nil)
	if got := decode[VersionResponse](t, rec); got.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %q", got.Version)
	}
}

func TestReady(t *testing.T) {
	f := newFixture(t, Config{}, map[string]Pinger{"store": failingPinger{}})
	rec := f.do("GET", "/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	f = newFixture(t, Config{}, map[string]Pinger{
		"store": failingPinger{},
		"queue": failingPinger{err: errors.New("connection refused")},
	})
	rec = f.do("GET", "/ready", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	got := decode[ReadyResponse](t, rec)
	if got.Checks["queue"] != "connection refused" || got.Checks["store"] != "ok" {
		t.Errorf("unexpected checks: %+v", got.Checks)
	}
}

// Uploads

func TestUpload_RawBody(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.pipeline.processFn = func(ctx context.Context, req domain.UploadRequest) (*domain.ProcessingResult, error) {
		return &domain.ProcessingResult{
			Document:   domain.DocumentSummary{ID: "d1", Address: "abc"},
			Party:      &domain.PartySummary{ID: "p1", Name: "Clipboard Health"},
			Commitment: &domain.CommitmentSummary{ID: "c1", Priority: 85},
			SignalID:   "s1",
		}, nil
	}

	rec := f.do("POST", "/api/v1/uploads?name=invoice.pdf&kind=invoice", []byte("%PDF-1.4 data"), map[string]string{
		"Content-Type":  "application/pdf",
		"Authorization": "Bearer member",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.pipeline.last.DeclaredName != "invoice.pdf" || f.pipeline.last.ExtractionKind != domain.ExtractionKindInvoice {
		t.Errorf("unexpected request: %+v", f.pipeline.last)
	}
	if f.pipeline.last.Actor != "member-user" {
		t.Errorf("expected actor from token, got %q", f.pipeline.last.Actor)
	}
	if string(f.pipeline.last.Data) != "%PDF-1.4 data" {
		t.Errorf("unexpected data %q", f.pipeline.last.Data)
	}
	if got := decode[domain.ProcessingResult](t, rec); got.Commitment == nil || got.Commitment.Priority != 85 {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestUpload_Multipart(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.pipeline.processFn = func(ctx context.Context, req domain.UploadRequest) (*domain.ProcessingResult, error) {
		return &domain.ProcessingResult{Duplicate: true}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("kind", "receipt")
	part, _ := mw.CreateFormFile("file", "receipt.png")
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nrest"))
	_ = mw.Close()

	rec := f.do("POST", "/api/v1/uploads", body.Bytes(), map[string]string{"Content-Type": mw.FormDataContentType()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.pipeline.last.DeclaredName != "receipt.png" || f.pipeline.last.ExtractionKind != domain.ExtractionKindReceipt {
		t.Errorf("unexpected request: %+v", f.pipeline.last)
	}
	if f.pipeline.last.Actor != domain.ActorSystem {
		t.Errorf("expected system actor for anonymous upload, got %q", f.pipeline.last.Actor)
	}
}

func TestUpload_MultipartMissingFile(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("kind", "invoice")
	_ = mw.Close()

	rec := f.do("POST", "/api/v1/uploads", body.Bytes(), map[string]string{"Content-Type": mw.FormDataContentType()})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestUpload_Async(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.pipeline.enqueueFn = func(ctx context.Context, req domain.UploadRequest) (*domain.EnqueueResult, error) {
		return &domain.EnqueueResult{TaskID: "task-1"}, nil
	}

	rec := f.do("POST", "/api/v1/uploads?async=true", []byte("%PDF-1.4"), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if got := decode[domain.EnqueueResult](t, rec); got.TaskID != "task-1" {
		t.Errorf("expected task id, got %+v", got)
	}
}

func TestUpload_BodyOverLimit(t *testing.T) {
	f := newFixture(t, Config{MaxUploadBytes: 8}, nil)
	rec := f.do("POST", "/api/v1/uploads", []byte("%PDF-1.4 far too long"), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestUpload_ViewerForbiddenWhenAuthRequired(t *testing.T) {
	f := newFixture(t, Config{AuthRequired: true}, nil)
	rec := f.do("POST", "/api/v1/uploads", []byte("%PDF"), map[string]string{"Authorization": "Bearer viewer"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	rec = f.do("POST", "/api/v1/uploads", []byte("%PDF"), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantRetryable bool
	}{
		{name: "empty", err: domain.ErrPayloadEmpty, wantStatus: http.StatusBadRequest},
		{name: "too large", err: domain.RejectPayload(domain.ErrPayloadTooLarge, "big"), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "media type", err: domain.RejectPayload(domain.ErrMediaTypeForbidden, "text/plain"), wantStatus: http.StatusUnsupportedMediaType},
		{name: "missing field", err: domain.MissingField("vendor name"), wantStatus: http.StatusBadRequest},
		{name: "in progress", err: domain.ErrUploadInProgress, wantStatus: http.StatusConflict, wantRetryable: true},
		{name: "extraction", err: domain.ErrExtractionFailed, wantStatus: http.StatusBadGateway, wantRetryable: true},
		{name: "unexpected", err: errors.New("disk on fire"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{}, nil)
			f.pipeline.processFn = func(ctx context.Context, req domain.UploadRequest) (*domain.ProcessingResult, error) {
				return nil, &domain.PipelineError{Step: domain.StepExtract, Address: "abc", Err: tt.err}
			}

			rec := f.do("POST", "/api/v1/uploads", []byte("%PDF-1.4"), nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			got := decode[ErrorResponse](t, rec)
			if got.Retryable != tt.wantRetryable {
				t.Errorf("expected retryable=%v, got %+v", tt.wantRetryable, got)
			}
			if tt.wantStatus != http.StatusInternalServerError && got.Address != "abc" {
				t.Errorf("expected content address in error, got %+v", got)
			}
			if tt.wantStatus == http.StatusInternalServerError && strings.Contains(got.Error, "disk") {
				t.Errorf("internal error leaked: %q", got.Error)
			}
		})
	}
}

// Documents

func TestGetDocument(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do("GET", "/api/v1/documents/d1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[DocumentResponse](t, rec)
	if got.Document.ID != "d1" || len(got.Links) != 1 {
		t.Errorf("unexpected response: %+v", got)
	}

	rec = f.do("GET", "/api/v1/documents/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDownloadDocument(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do("GET", "/api/v1/documents/d1/download", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "invoice.pdf") {
		t.Errorf("expected filename in disposition, got %q", rec.Header().Get("Content-Disposition"))
	}
	if rec.Body.String() != "%PDF-1.4\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestDeleteDocument_AdminOnly(t *testing.T) {
	f := newFixture(t, Config{AuthRequired: true}, nil)

	rec := f.do("DELETE", "/api/v1/documents/d1", nil, map[string]string{"Authorization": "Bearer member"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = f.do("DELETE", "/api/v1/documents/d1", nil, map[string]string{"Authorization": "Bearer admin"})
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

// Parties

func TestListAndGetParties(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do("GET", "/api/v1/parties?limit=10&offset=-5", nil, nil)
	got := decode[PartyListResponse](t, rec)
	if got.Total != 1 || got.Limit != 10 || got.Offset != 0 {
		t.Errorf("unexpected page: %+v", got)
	}

	rec = f.do("GET", "/api/v1/parties/p1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = f.do("GET", "/api/v1/parties/p1/history", nil, nil)
	if got := decode[domain.PartyHistory](t, rec); got.Party == nil || got.Party.ID != "p1" {
		t.Errorf("unexpected history: %+v", got)
	}

	rec = f.do("GET", "/api/v1/parties/missing/commitments", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = f.do("GET", "/api/v1/parties/p1/commitments", nil, nil)
	if got := decode[[]domain.Commitment](t, rec); len(got) != 1 || got[0].PartyID != "p1" {
		t.Errorf("unexpected commitments: %+v", got)
	}
}

func TestResolveParty(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	var seen map[string]any
	f.parties.resolveVendorFn = func(ctx context.Context, vendor map[string]any) (*domain.PartyMatch, error) {
		seen = vendor
		if vendor["name"] == "" {
			return nil, domain.MissingField("name")
		}
		return &domain.PartyMatch{Matched: vendor["name"] == "Clipboard Health", Party: &domain.Party{ID: "p1"}}, nil
	}

	rec := f.do("POST", "/api/v1/parties/resolve", []byte(`{"name":"Clipboard Health","address":{"city":"San Francisco"}}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for match, got %d", rec.Code)
	}
	if _, ok := seen["address"].(map[string]any); !ok {
		t.Errorf("expected nested address to pass through, got %+v", seen)
	}

	rec = f.do("POST", "/api/v1/parties/resolve", []byte(`{"name":"Acme"}`), nil)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201 for new party, got %d", rec.Code)
	}

	rec = f.do("POST", "/api/v1/parties/resolve", []byte(`{"name":""}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = f.do("POST", "/api/v1/parties/resolve", []byte(`not json`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", rec.Code)
	}
}

// Commitments

func TestCommitmentLifecycleRoutes(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	var cancelReason, fulfilledBy string
	f.commitments.fulfillFn = func(ctx context.Context, id, actor string) (*domain.Commitment, error) {
		fulfilledBy = actor
		if id == "done" {
			return nil, domain.ErrInvalidStateTransition
		}
		return &domain.Commitment{ID: id, State: domain.CommitmentStateFulfilled}, nil
	}
	f.commitments.cancelFn = func(ctx context.Context, id, actor, reason string) (*domain.Commitment, error) {
		cancelReason = reason
		return &domain.Commitment{ID: id, State: domain.CommitmentStateCanceled}, nil
	}

	rec := f.do("GET", "/api/v1/commitments/c1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = f.do("POST", "/api/v1/commitments/c1/fulfill", nil, map[string]string{"Authorization": "Bearer admin"})
	if rec.Code != http.StatusOK || fulfilledBy != "admin-user" {
		t.Errorf("expected fulfill by admin-user, got %d %q", rec.Code, fulfilledBy)
	}

	rec = f.do("POST", "/api/v1/commitments/done/fulfill", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for illegal transition, got %d", rec.Code)
	}

	rec = f.do("POST", "/api/v1/commitments/c1/cancel", []byte(`{"reason":"paid elsewhere"}`), nil)
	if rec.Code != http.StatusOK || cancelReason != "paid elsewhere" {
		t.Errorf("expected cancel with reason, got %d %q", rec.Code, cancelReason)
	}

	rec = f.do("POST", "/api/v1/commitments/c1/cancel", nil, nil)
	if rec.Code != http.StatusOK || cancelReason != "" {
		t.Errorf("expected cancel without body, got %d %q", rec.Code, cancelReason)
	}
}

func TestUpdateFactors(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	var got domain.CommitmentFactors
	f.commitments.factorsFn = func(ctx context.Context, id string, factors domain.CommitmentFactors, actor string) (*domain.Commitment, error) {
		got = factors
		return &domain.Commitment{ID: id, Priority: 70}, nil
	}

	rec := f.do("PATCH", "/api/v1/commitments/c1/factors", []byte(`{"blocked":true,"severity_domain":"legal"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.Blocked == nil || !*got.Blocked || got.SeverityDomain == nil || *got.SeverityDomain != "legal" {
		t.Errorf("unexpected factors: %+v", got)
	}
	if got.UserBoost != nil || got.DueAt != nil {
		t.Errorf("absent factors must stay nil: %+v", got)
	}
}

// Interactions and priority

func TestListInteractions(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do("GET", "/api/v1/interactions?entity_kind=party&entity_id=p1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(f.audit.byEntity) != 1 || f.audit.byEntity[0] != domain.Ref(domain.EntityKindParty, "p1") {
		t.Errorf("unexpected lookups: %+v", f.audit.byEntity)
	}

	rec = f.do("GET", "/api/v1/interactions", nil, nil)
	if rec.Code != http.StatusOK || f.audit.recent != 1 {
		t.Errorf("expected recent listing, got %d", rec.Code)
	}

	rec = f.do("GET", "/api/v1/interactions?entity_kind=planet&entity_id=x", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown kind, got %d", rec.Code)
	}
}

func TestPreviewPriority(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do("POST", "/api/v1/priority/preview", []byte(`{"blocked":true}`), nil)
	if got := decode[domain.PriorityResult](t, rec); got.Score != 90 {
		t.Errorf("expected score 90, got %+v", got)
	}
}

// Admin

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, Config{AuthRequired: true}, nil)
	admin := map[string]string{"Authorization": "Bearer admin"}

	rec := f.do("POST", "/api/v1/admin/rescore", nil, admin)
	if rec.Code != http.StatusOK || f.commitments.rescored != 1 {
		t.Errorf("expected rescore run, got %d", rec.Code)
	}

	rec = f.do("GET", "/api/v1/admin/queue", nil, admin)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	_ = decode[driven.QueueStats](t, rec)

	rec = f.do("GET", "/api/v1/admin/queue", nil, map[string]string{"Authorization": "Bearer viewer"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestScheduleRoutes(t *testing.T) {
	f := newFixture(t, Config{AuthRequired: true}, nil)
	admin := map[string]string{"Authorization": "Bearer admin"}

	rec := f.do("GET", "/api/v1/admin/schedules", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decode[map[string][]domain.ScheduledTask](t, rec)
	if len(list["schedules"]) != 1 {
		t.Errorf("expected 1 schedule, got %d", len(list["schedules"]))
	}

	rec = f.do("POST", "/api/v1/admin/schedules/signal-reaper/disable", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[domain.ScheduledTask](t, rec); got.Enabled {
		t.Error("expected schedule to be disabled")
	}

	rec = f.do("POST", "/api/v1/admin/schedules/signal-reaper/enable", nil, admin)
	if got := decode[domain.ScheduledTask](t, rec); !got.Enabled {
		t.Error("expected schedule to be enabled")
	}

	rec = f.do("POST", "/api/v1/admin/schedules/signal-reaper/trigger", nil, admin)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if got := decode[domain.Task](t, rec); got.Type != domain.TaskTypeReapSignals {
		t.Errorf("unexpected task type %q", got.Type)
	}
	if len(f.schedules.triggered) != 1 {
		t.Errorf("expected 1 trigger, got %d", len(f.schedules.triggered))
	}

	rec = f.do("GET", "/api/v1/admin/schedules/missing", nil, admin)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = f.do("GET", "/api/v1/admin/schedules", nil, map[string]string{"Authorization": "Bearer member"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrTokenExpired, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{&domain.PipelineError{Step: domain.StepStore, Err: domain.ErrPayloadEmpty}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
