package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
	Step  string `json:"step,omitempty" example:"extract"`
	// Address is the content address to resubmit with when Retryable is set
	Address   string `json:"address,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ReadyResponse reports each dependency checked by /ready
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// DocumentResponse is a stored document with the entities it is evidence for
type DocumentResponse struct {
	Document *domain.StoredFile `json:"document"`
	Links    []*domain.Link     `json:"links"`
}

// PartyListResponse is a page of parties
type PartyListResponse struct {
	Parties []*domain.Party `json:"parties"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// CancelRequest is the optional body of a cancel call
type CancelRequest struct {
	Reason string `json:"reason"`
}

// multipartOverhead leaves room for form boundaries and fields
const multipartOverhead = 1 << 20

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the store, queue and lock backends
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for name, p := range s.checks {
		if p == nil {
			continue
		}
		if err := p.Ping(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Upload endpoint

// handleUpload godoc
// @Summary      Upload a document
// @Description  Stores the document, extracts it, resolves the vendor and creates a commitment.
// @Description  Accepts multipart/form-data (field "file") or a raw body. With async=true the
// @Description  document is stored and queued instead.
// @Tags         Uploads
// @Accept       multipart/form-data
// @Produce      json
// @Param        kind   query     string  false  "invoice, receipt or contract"
// @Param        name   query     string  false  "Declared file name (raw uploads)"
// @Param        async  query     bool    false  "Queue processing"
// @Success      201    {object}  domain.ProcessingResult
// @Success      200    {object}  domain.ProcessingResult  "Duplicate upload"
// @Success      202    {object}  domain.EnqueueResult
// @Failure      400    {object}  ErrorResponse
// @Failure      409    {object}  ErrorResponse  "Identical content is being processed"
// @Failure      413    {object}  ErrorResponse
// @Failure      415    {object}  ErrorResponse
// @Failure      502    {object}  ErrorResponse  "Extraction failed"
// @Router       /api/v1/uploads [post]
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	req, err := s.readUpload(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		queued, err := s.pipeline.Enqueue(r.Context(), req)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, queued)
		return
	}

	result, err := s.pipeline.ProcessUpload(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// readUpload extracts the document bytes and options from a request
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (domain.UploadRequest, error) {
	query := r.URL.Query()
	req := domain.UploadRequest{
		DeclaredName:   query.Get("name"),
		ExtractionKind: domain.ExtractionKind(query.Get("kind")),
		Actor:          actor(r),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
		file, header, err := r.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				return req, tooLarge(s.maxUploadBytes)
			}
			return req, domain.MissingField("file")
		}
		defer file.Close()

		req.Data, err = io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
		if err != nil {
			return req, fmt.Errorf("%w: unreadable upload", domain.ErrInvalidInput)
		}
		if req.DeclaredName == "" {
			req.DeclaredName = header.Filename
		}
		if kind := r.FormValue("kind"); req.ExtractionKind == "" && kind != "" {
			req.ExtractionKind = domain.ExtractionKind(kind)
		}
		return req, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		if isTooLarge(err) {
			return req, tooLarge(s.maxUploadBytes)
		}
		return req, fmt.Errorf("%w: unreadable upload", domain.ErrInvalidInput)
	}
	req.Data = data
	return req, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func tooLarge(limit int64) error {
	return domain.RejectPayload(domain.ErrPayloadTooLarge, "limit is %d bytes", limit)
}

// Document endpoints

// handleGetDocument godoc
// @Summary      Get document
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  DocumentResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/documents/{id} [get]
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.docService.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	links, err := s.docService.Links(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentResponse{Document: doc, Links: links})
}

// handleDownloadDocument streams the original bytes
func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, data, err := s.docService.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", doc.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("ETag", `"`+doc.Address+`"`)
	if doc.OriginalName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalName}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleDeleteDocument removes a document and its links. Interactions stay.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.docService.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Party endpoints

// handleListParties godoc
// @Summary      List parties
// @Tags         Parties
// @Produce      json
// @Param        limit   query     int  false  "Page size"
// @Param        offset  query     int  false  "Offset"
// @Success      200     {object}  PartyListResponse
// @Router       /api/v1/parties [get]
func (s *Server) handleListParties(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	parties, total, err := s.partyService.List(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PartyListResponse{Parties: parties, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGetParty(w http.ResponseWriter, r *http.Request) {
	party, err := s.partyService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, party)
}

// handlePartyHistory godoc
// @Summary      Party history
// @Description  A party with its commitments, evidence documents and interactions
// @Tags         Parties
// @Produce      json
// @Param        id   path      string  true  "Party ID"
// @Success      200  {object}  domain.PartyHistory
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/parties/{id}/history [get]
func (s *Server) handlePartyHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.partyService.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleListPartyCommitments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.partyService.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	limit, offset := pagination(r)
	commitments, err := s.commitService.ListByParty(r.Context(), id, limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commitments)
}

// handleResolveParty godoc
// @Summary      Resolve a vendor
// @Description  Runs the matching cascade for a vendor description and creates the party on a miss
// @Tags         Parties
// @Accept       json
// @Produce      json
// @Success      200  {object}  domain.PartyMatch  "Matched an existing party"
// @Success      201  {object}  domain.PartyMatch  "Created a new party"
// @Failure      400  {object}  ErrorResponse
// @Router       /api/v1/parties/resolve [post]
func (s *Server) handleResolveParty(w http.ResponseWriter, r *http.Request) {
	var vendor map[string]any
	if err := json.NewDecoder(r.Body).Decode(&vendor); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	match, err := s.partyService.ResolveVendor(r.Context(), vendor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !match.Matched {
		status = http.StatusCreated
	}
	writeJSON(w, status, match)
}

// Commitment endpoints

func (s *Server) handleGetCommitment(w http.ResponseWriter, r *http.Request) {
	c, err := s.commitService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleFulfillCommitment godoc
// @Summary      Fulfill a commitment
// @Tags         Commitments
// @Produce      json
// @Param        id   path      string  true  "Commitment ID"
// @Success      200  {object}  domain.Commitment
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse  "Commitment is not pending"
// @Router       /api/v1/commitments/{id}/fulfill [post]
func (s *Server) handleFulfillCommitment(w http.ResponseWriter, r *http.Request) {
	c, err := s.commitService.Fulfill(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCancelCommitment(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	c, err := s.commitService.Cancel(r.Context(), r.PathValue("id"), actor(r), req.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleUpdateFactors godoc
// @Summary      Update priority factors
// @Description  Changes the inputs of a pending commitment and recomputes its priority
// @Tags         Commitments
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Commitment ID"
// @Param        request  body      domain.CommitmentFactors  true  "Changed factors"
// @Success      200      {object}  domain.Commitment
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Router       /api/v1/commitments/{id}/factors [patch]
func (s *Server) handleUpdateFactors(w http.ResponseWriter, r *http.Request) {
	var factors domain.CommitmentFactors
	if err := json.NewDecoder(r.Body).Decode(&factors); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.commitService.UpdateFactors(r.Context(), r.PathValue("id"), factors, actor(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Audit endpoints

// handleListInteractions godoc
// @Summary      List interactions
// @Description  Interactions referencing an entity, newest first. Without a filter, the newest overall.
// @Tags         Interactions
// @Produce      json
// @Param        entity_kind  query     string  false  "document, party, commitment or signal"
// @Param        entity_id    query     string  false  "Entity ID (requires entity_kind)"
// @Success      200          {array}   domain.Interaction
// @Failure      400          {object}  ErrorResponse
// @Router       /api/v1/interactions [get]
func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind := domain.EntityKind(query.Get("entity_kind"))
	id := query.Get("entity_id")
	limit, offset := pagination(r)

	if kind == "" && id == "" {
		items, err := s.auditService.ListRecent(r.Context(), limit, offset)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	if !kind.IsValid() || id == "" {
		writeError(w, http.StatusBadRequest, "entity_kind and entity_id must be given together")
		return
	}

	items, err := s.auditService.ListByEntity(r.Context(), domain.Ref(kind, id), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Priority endpoints

// handlePreviewPriority godoc
// @Summary      Preview a priority score
// @Description  Scores factors without persisting anything
// @Tags         Priority
// @Accept       json
// @Produce      json
// @Param        request  body      domain.PriorityInput  true  "Factors"
// @Success      200      {object}  domain.PriorityResult
// @Router       /api/v1/priority/preview [post]
func (s *Server) handlePreviewPriority(w http.ResponseWriter, r *http.Request) {
	var input domain.PriorityInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.commitService.PreviewPriority(input))
}

// Admin endpoints

func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	changed, err := s.commitService.RescorePending(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.taskQueue == nil {
		writeError(w, http.StatusNotFound, "background processing is not configured")
		return
	}
	stats, err := s.taskQueue.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.schedService.ListScheduledTasks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": tasks})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	task, err := s.schedService.GetScheduledTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.toggleSchedule(w, r, s.schedService.EnableScheduledTask)
}

func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.toggleSchedule(w, r, s.schedService.DisableScheduledTask)
}

func (s *Server) toggleSchedule(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) error) {
	id := r.PathValue("id")
	if err := apply(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	task, err := s.schedService.GetScheduledTask(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleTriggerSchedule godoc
// @Summary      Run a maintenance task now
// @Tags         Admin
// @Produce      json
// @Param        id   path      string  true  "Schedule ID"
// @Success      202  {object}  domain.Task
// @Failure      404  {object}  ErrorResponse
// @Router       /admin/schedules/{id}/trigger [post]
func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	task, err := s.schedService.TriggerNow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// Helpers

// pagination reads limit and offset query parameters
func pagination(r *http.Request) (limit, offset int) {
	query := r.URL.Query()
	limit, _ = strconv.Atoi(query.Get("limit"))
	offset, _ = strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrMediaTypeForbidden):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrPayloadRejected),
		errors.Is(err, domain.ErrMissingRequiredField),
		errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrUploadInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExtractionFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes a mapped error response and logs it
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var perr *domain.PipelineError
	if errors.As(err, &perr) {
		resp.Step = string(perr.Step)
		resp.Address = perr.Address
		resp.Retryable = perr.Retryable()
	}

	switch {
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			resp.Error = "internal server error"
		}
	case errors.Is(err, domain.ErrInvalidStateTransition):
		s.logger.Error("illegal state transition", "path", r.URL.Path, "error", err)
	default:
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: strings.TrimSpace(message)})
}
