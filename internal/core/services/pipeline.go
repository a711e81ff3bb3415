package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure Pipeline implements PipelineService
var _ driving.PipelineService = (*Pipeline)(nil)

// Pipeline coordinates upload processing.
// It implements the upload flow:
//  1. Store bytes under their content address
//  2. Register an intake signal (duplicate and in-progress detection)
//  3. Extract facts with the recognition collaborator
//  4. Resolve the counterparty
//  5. Derive a prioritized commitment
//  6. Link document to party and commitment
//  7. Record the audit interaction
//  8. Attach the signal
//
// Steps 4-8 run as one unit of work: either all of them commit or none.
type Pipeline struct {
	backend    driven.Backend
	recognizer driven.Recognizer
	taskQueue  driven.TaskQueue
	lock       driven.DistributedLock

	content  *ContentStore
	intake   *SignalIntake
	resolver *EntityResolver
	engine   *CommitmentEngine

	recognitionTimeout time.Duration
	commitTimeout      time.Duration
	conflictRetries    int
	lockTTL            time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// PipelineConfig holds dependencies and tuning for Pipeline.
type PipelineConfig struct {
	Backend    driven.Backend
	Blobs      driven.BlobStorage
	Recognizer driven.Recognizer
	TaskQueue  driven.TaskQueue       // Optional: required only for Enqueue
	Lock       driven.DistributedLock // Optional: serializes identical uploads across instances

	Content  domain.ContentConfig
	Resolver domain.ResolverConfig
	Priority domain.PriorityConfig

	RecognitionTimeout time.Duration // default: 60s
	CommitTimeout      time.Duration // default: 30s
	ConflictRetries    int           // default: 3
	LockTTL            time.Duration // default: RecognitionTimeout + CommitTimeout

	Logger *slog.Logger
	Now    func() time.Time
}

// NewPipeline creates a new pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	recognitionTimeout := cfg.RecognitionTimeout
	if recognitionTimeout <= 0 {
		recognitionTimeout = 60 * time.Second
	}
	commitTimeout := cfg.CommitTimeout
	if commitTimeout <= 0 {
		commitTimeout = 30 * time.Second
	}
	retries := cfg.ConflictRetries
	if retries <= 0 {
		retries = 3
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = recognitionTimeout + commitTimeout
	}

	return &Pipeline{
		backend:    cfg.Backend,
		recognizer: cfg.Recognizer,
		taskQueue:  cfg.TaskQueue,
		lock:       cfg.Lock,
		content: NewContentStore(ContentStoreConfig{
			Files:   cfg.Backend.Files(),
			Blobs:   cfg.Blobs,
			Content: cfg.Content,
			Logger:  logger,
			Now:     now,
		}),
		intake: NewSignalIntake(SignalIntakeConfig{
			Signals: cfg.Backend.Signals(),
			Logger:  logger,
			Now:     now,
		}),
		resolver: NewEntityResolver(EntityResolverConfig{
			Parties: cfg.Backend.Parties(),
			Config:  cfg.Resolver,
			Logger:  logger,
			Now:     now,
		}),
		engine:             NewCommitmentEngine(NewPriorityEngine(cfg.Priority, now), now),
		recognitionTimeout: recognitionTimeout,
		commitTimeout:      commitTimeout,
		conflictRetries:    retries,
		lockTTL:            lockTTL,
		logger:             logger,
		now:                now,
	}
}

// Content exposes the pipeline's content store.
func (p *Pipeline) Content() *ContentStore {
	return p.content
}

// Intake exposes the pipeline's signal intake.
func (p *Pipeline) Intake() *SignalIntake {
	return p.intake
}

// Resolver exposes the pipeline's entity resolver.
func (p *Pipeline) Resolver() *EntityResolver {
	return p.resolver
}

// Engine exposes the pipeline's commitment engine.
func (p *Pipeline) Engine() *CommitmentEngine {
	return p.engine
}

// upload carries one document through the pipeline.
type upload struct {
	stored *domain.StoreResult
	data   []byte
	kind   domain.ExtractionKind
	actor  string
	start  time.Time
}

// ProcessUpload runs the whole pipeline synchronously.
func (p *Pipeline) ProcessUpload(ctx context.Context, req domain.UploadRequest) (*domain.ProcessingResult, error) {
	start := p.now()

	kind, err := extractionKind(req.ExtractionKind)
	if err != nil {
		return nil, &domain.PipelineError{Step: domain.StepStore, Err: err}
	}

	// Step 1: Store content
	stored, err := p.content.Store(ctx, req.Data, req.DeclaredName)
	if err != nil {
		return nil, &domain.PipelineError{Step: domain.StepStore, Err: err}
	}

	return p.process(ctx, &upload{
		stored: stored,
		data:   req.Data,
		kind:   kind,
		actor:  req.Actor,
		start:  start,
	})
}

// ProcessStored runs the pipeline for bytes already in the content store.
func (p *Pipeline) ProcessStored(ctx context.Context, address, declaredName string, kind domain.ExtractionKind, actor string) (*domain.ProcessingResult, error) {
	start := p.now()

	k, err := extractionKind(kind)
	if err != nil {
		return nil, &domain.PipelineError{Step: domain.StepStore, Address: address, Err: err}
	}
	file, err := p.content.Stat(ctx, address)
	if err != nil {
		return nil, &domain.PipelineError{Step: domain.StepStore, Address: address, Err: err}
	}
	data, err := p.content.Retrieve(ctx, address)
	if err != nil {
		return nil, &domain.PipelineError{Step: domain.StepStore, Address: address, Err: err}
	}

	return p.process(ctx, &upload{
		stored: &domain.StoreResult{File: file, AlreadyExisted: true},
		data:   data,
		kind:   k,
		actor:  actor,
		start:  start,
	})
}

// Enqueue stores the bytes and queues a process_upload task.
func (p *Pipeline) Enqueue(ctx context.Context, req domain.UploadRequest) (*domain.EnqueueResult, error) {
	if p.taskQueue == nil {
		return nil, &domain.PipelineError{Step: domain.StepIntake, Err: fmt.Errorf("%w: background processing is not configured", domain.ErrInvalidInput)}
	}
	kind, err := extractionKind(req.ExtractionKind)
	if err != nil {
		return nil, &domain.PipelineError{Step: domain.StepStore, Err: err}
	}

	stored, err := p.content.Store(ctx, req.Data, req.DeclaredName)
	if err != nil {
		return nil, &domain.PipelineError{Step: domain.StepStore, Err: err}
	}

	task := domain.NewProcessUploadTask(stored.Address(), req.DeclaredName, kind, req.Actor)
	if err := p.taskQueue.Enqueue(ctx, task); err != nil {
		return nil, &domain.PipelineError{Step: domain.StepIntake, Address: stored.Address(), Err: fmt.Errorf("failed to enqueue: %w", err)}
	}

	p.logger.Info("upload queued", "address", stored.Address(), "task_id", task.ID)
	return &domain.EnqueueResult{Document: documentSummary(stored), TaskID: task.ID}, nil
}

func (p *Pipeline) process(ctx context.Context, u *upload) (*domain.ProcessingResult, error) {
	address := u.stored.Address()
	fail := func(step domain.PipelineStep, err error) (*domain.ProcessingResult, error) {
		p.logger.Warn("upload processing failed", "address", address, "step", step, "error", err)
		return nil, &domain.PipelineError{Step: step, Address: address, Err: err}
	}

	if p.lock != nil {
		release, err := p.acquireUploadLock(ctx, address)
		if err != nil {
			return fail(domain.StepIntake, err)
		}
		defer release()
	}

	// Step 2: Register intake signal
	signal, created, err := p.intake.CreateSignal(ctx, domain.SignalSourceUpload, address, domain.UploadDedupeKey(address, u.stored.File.ID))
	if err != nil {
		return fail(domain.StepIntake, err)
	}
	if !created {
		if signal.State == domain.SignalStateAttached {
			return p.duplicateResult(ctx, u, signal)
		}
		return fail(domain.StepIntake, fmt.Errorf("%w: signal %s is %s", domain.ErrUploadInProgress, signal.ID, signal.State))
	}

	// Step 3: Extract facts
	extraction, err := p.extract(ctx, u)
	if err != nil {
		p.archive(ctx, signal, err)
		return fail(domain.StepExtract, err)
	}

	query := extraction.Facts.Vendor
	if err := query.Validate(); err != nil {
		p.archive(ctx, signal, err)
		return fail(domain.StepResolve, err)
	}

	// Steps 4-8: one unit of work, immune to caller cancellation
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.commitTimeout)
	defer cancel()

	var out *unitOutcome
	var step domain.PipelineStep
	for attempt := 0; attempt <= p.conflictRetries; attempt++ {
		out, step, err = p.commit(commitCtx, u, signal, extraction)
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			break
		}
		p.logger.Info("unit of work conflicted, retrying", "address", address, "step", step, "attempt", attempt+1)
	}
	if err != nil {
		p.archive(commitCtx, signal, err)
		return fail(step, err)
	}

	result := &domain.ProcessingResult{
		Document: documentSummary(u.stored),
		Party: &domain.PartySummary{
			ID:              out.match.Party.ID,
			Name:            out.match.Party.Name,
			MatchedExisting: out.match.Matched,
			Confidence:      out.match.Confidence,
			Tier:            out.match.Tier,
		},
		Commitment:    commitmentSummary(out.commitment),
		SignalID:      signal.ID,
		InteractionID: out.interaction.ID,
		Cost:          extraction.Cost,
		Model:         extraction.Model,
		Duration:      p.now().Sub(u.start),
		Links:         domain.NewResourceLinks(u.stored.File.ID, out.match.Party.ID),
	}

	p.logger.Info("upload processed",
		"address", address,
		"signal_id", signal.ID,
		"party_id", result.Party.ID,
		"tier", out.match.Tier.String(),
		"confidence", out.match.Confidence,
		"commitment_id", result.Commitment.ID,
		"priority", result.Commitment.Priority,
		"duration", result.Duration,
	)
	return result, nil
}

// acquireUploadLock takes the per-address lock. A lock backend failure is
// logged and tolerated because intake dedupe still guards correctness.
func (p *Pipeline) acquireUploadLock(ctx context.Context, address string) (func(), error) {
	name := "upload:" + address
	acquired, err := p.lock.Acquire(ctx, name, p.lockTTL)
	if err != nil {
		p.logger.Warn("failed to acquire upload lock", "address", address, "error", err)
		return func() {}, nil
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s is locked by another worker", domain.ErrUploadInProgress, address)
	}
	return func() {
		if err := p.lock.Release(context.WithoutCancel(ctx), name); err != nil {
			p.logger.Warn("failed to release upload lock", "address", address, "error", err)
		}
	}, nil
}

func (p *Pipeline) extract(ctx context.Context, u *upload) (*domain.Extraction, error) {
	rctx, cancel := context.WithTimeout(ctx, p.recognitionTimeout)
	defer cancel()

	extraction, err := p.recognizer.Recognize(rctx, domain.RecognitionRequest{
		Address:   u.stored.Address(),
		MediaType: u.stored.File.MediaType,
		Data:      u.data,
		Kind:      u.kind,
	})
	if err != nil {
		if errors.Is(err, domain.ErrExtractionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	if extraction == nil {
		return nil, fmt.Errorf("%w: empty response", domain.ErrExtractionFailed)
	}
	if extraction.Facts.Kind == "" {
		extraction.Facts.Kind = u.kind
	}
	if extraction.Model == "" {
		extraction.Model = p.recognizer.Model()
	}
	return extraction, nil
}

// archive retires a failed signal so identical bytes can be resubmitted.
func (p *Pipeline) archive(ctx context.Context, signal *domain.Signal, cause error) {
	if err := p.intake.Archive(context.WithoutCancel(ctx), signal, cause.Error()); err != nil {
		p.logger.Error("failed to archive signal", "signal_id", signal.ID, "error", err)
	}
}

// unitOutcome is what a committed unit of work produced.
type unitOutcome struct {
	match       *domain.PartyMatch
	commitment  *domain.Commitment
	interaction *domain.Interaction
}

// commit stages steps 4-8 and runs them in one transaction. The signal is
// only updated in place once the transaction has committed.
func (p *Pipeline) commit(ctx context.Context, u *upload, signal *domain.Signal, extraction *domain.Extraction) (*unitOutcome, domain.PipelineStep, error) {
	facts := &extraction.Facts
	query := facts.Vendor
	documentID := u.stored.File.ID
	staged := *signal
	out := &unitOutcome{}

	uow := newUnitOfWork()

	// Step 4: Resolve party
	uow.stage(domain.StepResolve, func(ctx context.Context, tx driven.Stores) error {
		resolver := p.resolver.WithStore(tx.Parties())
		match, err := resolver.Match(ctx, query)
		if err != nil {
			return err
		}
		if err := resolver.Persist(ctx, query, match); err != nil {
			return err
		}
		out.match = match
		return nil
	})

	// Step 5: Derive commitment
	uow.stage(domain.StepCommitment, func(ctx context.Context, tx driven.Stores) error {
		out.commitment = p.engine.CreateFromExtractedFacts(facts, out.match.Party, documentID)
		return tx.Commitments().Create(ctx, out.commitment)
	})

	// Step 6: Link document to entities
	uow.stage(domain.StepLink, func(ctx context.Context, tx driven.Stores) error {
		for _, ref := range []domain.EntityRef{
			domain.Ref(domain.EntityKindParty, out.match.Party.ID),
			domain.Ref(domain.EntityKindCommitment, out.commitment.ID),
		} {
			if err := tx.Links().Create(ctx, domain.NewLink(documentID, ref, p.now())); err != nil {
				return err
			}
		}
		return nil
	})

	// Step 7: Record interaction
	uow.stage(domain.StepRecord, func(ctx context.Context, tx driven.Stores) error {
		in := domain.NewInteraction(domain.InteractionDocumentProcessed, u.actor,
			domain.Ref(domain.EntityKindDocument, documentID),
			[]domain.EntityRef{
				domain.Ref(domain.EntityKindParty, out.match.Party.ID),
				domain.Ref(domain.EntityKindCommitment, out.commitment.ID),
				domain.Ref(domain.EntityKindSignal, staged.ID),
			},
			p.now(),
		)
		in.Cost = extraction.Cost
		in.Metadata["address"] = u.stored.Address()
		in.Metadata["model"] = extraction.Model
		in.Metadata["kind"] = string(facts.Kind)
		in.Metadata["tier"] = strconv.Itoa(int(out.match.Tier))
		in.Metadata["confidence"] = strconv.FormatFloat(out.match.Confidence, 'f', 4, 64)
		in.Metadata["matched"] = strconv.FormatBool(out.match.Matched)
		if facts.DocumentNumber != "" {
			in.Metadata["document_number"] = facts.DocumentNumber
		}
		out.interaction = in
		return tx.Interactions().Record(ctx, in)
	})

	// Step 8: Attach signal
	uow.stage(domain.StepAttach, func(ctx context.Context, tx driven.Stores) error {
		return p.intake.WithStore(tx.Signals()).Attach(ctx, &staged, documentID)
	})

	if step, err := uow.commit(ctx, p.backend); err != nil {
		return nil, step, err
	}
	*signal = staged
	return out, "", nil
}

// duplicateResult rebuilds the result of an earlier successful run.
func (p *Pipeline) duplicateResult(ctx context.Context, u *upload, signal *domain.Signal) (*domain.ProcessingResult, error) {
	documentID := signal.DocumentID
	result := &domain.ProcessingResult{
		Document:  documentSummary(u.stored),
		SignalID:  signal.ID,
		Duplicate: true,
	}
	result.Document.AlreadyExisted = true

	links, err := p.backend.Links().ListByDocument(ctx, documentID)
	if err != nil {
		return nil, &domain.PipelineError{Step: domain.StepIntake, Address: u.stored.Address(), Err: err}
	}
	var partyID string
	for _, l := range links {
		switch l.EntityKind {
		case domain.EntityKindParty:
			if party, err := p.backend.Parties().Get(ctx, l.EntityID); err == nil {
				partyID = party.ID
				result.Party = &domain.PartySummary{ID: party.ID, Name: party.Name, MatchedExisting: true}
			}
		case domain.EntityKindCommitment:
			if c, err := p.backend.Commitments().Get(ctx, l.EntityID); err == nil && result.Commitment == nil {
				result.Commitment = commitmentSummary(c)
			}
		}
	}

	history, err := p.backend.Interactions().ListByEntity(ctx, domain.Ref(domain.EntityKindDocument, documentID), 0, 0)
	if err == nil {
		for _, in := range history {
			if in.Type != domain.InteractionDocumentProcessed {
				continue
			}
			result.InteractionID = in.ID
			result.Cost = in.Cost
			result.Model = in.Metadata["model"]
			if result.Party != nil {
				if tier, err := strconv.Atoi(in.Metadata["tier"]); err == nil {
					result.Party.Tier = domain.MatchTier(tier)
				}
				if conf, err := strconv.ParseFloat(in.Metadata["confidence"], 64); err == nil {
					result.Party.Confidence = conf
				}
				result.Party.MatchedExisting = in.Metadata["matched"] == "true"
			}
			break
		}
	}

	result.Duration = p.now().Sub(u.start)
	result.Links = domain.NewResourceLinks(documentID, partyID)

	p.logger.Info("duplicate upload", "address", u.stored.Address(), "signal_id", signal.ID, "document_id", documentID)
	return result, nil
}

func extractionKind(kind domain.ExtractionKind) (domain.ExtractionKind, error) {
	if kind == "" {
		return domain.ExtractionKindInvoice, nil
	}
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: unknown extraction kind %q", domain.ErrInvalidInput, kind)
	}
	return kind, nil
}

func documentSummary(stored *domain.StoreResult) domain.DocumentSummary {
	return domain.DocumentSummary{
		ID:             stored.File.ID,
		Address:        stored.File.Address,
		MediaType:      stored.File.MediaType,
		Size:           stored.File.Size,
		AlreadyExisted: stored.AlreadyExisted,
	}
}

func commitmentSummary(c *domain.Commitment) *domain.CommitmentSummary {
	return &domain.CommitmentSummary{
		ID:       c.ID,
		Title:    c.Title,
		Priority: c.Priority,
		Reason:   c.PriorityReason,
	}
}
