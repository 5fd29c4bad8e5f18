package workflow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"constructlink/internal/database"
	"constructlink/internal/domain"
	"constructlink/internal/events"
	"constructlink/internal/logging"
	"constructlink/internal/metrics"
	"constructlink/internal/models"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Clock provides the current time for overdue derivation and stamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// TransitionRequest asks for one batch-wide transition.
type TransitionRequest struct {
	BatchID int64
	Kind    models.Transition
	Actor   models.Actor
	Notes   string
	// Reason is required for Cancel.
	Reason string
	// ActualReturn defaults to now for Return.
	ActualReturn   *time.Time
	Items          []ItemData
	IdempotencyKey string
}

type SubmitItem struct {
	AssetID        int64
	AssetName      string
	Quantity       int
	SerialNumber   string
	ExpectedReturn *time.Time
}

// SubmitRequest creates a batch. A single borrowed item is a batch of one.
type SubmitRequest struct {
	Actor           models.Actor
	BorrowerName    string
	BorrowerContact string
	BorrowerProject string
	Purpose         string
	Notes           string
	Items           []SubmitItem
}

type ItemSchedule struct {
	ItemID         int64
	ExpectedReturn time.Time
}

type ScheduleRequest struct {
	BatchID        int64
	Actor          models.Actor
	Items          []ItemSchedule
	Notes          string
	IdempotencyKey string
}

// Engine applies role-gated transitions to borrowing batches.
type Engine struct {
	store        domain.WorkflowStore
	matrix       *Matrix
	publisher    domain.EventPublisher
	clock        Clock
	locks        *batchLocks
	audit        *AuditTrail
	auditPreview int
	logger       *zerolog.Logger
}

type Option func(*Engine)

func WithMatrix(m *Matrix) Option { return func(e *Engine) { e.matrix = m } }

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithPublisher(p domain.EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

// WithAuditPreview sets how many recent audit entries a snapshot carries.
func WithAuditPreview(n int) Option { return func(e *Engine) { e.auditPreview = n } }

func NewEngine(store domain.WorkflowStore, logger *zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		matrix:       DefaultMatrix(),
		clock:        systemClock{},
		locks:        newBatchLocks(),
		audit:        NewAuditTrail(store),
		auditPreview: 10,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.Component(logger, "workflow")
	return e
}

func (e *Engine) Matrix() *Matrix { return e.matrix }

func (e *Engine) AuditTrail() *AuditTrail { return e.audit }

func (e *Engine) Now() time.Time { return e.clock.Now() }

// ApplyTransition runs Verify, Approve, Release, Return or Cancel on every
// item of a batch as one unit.
func (e *Engine) ApplyTransition(ctx context.Context, req TransitionRequest) (*models.BatchSnapshot, error) {
	if !req.Kind.BatchWide() {
		return nil, guardFailed(req.BatchID, req.Kind, "transition", "not a batch-wide transition")
	}

	return e.run(ctx, mutation{
		batchID: req.BatchID,
		kind:    req.Kind,
		actor:   req.Actor,
		key:     req.IdempotencyKey,
		apply: func(b *models.BorrowingBatch, items []*models.BorrowingItem, _ models.Status, now time.Time) (string, error) {
			if err := applyItemData(b.ID, req.Kind, items, req.Items); err != nil {
				return "", err
			}

			notes := strings.TrimSpace(req.Notes)
			switch req.Kind {
			case models.TransitionCancel:
				reason, err := checkCancelReason(b.ID, req.Reason)
				if err != nil {
					return "", err
				}
				notes = reason
			case models.TransitionRelease:
				if err := checkExpectedReturns(b.ID, items); err != nil {
					return "", err
				}
			case models.TransitionReturn:
				at, err := checkActualReturn(b, req.ActualReturn, now)
				if err != nil {
					return "", err
				}
				for _, it := range items {
					returned := at.UTC()
					it.ActualReturn = &returned
				}
			}
			return notes, nil
		},
	})
}

// SetExpectedReturns records due dates on items before release.
func (e *Engine) SetExpectedReturns(ctx context.Context, req ScheduleRequest) (*models.BatchSnapshot, error) {
	return e.run(ctx, mutation{
		batchID: req.BatchID,
		kind:    models.TransitionSchedule,
		actor:   req.Actor,
		key:     req.IdempotencyKey,
		apply: func(b *models.BorrowingBatch, items []*models.BorrowingItem, _ models.Status, now time.Time) (string, error) {
			if len(req.Items) == 0 {
				return "", guardFailed(b.ID, models.TransitionSchedule, "items", "no items to schedule")
			}
			byID := indexItems(items)
			seen := make(map[int64]bool, len(req.Items))
			for _, s := range req.Items {
				if _, ok := byID[s.ItemID]; !ok {
					return "", guardFailed(b.ID, models.TransitionSchedule, "items", fmt.Sprintf("item %d does not belong to the batch", s.ItemID))
				}
				if seen[s.ItemID] {
					return "", guardFailed(b.ID, models.TransitionSchedule, "items", fmt.Sprintf("item %d listed twice", s.ItemID))
				}
				seen[s.ItemID] = true
				if !s.ExpectedReturn.After(now) {
					return "", guardFailed(b.ID, models.TransitionSchedule, "expected_return", "expected return must be in the future")
				}
			}
			for _, s := range req.Items {
				due := s.ExpectedReturn.UTC()
				byID[s.ItemID].ExpectedReturn = &due
			}

			if notes := strings.TrimSpace(req.Notes); notes != "" {
				return notes, nil
			}
			return fmt.Sprintf("expected return set for %d item(s)", len(req.Items)), nil
		},
	})
}

type mutation struct {
	batchID int64
	kind    models.Transition
	actor   models.Actor
	key     string
	// apply checks guards and changes batch and items in memory. It returns the audit notes.
	apply func(b *models.BorrowingBatch, items []*models.BorrowingItem, current models.Status, now time.Time) (string, error)
}

func (e *Engine) run(ctx context.Context, m mutation) (*models.BatchSnapshot, error) {
	start := time.Now()
	snap, err := e.runLocked(ctx, m)
	metrics.ObserveTransition(string(m.kind), outcome(err), time.Since(start))
	return snap, err
}

func (e *Engine) runLocked(ctx context.Context, m mutation) (*models.BatchSnapshot, error) {
	unlock := e.locks.lock(m.batchID)
	defer unlock()

	var (
		batch     *models.BorrowingBatch
		entry     *models.AuditEntry
		itemCount int
		dueAt     *time.Time
		replayed  bool
	)

	err := e.store.WithinTx(ctx, func(tx domain.WorkflowTx) error {
		b, items, err := tx.LockBatch(ctx, m.batchID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return notFound(m.batchID)
			}
			return fmt.Errorf("failed to load batch: %w", err)
		}

		if m.key != "" {
			prior, err := tx.FindAuditByKey(ctx, m.batchID, m.key)
			switch {
			case err == nil:
				if err := e.checkReplay(m, prior); err != nil {
					return err
				}
				replayed = true
				return nil
			case !errors.Is(err, database.ErrNotFound):
				return fmt.Errorf("failed to check idempotency key: %w", err)
			}
		}

		now := e.clock.Now()
		current, err := AggregateStatus(items, now)
		if err != nil {
			return err
		}
		if !ValidFrom(m.kind, current) {
			return invalidState(m.batchID, m.kind, current)
		}
		if !e.matrix.Allows(m.kind, m.actor.Role, current) {
			return unauthorized(m.batchID, m.kind, m.actor.Role)
		}

		notes, err := m.apply(b, items, current, now)
		if err != nil {
			return err
		}

		to := current
		if post, ok := PostState(m.kind); ok {
			to = post
			for _, it := range items {
				it.Status = post
			}
			b.Status = post
			by, at := m.actor.ID, now
			stamp := b.StampFor(m.kind)
			stamp.By, stamp.At, stamp.Notes = &by, &at, notes
		}
		b.UpdatedAt = now

		if err := tx.UpdateItems(ctx, items); err != nil {
			return err
		}
		if err := tx.UpdateBatch(ctx, b); err != nil {
			return err
		}

		entry = &models.AuditEntry{
			EventID:        uuid.NewString(),
			BatchID:        b.ID,
			Transition:     m.kind,
			FromStatus:     current,
			ToStatus:       to,
			ActorID:        m.actor.ID,
			ActorName:      m.actor.Name,
			ActorRole:      m.actor.Role,
			Notes:          notes,
			IdempotencyKey: m.key,
			CreatedAt:      now,
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}

		batch, itemCount, dueAt = b, len(items), earliestDue(items)
		return nil
	})
	if err != nil {
		return e.fail(ctx, m, err)
	}

	if replayed {
		e.logger.Info().
			Int64("batch_id", m.batchID).
			Str("transition", string(m.kind)).
			Str("idempotency_key", m.key).
			Msg("Replayed transition, nothing applied")
		return e.GetSnapshot(ctx, m.batchID)
	}

	e.logger.Info().
		Int64("batch_id", batch.ID).
		Str("reference", batch.Reference).
		Str("transition", string(m.kind)).
		Str("from", string(entry.FromStatus)).
		Str("to", string(entry.ToStatus)).
		Int64("actor_id", m.actor.ID).
		Str("role", string(m.actor.Role)).
		Msg("Transition applied")

	e.publishEvent(batch, entry, itemCount, dueAt)
	return e.GetSnapshot(ctx, m.batchID)
}

// checkReplay decides whether a reused idempotency key may return the stored
// outcome. The caller must hold the same role grant the original action needed.
func (e *Engine) checkReplay(m mutation, prior *models.AuditEntry) error {
	if prior.Transition != m.kind {
		return guardFailed(m.batchID, m.kind, "idempotency_key", fmt.Sprintf("key already used for %s", prior.Transition))
	}
	if !e.matrix.Allows(m.kind, m.actor.Role, prior.FromStatus) {
		return unauthorized(m.batchID, m.kind, m.actor.Role)
	}
	return nil
}

// fail maps storage conflicts to workflow errors and logs the outcome.
func (e *Engine) fail(ctx context.Context, m mutation, err error) (*models.BatchSnapshot, error) {
	switch {
	case errors.Is(err, database.ErrConcurrentModification):
		snap, serr := e.GetSnapshot(ctx, m.batchID)
		if serr != nil {
			return nil, serr
		}
		e.logger.Warn().Int64("batch_id", m.batchID).Str("transition", string(m.kind)).Msg("Lost update race")
		return nil, invalidState(m.batchID, m.kind, snap.Status)
	case errors.Is(err, database.ErrDuplicateIdempotencyKey):
		prior, ferr := e.store.FindAuditByKey(ctx, m.batchID, m.key)
		if ferr != nil {
			return nil, fmt.Errorf("failed to resolve idempotency key: %w", ferr)
		}
		if err := e.checkReplay(m, prior); err != nil {
			return nil, err
		}
		return e.GetSnapshot(ctx, m.batchID)
	}

	if we, ok := AsError(err); ok {
		if we.BatchID == 0 {
			we.BatchID = m.batchID
		}
		if errors.Is(err, ErrConsistency) {
			e.logger.Error().Err(err).Int64("batch_id", m.batchID).Msg("Batch items disagree on status")
		} else {
			e.logger.Info().
				Int64("batch_id", m.batchID).
				Str("transition", string(m.kind)).
				Str("role", string(m.actor.Role)).
				Str("reason", we.Message).
				Msg("Transition rejected")
		}
		return nil, err
	}

	e.logger.Error().Err(err).Int64("batch_id", m.batchID).Str("transition", string(m.kind)).Msg("Transition failed")
	return nil, fmt.Errorf("failed to %s batch %d: %w", m.kind, m.batchID, err)
}

// Submit creates a batch in Pending Verification.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*models.BatchSnapshot, error) {
	start := time.Now()
	snap, err := e.submit(ctx, req)
	metrics.ObserveTransition(string(models.TransitionSubmit), outcome(err), time.Since(start))
	return snap, err
}

func (e *Engine) submit(ctx context.Context, req SubmitRequest) (*models.BatchSnapshot, error) {
	if !e.matrix.IsAuthorized(models.TransitionSubmit, req.Actor.Role) {
		return nil, unauthorized(0, models.TransitionSubmit, req.Actor.Role)
	}

	now := e.clock.Now()
	if err := validateSubmit(req, now); err != nil {
		return nil, err
	}

	batch := &models.BorrowingBatch{
		Reference:       newReference(now),
		BorrowerName:    strings.TrimSpace(req.BorrowerName),
		BorrowerContact: strings.TrimSpace(req.BorrowerContact),
		BorrowerProject: strings.TrimSpace(req.BorrowerProject),
		Purpose:         strings.TrimSpace(req.Purpose),
		CreatedBy:       req.Actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          models.StatusPendingVerification,
	}

	items := make([]*models.BorrowingItem, 0, len(req.Items))
	for _, in := range req.Items {
		qty := in.Quantity
		if qty == 0 {
			qty = 1
		}
		item := &models.BorrowingItem{
			AssetID:      in.AssetID,
			AssetName:    strings.TrimSpace(in.AssetName),
			Quantity:     qty,
			SerialNumber: strings.TrimSpace(in.SerialNumber),
			Status:       models.StatusPendingVerification,
		}
		if in.ExpectedReturn != nil {
			due := in.ExpectedReturn.UTC()
			item.ExpectedReturn = &due
		}
		items = append(items, item)
	}

	entry := &models.AuditEntry{
		EventID:    uuid.NewString(),
		Transition: models.TransitionSubmit,
		ToStatus:   models.StatusPendingVerification,
		ActorID:    req.Actor.ID,
		ActorName:  req.Actor.Name,
		ActorRole:  req.Actor.Role,
		Notes:      strings.TrimSpace(req.Notes),
		CreatedAt:  now,
	}

	err := e.store.WithinTx(ctx, func(tx domain.WorkflowTx) error {
		if err := tx.InsertBatch(ctx, batch, items); err != nil {
			return err
		}
		entry.BatchID = batch.ID
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		e.logger.Error().Err(err).Int64("actor_id", req.Actor.ID).Msg("Failed to submit batch")
		return nil, fmt.Errorf("failed to submit batch: %w", err)
	}

	e.logger.Info().
		Int64("batch_id", batch.ID).
		Str("reference", batch.Reference).
		Int("items", len(items)).
		Int64("actor_id", req.Actor.ID).
		Msg("Batch submitted")

	e.publishEvent(batch, entry, len(items), earliestDue(items))
	return e.GetSnapshot(ctx, batch.ID)
}

func validateSubmit(req SubmitRequest, now time.Time) error {
	t := models.TransitionSubmit
	if strings.TrimSpace(req.BorrowerName) == "" {
		return guardFailed(0, t, "borrower_name", "borrower name is required")
	}
	if len(req.Items) == 0 {
		return guardFailed(0, t, "items", "a batch needs at least one item")
	}
	for i, it := range req.Items {
		if it.AssetID <= 0 {
			return guardFailed(0, t, "asset_id", fmt.Sprintf("item %d has no asset", i+1))
		}
		if it.Quantity < 0 {
			return guardFailed(0, t, "quantity", fmt.Sprintf("item %d has a negative quantity", i+1))
		}
		if it.ExpectedReturn != nil && !it.ExpectedReturn.After(now) {
			return guardFailed(0, t, "expected_return", fmt.Sprintf("item %d is due in the past", i+1))
		}
	}
	return nil
}

func newReference(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return "BRW-" + ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// GetSnapshot loads a batch with derived statuses and its recent audit entries.
func (e *Engine) GetSnapshot(ctx context.Context, batchID int64) (*models.BatchSnapshot, error) {
	batch, items, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound(batchID)
		}
		return nil, fmt.Errorf("failed to load batch %d: %w", batchID, err)
	}

	snap, err := e.snapshot(batch, items, e.clock.Now())
	if err != nil {
		return nil, err
	}

	recent, err := e.audit.Recent(ctx, batchID, e.auditPreview)
	if err != nil {
		return nil, err
	}
	snap.Audit = recent
	return snap, nil
}

// ListBatches returns snapshots without audit entries. Filtering on Overdue
// or Borrowed uses the engine clock.
func (e *Engine) ListBatches(ctx context.Context, filter models.BatchFilter) ([]*models.BatchSnapshot, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, guardFailed(0, "", "status", fmt.Sprintf("unknown status %q", filter.Status))
	}

	now := e.clock.Now()
	batches, err := e.store.ListBatches(ctx, filter, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	ids := make([]int64, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	itemsByBatch, err := e.store.GetItemsForBatches(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch items: %w", err)
	}

	snaps := make([]*models.BatchSnapshot, 0, len(batches))
	for _, b := range batches {
		snap, err := e.snapshot(b, itemsByBatch[b.ID], now)
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (e *Engine) snapshot(batch *models.BorrowingBatch, items []*models.BorrowingItem, now time.Time) (*models.BatchSnapshot, error) {
	status, err := AggregateStatus(items, now)
	if err != nil {
		if we, ok := AsError(err); ok {
			we.BatchID = batch.ID
		}
		e.logger.Error().Err(err).Int64("batch_id", batch.ID).Msg("Batch items disagree on status")
		return nil, err
	}
	return &models.BatchSnapshot{
		Batch:  *batch,
		Status: status,
		Items:  ItemViews(items, now),
		Audit:  []models.AuditEntry{},
	}, nil
}

// AvailableTransitions lists what role may do next with the batch.
func (e *Engine) AvailableTransitions(snap *models.BatchSnapshot, role models.Role) []models.Transition {
	var out []models.Transition
	for _, t := range models.AllTransitions() {
		if t == models.TransitionSubmit {
			continue
		}
		if ValidFrom(t, snap.Status) && e.matrix.Allows(t, role, snap.Status) {
			out = append(out, t)
		}
	}
	return out
}

// History returns the full audit trail of a batch, oldest first.
func (e *Engine) History(ctx context.Context, batchID int64) ([]models.AuditEntry, error) {
	return e.audit.History(ctx, batchID)
}

func (e *Engine) publishEvent(batch *models.BorrowingBatch, entry *models.AuditEntry, itemCount int, dueAt *time.Time) {
	if e.publisher == nil {
		return
	}
	payload := events.BatchEventPayload{
		EventID:      entry.EventID,
		BatchID:      batch.ID,
		Reference:    batch.Reference,
		BorrowerName: batch.BorrowerName,
		Transition:   entry.Transition,
		FromStatus:   entry.FromStatus,
		ToStatus:     entry.ToStatus,
		ActorID:      entry.ActorID,
		ActorName:    entry.ActorName,
		ActorRole:    entry.ActorRole,
		Notes:        entry.Notes,
		ItemCount:    itemCount,
		DueAt:        dueAt,
		OccurredAt:   entry.CreatedAt,
	}
	if err := e.publisher.PublishJSON(events.TypeFor(entry.Transition), payload); err != nil {
		e.logger.Warn().Err(err).Int64("batch_id", batch.ID).Str("transition", string(entry.Transition)).Msg("Failed to publish event")
	}
}

func earliestDue(items []*models.BorrowingItem) *time.Time {
	var due *time.Time
	for _, it := range items {
		if it.ExpectedReturn != nil && (due == nil || it.ExpectedReturn.Before(*due)) {
			due = it.ExpectedReturn
		}
	}
	return due
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrGuardFailed):
		return "guard_failed"
	case errors.Is(err, ErrConsistency):
		return "consistency"
	default:
		return "error"
	}
}
