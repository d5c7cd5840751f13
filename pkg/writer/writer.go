// ABOUTME: Compensating writer for publish, edit-save and restore workflows
// ABOUTME: Writes parent then children and deletes the parent if children fail

package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/lineage"
	"github.com/nainya/surveystore/pkg/notify"
	"github.com/nainya/surveystore/pkg/storage"
	"github.com/nainya/surveystore/pkg/version"
)

// Workflow names one of the write operations.
type Workflow string

const (
	WorkflowPublish Workflow = "publish"
	WorkflowEdit    Workflow = "create_version"
	WorkflowRestore Workflow = "restore"
	WorkflowDelete  Workflow = "delete"
)

// Result describes a completed workflow.
type Result struct {
	DocumentID string
	Version    float64
	State      State
}

// Observer receives workflow outcomes, typically for metrics.
type Observer interface {
	WorkflowFinished(wf Workflow, state State, err error, elapsed time.Duration)
	CompensationFailed(wf Workflow)
	NotificationFailed(ev notify.EventType)
}

type nopObserver struct{}

func (nopObserver) WorkflowFinished(Workflow, State, error, time.Duration) {}
func (nopObserver) CompensationFailed(Workflow)                            {}
func (nopObserver) NotificationFailed(notify.EventType)                    {}

const defaultNotifyTimeout = 5 * time.Second

// Writer orchestrates multi-step writes against a store that offers no
// transactions. Each workflow is one sequence of awaited calls.
type Writer struct {
	store         storage.Store
	notifier      notify.Notifier
	resolver      *lineage.Resolver
	observer      Observer
	validate      *validator.Validate
	log           zerolog.Logger
	tracer        trace.Tracer
	branchGuard   bool
	notifyTimeout time.Duration

	pending sync.WaitGroup
}

// Option configures a Writer.
type Option func(*Writer)

// WithObserver reports workflow outcomes to o.
func WithObserver(o Observer) Option {
	return func(w *Writer) { w.observer = o }
}

// WithResolver overrides the lineage resolver used by RestoreToTip.
func WithResolver(r *lineage.Resolver) Option {
	return func(w *Writer) { w.resolver = r }
}

// WithBranchGuard rejects edits whose reference version already has a
// child instead of creating a sibling branch.
func WithBranchGuard(enabled bool) Option {
	return func(w *Writer) { w.branchGuard = enabled }
}

// WithNotifyTimeout bounds each background notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(w *Writer) { w.notifyTimeout = d }
}

// New creates a Writer.
func New(store storage.Store, notifier notify.Notifier, log zerolog.Logger, opts ...Option) *Writer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	w := &Writer{
		store:         store,
		notifier:      notifier,
		resolver:      lineage.NewResolver(),
		observer:      nopObserver{},
		validate:      newValidator(),
		log:           log.With().Str("component", "writer").Logger(),
		tracer:        otel.Tracer("github.com/nainya/surveystore/pkg/writer"),
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait blocks until every background notification has finished.
func (w *Writer) Wait() {
	w.pending.Wait()
}

// Publish creates the root version (1.0) of a new survey.
func (w *Writer) Publish(ctx context.Context, orgID string, content document.Content) (res Result, err error) {
	ctx, finish := w.begin(ctx, WorkflowPublish, attribute.String("organization_id", orgID))
	defer func() { finish(res, err) }()

	if err := w.validateContent(orgID, true, content); err != nil {
		return Result{}, err
	}

	doc := &document.Document{
		OrganizationID: orgID,
		Version:        version.Initial,
		Title:          content.Title,
		Audience:       content.Audience,
		Description:    content.Description,
	}
	res, err = w.writeWithChildren(ctx, WorkflowPublish, doc, content.Attach)
	if err != nil {
		return res, err
	}

	w.emit(ctx, notify.New(orgID, res.DocumentID, notify.SurveyCreated{
		Title:         doc.Title,
		QuestionCount: len(content.Questions),
	}))
	return res, nil
}

// CreateNextVersion saves an edit of referenceID as a new child version.
// The reference version number is re-read from storage.
func (w *Writer) CreateNextVersion(ctx context.Context, referenceID string, content document.Content, major bool, changelog string) (res Result, err error) {
	ctx, finish := w.begin(ctx, WorkflowEdit,
		attribute.String("reference_id", referenceID),
		attribute.Bool("major", major))
	defer func() { finish(res, err) }()

	if err := w.validateContent("", false, content); err != nil {
		return Result{}, err
	}

	ref, err := w.fetch(ctx, "reference", referenceID)
	if err != nil {
		return Result{}, err
	}

	if w.branchGuard {
		if err := w.checkNoChildren(ctx, ref); err != nil {
			return Result{}, err
		}
	}

	next, err := version.Next(ref.Version, major)
	if err != nil {
		return Result{}, fmt.Errorf("reference %s: %w", referenceID, err)
	}

	parentID := ref.ID
	doc := &document.Document{
		OrganizationID: ref.OrganizationID,
		ParentID:       &parentID,
		Version:        next,
		Title:          content.Title,
		Audience:       content.Audience,
		Description:    content.Description,
		Changelog:      changelog,
	}
	res, err = w.writeWithChildren(ctx, WorkflowEdit, doc, content.Attach)
	if err != nil {
		return res, err
	}

	w.emit(ctx, notify.New(doc.OrganizationID, res.DocumentID, notify.VersionCreated{
		ParentID:  ref.ID,
		Version:   next,
		Major:     major,
		Changelog: changelog,
	}))
	return res, nil
}

// Restore copies the content of oldID onto a new minor version whose
// parent is currentLatestID, so the restore appends to the live tip. Both
// documents must belong to orgID and to the same family.
func (w *Writer) Restore(ctx context.Context, orgID, oldID, currentLatestID string) (res Result, err error) {
	ctx, finish := w.begin(ctx, WorkflowRestore,
		attribute.String("organization_id", orgID),
		attribute.String("old_id", oldID),
		attribute.String("current_latest_id", currentLatestID))
	defer func() { finish(res, err) }()

	if err := requireOrg(orgID); err != nil {
		return Result{}, err
	}

	old, err := w.fetchOwned(ctx, "old", oldID, orgID)
	if err != nil {
		return Result{}, err
	}
	questions, err := w.store.ListQuestions(ctx, oldID)
	if err != nil {
		return Result{}, &WriteError{Stage: StageFetch, State: StatePending, Err: err}
	}
	current, err := w.fetchOwned(ctx, "current_latest", currentLatestID, orgID)
	if err != nil {
		return Result{}, err
	}

	if len(questions) == 0 {
		return Result{}, &ValidationError{FieldErrors: []FieldError{
			{Field: "questions", Message: "version " + version.Format(old.Version) + " has no questions to restore"},
		}}
	}

	if old.ID != current.ID {
		docs, err := w.store.ListDocuments(ctx, storage.DocumentFilter{OrganizationID: orgID})
		if err != nil {
			return Result{}, &WriteError{Stage: StageLineage, State: StatePending, Err: err}
		}
		if err := w.resolver.SameFamily(old.ID, current.ID, docs); err != nil {
			return Result{}, err
		}
	}

	next, err := version.Next(current.Version, false)
	if err != nil {
		return Result{}, fmt.Errorf("current latest %s: %w", currentLatestID, err)
	}

	parentID := current.ID
	doc := &document.Document{
		OrganizationID: orgID,
		ParentID:       &parentID,
		Version:        next,
		Title:          old.Title,
		Audience:       old.Audience,
		Description:    old.Description,
		Changelog:      "Restored from " + version.Format(old.Version),
	}
	res, err = w.writeWithChildren(ctx, WorkflowRestore, doc, func(id string) []*document.Question {
		return document.CopyQuestions(questions, id)
	})
	if err != nil {
		return res, err
	}

	w.emit(ctx, notify.New(orgID, res.DocumentID, notify.VersionRestored{
		ParentID:            current.ID,
		RestoredFromID:      old.ID,
		RestoredFromVersion: old.Version,
		Version:             next,
	}))
	return res, nil
}

// RestoreToTip restores oldID onto the single latest version of its
// family. A branched family is reported as *lineage.AmbiguousLatestError.
func (w *Writer) RestoreToTip(ctx context.Context, orgID, oldID string) (Result, error) {
	if err := requireOrg(orgID); err != nil {
		return Result{}, err
	}
	if _, err := w.fetchOwned(ctx, "old", oldID, orgID); err != nil {
		return Result{}, err
	}

	docs, err := w.store.ListDocuments(ctx, storage.DocumentFilter{OrganizationID: orgID})
	if err != nil {
		return Result{}, &WriteError{Stage: StageFetch, State: StatePending, Err: err}
	}

	tip, err := w.resolver.Tip(oldID, docs)
	if err != nil {
		return Result{}, err
	}
	return w.Restore(ctx, orgID, oldID, tip.ID)
}

// Delete removes a document; storage cascades its questions.
func (w *Writer) Delete(ctx context.Context, id string) (err error) {
	ctx, finish := w.begin(ctx, WorkflowDelete, attribute.String("document_id", id))
	defer func() { finish(Result{DocumentID: id}, err) }()

	doc, err := w.fetch(ctx, "document", id)
	if err != nil {
		return err
	}
	if err := w.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &NotFoundError{Role: "document", ID: id, Err: err}
		}
		return &WriteError{Stage: StageDelete, State: StatePending, Err: err}
	}

	w.emit(ctx, notify.New(doc.OrganizationID, id, notify.SurveyDeleted{
		Title:   doc.Title,
		Version: doc.Version,
	}))
	return nil
}

// writeWithChildren inserts doc, then its questions, deleting doc again
// if the questions cannot be written.
func (w *Writer) writeWithChildren(ctx context.Context, wf Workflow, doc *document.Document, children func(documentID string) []*document.Question) (Result, error) {
	tx := &twoStepWrite{workflow: wf, state: StatePending}
	log := w.log.With().Str("workflow", string(wf)).Logger()

	id, err := w.store.InsertDocument(ctx, doc)
	if err != nil {
		return Result{State: tx.state}, &WriteError{Stage: StageParent, State: tx.state, Err: err}
	}
	tx.documentID = id
	tx.advance(StateParentCreated)

	// Past this point the workflow runs to completion or compensation.
	ctx = context.WithoutCancel(ctx)

	questions := children(id)
	if err := w.store.InsertQuestions(ctx, id, questions); err != nil {
		if delErr := w.store.DeleteDocument(ctx, id); delErr != nil {
			tx.advance(StateOrphaned)
			w.observer.CompensationFailed(wf)
			log.Error().
				Err(delErr).
				Str("document_id", id).
				AnErr("original_error", err).
				Msg("Compensating delete failed; document left without questions")
		} else {
			tx.advance(StateRolledBack)
			log.Warn().
				Err(err).
				Str("document_id", id).
				Msg("Question insert failed; document rolled back")
		}
		return Result{DocumentID: id, Version: doc.Version, State: tx.state},
			&WriteError{Stage: StageChildren, State: tx.state, Err: err}
	}
	tx.advance(StateComplete)

	log.Info().
		Str("document_id", id).
		Str("version", version.Format(doc.Version)).
		Int("questions", len(questions)).
		Msg("Survey version written")

	return Result{DocumentID: id, Version: doc.Version, State: tx.state}, nil
}

func (w *Writer) fetch(ctx context.Context, role, id string) (*document.Document, error) {
	doc, err := w.store.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &NotFoundError{Role: role, ID: id, Err: err}
	}
	if err != nil {
		return nil, &WriteError{Stage: StageFetch, State: StatePending, Err: err}
	}
	return doc, nil
}

// fetchOwned is fetch restricted to one organization. A document of
// another organization is reported as not found.
func (w *Writer) fetchOwned(ctx context.Context, role, id, orgID string) (*document.Document, error) {
	doc, err := w.fetch(ctx, role, id)
	if err != nil {
		return nil, err
	}
	if doc.OrganizationID != orgID {
		return nil, &NotFoundError{Role: role, ID: id, Err: storage.ErrNotFound}
	}
	return doc, nil
}

func requireOrg(orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return &ValidationError{FieldErrors: []FieldError{{Field: "organizationId", Message: "is required"}}}
	}
	return nil
}

func (w *Writer) checkNoChildren(ctx context.Context, ref *document.Document) error {
	parentID := ref.ID
	children, err := w.store.ListDocuments(ctx, storage.DocumentFilter{
		OrganizationID: ref.OrganizationID,
		ParentID:       &parentID,
	})
	if err != nil {
		return &WriteError{Stage: StageLineage, State: StatePending, Err: err}
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: %s (%s) has %d children", ErrBranchConflict, ref.ID, version.Format(ref.Version), len(children))
	}
	return nil
}

// emit sends n in the background. Failures are logged and counted only.
func (w *Writer) emit(ctx context.Context, n notify.Notification) {
	ctx = context.WithoutCancel(ctx)
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				w.observer.NotificationFailed(n.Type())
				w.log.Error().Interface("panic", r).Str("event", string(n.Type())).Msg("Notifier panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, w.notifyTimeout)
		defer cancel()

		if err := w.notifier.Send(ctx, n); err != nil {
			w.observer.NotificationFailed(n.Type())
			w.log.Warn().
				Err(err).
				Str("event", string(n.Type())).
				Str("document_id", n.DocumentID).
				Msg("Notification failed")
		}
	}()
}

// begin opens a span and returns a finisher that records the outcome.
func (w *Writer) begin(ctx context.Context, wf Workflow, attrs ...attribute.KeyValue) (context.Context, func(Result, error)) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "writer."+string(wf), trace.WithAttributes(attrs...))

	return ctx, func(res Result, err error) {
		elapsed := time.Since(start)
		state := res.State
		if err == nil && wf == WorkflowDelete {
			state = StateComplete
		}

		span.SetAttributes(attribute.String("state", state.String()))
		if res.DocumentID != "" {
			span.SetAttributes(attribute.String("document_id", res.DocumentID))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		w.observer.WorkflowFinished(wf, state, err, elapsed)
	}
}
