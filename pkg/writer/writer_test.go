package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/lineage"
	"github.com/nainya/surveystore/pkg/notify"
	"github.com/nainya/surveystore/pkg/storage"
)

// flakyStore wraps a real store and injects failures per call kind.
type flakyStore struct {
	storage.Store

	mu                 sync.Mutex
	insertDocCalls     int
	insertQuestionsErr error
	deleteErr          error
	insertDocErr       error
}

func (f *flakyStore) InsertDocument(ctx context.Context, doc *document.Document) (string, error) {
	f.mu.Lock()
	f.insertDocCalls++
	err := f.insertDocErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.Store.InsertDocument(ctx, doc)
}

func (f *flakyStore) InsertQuestions(ctx context.Context, id string, qs []*document.Question) error {
	if f.insertQuestionsErr != nil {
		return f.insertQuestionsErr
	}
	return f.Store.InsertQuestions(ctx, id, qs)
}

func (f *flakyStore) DeleteDocument(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.DeleteDocument(ctx, id)
}

// recordingNotifier captures notifications and optionally fails.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) events() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

// countingObserver records observer callbacks.
type countingObserver struct {
	mu            sync.Mutex
	finished      map[Workflow]int
	compensations int
	notifyFails   int
}

func (o *countingObserver) WorkflowFinished(wf Workflow, _ State, _ error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished == nil {
		o.finished = make(map[Workflow]int)
	}
	o.finished[wf]++
}

func (o *countingObserver) CompensationFailed(Workflow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.compensations++
}

func (o *countingObserver) NotificationFailed(notify.EventType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifyFails++
}

type fixture struct {
	store    *flakyStore
	notifier *recordingNotifier
	observer *countingObserver
	writer   *Writer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    &flakyStore{Store: storage.NewMemoryStore()},
		notifier: &recordingNotifier{},
		observer: &countingObserver{},
	}
	opts = append([]Option{WithObserver(f.observer)}, opts...)
	f.writer = New(f.store, f.notifier, zerolog.Nop(), opts...)
	return f
}

func sampleContent(title string, questions ...string) document.Content {
	c := document.Content{
		Title:       title,
		Audience:    "Customers",
		Description: "Quarterly pulse",
	}
	for _, q := range questions {
		c.Questions = append(c.Questions, document.QuestionInput{Text: q, Type: document.QuestionText})
	}
	return c
}

func (f *fixture) publish(t *testing.T, title string, questions ...string) Result {
	t.Helper()
	res, err := f.writer.Publish(context.Background(), "org-1", sampleContent(title, questions...))
	require.NoError(t, err)
	return res
}

func TestPublishCreatesRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.publish(t, "Pulse", "How are you?", "Anything else?")
	assert.Equal(t, 1.0, res.Version)
	assert.Equal(t, StateComplete, res.State)

	doc, err := f.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.True(t, doc.IsRoot())
	assert.Equal(t, "org-1", doc.OrganizationID)

	qs, err := f.store.ListQuestions(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "How are you?", qs[0].Text)
	assert.Equal(t, 1, qs[1].Position)

	f.writer.Wait()
	events := f.notifier.events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventSurveyCreated, events[0].Type())
	created, ok := events[0].Event.(notify.SurveyCreated)
	require.True(t, ok)
	assert.Equal(t, 2, created.QuestionCount)
}

func TestPublishValidationReportsEveryViolation(t *testing.T) {
	f := newFixture(t)

	_, err := f.writer.Publish(context.Background(), "", document.Content{Title: "  "})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	fields := map[string]string{}
	for _, fe := range verr.FieldErrors {
		fields[fe.Field] = fe.Message
	}
	assert.Contains(t, fields, "organizationId")
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "audience")
	assert.Equal(t, "must contain at least one question", fields["questions"])
	assert.Zero(t, f.store.insertDocCalls, "no insert may be attempted")
}

func TestPublishZeroQuestionsNoInsert(t *testing.T) {
	f := newFixture(t)

	_, err := f.writer.Publish(context.Background(), "org-1", sampleContent("Pulse"))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.FieldErrors, 1)
	assert.Equal(t, "questions", verr.FieldErrors[0].Field)
	assert.Zero(t, f.store.insertDocCalls)
}

func TestPublishBlankQuestionText(t *testing.T) {
	f := newFixture(t)

	_, err := f.writer.Publish(context.Background(), "org-1", sampleContent("Pulse", "ok", " ", ""))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.FieldErrors, 2)
	assert.Equal(t, "questions[1].text", verr.FieldErrors[0].Field)
	assert.Equal(t, "questions[2].text", verr.FieldErrors[1].Field)
}

func TestPublishParentInsertFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	f.store.insertDocErr = boom

	res, err := f.writer.Publish(context.Background(), "org-1", sampleContent("Pulse", "Q1"))

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, StageParent, werr.Stage)
	assert.Equal(t, StatePending, res.State)
	assert.ErrorIs(t, err, boom)
}

func assertRolledBack(t *testing.T, f *fixture, res Result, err, original error) {
	t.Helper()

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, StageChildren, werr.Stage)
	assert.Equal(t, StateRolledBack, werr.State)
	assert.Equal(t, StateRolledBack, res.State)
	assert.ErrorIs(t, err, original, "caller must see the original child failure")

	_, getErr := f.store.Store.GetDocument(context.Background(), res.DocumentID)
	assert.ErrorIs(t, getErr, storage.ErrNotFound, "compensating delete must remove the document")

	f.writer.Wait()
	assert.Empty(t, f.notifier.events(), "failed workflows do not notify")
}

func TestPublishCompensatesOnQuestionFailure(t *testing.T) {
	f := newFixture(t)
	original := errors.New("questions table unavailable")
	f.store.insertQuestionsErr = original

	res, err := f.writer.Publish(context.Background(), "org-1", sampleContent("Pulse", "Q1"))
	assertRolledBack(t, f, res, err, original)
}

func TestCreateNextVersionCompensatesOnQuestionFailure(t *testing.T) {
	f := newFixture(t)
	root := f.publish(t, "Pulse", "Q1")
	f.writer.Wait()
	f.notifier.sent = nil

	original := errors.New("timeout inserting questions")
	f.store.insertQuestionsErr = original

	res, err := f.writer.CreateNextVersion(context.Background(), root.DocumentID, sampleContent("Pulse 2", "Q1"), false, "edit")
	assertRolledBack(t, f, res, err, original)
}

func TestRestoreCompensatesOnQuestionFailure(t *testing.T) {
	f := newFixture(t)
	root := f.publish(t, "Pulse", "Q1")
	next, err := f.writer.CreateNextVersion(context.Background(), root.DocumentID, sampleContent("Pulse", "Q2"), false, "")
	require.NoError(t, err)
	f.writer.Wait()
	f.notifier.sent = nil

	original := errors.New("storage quota exceeded")
	f.store.insertQuestionsErr = original

	res, err := f.writer.Restore(context.Background(), "org-1", root.DocumentID, next.DocumentID)
	assertRolledBack(t, f, res, err, original)
}

func TestCompensationFailureKeepsOriginalError(t *testing.T) {
	f := newFixture(t)
	original := errors.New("insert questions failed")
	f.store.insertQuestionsErr = original
	f.store.deleteErr = errors.New("delete failed too")

	res, err := f.writer.Publish(context.Background(), "org-1", sampleContent("Pulse", "Q1"))

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, StateOrphaned, werr.State)
	assert.ErrorIs(t, err, original)
	assert.NotContains(t, err.Error(), "delete failed too")
	assert.Equal(t, 1, f.observer.compensations)

	// The orphaned parent is still there, observable as a document with no questions.
	_, getErr := f.store.GetDocument(context.Background(), res.DocumentID)
	assert.NoError(t, getErr)
}

func TestCreateNextVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.publish(t, "Pulse", "Q1")

	minor, err := f.writer.CreateNextVersion(ctx, root.DocumentID, sampleContent("Pulse", "Q1", "Q2"), false, "Added Q2")
	require.NoError(t, err)
	assert.Equal(t, 1.1, minor.Version)

	major, err := f.writer.CreateNextVersion(ctx, minor.DocumentID, sampleContent("Pulse v2", "Q1"), true, "Rewrite")
	require.NoError(t, err)
	assert.Equal(t, 2.0, major.Version)

	doc, err := f.store.GetDocument(ctx, major.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, doc.ParentID)
	assert.Equal(t, minor.DocumentID, *doc.ParentID)
	assert.Equal(t, "Rewrite", doc.Changelog)
	assert.Equal(t, "org-1", doc.OrganizationID)

	f.writer.Wait()
	events := f.notifier.events()
	require.Len(t, events, 3)
	vc, ok := events[2].Event.(notify.VersionCreated)
	require.True(t, ok)
	assert.True(t, vc.Major)
	assert.Equal(t, minor.DocumentID, vc.ParentID)
}

func TestCreateNextVersionMissingReference(t *testing.T) {
	f := newFixture(t)

	_, err := f.writer.CreateNextVersion(context.Background(), "missing", sampleContent("Pulse", "Q1"), false, "")

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "reference", nf.Role)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, f.store.insertDocCalls)
}

func TestConcurrentEditsBranchWithoutGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.publish(t, "Pulse", "Q1")

	a, err := f.writer.CreateNextVersion(ctx, root.DocumentID, sampleContent("A", "Q1"), false, "")
	require.NoError(t, err)
	b, err := f.writer.CreateNextVersion(ctx, root.DocumentID, sampleContent("B", "Q1"), false, "")
	require.NoError(t, err)

	// Same number, same parent, both latest: surfaced by lineage, not prevented.
	assert.Equal(t, a.Version, b.Version)

	docs, err := f.store.ListDocuments(ctx, storage.DocumentFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	candidates, err := lineage.NewResolver().LatestCandidates(docs, root.DocumentID)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestBranchGuardRejectsSecondEdit(t *testing.T) {
	f := newFixture(t, WithBranchGuard(true))
	ctx := context.Background()
	root := f.publish(t, "Pulse", "Q1")

	_, err := f.writer.CreateNextVersion(ctx, root.DocumentID, sampleContent("A", "Q1"), false, "")
	require.NoError(t, err)

	calls := f.store.insertDocCalls
	_, err = f.writer.CreateNextVersion(ctx, root.DocumentID, sampleContent("B", "Q1"), false, "")
	assert.ErrorIs(t, err, ErrBranchConflict)
	assert.Equal(t, calls, f.store.insertDocCalls)
}

func TestRestoreAlwaysMinorFromCurrentLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.publish(t, "Original", "First question")
	v11, err := f.writer.CreateNextVersion(ctx, root.DocumentID, sampleContent("Edited", "Changed"), false, "")
	require.NoError(t, err)
	v20, err := f.writer.CreateNextVersion(ctx, v11.DocumentID, sampleContent("Major", "Rewritten"), true, "")
	require.NoError(t, err)

	res, err := f.writer.Restore(ctx, "org-1", root.DocumentID, v20.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 2.1, res.Version, "restore increments the current latest, not the restored version")

	doc, err := f.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, v20.DocumentID, *doc.ParentID)
	assert.Equal(t, "Original", doc.Title)
	assert.Equal(t, "Restored from v1.0", doc.Changelog)

	qs, err := f.store.ListQuestions(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "First question", qs[0].Text)
	assert.Equal(t, res.DocumentID, qs[0].DocumentID)

	f.writer.Wait()
	events := f.notifier.events()
	restored, ok := events[len(events)-1].Event.(notify.VersionRestored)
	require.True(t, ok)
	assert.Equal(t, root.DocumentID, restored.RestoredFromID)
	assert.Equal(t, 2.1, restored.Version)
}

func TestRestoreWithoutQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	emptyID, err := f.store.Store.InsertDocument(ctx, &document.Document{OrganizationID: "org-1", Version: 1.0, Title: "Empty", Audience: "A"})
	require.NoError(t, err)

	calls := f.store.insertDocCalls
	_, err = f.writer.Restore(ctx, "org-1", emptyID, emptyID)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, calls, f.store.insertDocCalls)
}

func TestRestoreMissingDocuments(t *testing.T) {
	f := newFixture(t)
	root := f.publish(t, "Pulse", "Q1")

	_, err := f.writer.Restore(context.Background(), "org-1", "missing-old", root.DocumentID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "old", nf.Role)

	_, err = f.writer.Restore(context.Background(), "org-1", root.DocumentID, "missing-latest")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "current_latest", nf.Role)
}

func TestRestoreRejectsOtherOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	secret, err := f.writer.Publish(ctx, "org-a", sampleContent("Secret", "Salary?"))
	require.NoError(t, err)
	mine, err := f.writer.Publish(ctx, "org-b", sampleContent("Mine", "Q1"))
	require.NoError(t, err)
	calls := f.store.insertDocCalls

	_, err = f.writer.Restore(ctx, "org-b", secret.DocumentID, mine.DocumentID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "old", nf.Role)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.writer.Restore(ctx, "org-a", secret.DocumentID, mine.DocumentID)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "current_latest", nf.Role)

	_, err = f.writer.RestoreToTip(ctx, "org-b", secret.DocumentID)
	require.ErrorAs(t, err, &nf)

	_, err = f.writer.Restore(ctx, "", secret.DocumentID, secret.DocumentID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "organizationId", verr.FieldErrors[0].Field)

	assert.Equal(t, calls, f.store.insertDocCalls)
	docs, err := f.store.ListDocuments(ctx, storage.DocumentFilter{OrganizationID: "org-b"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRestoreRejectsOtherFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.publish(t, "A", "Q1")
	b := f.publish(t, "B", "Q1")
	calls := f.store.insertDocCalls

	_, err := f.writer.Restore(ctx, "org-1", a.DocumentID, b.DocumentID)
	assert.ErrorIs(t, err, lineage.ErrFamilyMismatch)
	assert.Equal(t, calls, f.store.insertDocCalls)
}

func TestRestoreToTip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.publish(t, "Original", "Q1")
	v11, err := f.writer.CreateNextVersion(ctx, root.DocumentID, sampleContent("Edit", "Q1"), false, "")
	require.NoError(t, err)
	v12, err := f.writer.CreateNextVersion(ctx, v11.DocumentID, sampleContent("Edit 2", "Q1"), false, "")
	require.NoError(t, err)

	res, err := f.writer.RestoreToTip(ctx, "org-1", root.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 1.3, res.Version)

	doc, err := f.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, v12.DocumentID, *doc.ParentID)

	// Branch the family and the tip becomes ambiguous.
	_, err = f.writer.CreateNextVersion(ctx, v12.DocumentID, sampleContent("Side", "Q1"), false, "")
	require.NoError(t, err)

	_, err = f.writer.RestoreToTip(ctx, "org-1", root.DocumentID)
	var ambiguous *lineage.AmbiguousLatestError
	require.ErrorAs(t, err, &ambiguous)
	assert.Len(t, ambiguous.Candidates, 2)
}

func TestNotificationFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("realtime channel down")

	res, err := f.writer.Publish(context.Background(), "org-1", sampleContent("Pulse", "Q1"))
	require.NoError(t, err)
	assert.Equal(t, StateComplete, res.State)

	f.writer.Wait()
	assert.Equal(t, 1, f.observer.notifyFails)
}

func TestNotifierPanicIsContained(t *testing.T) {
	store := storage.NewMemoryStore()
	panicky := notify.NotifierFunc(func(context.Context, notify.Notification) error { panic("boom") })
	obs := &countingObserver{}
	w := New(store, panicky, zerolog.Nop(), WithObserver(obs))

	_, err := w.Publish(context.Background(), "org-1", sampleContent("Pulse", "Q1"))
	require.NoError(t, err)

	w.Wait()
	assert.Equal(t, 1, obs.notifyFails)
}

func TestCanceledAfterParentStillCompletes(t *testing.T) {
	store := &cancelAfterInsert{Store: storage.NewMemoryStore()}
	w := New(store, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	store.cancel = cancel

	res, err := w.Publish(ctx, "org-1", sampleContent("Pulse", "Q1"))
	require.NoError(t, err)
	assert.Equal(t, StateComplete, res.State)

	qs, err := store.ListQuestions(context.Background(), res.DocumentID)
	require.NoError(t, err)
	assert.Len(t, qs, 1)
}

// cancelAfterInsert cancels the caller's context right after the parent insert.
type cancelAfterInsert struct {
	storage.Store
	cancel context.CancelFunc
}

func (c *cancelAfterInsert) InsertDocument(ctx context.Context, doc *document.Document) (string, error) {
	id, err := c.Store.InsertDocument(ctx, doc)
	c.cancel()
	return id, err
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.publish(t, "Pulse", "Q1")

	require.NoError(t, f.writer.Delete(ctx, root.DocumentID))

	_, err := f.store.GetDocument(ctx, root.DocumentID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	f.writer.Wait()
	events := f.notifier.events()
	assert.Equal(t, notify.EventSurveyDeleted, events[len(events)-1].Type())

	err = f.writer.Delete(ctx, root.DocumentID)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStateTransitions(t *testing.T) {
	tx := &twoStepWrite{workflow: WorkflowPublish}
	tx.advance(StateParentCreated)
	tx.advance(StateComplete)
	assert.True(t, tx.state.Terminal())

	assert.Panics(t, func() { tx.advance(StateRolledBack) })
	assert.Panics(t, func() { (&twoStepWrite{}).advance(StateComplete) })
	assert.Equal(t, "parent_created", StateParentCreated.String())
}
