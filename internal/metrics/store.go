package metrics

import (
	"context"
	"time"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/storage"
)

// instrumentedStore times every call into the wrapped store.
type instrumentedStore struct {
	next storage.Store
	m    *Metrics
}

// InstrumentStore wraps s so each call is counted and timed.
func InstrumentStore(s storage.Store, m *Metrics) storage.Store {
	return &instrumentedStore{next: s, m: m}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.m.RecordStoreOperation(op, err, time.Since(start))
}

func (s *instrumentedStore) InsertDocument(ctx context.Context, doc *document.Document) (id string, err error) {
	defer func(start time.Time) { s.observe("insert_document", start, err) }(time.Now())
	return s.next.InsertDocument(ctx, doc)
}

func (s *instrumentedStore) GetDocument(ctx context.Context, id string) (doc *document.Document, err error) {
	defer func(start time.Time) { s.observe("get_document", start, err) }(time.Now())
	return s.next.GetDocument(ctx, id)
}

func (s *instrumentedStore) ListDocuments(ctx context.Context, filter storage.DocumentFilter) (docs []*document.Document, err error) {
	defer func(start time.Time) { s.observe("list_documents", start, err) }(time.Now())
	return s.next.ListDocuments(ctx, filter)
}

func (s *instrumentedStore) DeleteDocument(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete_document", start, err) }(time.Now())
	return s.next.DeleteDocument(ctx, id)
}

func (s *instrumentedStore) InsertQuestions(ctx context.Context, documentID string, questions []*document.Question) (err error) {
	defer func(start time.Time) { s.observe("insert_questions", start, err) }(time.Now())
	return s.next.InsertQuestions(ctx, documentID, questions)
}

func (s *instrumentedStore) ListQuestions(ctx context.Context, documentID string) (qs []*document.Question, err error) {
	defer func(start time.Time) { s.observe("list_questions", start, err) }(time.Now())
	return s.next.ListQuestions(ctx, documentID)
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
