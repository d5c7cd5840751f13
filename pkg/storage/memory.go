package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/surveystore/pkg/document"
)

// MemoryStore keeps records in process memory. Used for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]*document.Document
	questions map[string][]*document.Question
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]*document.Document),
		questions: make(map[string][]*document.Question),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the CreatedAt source.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) InsertDocument(ctx context.Context, doc *document.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc.ID = uuid.NewString()
	doc.CreatedAt = m.now()
	m.docs[doc.ID] = cloneDocument(doc)
	return doc.ID, nil
}

func (m *MemoryStore) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return cloneDocument(d), nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*document.Document
	for _, d := range m.docs {
		if filter.matches(d) {
			out = append(out, cloneDocument(d))
		}
	}
	filter.sort(out)
	return out, nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	delete(m.questions, id)
	return nil
}

func (m *MemoryStore) InsertQuestions(ctx context.Context, documentID string, questions []*document.Question) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[documentID]; !ok {
		return fmt.Errorf("questions for document %s: %w", documentID, ErrNotFound)
	}

	existing := m.questions[documentID]
	used := make(map[int]struct{}, len(existing)+len(questions))
	for _, e := range existing {
		used[e.Position] = struct{}{}
	}
	for _, q := range questions {
		if _, dup := used[q.Position]; dup {
			return fmt.Errorf("question position %d already used in document %s", q.Position, documentID)
		}
		used[q.Position] = struct{}{}
	}
	for _, q := range questions {
		c := cloneQuestion(q)
		c.DocumentID = documentID
		existing = append(existing, c)
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].Position < existing[j].Position })
	m.questions[documentID] = existing
	return nil
}

func (m *MemoryStore) ListQuestions(ctx context.Context, documentID string) ([]*document.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	qs := m.questions[documentID]
	out := make([]*document.Question, len(qs))
	for i, q := range qs {
		out[i] = cloneQuestion(q)
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
