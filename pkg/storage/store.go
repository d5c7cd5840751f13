// ABOUTME: Storage collaborator consumed by the versioning workflows
// ABOUTME: CRUD over documents and questions with no multi-record transaction

package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/version"
)

// Key prefixes shared by the embedded adapters
const (
	PREFIX_DOCUMENT  = uint32(1000) // (documentID) -> document row
	PREFIX_ORG_INDEX = uint32(1100) // (organizationID, documentID) -> empty
	PREFIX_QUESTION  = uint32(2000) // (documentID, position) -> question row
)

// ErrNotFound is returned when an id does not resolve.
var ErrNotFound = errors.New("record not found")

// OrderField selects the sort key for ListDocuments.
type OrderField string

const (
	OrderCreatedAt OrderField = "created_at"
	OrderVersion   OrderField = "version"
)

// DocumentFilter narrows ListDocuments. Zero values match everything.
type DocumentFilter struct {
	OrganizationID string
	ParentID       *string // match children of this id
	RootsOnly      bool
	OrderBy        OrderField
	Descending     bool
}

// Store is the record storage collaborator. Every call is independent;
// callers get no way to group several writes into one transaction.
type Store interface {
	// InsertDocument assigns ID and CreatedAt and persists doc.
	InsertDocument(ctx context.Context, doc *document.Document) (string, error)
	GetDocument(ctx context.Context, id string) (*document.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*document.Document, error)
	// DeleteDocument removes a document and cascades to its questions.
	DeleteDocument(ctx context.Context, id string) error

	// InsertQuestions persists all questions of one document in one call.
	InsertQuestions(ctx context.Context, documentID string, questions []*document.Question) error
	// ListQuestions returns the questions of a document ordered by position.
	ListQuestions(ctx context.Context, documentID string) ([]*document.Question, error)

	Close() error
}

func (f DocumentFilter) matches(d *document.Document) bool {
	if f.OrganizationID != "" && d.OrganizationID != f.OrganizationID {
		return false
	}
	if f.RootsOnly && !d.IsRoot() {
		return false
	}
	if f.ParentID != nil && d.Parent() != *f.ParentID {
		return false
	}
	return true
}

func (f DocumentFilter) sort(docs []*document.Document) {
	less := func(i, j int) bool {
		a, b := docs[i], docs[j]
		if f.OrderBy == OrderVersion {
			if c := version.Compare(a.Version, b.Version); c != 0 {
				return c < 0
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	if f.Descending {
		sort.SliceStable(docs, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(docs, less)
}

func cloneDocument(d *document.Document) *document.Document {
	c := *d
	if d.ParentID != nil {
		p := *d.ParentID
		c.ParentID = &p
	}
	return &c
}

func cloneQuestion(q *document.Question) *document.Question {
	c := *q
	c.Options = append([]string(nil), q.Options...)
	return &c
}
