// ABOUTME: Behavioural tests shared by every storage adapter
// ABOUTME: Each backend must pass the same CRUD, filter and cascade checks

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/surveystore/pkg/document"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"badger": func(t *testing.T) Store {
			s, err := OpenBadger(BadgerConfig{InMemory: true})
			require.NoError(t, err)
			return s
		},
		"badger-disk": func(t *testing.T) Store {
			s, err := OpenBadger(BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")})
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "surveys.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func strPtr(s string) *string { return &s }

func TestInsertAndGetDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		doc := &document.Document{
			OrganizationID: "org-1",
			Version:        1.0,
			Title:          "Onboarding feedback",
			Audience:       "New hires",
			Description:    "First week impressions",
		}
		id, err := s.InsertDocument(ctx, doc)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.Equal(t, id, doc.ID)
		assert.False(t, doc.CreatedAt.IsZero())

		got, err := s.GetDocument(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Onboarding feedback", got.Title)
		assert.Equal(t, "New hires", got.Audience)
		assert.Equal(t, 1.0, got.Version)
		assert.True(t, got.IsRoot())
		assert.WithinDuration(t, doc.CreatedAt, got.CreatedAt, time.Millisecond)

		child := &document.Document{
			OrganizationID: "org-1",
			ParentID:       strPtr(id),
			Version:        1.1,
			Title:          "Onboarding feedback",
			Audience:       "New hires",
			Changelog:      "Reworded question 2",
		}
		childID, err := s.InsertDocument(ctx, child)
		require.NoError(t, err)

		got, err = s.GetDocument(ctx, childID)
		require.NoError(t, err)
		require.NotNil(t, got.ParentID)
		assert.Equal(t, id, *got.ParentID)
		assert.Equal(t, 1.1, got.Version)
		assert.Equal(t, "Reworded question 2", got.Changelog)
	})
}

func TestGetMissingDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.GetDocument(context.Background(), "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.DeleteDocument(context.Background(), "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestQuestionsOrderAndCascade(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.InsertDocument(ctx, &document.Document{OrganizationID: "org-1", Version: 1.0, Title: "T", Audience: "A"})
		require.NoError(t, err)

		questions := []*document.Question{
			{Position: 2, Text: "Anything else?", Type: document.QuestionText},
			{Position: 0, Text: "How was it?", Type: document.QuestionRating, Required: true},
			{Position: 1, Text: "Pick one", Type: document.QuestionMultipleChoice, Options: []string{"A", "B", "C"}},
		}
		require.NoError(t, s.InsertQuestions(ctx, id, questions))

		got, err := s.ListQuestions(ctx, id)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, q := range got {
			assert.Equal(t, i, q.Position)
			assert.Equal(t, id, q.DocumentID)
		}
		assert.Equal(t, "How was it?", got[0].Text)
		assert.True(t, got[0].Required)
		assert.Equal(t, []string{"A", "B", "C"}, got[1].Options)
		assert.Nil(t, got[2].Options)

		// Duplicate positions are rejected.
		err = s.InsertQuestions(ctx, id, []*document.Question{{Position: 0, Text: "dup", Type: document.QuestionText}})
		assert.Error(t, err)

		require.NoError(t, s.DeleteDocument(ctx, id))

		got, err = s.ListQuestions(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = s.GetDocument(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInsertQuestionsRejectsDuplicateInBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.InsertDocument(ctx, &document.Document{OrganizationID: "org-1", Version: 1.0, Title: "T", Audience: "A"})
		require.NoError(t, err)

		err = s.InsertQuestions(ctx, id, []*document.Question{
			{Position: 0, Text: "First", Type: document.QuestionText},
			{Position: 1, Text: "Second", Type: document.QuestionText},
			{Position: 1, Text: "Second again", Type: document.QuestionText},
		})
		assert.Error(t, err)

		got, err := s.ListQuestions(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, got, "a rejected batch must not be partially stored")
	})
}

func TestInsertQuestionsForMissingDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.InsertQuestions(context.Background(), "ghost", []*document.Question{{Position: 0, Text: "Q"}})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListDocumentsFilterAndOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rootID, err := s.InsertDocument(ctx, &document.Document{OrganizationID: "org-1", Version: 1.0, Title: "R", Audience: "A"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		majorID, err := s.InsertDocument(ctx, &document.Document{OrganizationID: "org-1", ParentID: strPtr(rootID), Version: 2.0, Title: "R", Audience: "A"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		minorID, err := s.InsertDocument(ctx, &document.Document{OrganizationID: "org-1", ParentID: strPtr(majorID), Version: 2.1, Title: "R", Audience: "A"})
		require.NoError(t, err)
		_, err = s.InsertDocument(ctx, &document.Document{OrganizationID: "org-2", Version: 1.0, Title: "Other", Audience: "B"})
		require.NoError(t, err)

		all, err := s.ListDocuments(ctx, DocumentFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		org1, err := s.ListDocuments(ctx, DocumentFilter{OrganizationID: "org-1", OrderBy: OrderVersion, Descending: true})
		require.NoError(t, err)
		require.Len(t, org1, 3)
		assert.Equal(t, []string{minorID, majorID, rootID}, []string{org1[0].ID, org1[1].ID, org1[2].ID})

		byCreated, err := s.ListDocuments(ctx, DocumentFilter{OrganizationID: "org-1", OrderBy: OrderCreatedAt})
		require.NoError(t, err)
		require.Len(t, byCreated, 3)
		assert.Equal(t, rootID, byCreated[0].ID)

		roots, err := s.ListDocuments(ctx, DocumentFilter{OrganizationID: "org-1", RootsOnly: true})
		require.NoError(t, err)
		require.Len(t, roots, 1)
		assert.Equal(t, rootID, roots[0].ID)

		children, err := s.ListDocuments(ctx, DocumentFilter{ParentID: strPtr(rootID)})
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, majorID, children[0].ID)
	})
}

func TestCanceledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.InsertDocument(ctx, &document.Document{OrganizationID: "org-1", Version: 1.0, Title: "T", Audience: "A"})
		assert.Error(t, err)
	})
}
