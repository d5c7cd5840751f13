// ABOUTME: Embedded BadgerDB adapter for the storage collaborator
// ABOUTME: Documents and questions live under prefix-encoded composite keys

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/version"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Path       string // directory for database files, ignored when InMemory
	InMemory   bool
	SyncWrites bool
	Logger     *zerolog.Logger // nil disables badger's internal logging
}

// BadgerStore persists documents in an embedded BadgerDB instance.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

// OpenBadger opens or creates a BadgerStore.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{log: cfg.Logger.With().Str("component", "badger").Logger()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	return &BadgerStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func documentKey(id string) []byte {
	return EncodeKey(PREFIX_DOCUMENT, []Value{NewStringValue(id)})
}

func orgIndexKey(orgID, id string) []byte {
	return EncodeKey(PREFIX_ORG_INDEX, []Value{NewStringValue(orgID), NewStringValue(id)})
}

func questionPrefix(documentID string) []byte {
	return EncodeKey(PREFIX_QUESTION, []Value{NewStringValue(documentID)})
}

func questionKey(documentID string, position int) []byte {
	return EncodeKey(PREFIX_QUESTION, []Value{NewStringValue(documentID), NewInt64Value(int64(position))})
}

func encodeDocument(d *document.Document) []byte {
	return EncodeValues([]Value{
		NewStringValue(d.ID),
		NewStringValue(d.OrganizationID),
		NewStringValue(d.Parent()),
		NewInt64Value(version.Tenths(d.Version)),
		NewStringValue(d.Title),
		NewStringValue(d.Audience),
		NewStringValue(d.Description),
		NewStringValue(d.Changelog),
		NewTimeValue(d.CreatedAt),
	})
}

func decodeDocument(data []byte) (*document.Document, error) {
	vals, err := DecodeValues(data)
	if err != nil {
		return nil, err
	}
	if len(vals) < 9 {
		return nil, fmt.Errorf("incomplete document data")
	}

	d := &document.Document{
		ID:             string(vals[0].Str),
		OrganizationID: string(vals[1].Str),
		Version:        version.FromTenths(vals[3].I64),
		Title:          string(vals[4].Str),
		Audience:       string(vals[5].Str),
		Description:    string(vals[6].Str),
		Changelog:      string(vals[7].Str),
		CreatedAt:      vals[8].Time,
	}
	if parent := string(vals[2].Str); parent != "" {
		d.ParentID = &parent
	}
	return d, nil
}

func encodeQuestion(q *document.Question) []byte {
	required := int64(0)
	if q.Required {
		required = 1
	}
	return EncodeValues([]Value{
		NewStringValue(q.DocumentID),
		NewInt64Value(int64(q.Position)),
		NewStringValue(q.Text),
		NewStringValue(string(q.Type)),
		NewBytesValue(EncodeStrings(q.Options)),
		NewInt64Value(required),
	})
}

func decodeQuestion(data []byte) (*document.Question, error) {
	vals, err := DecodeValues(data)
	if err != nil {
		return nil, err
	}
	if len(vals) < 6 {
		return nil, fmt.Errorf("incomplete question data")
	}

	options, err := DecodeStrings(vals[4].Str)
	if err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}

	return &document.Question{
		DocumentID: string(vals[0].Str),
		Position:   int(vals[1].I64),
		Text:       string(vals[2].Str),
		Type:       document.QuestionType(vals[3].Str),
		Options:    options,
		Required:   vals[5].I64 == 1,
	}, nil
}

func getDocument(txn *badger.Txn, id string) (*document.Document, error) {
	item, err := txn.Get(documentKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeDocument(val)
}

// scanKeys collects every key under prefix.
func scanKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func (s *BadgerStore) InsertDocument(ctx context.Context, doc *document.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc.ID = uuid.NewString()
	doc.CreatedAt = s.now()

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(documentKey(doc.ID), encodeDocument(doc)); err != nil {
			return err
		}
		return txn.Set(orgIndexKey(doc.OrganizationID, doc.ID), []byte{})
	})
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return doc.ID, nil
}

func (s *BadgerStore) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc *document.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = getDocument(txn, id)
		return err
	})
	return doc, err
}

func (s *BadgerStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*document.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var ids []string
		if filter.OrganizationID != "" {
			prefix := EncodeKey(PREFIX_ORG_INDEX, []Value{NewStringValue(filter.OrganizationID)})
			for _, key := range scanKeys(txn, prefix) {
				vals, err := ExtractValues(key)
				if err != nil || len(vals) < 2 {
					continue
				}
				ids = append(ids, string(vals[1].Str))
			}
		} else {
			for _, key := range scanKeys(txn, EncodeKey(PREFIX_DOCUMENT, nil)) {
				vals, err := ExtractValues(key)
				if err != nil || len(vals) < 1 {
					continue
				}
				ids = append(ids, string(vals[0].Str))
			}
		}

		for _, id := range ids {
			d, err := getDocument(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if filter.matches(d) {
				out = append(out, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	filter.sort(out)
	return out, nil
}

func (s *BadgerStore) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		d, err := getDocument(txn, id)
		if err != nil {
			return err
		}

		keys := scanKeys(txn, questionPrefix(id))
		keys = append(keys, documentKey(id), orgIndexKey(d.OrganizationID, id))
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) InsertQuestions(ctx context.Context, documentID string, questions []*document.Question) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := getDocument(txn, documentID); err != nil {
			return err
		}

		for _, q := range questions {
			key := questionKey(documentID, q.Position)
			if _, err := txn.Get(key); err == nil {
				return fmt.Errorf("question position %d already used in document %s", q.Position, documentID)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			c := cloneQuestion(q)
			c.DocumentID = documentID
			if err := txn.Set(key, encodeQuestion(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	return nil
}

func (s *BadgerStore) ListQuestions(ctx context.Context, documentID string) ([]*document.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*document.Question
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := questionPrefix(documentID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 32})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			q, err := decodeQuestion(val)
			if err != nil {
				return err
			}
			out = append(out, q)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return out, nil
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
