package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nainya/surveystore/pkg/document"
	"github.com/nainya/surveystore/pkg/version"
)

// SQLiteStore persists documents in a SQLite database. Questions are
// removed by a foreign-key cascade when their document is deleted;
// parent references carry no constraint so dangling lineage stays visible.
type SQLiteStore struct {
	conn *sql.DB
	now  func() time.Time
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		parent_id       TEXT,
		version_tenths  INTEGER NOT NULL,
		title           TEXT NOT NULL,
		audience        TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		changelog       TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_org ON documents(organization_id);
	CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent_id);

	CREATE TABLE IF NOT EXISTS questions (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		position    INTEGER NOT NULL,
		text        TEXT NOT NULL,
		type        TEXT NOT NULL,
		options     TEXT NOT NULL DEFAULT '[]',
		required    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (document_id, position)
	);
`

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps pragmas and in-memory databases consistent.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := conn.Exec(sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{conn: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

const documentColumns = `id, organization_id, parent_id, version_tenths, title, audience, description, changelog, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		d         document.Document
		parent    sql.NullString
		tenths    int64
		createdAt int64
	)
	if err := row.Scan(&d.ID, &d.OrganizationID, &parent, &tenths, &d.Title, &d.Audience,
		&d.Description, &d.Changelog, &createdAt); err != nil {
		return nil, err
	}
	if parent.Valid && parent.String != "" {
		p := parent.String
		d.ParentID = &p
	}
	d.Version = version.FromTenths(tenths)
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return &d, nil
}

func (s *SQLiteStore) InsertDocument(ctx context.Context, doc *document.Document) (string, error) {
	doc.ID = uuid.NewString()
	doc.CreatedAt = s.now()

	var parent sql.NullString
	if !doc.IsRoot() {
		parent = sql.NullString{String: doc.Parent(), Valid: true}
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OrganizationID, parent, version.Tenths(doc.Version), doc.Title, doc.Audience,
		doc.Description, doc.Changelog, doc.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return doc.ID, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*document.Document, error) {
	var (
		where []string
		args  []any
	)
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.RootsOnly {
		where = append(where, "(parent_id IS NULL OR parent_id = '')")
	}
	if filter.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	dir := "ASC"
	if filter.Descending {
		dir = "DESC"
	}
	if filter.OrderBy == OrderVersion {
		query += fmt.Sprintf(` ORDER BY version_tenths %s, created_at %s, id %s`, dir, dir, dir)
	} else {
		query += fmt.Sprintf(` ORDER BY created_at %s, id %s`, dir, dir)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) InsertQuestions(ctx context.Context, documentID string, questions []*document.Question) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, documentID).Scan(&exists); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("questions for document %s: %w", documentID, ErrNotFound)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO questions (document_id, position, text, type, options, required) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	defer stmt.Close()

	for _, q := range questions {
		options := q.Options
		if options == nil {
			options = []string{}
		}
		encoded, err := json.Marshal(options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, documentID, q.Position, q.Text, string(q.Type), string(encoded), boolToInt(q.Required)); err != nil {
			return fmt.Errorf("insert question %d: %w", q.Position, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListQuestions(ctx context.Context, documentID string) ([]*document.Question, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT document_id, position, text, type, options, required FROM questions WHERE document_id = ? ORDER BY position`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []*document.Question
	for rows.Next() {
		var (
			q       document.Question
			qt      string
			options string
		)
		if err := rows.Scan(&q.DocumentID, &q.Position, &q.Text, &qt, &options, &q.Required); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Type = document.QuestionType(qt)
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
		if len(q.Options) == 0 {
			q.Options = nil
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
