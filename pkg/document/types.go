// ABOUTME: Survey document data model for hierarchical versioning
// ABOUTME: Defines versioned Document, owned Question and caller Content

package document

import (
	"strings"
	"time"
)

// Document is one version of a survey. Editing never mutates a Document;
// it creates a new one whose ParentID points at the version it came from.
type Document struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	ParentID       *string   `json:"parentId"` // nil for the root of a family
	Version        float64   `json:"version"`
	Title          string    `json:"title"`
	Audience       string    `json:"audience"`
	Description    string    `json:"description"`
	Changelog      string    `json:"changelog,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsRoot reports whether the document starts a family.
func (d *Document) IsRoot() bool {
	return d.ParentID == nil || *d.ParentID == ""
}

// Parent returns the parent id or "" for a root.
func (d *Document) Parent() string {
	if d.IsRoot() {
		return ""
	}
	return *d.ParentID
}

// QuestionType tags the kind of answer a question collects.
type QuestionType string

const (
	QuestionText           QuestionType = "text"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionRating         QuestionType = "rating"
	QuestionYesNo          QuestionType = "yes_no"
)

// Question is owned by exactly one Document.
type Question struct {
	DocumentID string       `json:"documentId"`
	Position   int          `json:"position"` // contiguous from 0 within a document
	Text       string       `json:"text"`
	Type       QuestionType `json:"type"`
	Options    []string     `json:"options,omitempty"`
	Required   bool         `json:"required"`
}

// QuestionInput is a question as supplied by a caller, before it is
// attached to a document.
type QuestionInput struct {
	Text     string       `json:"text" validate:"notblank"`
	Type     QuestionType `json:"type" validate:"omitempty,oneof=text multiple_choice rating yes_no"`
	Options  []string     `json:"options,omitempty"`
	Required bool         `json:"required"`
}

// Content is the editable payload of a survey version.
type Content struct {
	Title       string          `json:"title" validate:"notblank"`
	Audience    string          `json:"audience" validate:"notblank"`
	Description string          `json:"description"`
	Questions   []QuestionInput `json:"questions" validate:"min=1,dive"`
}

// Attach converts the caller's ordered questions into Questions owned by
// documentID, assigning positions 0..n-1 in caller order.
func (c *Content) Attach(documentID string) []*Question {
	out := make([]*Question, len(c.Questions))
	for i, q := range c.Questions {
		qt := q.Type
		if qt == "" {
			qt = QuestionText
		}
		out[i] = &Question{
			DocumentID: documentID,
			Position:   i,
			Text:       strings.TrimSpace(q.Text),
			Type:       qt,
			Options:    append([]string(nil), q.Options...),
			Required:   q.Required,
		}
	}
	return out
}

// CopyQuestions re-owns questions under documentID, keeping their order.
func CopyQuestions(src []*Question, documentID string) []*Question {
	out := make([]*Question, len(src))
	for i, q := range src {
		out[i] = &Question{
			DocumentID: documentID,
			Position:   i,
			Text:       q.Text,
			Type:       q.Type,
			Options:    append([]string(nil), q.Options...),
			Required:   q.Required,
		}
	}
	return out
}
