// ABOUTME: Change notifications emitted after successful survey writes
// ABOUTME: Events form a closed set of variants keyed by event type

package notify

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies a notification variant.
type EventType string

const (
	EventSurveyCreated   EventType = "survey_created"
	EventVersionCreated  EventType = "version_created"
	EventVersionRestored EventType = "version_restored"
	EventSurveyDeleted   EventType = "survey_deleted"
)

// Event is implemented only by the variants in this package.
type Event interface {
	Type() EventType
	isEvent()
}

// SurveyCreated is sent when a new root version is published.
type SurveyCreated struct {
	Title         string `json:"title"`
	QuestionCount int    `json:"questionCount"`
}

// VersionCreated is sent when an edit produces a new version.
type VersionCreated struct {
	ParentID  string  `json:"parentId"`
	Version   float64 `json:"version"`
	Major     bool    `json:"major"`
	Changelog string  `json:"changelog,omitempty"`
}

// VersionRestored is sent when an old version is copied onto the tip.
type VersionRestored struct {
	ParentID            string  `json:"parentId"`
	RestoredFromID      string  `json:"restoredFromId"`
	RestoredFromVersion float64 `json:"restoredFromVersion"`
	Version             float64 `json:"version"`
}

// SurveyDeleted is sent after a document is removed.
type SurveyDeleted struct {
	Title   string  `json:"title"`
	Version float64 `json:"version"`
}

func (SurveyCreated) Type() EventType   { return EventSurveyCreated }
func (VersionCreated) Type() EventType  { return EventVersionCreated }
func (VersionRestored) Type() EventType { return EventVersionRestored }
func (SurveyDeleted) Type() EventType   { return EventSurveyDeleted }

func (SurveyCreated) isEvent()   {}
func (VersionCreated) isEvent()  {}
func (VersionRestored) isEvent() {}
func (SurveyDeleted) isEvent()   {}

// Notification is the envelope handed to a Notifier.
type Notification struct {
	OrganizationID string
	DocumentID     string
	Event          Event
	At             time.Time
}

// New builds a notification stamped with the current time.
func New(orgID, documentID string, ev Event) Notification {
	return Notification{
		OrganizationID: orgID,
		DocumentID:     documentID,
		Event:          ev,
		At:             time.Now().UTC(),
	}
}

// Type returns the variant tag of the carried event.
func (n Notification) Type() EventType {
	if n.Event == nil {
		return ""
	}
	return n.Event.Type()
}

// MarshalJSON renders the wire envelope used by realtime subscribers.
func (n Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type           EventType `json:"type"`
		OrganizationID string    `json:"organizationId"`
		DocumentID     string    `json:"documentId"`
		Details        Event     `json:"details"`
		At             time.Time `json:"at"`
	}{n.Type(), n.OrganizationID, n.DocumentID, n.Event, n.At})
}

// Notifier delivers notifications. Callers treat every error as
// best-effort: it is logged, never propagated.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Send(context.Context, Notification) error { return nil }
