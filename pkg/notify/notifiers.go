package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// LogNotifier writes each notification as a structured log line.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier that logs through log.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	l.log.Info().
		Str("event", string(n.Type())).
		Str("organization_id", n.OrganizationID).
		Str("document_id", n.DocumentID).
		Interface("details", n.Event).
		Msg("Survey change")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
