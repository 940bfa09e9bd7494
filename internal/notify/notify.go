// Package notify delivers batch summaries to operators and fans out
// subscriber events to whoever listens for them.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"mailcleaner/internal/models"
)

// Message is a plain-text notification.
type Message struct {
	Subject string
	Body    string
	// To overrides the sink's default recipients when set.
	To []string
}

type Sink interface {
	Send(ctx context.Context, m Message) error
}

// Deliver sends m and only logs a failure. A lost notification never fails
// the batch that produced it.
func Deliver(ctx context.Context, s Sink, m Message, logger *slog.Logger) {
	if s == nil {
		return
	}
	if err := s.Send(ctx, m); err != nil {
		logger.Warn("notification failed", "subject", m.Subject, "error", err)
	}
}

// LogSink writes notifications to the log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(_ context.Context, m Message) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("notification", "subject", m.Subject, "to", m.To, "body", m.Body)
	return nil
}

// Multi sends to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Listener is told synchronously about automatic unsubscribes.
type Listener interface {
	OnAutoUnsubscribed(ctx context.Context, sub models.Subscriber, res *models.ValidationResult)
}

// Listeners fans an event out in order.
type Listeners []Listener

func (ls Listeners) OnAutoUnsubscribed(ctx context.Context, sub models.Subscriber, res *models.ValidationResult) {
	for _, l := range ls {
		l.OnAutoUnsubscribed(ctx, sub, res)
	}
}

// LogListener logs each unsubscribe at info level.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) OnAutoUnsubscribed(_ context.Context, sub models.Subscriber, res *models.ValidationResult) {
	l.Logger.Info("auto-unsubscribed", "subscriber", sub.ID, "email", sub.Email, "score", res.Score, "errors", res.Errors)
}
