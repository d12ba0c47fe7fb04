package notifier

import (
	"context"
	"errors"
	"fmt"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"
	"market-watch/internal/services/mailer"
)

// Notifier delivers one listing.
type Notifier interface {
	Deliver(ctx context.Context, record models.ListingRecord) error
}

// Email sends each listing as an e-mail through SMTP2GO.
type Email struct {
	mailer    mailer.Mailer
	recipient string
}

func NewEmail(m mailer.Mailer, recipient string) *Email {
	return &Email{mailer: m, recipient: recipient}
}

func (e *Email) Deliver(ctx context.Context, record models.ListingRecord) error {
	if err := e.mailer.Send(ctx, e.recipient, "new_listing.tmpl", NewMessage(record)); err != nil {
		return fmt.Errorf("failed to send listing e-mail: %w", err)
	}
	return nil
}

// Multi fans a listing out to every channel. Delivery counts as successful
// when at least one channel accepted it.
type Multi struct {
	channels []namedNotifier
	logger   *core.Logger
}

type namedNotifier struct {
	name string
	Notifier
}

func NewMulti(logger *core.Logger) *Multi {
	return &Multi{logger: logger}
}

// Add registers a channel under name.
func (m *Multi) Add(name string, n Notifier) {
	m.channels = append(m.channels, namedNotifier{name: name, Notifier: n})
}

// Len is the number of registered channels.
func (m *Multi) Len() int {
	return len(m.channels)
}

func (m *Multi) Deliver(ctx context.Context, record models.ListingRecord) error {
	if len(m.channels) == 0 {
		return core.NewConfigurationError("no notifier configured", nil)
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Deliver(ctx, record); err != nil {
			m.logger.Warn("Notifier channel failed", "channel", ch.name, "title", record.Title, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.name, err))
		}
	}
	if len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}
