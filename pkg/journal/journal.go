// Package journal keeps an audit trail of ledger events. Events are written
// off the request path by a Worker.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeLoanCreated         = "loan_created"
	TypeAccountOpened       = "account_opened"
	TypeLoanDisbursed       = "loan_disbursed"
	TypePaymentRecorded     = "payment_recorded"
	TypeTransactionRecorded = "transaction_recorded"
	TypeTransactionReversed = "transaction_reversed"
)

type Event struct {
	ID        uuid.UUID         `json:"id,omitempty"`
	Type      string            `json:"event_type,omitempty"`
	Data      any               `json:"event_data,omitempty"`
	Metadata  map[string]string `json:"event_metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type EventOption func(*Event)

func WithData(data any) EventOption {
	return func(e *Event) {
		e.Data = data
	}
}

func WithMeta(key, value string) EventOption {
	return func(e *Event) {
		e.Metadata[key] = value
	}
}

func WithTime(t time.Time) EventOption {
	return func(e *Event) {
		e.CreatedAt = t
	}
}

func NewEvent(eventType string, opts ...EventOption) Event {
	e := Event{
		ID:        uuid.New(),
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Sink stores events durably.
type Sink interface {
	Save(ctx context.Context, e Event) error
	ByType(ctx context.Context, eventType string) ([]Event, error)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
