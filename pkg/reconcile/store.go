package reconcile

import (
	"context"
	"time"

	"order-mailer/pkg/mailer"
	"order-mailer/pkg/order"
)

// Store is one open connection to the order ledger, valid for a single cycle.
type Store interface {
	// RequeueStale returns rows stuck in PROCESSANDO since before cutoff to
	// PENDENTE and reports how many were moved.
	RequeueStale(ctx context.Context, cutoff time.Time, note string) (int64, error)
	// FetchCandidates returns every control row that may need a send or a
	// resend, oldest closure date first.
	FetchCandidates(ctx context.Context) ([]order.Record, error)
	MarkProcessing(ctx context.Context, id int64) error
	Commit(ctx context.Context, id int64, outcome order.Outcome) error
	Close(ctx context.Context) error
}

// Connector opens a fresh Store for each cycle.
type Connector interface {
	Connect(ctx context.Context) (Store, error)
}

// ConnectFunc adapts a function to Connector.
type ConnectFunc func(ctx context.Context) (Store, error)

func (f ConnectFunc) Connect(ctx context.Context) (Store, error) {
	return f(ctx)
}

// Mailer sends one message with its attachment.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Notifier is told about every committed outcome.
type Notifier interface {
	NotifyOutcome(ctx context.Context, ev order.OutcomeEvent) error
}
