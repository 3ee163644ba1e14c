package reconcile

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"order-mailer/pkg/cooldown"
	"order-mailer/pkg/documents"
	"order-mailer/pkg/observability"
	"order-mailer/pkg/order"
	"order-mailer/pkg/report"
)

const (
	DefaultErrorMaxLen = 500
	DefaultSenderName  = "Sistema de Vendas"
)

// Engine reconciles the order ledger with the document directory.
//
// Only one cycle runs at a time: RunCycle returns ErrCycleInProgress instead
// of overlapping, since the state machine assumes a single writer.
type Engine struct {
	connector Connector
	docs      Documents
	mail      Mailer

	sink      report.Sink
	notifier  Notifier
	metrics   *observability.Metrics
	logger    *slog.Logger
	cooldown  cooldown.Policy
	now       func() time.Time
	pageCount func(path string) (int, error)

	sender     string
	errorMax   int
	staleAfter time.Duration

	running atomic.Bool
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option           { return func(e *Engine) { e.logger = l } }
func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithSink(s report.Sink) Option               { return func(e *Engine) { e.sink = s } }
func WithNotifier(n Notifier) Option              { return func(e *Engine) { e.notifier = n } }
func WithCooldown(p cooldown.Policy) Option       { return func(e *Engine) { e.cooldown = p } }
func WithClock(now func() time.Time) Option       { return func(e *Engine) { e.now = now } }
func WithSenderName(name string) Option           { return func(e *Engine) { e.sender = name } }

// WithErrorMaxLen bounds the stored error text.
func WithErrorMaxLen(n int) Option {
	return func(e *Engine) { e.errorMax = n }
}

// WithStaleAfter sets how long a row may sit in PROCESSANDO before the next
// cycle gives it back to the pending pool. Zero disables the recovery.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) { e.staleAfter = d }
}

// WithPageCounter replaces the PDF page counter used for audit rows.
func WithPageCounter(fn func(path string) (int, error)) Option {
	return func(e *Engine) { e.pageCount = fn }
}

// New creates an Engine. mail may be nil when only Preview is used.
func New(connector Connector, docs Documents, mail Mailer, opts ...Option) *Engine {
	e := &Engine{
		connector: connector,
		docs:      docs,
		mail:      mail,
		sink:      report.Nop{},
		logger:    slog.Default(),
		cooldown:  cooldown.Default(),
		now:       time.Now,
		pageCount: documents.PageCount,
		sender:    DefaultSenderName,
		errorMax:  DefaultErrorMaxLen,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetrics()
	}
	return e
}

// CycleResult summarises one reconciliation pass.
type CycleResult struct {
	ID               string
	Requeued         int64
	Selected         int
	Sent             int
	ValidationFailed int
	DispatchFailed   int
}

// RunCycle performs one reconciliation pass over a fresh store connection.
// A connection failure returns a *ConnectError and leaves everything
// untouched. Per-order failures are committed and logged, never returned.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.metrics.Cycles.WithLabelValues("busy").Inc()
		return CycleResult{}, ErrCycleInProgress
	}
	defer e.running.Store(false)

	res := CycleResult{ID: uuid.NewString()}
	log := e.logger.With("cycle_id", res.ID)
	started := time.Now()
	log.Info("reconciliation cycle started")

	store, err := e.connector.Connect(ctx)
	if err != nil {
		log.Error("store unreachable, cycle aborted", "phase", "connect", "error", err)
		e.metrics.Cycles.WithLabelValues("connect_failed").Inc()
		return res, &ConnectError{Err: err}
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to close store connection", "error", err)
		}
	}()
	defer e.sink.Flush()

	if e.staleAfter > 0 {
		n, err := store.RequeueStale(ctx, e.now().Add(-e.staleAfter), "requeued after interrupted processing")
		if err != nil {
			log.Warn("failed to requeue stale orders", "phase", "recover", "error", err)
		} else if n > 0 {
			log.Warn("requeued orders left in processing", "phase", "recover", "count", n)
			res.Requeued = n
		}
	}

	items := e.selectWork(ctx, store, log)
	res.Selected = len(items)
	for _, item := range items {
		switch e.handle(ctx, store, item, res.ID, log) {
		case order.OutcomeSent:
			res.Sent++
		case order.OutcomeValidationFailed:
			res.ValidationFailed++
		default:
			res.DispatchFailed++
		}
	}

	e.metrics.Cycles.WithLabelValues("completed").Inc()
	e.metrics.CycleDuration.Observe(time.Since(started).Seconds())
	log.Info("reconciliation cycle finished",
		"selected", res.Selected,
		"sent", res.Sent,
		"validation_failed", res.ValidationFailed,
		"dispatch_failed", res.DispatchFailed,
		"duration", time.Since(started).String(),
	)
	return res, nil
}

// Preview runs selection and classification only: no marker writes, no
// mail, no commits.
func (e *Engine) Preview(ctx context.Context) ([]order.WorkItem, error) {
	log := e.logger.With("cycle_id", uuid.NewString(), "mode", "preview")

	store, err := e.connector.Connect(ctx)
	if err != nil {
		log.Error("store unreachable", "phase", "connect", "error", err)
		return nil, &ConnectError{Err: err}
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to close store connection", "error", err)
		}
	}()

	items := e.selectWork(ctx, store, log)
	for _, item := range items {
		log.Info("order would be processed",
			"order", item.OrderNumber,
			"reason", item.Reason,
			"status", item.Status,
			"sent_version", item.SentVersion,
			"available_version", item.Document.Version,
			"attempts", item.Attempts,
			"next_retry_hint", e.cooldown.For(item.Attempts).String(),
		)
	}
	return items, nil
}
