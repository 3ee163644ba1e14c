package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"order-mailer/pkg/order"
	"order-mailer/pkg/report"
)

// handle runs one work item through validation, dispatch and commit. It
// never lets a failure escape to the rest of the cycle.
func (e *Engine) handle(ctx context.Context, store Store, item order.WorkItem, cycleID string, log *slog.Logger) (kind order.OutcomeKind) {
	log = log.With("order", item.OrderNumber, "reason", item.Reason, "version", item.Document.Version)
	persisted := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("order handling aborted", "panic", r)
		if !persisted {
			kind = order.OutcomeDispatchFailed
			e.requeueAborted(ctx, store, item, r, log)
		}
	}()

	outcome := e.bounded(e.process(ctx, store, item, cycleID, log))
	started := time.Now()
	if err := store.Commit(ctx, item.ID, outcome); err != nil {
		// The row stays in PROCESSANDO; stale recovery returns it to the pool.
		log.Error("failed to commit order outcome", "phase", "commit", "outcome", outcome.Kind(), "error", err)
		e.detail(item, cycleID, "commit", string(outcome.Kind()), "", err.Error(), time.Since(started))
		return outcome.Kind()
	}
	persisted, kind = true, outcome.Kind()
	e.report(ctx, item, outcome, cycleID, time.Since(started), log)
	return kind
}

// requeueAborted commits a dispatch failure for an item whose handling
// panicked before its outcome reached the ledger. If that also fails the
// row is left to stale recovery.
func (e *Engine) requeueAborted(ctx context.Context, store Store, item order.WorkItem, cause any, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("failed to requeue aborted order", "phase", "commit", "panic", r)
		}
	}()
	outcome := e.bounded(order.DispatchFailure{Err: fmt.Sprintf("unexpected failure: %v", cause)})
	if err := store.Commit(ctx, item.ID, outcome); err != nil {
		log.Error("failed to requeue aborted order", "phase", "commit", "error", err)
		return
	}
	e.metrics.Outcomes.WithLabelValues(string(item.Reason), string(order.OutcomeDispatchFailed)).Inc()
	log.Warn("aborted order re-queued", "phase", "commit", "attempts", item.Attempts+1)
}

func (e *Engine) process(ctx context.Context, store Store, item order.WorkItem, cycleID string, log *slog.Logger) (outcome order.Outcome) {
	log.Info("processing order")
	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected failure while processing order", "phase", "dispatch", "panic", r)
			outcome = order.DispatchFailure{Err: fmt.Sprintf("unexpected failure: %v", r)}
		}
	}()

	if err := store.MarkProcessing(ctx, item.ID); err != nil {
		log.Warn("failed to mark order as processing", "phase", "mark", "error", err)
	}

	started := time.Now()
	to, err := ResolveRecipients(item)
	if err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return order.DispatchFailure{Err: err.Error()}
		}
		log.Warn("order failed validation", "phase", "validate", "error", ve.Reason)
		e.detail(item, cycleID, "validate", "", "recipients", ve.Reason, time.Since(started))
		return order.ValidationFailure{Reason: ve.Reason}
	}
	e.detail(item, cycleID, "validate", fmt.Sprintf("to=%s cc=%d", to.Primary, len(to.CC)), "recipients ok", "", time.Since(started))

	started = time.Now()
	err = e.dispatch(ctx, item, to, log)
	elapsed := time.Since(started)
	if err != nil {
		e.metrics.DispatchLatency.WithLabelValues("failed").Observe(elapsed.Seconds())
		log.Error("failed to send order email", "phase", "dispatch", "error", err)
		e.detail(item, cycleID, "dispatch", "", "", err.Error(), elapsed)
		return order.DispatchFailure{Err: err.Error()}
	}
	e.metrics.DispatchLatency.WithLabelValues("sent").Observe(elapsed.Seconds())
	log.Info("order email sent", "phase", "dispatch", "recipients", len(to.All()))
	e.detail(item, cycleID, "dispatch", e.dispatchDetails(item, to), "", "", elapsed)
	return order.Success{Version: item.Document.Version}
}

// dispatch composes and sends one message to all recipients at once.
func (e *Engine) dispatch(ctx context.Context, item order.WorkItem, to order.Recipients, log *slog.Logger) error {
	if e.mail == nil {
		return errors.New("no mail transport configured")
	}
	data, err := os.ReadFile(item.Document.Path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	msg := Compose(item, to, e.sender, e.now())
	msg.Attachment = data

	log.Debug("sending order email", "to", msg.To, "cc", msg.CC, "attachment", msg.AttachmentName)
	return e.mail.Send(ctx, msg)
}

// report publishes a committed outcome to metrics, the sink and the notifier.
func (e *Engine) report(ctx context.Context, item order.WorkItem, outcome order.Outcome, cycleID string, took time.Duration, log *slog.Logger) {
	attempts := item.Attempts
	status := order.StatusSent
	notes := ""
	switch v := outcome.(type) {
	case order.Success:
		attempts = 0
	case order.ValidationFailure:
		status = order.StatusValidationError
		notes = v.Reason
	case order.DispatchFailure:
		attempts++
		status = order.StatusPending
		hint := e.cooldown.For(attempts)
		e.metrics.RetryCooldown.Observe(hint.Seconds())
		notes = fmt.Sprintf("%s (next retry hint %s)", v.Err, hint)
		log.Warn("order re-queued after failed dispatch", "attempts", attempts, "next_retry_hint", hint.String())
	}

	e.metrics.Outcomes.WithLabelValues(string(item.Reason), string(outcome.Kind())).Inc()
	log.Info("order outcome committed", "phase", "commit", "status", status, "attempts", attempts)
	e.detail(item, cycleID, "commit", fmt.Sprintf("status=%s attempts=%d", status, attempts), "", "", took)

	e.sink.RecordSummary(report.Summary{
		At:          e.now(),
		OrderNumber: item.OrderNumber,
		Customer:    item.Customer.Name,
		Email:       item.Customer.Email,
		Status:      string(status),
		Reason:      string(item.Reason),
		Attempts:    attempts,
		Version:     item.Document.Version,
		Notes:       notes,
	})

	if e.notifier == nil {
		return
	}
	ev := order.OutcomeEvent{
		CycleID:     cycleID,
		OrderNumber: item.OrderNumber,
		Reason:      item.Reason,
		Outcome:     outcome.Kind(),
		Version:     item.Document.Version,
		Attempts:    attempts,
		Error:       order.Message(outcome),
		At:          e.now(),
	}
	if err := e.notifier.NotifyOutcome(ctx, ev); err != nil {
		log.Warn("failed to publish outcome event", "error", err)
	}
}

func (e *Engine) bounded(o order.Outcome) order.Outcome {
	switch v := o.(type) {
	case order.ValidationFailure:
		return order.ValidationFailure{Reason: order.Truncate(v.Reason, e.errorMax)}
	case order.DispatchFailure:
		msg := v.Err
		if msg == "" {
			msg = "email dispatch failed"
		}
		return order.DispatchFailure{Err: order.Truncate(msg, e.errorMax)}
	default:
		return o
	}
}

func (e *Engine) dispatchDetails(item order.WorkItem, to order.Recipients) string {
	details := fmt.Sprintf("attachment=%s recipients=%d", AttachmentName(item), len(to.All()))
	if _, off := e.sink.(report.Nop); off {
		return details
	}
	if pages, err := e.pageCount(item.Document.Path); err == nil {
		details += fmt.Sprintf(" pages=%d", pages)
	}
	return details
}

func (e *Engine) detail(item order.WorkItem, cycleID, phase, details, validations, errText string, d time.Duration) {
	e.sink.RecordDetail(report.Detail{
		At:          e.now(),
		OrderNumber: item.OrderNumber,
		Customer:    item.Customer.Name,
		Phase:       phase,
		Details:     details,
		Validations: validations,
		Error:       errText,
		Duration:    d,
		CycleID:     cycleID,
	})
}
