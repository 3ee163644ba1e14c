package order

import (
	"time"
	"unicode/utf8"
)

type OutcomeKind string

const (
	OutcomeSent             OutcomeKind = "sent"
	OutcomeValidationFailed OutcomeKind = "validation_failed"
	OutcomeDispatchFailed   OutcomeKind = "dispatch_failed"
)

// Outcome is the result of processing one work item. It is one of
// Success, ValidationFailure or DispatchFailure.
type Outcome interface {
	Kind() OutcomeKind
	isOutcome()
}

// Success moves the record to ENVIADO at Version and resets attempts.
type Success struct {
	Version int
}

// ValidationFailure moves the record to ERRO_VALIDACAO without consuming an attempt.
type ValidationFailure struct {
	Reason string
}

// DispatchFailure re-queues the record as PENDENTE and increments attempts.
type DispatchFailure struct {
	Err string
}

func (Success) Kind() OutcomeKind           { return OutcomeSent }
func (ValidationFailure) Kind() OutcomeKind { return OutcomeValidationFailed }
func (DispatchFailure) Kind() OutcomeKind   { return OutcomeDispatchFailed }

func (Success) isOutcome()           {}
func (ValidationFailure) isOutcome() {}
func (DispatchFailure) isOutcome()   {}

// Message returns the error text carried by a failure outcome.
func Message(o Outcome) string {
	switch v := o.(type) {
	case ValidationFailure:
		return v.Reason
	case DispatchFailure:
		return v.Err
	default:
		return ""
	}
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

// OutcomeEvent is published after a commit so other systems can follow deliveries.
type OutcomeEvent struct {
	CycleID     string      `json:"cycle_id"`
	OrderNumber int64       `json:"order_number"`
	Reason      Reason      `json:"reason"`
	Outcome     OutcomeKind `json:"outcome"`
	Version     int         `json:"version"`
	Attempts    int         `json:"attempts"`
	Error       string      `json:"error,omitempty"`
	At          time.Time   `json:"at"`
}
