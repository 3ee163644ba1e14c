package order

import (
	"fmt"
	"time"
)

type Status string
type Reason string

const (
	StatusPending         Status = "PENDENTE"
	StatusProcessing      Status = "PROCESSANDO"
	StatusSent            Status = "ENVIADO"
	StatusValidationError Status = "ERRO_VALIDACAO"
	StatusInvalid         Status = "INVALIDO"
)

const (
	ReasonFirstSend       Reason = "FIRST_SEND"
	ReasonResendNewer     Reason = "RESEND_NEWER_VERSION"
	ReasonRevalidateError Reason = "REVALIDATE_AFTER_ERROR"
)

// Customer is joined in from the customer table and never written back.
type Customer struct {
	Email string // empty when the customer has no address on file
	Name  string
}

// Record is one row of the order email control table.
type Record struct {
	ID             int64     `json:"id"`
	OrderNumber    int64     `json:"order_number"`
	CustomerCode   string    `json:"customer_code"`
	ClosedAt       time.Time `json:"closed_at"`
	CCEmails       string    `json:"cc_emails"` // raw comma separated list
	Customer       Customer  `json:"customer"`
	SentVersion    int       `json:"sent_version"`
	Status         Status    `json:"status"`
	EmailSent      bool      `json:"email_sent"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error"`
	SendToCustomer bool      `json:"send_to_customer"`
}

// Document is a resolved PDF for an order.
type Document struct {
	Path    string
	Version int
}

// WorkItem lives for a single reconciliation pass.
type WorkItem struct {
	Record
	Document Document
	Reason   Reason
}

// Resend reports whether the item replaces a version the customer already got.
func (w WorkItem) Resend() bool {
	return w.Reason == ReasonResendNewer
}

// PaddedNumber is the order number as it appears in document file names.
func PaddedNumber(n int64) string {
	return fmt.Sprintf("%07d", n)
}

// Recipients of one outbound message.
type Recipients struct {
	Primary string
	CC      []string
}

// All returns primary followed by every CC address.
func (r Recipients) All() []string {
	out := make([]string, 0, 1+len(r.CC))
	out = append(out, r.Primary)
	return append(out, r.CC...)
}
