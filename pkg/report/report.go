package report

import (
	"time"
)

const (
	SummarySheet = "RESUMO"
	DetailSheet  = "LOG_GERAL"
)

var (
	summaryHeader = []interface{}{"Data/Hora", "Pedido", "Cliente", "Email", "Status", "Motivo", "Tentativas", "Versão PDF", "Observações"}
	detailHeader  = []interface{}{"Timestamp", "Pedido", "Cliente", "Fase", "Detalhes", "Validações", "Erro", "Duração", "Ciclo"}
)

// Summary is one row per send attempt.
type Summary struct {
	At          time.Time
	OrderNumber int64
	Customer    string
	Email       string
	Status      string
	Reason      string
	Attempts    int
	Version     int
	Notes       string
}

// Detail is one row per processing phase of an order.
type Detail struct {
	At          time.Time
	OrderNumber int64
	Customer    string
	Phase       string
	Details     string
	Validations string
	Error       string
	Duration    time.Duration
	CycleID     string
}

// Sink receives audit rows. Implementations are best effort: failures are
// logged by the sink and never reach the caller.
type Sink interface {
	RecordSummary(Summary)
	RecordDetail(Detail)
	Flush()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSummary(Summary) {}
func (Nop) RecordDetail(Detail)   {}
func (Nop) Flush()                {}

func (s Summary) row() []interface{} {
	return []interface{}{
		s.At.Format("02/01/2006 15:04:05"),
		s.OrderNumber,
		s.Customer,
		s.Email,
		s.Status,
		s.Reason,
		s.Attempts,
		s.Version,
		s.Notes,
	}
}

func (d Detail) row() []interface{} {
	return []interface{}{
		d.At.Format("02/01/2006 15:04:05.000"),
		d.OrderNumber,
		d.Customer,
		d.Phase,
		d.Details,
		d.Validations,
		d.Error,
		d.Duration.Round(time.Millisecond).String(),
		d.CycleID,
	}
}
