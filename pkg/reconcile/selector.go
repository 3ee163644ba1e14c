package reconcile

import (
	"context"
	"log/slog"
	"sort"

	"order-mailer/pkg/documents"
	"order-mailer/pkg/order"
)

// Documents indexes the document directory once per cycle.
type Documents interface {
	Scan() (documents.Index, error)
}

// Classify decides whether a candidate needs action given the newest
// version on disk. Rows the store returns but that need nothing (a sent
// order whose document did not change) come back with ok=false.
func Classify(rec order.Record, available int) (reason order.Reason, ok bool) {
	switch {
	case (rec.Status == order.StatusPending || rec.Status == order.StatusInvalid) && !rec.EmailSent:
		return order.ReasonFirstSend, true
	case rec.EmailSent && resendable(rec.Status) && available > rec.SentVersion:
		return order.ReasonResendNewer, true
	case rec.Status == order.StatusValidationError && !rec.EmailSent:
		return order.ReasonRevalidateError, true
	default:
		return "", false
	}
}

// resendable reports whether an already-sent order in status s may carry
// a newer version still waiting to go out. A resend that failed leaves the
// row PENDENTE or ERRO_VALIDACAO with email_sent kept.
func resendable(s order.Status) bool {
	return s == order.StatusSent || s == order.StatusPending || s == order.StatusValidationError
}

// selectWork builds this cycle's work items. Store or directory failures
// are logged and yield no work.
func (e *Engine) selectWork(ctx context.Context, store Store, log *slog.Logger) []order.WorkItem {
	records, err := store.FetchCandidates(ctx)
	if err != nil {
		log.Error("failed to fetch candidate orders", "phase", "select", "error", err)
		return nil
	}
	idx, err := e.docs.Scan()
	if err != nil {
		log.Error("failed to index documents", "phase", "select", "error", err)
		return nil
	}

	items := make([]order.WorkItem, 0, len(records))
	for _, rec := range records {
		doc, found := idx.Lookup(rec.OrderNumber)
		if !found {
			log.Warn("document not found, skipping order", "order", rec.OrderNumber)
			e.metrics.MissingDocs.Inc()
			continue
		}
		reason, ok := Classify(rec, doc.Version)
		if !ok {
			log.Debug("order up to date", "order", rec.OrderNumber, "status", rec.Status, "sent_version", rec.SentVersion, "available_version", doc.Version)
			continue
		}
		items = append(items, order.WorkItem{Record: rec, Document: doc, Reason: reason})
		e.metrics.ItemsSelected.WithLabelValues(string(reason)).Inc()
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ClosedAt.Before(items[j].ClosedAt)
	})
	log.Info("orders selected for processing", "candidates", len(records), "selected", len(items))
	return items
}
