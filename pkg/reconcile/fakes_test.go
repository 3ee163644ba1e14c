package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"order-mailer/pkg/mailer"
	"order-mailer/pkg/order"
)

// memStore mimics the ledger queries against an in-memory table.
type memStore struct {
	mu        sync.Mutex
	rows      map[int64]*order.Record
	marked    map[int64]time.Time
	fetchErr  error
	commitErr error
	panicOn   int64
	// commitPanics makes that many Commit calls panic before any succeeds.
	commitPanics int
	writes       int
	closed    int
	now       func() time.Time
}

func newMemStore(rows ...order.Record) *memStore {
	s := &memStore{rows: map[int64]*order.Record{}, marked: map[int64]time.Time{}, now: time.Now}
	for i := range rows {
		r := rows[i]
		s.rows[r.ID] = &r
	}
	return s
}

func (s *memStore) row(id int64) order.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memStore) RequeueStale(_ context.Context, cutoff time.Time, note string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.Status != order.StatusProcessing {
			continue
		}
		if at, ok := s.marked[id]; ok && at.After(cutoff) {
			continue
		}
		r.Status = order.StatusPending
		r.LastError = note
		s.writes++
		n++
	}
	return n, nil
}

func (s *memStore) FetchCandidates(context.Context) ([]order.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []order.Record
	for _, r := range s.rows {
		switch {
		case r.Status == order.StatusPending && !r.EmailSent,
			r.Status == order.StatusPending && r.EmailSent,
			r.Status == order.StatusSent && r.EmailSent,
			r.Status == order.StatusValidationError && !r.EmailSent,
			r.Status == order.StatusValidationError && r.EmailSent,
			r.Status == order.StatusInvalid && !r.EmailSent:
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) MarkProcessing(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.panicOn {
		panic("driver exploded")
	}
	s.rows[id].Status = order.StatusProcessing
	s.marked[id] = s.now()
	s.writes++
	return nil
}

func (s *memStore) Commit(_ context.Context, id int64, outcome order.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	if s.commitPanics > 0 {
		s.commitPanics--
		panic("commit exploded")
	}
	r := s.rows[id]
	switch v := outcome.(type) {
	case order.Success:
		r.Status = order.StatusSent
		r.EmailSent = true
		r.SentVersion = v.Version
		r.Attempts = 0
		r.LastError = ""
	case order.ValidationFailure:
		r.Status = order.StatusValidationError
		r.LastError = v.Reason
	case order.DispatchFailure:
		r.Status = order.StatusPending
		r.Attempts++
		r.LastError = v.Err
	}
	delete(s.marked, id)
	s.writes++
	return nil
}

func (s *memStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// fakeMailer records every message; err fails all sends.
type fakeMailer struct {
	mu    sync.Mutex
	sent  []mailer.Message
	err   error
	block chan struct{}
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// panicNotifier blows up after the outcome is already committed.
type panicNotifier struct{}

func (panicNotifier) NotifyOutcome(context.Context, order.OutcomeEvent) error {
	panic("notifier exploded")
}

type fakeNotifier struct {
	events []order.OutcomeEvent
}

func (n *fakeNotifier) NotifyOutcome(_ context.Context, ev order.OutcomeEvent) error {
	n.events = append(n.events, ev)
	return nil
}

func connectTo(s *memStore) ConnectFunc {
	return func(context.Context) (Store, error) { return s, nil }
}

func unreachable() ConnectFunc {
	return func(context.Context) (Store, error) { return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused") }
}

// writeDocs creates empty PDF stand-ins in a temp directory.
func writeDocs(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4 "+name), 0o644))
	}
	return dir
}

func pending(id, number int64, closed time.Time) order.Record {
	return order.Record{
		ID:             id,
		OrderNumber:    number,
		CustomerCode:   "C001",
		ClosedAt:       closed,
		Customer:       order.Customer{Email: "cliente@x.com", Name: "Cliente Teste"},
		Status:         order.StatusPending,
		SendToCustomer: true,
	}
}
