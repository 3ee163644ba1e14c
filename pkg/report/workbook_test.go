package report

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func readRows(t *testing.T, path, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestWorkbookAppendsRows(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	w, err := OpenWorkbook(dir, discard, fixedClock(at))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "log_emails_2026-03-14.xlsx"), w.Path())

	w.RecordSummary(Summary{At: at, OrderNumber: 123, Customer: "ACME", Email: "a@x.com", Status: "ENVIADO", Reason: "FIRST_SEND", Version: 1})
	w.RecordDetail(Detail{At: at, OrderNumber: 123, Phase: "dispatch", Duration: 1500 * time.Millisecond, CycleID: "c1"})
	w.RecordDetail(Detail{At: at, OrderNumber: 123, Phase: "commit", CycleID: "c1"})
	require.NoError(t, w.Close())

	summary := readRows(t, w.Path(), SummarySheet)
	require.Len(t, summary, 2)
	assert.Equal(t, "Data/Hora", summary[0][0])
	require.GreaterOrEqual(t, len(summary[1]), 8)
	assert.Equal(t, []string{"14/03/2026 09:30:00", "123", "ACME", "a@x.com", "ENVIADO", "FIRST_SEND", "0", "1"}, summary[1][:8])

	detail := readRows(t, w.Path(), DetailSheet)
	require.Len(t, detail, 3)
	assert.Equal(t, "dispatch", detail[1][3])
	assert.Equal(t, "1.5s", detail[1][7])
	assert.Equal(t, "c1", detail[2][8])
}

func TestWorkbookReopensAndContinues(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	w, err := OpenWorkbook(dir, discard, fixedClock(at))
	require.NoError(t, err)
	w.RecordSummary(Summary{At: at, OrderNumber: 1})
	require.NoError(t, w.Close())

	w, err = OpenWorkbook(dir, discard, fixedClock(at))
	require.NoError(t, err)
	w.RecordSummary(Summary{At: at, OrderNumber: 2})
	require.NoError(t, w.Close())

	rows := readRows(t, w.Path(), SummarySheet)
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, "2", rows[2][1])
}

func TestWorkbookRollsOverDaily(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	w, err := OpenWorkbook(dir, discard, clock)
	require.NoError(t, err)
	w.RecordSummary(Summary{At: now, OrderNumber: 1})

	now = now.Add(2 * time.Minute)
	w.RecordSummary(Summary{At: now, OrderNumber: 2})
	require.NoError(t, w.Close())

	first := readRows(t, filepath.Join(dir, "log_emails_2026-03-14.xlsx"), SummarySheet)
	second := readRows(t, filepath.Join(dir, "log_emails_2026-03-15.xlsx"), SummarySheet)
	assert.Len(t, first, 2)
	assert.Len(t, second, 2)
}

func TestWorkbookReplacesCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	path := filepath.Join(dir, "log_emails_2026-03-14.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	w, err := OpenWorkbook(dir, discard, fixedClock(at))
	require.NoError(t, err)
	w.RecordSummary(Summary{At: at, OrderNumber: 7})
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(dir, "log_emails_2026-03-14_corrupted_100000.xlsx"))
	assert.NoError(t, err)
	assert.Len(t, readRows(t, path, SummarySheet), 2)
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	s.RecordSummary(Summary{})
	s.RecordDetail(Detail{})
	s.Flush()
}
