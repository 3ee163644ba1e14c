package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
)

// Workbook appends audit rows to a daily spreadsheet
// (log_emails_YYYY-MM-DD.xlsx) with a summary and a detail sheet.
type Workbook struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
	now    func() time.Time

	day   string
	path  string
	file  *excelize.File
	next  map[string]int
	dirty bool
}

func OpenWorkbook(dir string, logger *slog.Logger, now func() time.Time) (*Workbook, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	w := &Workbook{dir: dir, logger: logger, now: now}
	if err := w.rollover(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path of the workbook currently being written.
func (w *Workbook) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *Workbook) RecordSummary(s Summary) {
	w.append(SummarySheet, s.row())
}

func (w *Workbook) RecordDetail(d Detail) {
	w.append(DetailSheet, d.row())
}

// Flush saves pending rows to disk.
func (w *Workbook) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.save()
}

// Close saves and releases the workbook.
func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.save()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *Workbook) append(sheet string, row []interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.now().Format("2006-01-02") != w.day || w.file == nil {
		w.save()
		if err := w.rollover(); err != nil {
			w.logger.Warn("report workbook unavailable", "error", err)
			return
		}
	}

	cell, err := excelize.CoordinatesToCellName(1, w.next[sheet])
	if err != nil {
		w.logger.Warn("report row skipped", "sheet", sheet, "error", err)
		return
	}
	if err := w.file.SetSheetRow(sheet, cell, &row); err != nil {
		w.logger.Warn("report row skipped", "sheet", sheet, "error", err)
		return
	}
	w.next[sheet]++
	w.dirty = true
}

func (w *Workbook) save() {
	if w.file == nil || !w.dirty {
		return
	}
	if err := w.file.SaveAs(w.path); err != nil {
		// Usually the file is open in a spreadsheet application.
		w.logger.Warn("could not save report workbook", "path", w.path, "error", err)
		return
	}
	w.dirty = false
}

// rollover opens (or creates) the workbook for the current day. A workbook
// that cannot be read is renamed aside and replaced.
func (w *Workbook) rollover() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	now := w.now()
	w.day = now.Format("2006-01-02")
	w.path = filepath.Join(w.dir, fmt.Sprintf("log_emails_%s.xlsx", w.day))

	if _, err := os.Stat(w.path); err == nil {
		f, err := openExisting(w.path)
		if err == nil {
			w.file = f
			return w.countRows()
		}
		backup := strings.TrimSuffix(w.path, ".xlsx") + fmt.Sprintf("_corrupted_%s.xlsx", now.Format("150405"))
		w.logger.Warn("report workbook unreadable, starting a new one", "path", w.path, "backup", backup, "error", err)
		if err := os.Rename(w.path, backup); err != nil {
			return fmt.Errorf("failed to move corrupted workbook aside: %w", err)
		}
	}

	f, err := newWorkbook()
	if err != nil {
		return err
	}
	if err := f.SaveAs(w.path); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to create report workbook: %w", err)
	}
	w.file = f
	w.next = map[string]int{SummarySheet: 2, DetailSheet: 2}
	w.dirty = false
	return nil
}

func (w *Workbook) countRows() error {
	w.next = map[string]int{}
	for _, sheet := range []string{SummarySheet, DetailSheet} {
		rows, err := w.file.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		w.next[sheet] = len(rows) + 1
	}
	w.dirty = false
	return nil
}

func openExisting(path string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	for _, sheet := range []string{SummarySheet, DetailSheet} {
		if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
			_ = f.Close()
			return nil, fmt.Errorf("sheet %s missing", sheet)
		}
	}
	return f, nil
}

func newWorkbook() (*excelize.File, error) {
	f := excelize.NewFile()
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	headers := map[string][]interface{}{SummarySheet: summaryHeader, DetailSheet: detailHeader}
	for _, sheet := range []string{SummarySheet, DetailSheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
		header := headers[sheet]
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			_ = f.Close()
			return nil, err
		}
		last, _ := excelize.CoordinatesToCellName(len(header), 1)
		if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		_ = f.Close()
		return nil, err
	}
	if idx, err := f.GetSheetIndex(SummarySheet); err == nil {
		f.SetActiveSheet(idx)
	}
	return f, nil
}
