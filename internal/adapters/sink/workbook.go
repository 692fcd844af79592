package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/okian/liscrape/internal/domain/model"
)

const defaultSheet = "Sheet1"

// Workbook appends rows to the first sheet of an xlsx file.
type Workbook struct {
	path string
	mu   sync.Mutex
}

// NewWorkbook returns a workbook sink for path.
func NewWorkbook(path string) *Workbook { return &Workbook{path: path} }

func (s *Workbook) Path() string { return s.path }
func (s *Workbook) Kind() Kind   { return KindWorkbook }
func (s *Workbook) Close() error { return nil }

// Append adds r after the last used row. A new file gets a header row first.
// The workbook is saved beside the target and renamed over it, so a failed
// save leaves the previous rows intact. Every append reopens and rewrites the
// whole file, which costs O(rows); prefer CSV or SQLite for large sheets.
func (s *Workbook) Append(ctx context.Context, r model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, next, err := s.openForAppend()
	if err != nil {
		return err
	}
	defer f.Close()

	if next == 1 {
		if err := setRow(f, sheet, 1, model.Columns()); err != nil {
			return err
		}
		next = 2
	}
	if err := setRow(f, sheet, next, r.Values()); err != nil {
		return err
	}
	return s.save(f)
}

// openForAppend returns the workbook, its first sheet and the next free row.
func (s *Workbook) openForAppend() (*excelize.File, string, int, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		f := excelize.NewFile()
		return f, defaultSheet, 1, nil
	}
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, "", 0, fmt.Errorf("open %s: %w", s.path, err)
	}
	sheet := f.GetSheetName(0)
	if sheet == "" {
		_ = f.Close()
		return nil, "", 0, fmt.Errorf("open %s: workbook has no sheets", s.path)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, "", 0, fmt.Errorf("read %s: %w", s.path, err)
	}
	return f, sheet, len(rows) + 1, nil
}

func (s *Workbook) save(f *excelize.File) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close workbook: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", s.path, err)
	}
	return nil
}

// Len counts rows of the first sheet minus the header.
func (s *Workbook) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows) - 1, nil
}

func (s *Workbook) Remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("set row %d: %w", row, err)
	}
	return nil
}
