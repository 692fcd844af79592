package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/okian/liscrape/internal/domain/model"
)

const filePermission = 0o644

// CSV writes one row per record with a header line on top.
type CSV struct {
	path string
	mu   sync.Mutex
}

// NewCSV returns a CSV sink for path.
func NewCSV(path string) *CSV { return &CSV{path: path} }

func (s *CSV) Path() string { return s.path }
func (s *CSV) Kind() Kind   { return KindCSV }
func (s *CSV) Close() error { return nil }

// Append writes the header when the file is new or empty, then the row.
// Everything is encoded first and written with a single append.
func (s *CSV) Append(ctx context.Context, r model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	needHeader := true
	if info, err := os.Stat(s.path); err == nil {
		needHeader = info.Size() == 0
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true
	if needHeader {
		_ = w.Write(model.Columns())
	}
	_ = w.Write(r.Values())
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	return f.Close()
}

// Len counts data rows.
func (s *CSV) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = -1
	rd.LazyQuotes = true
	rows := 0
	for {
		_, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", s.path, err)
		}
		rows++
	}
	if rows == 0 {
		return 0, nil
	}
	return rows - 1, nil
}

func (s *CSV) Remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
