// Package sink appends normalized records to the output file.
package sink

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/okian/liscrape/internal/domain/model"
)

// Kind selects the output format.
type Kind string

const (
	KindCSV      Kind = "csv"
	KindWorkbook Kind = "workbook"
	KindSQLite   Kind = "sqlite"

	// DefaultKind is used when neither a kind nor a path is configured.
	DefaultKind = KindWorkbook

	defaultBaseName = "linkedin_scrape"
)

// Sink is an append-only record destination. The file does not exist until
// the first successful Append, which also writes the header or schema.
type Sink interface {
	Append(ctx context.Context, r model.Record) error
	// Len is the number of data rows; the header is not counted and a
	// missing file has none.
	Len(ctx context.Context) (int, error)
	Path() string
	Kind() Kind
	// Remove deletes the file. Removing a missing file is not an error.
	Remove(ctx context.Context) error
	Close() error
}

// KindFromPath infers the kind from the file extension.
func KindFromPath(path string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".csv":
		return KindCSV, true
	case strings.HasPrefix(ext, ".xls"):
		return KindWorkbook, true
	case ext == ".db", ext == ".sqlite", ext == ".sqlite3":
		return KindSQLite, true
	default:
		return "", false
	}
}

// DefaultPath returns the default file name for kind.
func DefaultPath(kind Kind) string {
	switch kind {
	case KindCSV:
		return defaultBaseName + ".csv"
	case KindSQLite:
		return defaultBaseName + ".db"
	default:
		return defaultBaseName + ".xlsx"
	}
}

// Resolve fills in whichever of kind and path is missing. An explicit kind
// wins over the path extension.
func Resolve(kind, path string) (Kind, string, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(kind)))
	switch k {
	case "":
		if path == "" {
			return DefaultKind, DefaultPath(DefaultKind), nil
		}
		inferred, ok := KindFromPath(path)
		if !ok {
			return "", "", fmt.Errorf("%w: cannot infer kind from %q", ErrUnknownKind, path)
		}
		return inferred, path, nil
	case KindCSV, KindWorkbook, KindSQLite:
		if path == "" {
			path = DefaultPath(k)
		}
		return k, path, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Open returns the sink for kind writing to path.
func Open(kind Kind, path string) (Sink, error) {
	switch kind {
	case KindCSV:
		return NewCSV(path), nil
	case KindWorkbook:
		return NewWorkbook(path), nil
	case KindSQLite:
		return NewSQLite(path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
