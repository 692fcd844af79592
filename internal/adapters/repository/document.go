// Package repository persists the JSON document that holds call history next
// to sections owned by other tools (stored logins, theme).
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known document sections.
const (
	SectionUsers   = "users"
	SectionHistory = "history"
	SectionTheme   = "theme"
)

// Document is the persisted JSON object, section name -> raw JSON value.
// Sections the caller does not touch are written back byte for byte.
type Document map[string]json.RawMessage

// EmptyDocument returns a well-formed document with no users, no history and
// no theme.
func EmptyDocument() Document {
	return Document{
		SectionUsers:   json.RawMessage(`{}`),
		SectionHistory: json.RawMessage(`{}`),
		SectionTheme:   json.RawMessage(`null`),
	}
}

// Section decodes the named section into dst. A missing section leaves dst
// untouched and returns false.
func (d Document) Section(name string, dst any) (bool, error) {
	raw, ok := d[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("%w: section %q: %w", ErrCorruptDocument, name, err)
	}
	return true, nil
}

// SetSection encodes v as the named section.
func (d Document) SetSection(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode section %q: %w", name, err)
	}
	d[name] = raw
	return nil
}

// FileStore reads and writes a Document as a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Read loads the document. A missing file returns an error matching
// os.ErrNotExist; undecodable content returns ErrCorruptDocument.
func (s *FileStore) Read(ctx context.Context) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx)
}

// Write replaces the document on disk.
func (s *FileStore) Write(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, doc)
}

// Update applies fn to the current document and writes the result. A missing
// or corrupt file is replaced by EmptyDocument before fn runs, so fn always
// sees a well-formed document.
func (s *FileStore) Update(ctx context.Context, fn func(Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		doc = EmptyDocument()
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(ctx, doc)
}

func (s *FileStore) read(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptDocument, s.path, err)
	}
	if doc == nil {
		// A literal "null" file.
		return nil, fmt.Errorf("%w: %s: not an object", ErrCorruptDocument, s.path)
	}
	return doc, nil
}

// write encodes doc to a temporary file next to the target and renames it
// into place, so readers never see a half-written document.
func (s *FileStore) write(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", s.path, err)
	}
	return nil
}
