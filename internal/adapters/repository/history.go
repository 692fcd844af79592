package repository

import (
	"context"
)

// HistoryStore exposes the history section of a FileStore as a flat
// key -> profile id map.
type HistoryStore struct {
	files *FileStore
}

// NewHistoryStore wraps files.
func NewHistoryStore(files *FileStore) *HistoryStore {
	return &HistoryStore{files: files}
}

// LoadHistory returns the persisted history. A document without a history
// section yields an empty map.
func (h *HistoryStore) LoadHistory(ctx context.Context) (map[string]string, error) {
	doc, err := h.files.Read(ctx)
	if err != nil {
		return nil, err
	}
	history := make(map[string]string)
	if _, err := doc.Section(SectionHistory, &history); err != nil {
		return nil, err
	}
	if history == nil {
		// "history": null
		history = make(map[string]string)
	}
	return history, nil
}

// SaveHistory replaces the history section and leaves every other section
// as it was.
func (h *HistoryStore) SaveHistory(ctx context.Context, history map[string]string) error {
	if history == nil {
		history = map[string]string{}
	}
	return h.files.Update(ctx, func(doc Document) error {
		return doc.SetSection(SectionHistory, history)
	})
}
