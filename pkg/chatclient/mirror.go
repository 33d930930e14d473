package chatclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inkwell-cms/livechat/internal/model"
)

// Record is the per-session local state persisted between runs: the
// conversation to resume and the visible history.
type Record struct {
	ConversationID string          `json:"conversationId"`
	Messages       []model.Message `json:"messages"`
}

// Mirror persists the Record as a JSON file per session, the widget's
// equivalent of browser local storage.
type Mirror struct {
	path string
}

// NewMirror creates a mirror rooted at dir for the given session.
func NewMirror(dir, sessionID string) *Mirror {
	return &Mirror{path: filepath.Join(dir, "chat-"+sessionID+".json")}
}

// Load reads the persisted record. A missing file is an empty record, not
// an error.
func (m *Mirror) Load() (*Record, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return &Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read local record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is discarded; history comes back on the next
		// poll from the server.
		return &Record{}, nil
	}
	if len(rec.Messages) > mirrorCap {
		rec.Messages = rec.Messages[len(rec.Messages)-mirrorCap:]
	}
	return &rec, nil
}

// Save writes the record atomically (write temp, rename).
func (m *Mirror) Save(rec *Record) error {
	if len(rec.Messages) > mirrorCap {
		rec.Messages = rec.Messages[len(rec.Messages)-mirrorCap:]
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal local record: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write local record: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace local record: %w", err)
	}
	return nil
}

// Clear removes the persisted record.
func (m *Mirror) Clear() error {
	err := os.Remove(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
