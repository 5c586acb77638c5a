package store

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/breeze-rmm/session-panel/internal/logging"
)

var log = logging.L("store")

// KeyPanelMessageID names the id of the published panel message.
const KeyPanelMessageID = "panel_message_id"

// StateStore keeps a few named scalars in a JSON object on disk. Every
// call re-reads the file, so an absent or corrupt file behaves as empty.
type StateStore struct {
	path string
	mu   sync.Mutex
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Get returns the value stored under key. Numbers come back as json.Number.
func (s *StateStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.read()[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Set stores value under key, preserving other keys. A nil value is
// written as JSON null.
func (s *StateStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.read()
	data[key] = value
	return WriteJSONAtomic(s.path, data)
}

// PanelMessageID returns the persisted panel message id, or "" when none
// is stored or the stored value is unusable.
func (s *StateStore) PanelMessageID() string {
	v, ok := s.Get(KeyPanelMessageID)
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case json.Number:
		if _, err := strconv.ParseUint(id.String(), 10, 64); err != nil {
			return ""
		}
		return id.String()
	case string:
		id = strings.TrimSpace(id)
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return ""
		}
		return id
	default:
		return ""
	}
}

// SetPanelMessageID persists id as a JSON integer; "" clears it to null.
func (s *StateStore) SetPanelMessageID(id string) error {
	if id == "" {
		return s.Set(KeyPanelMessageID, nil)
	}
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return s.Set(KeyPanelMessageID, id)
	}
	return s.Set(KeyPanelMessageID, json.Number(id))
}

func (s *StateStore) read() map[string]any {
	data := make(map[string]any)
	if err := ReadJSON(s.path, &data); err != nil {
		if !os.IsNotExist(err) {
			log.Warn("state file unreadable, treating as empty", "path", s.path, "error", err)
		}
		return make(map[string]any)
	}
	if data == nil {
		return make(map[string]any)
	}
	return data
}
