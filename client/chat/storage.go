// client/chat/storage.go

package chatclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// queueFileName is the fixed key the whole queue is stored under.
const queueFileName = "chat_send_queue.json"

// Storage persists the queue between process restarts. Save replaces
// the whole stored queue atomically.
type Storage interface {
	Load() ([]QueuedMessage, error)
	Save(items []QueuedMessage) error
}

type queueBlob struct {
	Version int             `json:"version"`
	Items   []QueuedMessage `json:"items"`
}

// FileStorage keeps the queue as a single JSON blob on disk, written
// via temp file + rename so a crash mid-write never leaves a truncated
// queue behind.
type FileStorage struct {
	path string
}

func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{path: filepath.Join(dir, queueFileName)}
}

func (s *FileStorage) Load() ([]QueuedMessage, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	var blob queueBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decode queue file: %w", err)
	}
	return blob.Items, nil
}

func (s *FileStorage) Save(items []QueuedMessage) error {
	data, err := json.Marshal(queueBlob{Version: 1, Items: items})
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}

// MemoryStorage is an in-process Storage for tests.
type MemoryStorage struct {
	mu    sync.Mutex
	items []QueuedMessage
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load() ([]QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueuedMessage, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *MemoryStorage) Save(items []QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]QueuedMessage, len(items))
	copy(s.items, items)
	return nil
}
