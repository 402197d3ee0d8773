package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/snapshot"
)

// NewStorage builds a snapshot.Storage backend. Type "none" returns nil,
// meaning persistence is disabled.
func NewStorage(storageType string, path string) (snapshot.Storage, error) {
	switch storageType {
	case "none":
		return nil, nil
	case "file":
		return NewFileStorage(path)
	case "sqlite":
		return NewSQLiteStorage(path)
	case "redis":
		return NewRedisStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// FileStorage stores snapshots as a JSON file, written atomically.
type FileStorage struct {
	path string
}

func NewFileStorage(path string) (*FileStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &FileStorage{path: path}, nil
}

func (f *FileStorage) Save(snap *snapshot.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func (f *FileStorage) Load() (*snapshot.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return &snap, nil
}

func (f *FileStorage) Close() error {
	return nil
}
