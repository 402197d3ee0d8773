package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/snapshot"
)

// SQLiteStorage keeps a history of run snapshots; Load returns the latest.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY,
		data TEXT NOT NULL,
		total_checked INTEGER NOT NULL,
		working INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Save(snap *snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	if _, err := s.db.Exec(
		"INSERT INTO runs (data, total_checked, working, created_at) VALUES (?, ?, ?, ?)",
		string(data), snap.Stats.TotalChecked, snap.Stats.Working, time.Now(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Load() (*snapshot.Snapshot, error) {
	var data string
	err := s.db.QueryRow("SELECT data FROM runs ORDER BY id DESC LIMIT 1").Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query run: %w", err)
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
