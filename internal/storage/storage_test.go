package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/snapshot"
)

func sampleSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Proxies: []snapshot.Proxy{
			{Address: "1.1.1.1:8080", Country: "US", Protocols: []string{"HTTP"}, LatencyMs: 50},
		},
		Stats: snapshot.Stats{
			TotalChecked: 3,
			Working:      1,
			Failed:       2,
			ByProtocol:   map[string]int{"http": 1},
			DurationMs:   1500,
			CheckedAt:    time.Now().UTC().Truncate(time.Second),
		},
		Updated: time.Now().UTC().Truncate(time.Second),
	}
}

func TestNewStorageNone(t *testing.T) {
	store, err := NewStorage("none", "")
	if err != nil {
		t.Fatalf("NewStorage(none): %v", err)
	}
	if store != nil {
		t.Fatal("NewStorage(none) returned a backend")
	}
}

func TestNewStorageUnknown(t *testing.T) {
	if _, err := NewStorage("cassandra", ""); err == nil {
		t.Fatal("NewStorage accepted an unknown type")
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	store, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	defer store.Close()

	// Load before any save reports no snapshot, not an error.
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load before save: %v", err)
	}
	if snap != nil {
		t.Fatal("Load before save returned a snapshot")
	}

	want := sampleSnapshot()
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil after save")
	}
	if len(got.Proxies) != 1 || got.Proxies[0].Address != "1.1.1.1:8080" {
		t.Fatalf("loaded proxies = %+v", got.Proxies)
	}
	if got.Stats.Working != 1 || got.Stats.Failed != 2 {
		t.Fatalf("loaded stats = %+v", got.Stats)
	}
}

func TestSQLiteStorageKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	defer store.Close()

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load before save: %v", err)
	}
	if snap != nil {
		t.Fatal("Load before save returned a snapshot")
	}

	first := sampleSnapshot()
	if err := store.Save(first); err != nil {
		t.Fatalf("Save first: %v", err)
	}

	second := sampleSnapshot()
	second.Stats.Working = 7
	if err := store.Save(second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Stats.Working != 7 {
		t.Fatalf("Load returned %+v, want the latest run (working=7)", got)
	}
}
