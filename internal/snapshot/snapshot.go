// Package snapshot holds the latest completed run in an atomically swappable
// value, hands out working proxies round-robin to the API, and persists runs
// through a pluggable storage backend.
package snapshot

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

// Proxy is the flat, serializable view of one working proxy.
type Proxy struct {
	Address        string   `json:"address"`
	Country        string   `json:"country,omitempty"`
	AnonymityLevel string   `json:"anonymity_level,omitempty"`
	Protocols      []string `json:"protocols"`
	LatencyMs      int64    `json:"latency_ms"`
}

// Stats is the flat view of a RunSummary.
type Stats struct {
	TotalChecked int            `json:"total_checked"`
	Working      int            `json:"working"`
	Failed       int            `json:"failed"`
	ByProtocol   map[string]int `json:"working_by_protocol"`
	DurationMs   int64          `json:"duration_ms"`
	CheckedAt    time.Time      `json:"checked_at"`
}

// Snapshot is a point-in-time view of the latest run.
type Snapshot struct {
	Proxies []Proxy   `json:"proxies"`
	Stats   Stats     `json:"stats"`
	Updated time.Time `json:"updated"`
}

// Storage persists snapshots. Implementations live in internal/storage.
type Storage interface {
	Save(snapshot *Snapshot) error
	Load() (*Snapshot, error)
	Close() error
}

// Manager owns the current snapshot. Reads are lock-free; updates swap the
// whole snapshot atomically.
type Manager struct {
	current   atomic.Value // stores *Snapshot
	storage   Storage      // may be nil
	persistMu sync.Mutex
	rrIndex   atomic.Uint64
}

func NewManager(store Storage) *Manager {
	m := &Manager{storage: store}
	m.current.Store(&Snapshot{
		Proxies: []Proxy{},
		Updated: time.Now(),
	})
	return m
}

// UpdateFromRun replaces the current snapshot with the results of a finished
// run and persists it asynchronously.
func (m *Manager) UpdateFromRun(s types.RunSummary) {
	snap := &Snapshot{
		Proxies: make([]Proxy, 0, len(s.Ranked)),
		Stats: Stats{
			TotalChecked: s.TotalChecked,
			Working:      s.Working,
			Failed:       s.Failed,
			ByProtocol:   make(map[string]int, len(s.WorkingByProtocol)),
			DurationMs:   s.Duration.Milliseconds(),
			CheckedAt:    time.Now(),
		},
		Updated: time.Now(),
	}
	for proto, n := range s.WorkingByProtocol {
		snap.Stats.ByProtocol[string(proto)] = n
	}

	for _, rec := range s.Ranked {
		lat, _ := rec.MinLatency()
		var protos []string
		for _, o := range rec.Outcomes() {
			if o.Success {
				protos = append(protos, strings.ToUpper(string(o.Protocol)))
			}
		}
		snap.Proxies = append(snap.Proxies, Proxy{
			Address:        rec.Endpoint.Address(),
			Country:        rec.Endpoint.Country,
			AnonymityLevel: rec.Endpoint.AnonymityLevel,
			Protocols:      protos,
			LatencyMs:      lat.Milliseconds(),
		})
	}

	m.current.Store(snap)
	log.Infof("Snapshot updated: %d working proxies", len(snap.Proxies))

	if m.storage != nil {
		go m.persist(snap)
	}
}

// Get returns the current snapshot.
func (m *Manager) Get() *Snapshot {
	return m.current.Load().(*Snapshot)
}

// GetProxy returns one working proxy, round-robin over the ranked list.
func (m *Manager) GetProxy() (Proxy, bool) {
	return m.Next(m.Get())
}

// Next returns the round-robin pick from the given snapshot. Callers that
// already hold a snapshot use this to keep all reads of one request on the
// same run, even if the current snapshot is swapped meanwhile.
func (m *Manager) Next(snap *Snapshot) (Proxy, bool) {
	if len(snap.Proxies) == 0 {
		return Proxy{}, false
	}
	idx := m.rrIndex.Add(1) % uint64(len(snap.Proxies))
	return snap.Proxies[idx], true
}

// GetProxies returns up to n proxies in rank order; n <= 0 returns all.
func (m *Manager) GetProxies(n int) []Proxy {
	snap := m.Get()
	if n <= 0 || n > len(snap.Proxies) {
		n = len(snap.Proxies)
	}
	out := make([]Proxy, n)
	copy(out, snap.Proxies[:n])
	return out
}

// GetStats returns the statistics of the latest run.
func (m *Manager) GetStats() Stats {
	return m.Get().Stats
}

func (m *Manager) persist(snap *Snapshot) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if err := m.storage.Save(snap); err != nil {
		log.Errorf("Failed to persist snapshot: %v", err)
	} else {
		log.Debugf("Snapshot persisted: %d proxies", len(snap.Proxies))
	}
}

// Close flushes the current snapshot to storage.
func (m *Manager) Close() {
	if m.storage == nil {
		return
	}
	m.persist(m.Get())
	if err := m.storage.Close(); err != nil {
		log.Errorf("Failed to close storage: %v", err)
	}
}
