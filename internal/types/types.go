package types

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Protocol identifies one probe scheme.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS5 Protocol = "socks5"
)

// FailureKind classifies why a probe did not succeed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureUnreachable FailureKind = "unreachable"
	FailureProtocol    FailureKind = "protocol_error"
	FailureOther       FailureKind = "other"
)

// ProxyEndpoint is the immutable identity of one candidate proxy, created
// once when the candidate is validated and never mutated afterwards.
type ProxyEndpoint struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Protocols      []string `json:"protocols,omitempty"`
	Country        string   `json:"country,omitempty"`
	AnonymityLevel string   `json:"anonymity_level,omitempty"`
	Speed          int      `json:"speed,omitempty"`
	UpTime         float64  `json:"uptime,omitempty"`
}

// Address returns the endpoint in host:port form.
func (e ProxyEndpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ProbeOutcome is the result of one protocol check. Latency is only
// meaningful when Success is true.
type ProbeOutcome struct {
	Protocol Protocol      `json:"protocol"`
	Success  bool          `json:"success"`
	Latency  time.Duration `json:"latency"`
	Failure  FailureKind   `json:"failure,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ErrDuplicateOutcome is returned when a second outcome is attached for a
// protocol that already has one.
var ErrDuplicateOutcome = errors.New("duplicate outcome for protocol")

// ProxyRecord aggregates the probe outcomes for one endpoint. Outcomes are
// attached as probes complete; the per-record mutex makes the write and the
// completeness check atomic with respect to the other protocol's task.
type ProxyRecord struct {
	Endpoint ProxyEndpoint

	mu       sync.Mutex
	outcomes map[Protocol]ProbeOutcome
	pending  int
}

// NewProxyRecord creates a record expecting one outcome per listed protocol.
func NewProxyRecord(ep ProxyEndpoint, protocols []Protocol) *ProxyRecord {
	return &ProxyRecord{
		Endpoint: ep,
		outcomes: make(map[Protocol]ProbeOutcome, len(protocols)),
		pending:  len(protocols),
	}
}

// SetOutcome attaches a probe outcome and reports whether the record is now
// complete.
func (r *ProxyRecord) SetOutcome(o ProbeOutcome) (complete bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.outcomes[o.Protocol]; exists {
		return r.pending == 0, ErrDuplicateOutcome
	}

	r.outcomes[o.Protocol] = o
	r.pending--
	return r.pending == 0, nil
}

// Outcome returns the outcome recorded for a protocol, if any.
func (r *ProxyRecord) Outcome(p Protocol) (ProbeOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.outcomes[p]
	return o, ok
}

// Outcomes returns a copy of all recorded outcomes, ordered by protocol for
// deterministic iteration.
func (r *ProxyRecord) Outcomes() []ProbeOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProbeOutcome, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out
}

// Complete reports whether every scheduled protocol has produced an outcome.
func (r *ProxyRecord) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending == 0
}

// Working reports whether at least one outcome succeeded.
func (r *ProxyRecord) Working() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.outcomes {
		if o.Success {
			return true
		}
	}
	return false
}

// MinLatency returns the smallest latency among successful outcomes. The
// second return value is false when no outcome succeeded.
func (r *ProxyRecord) MinLatency() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best time.Duration
	found := false
	for _, o := range r.outcomes {
		if !o.Success {
			continue
		}
		if !found || o.Latency < best {
			best = o.Latency
			found = true
		}
	}
	return best, found
}

// RunSummary is derived from the final set of records of one validation run.
type RunSummary struct {
	TotalChecked      int
	Working           int
	Failed            int
	WorkingByProtocol map[Protocol]int
	Duration          time.Duration

	// Ranked holds the working records ordered by ascending minimum
	// successful latency, ties broken by host then port, truncated to the
	// requested top K.
	Ranked []*ProxyRecord
}
