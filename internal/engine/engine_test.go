package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/summary"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

var twoProtocols = []types.Protocol{types.ProtocolHTTP, types.ProtocolHTTPS}

func makeEndpoints(n int) []types.ProxyEndpoint {
	eps := make([]types.ProxyEndpoint, n)
	for i := range eps {
		eps[i] = types.ProxyEndpoint{Host: fmt.Sprintf("10.0.0.%d", i+1), Port: 8080}
	}
	return eps
}

func TestNewRejectsBadOptions(t *testing.T) {
	probe := func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
		return types.ProbeOutcome{Success: true}
	}

	cases := []struct {
		name  string
		probe ProbeFunc
		opts  Options
	}{
		{"nil probe", nil, Options{Workers: 1, Protocols: twoProtocols}},
		{"zero workers", probe, Options{Workers: 0, Protocols: twoProtocols}},
		{"negative workers", probe, Options{Workers: -3, Protocols: twoProtocols}},
		{"no protocols", probe, Options{Workers: 1}},
		{"duplicate protocols", probe, Options{Workers: 1,
			Protocols: []types.Protocol{types.ProtocolHTTP, types.ProtocolHTTP}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.probe, tc.opts); err == nil {
				t.Fatal("New accepted invalid options")
			}
		})
	}
}

func TestRunCompletesAllRecords(t *testing.T) {
	for _, workers := range []int{1, 7, 100} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			var calls atomic.Int64
			probe := func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
				calls.Add(1)
				return types.ProbeOutcome{Success: true, Latency: time.Millisecond}
			}

			eng, err := New(probe, Options{Workers: workers, Protocols: twoProtocols})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			eps := makeEndpoints(25)
			records := eng.Run(context.Background(), eps)

			if len(records) != len(eps) {
				t.Fatalf("len(records) = %d, want %d", len(records), len(eps))
			}
			if got := calls.Load(); got != int64(len(eps)*2) {
				t.Fatalf("probe calls = %d, want %d", got, len(eps)*2)
			}
			for i, rec := range records {
				if !rec.Complete() {
					t.Fatalf("record %d not complete", i)
				}
				if rec.Endpoint.Address() != eps[i].Address() {
					t.Fatalf("record %d out of input order: %s, want %s",
						i, rec.Endpoint.Address(), eps[i].Address())
				}
			}
		})
	}
}

func TestRunEmptyInput(t *testing.T) {
	probe := func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
		t.Error("probe called for empty input")
		return types.ProbeOutcome{}
	}
	eng, err := New(probe, Options{Workers: 4, Protocols: twoProtocols})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	records := eng.Run(context.Background(), nil)
	if len(records) != 0 {
		t.Fatalf("len(records) = %d, want 0", len(records))
	}
}

func TestRunFailuresDoNotAbort(t *testing.T) {
	probe := func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
		return types.ProbeOutcome{Failure: types.FailureTimeout, Error: "probe timeout"}
	}
	eng, err := New(probe, Options{Workers: 4, Protocols: twoProtocols})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	records := eng.Run(context.Background(), makeEndpoints(10))
	for i, rec := range records {
		if !rec.Complete() {
			t.Fatalf("record %d not complete", i)
		}
		if rec.Working() {
			t.Fatalf("record %d working despite all probes failing", i)
		}
	}
}

func TestRunConcurrencyBound(t *testing.T) {
	const workers = 5

	var active, peak atomic.Int64
	probe := func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
		cur := active.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return types.ProbeOutcome{Success: true, Latency: time.Millisecond}
	}

	eng, err := New(probe, Options{Workers: workers, Protocols: twoProtocols})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Run(context.Background(), makeEndpoints(30))

	if p := peak.Load(); p > workers {
		t.Fatalf("peak concurrent probes = %d, exceeds %d workers", p, workers)
	}
}

func TestRunDeterministicSummary(t *testing.T) {
	// Latencies keyed by (address, protocol); every (re-)run must produce the
	// same summary regardless of worker interleaving.
	latency := func(ep types.ProxyEndpoint, proto types.Protocol) time.Duration {
		return time.Duration(ep.Port%97+len(proto)) * time.Millisecond
	}
	probe := func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
		if ep.Port%3 == 0 && proto == types.ProtocolHTTP {
			return types.ProbeOutcome{Failure: types.FailureUnreachable}
		}
		return types.ProbeOutcome{Success: true, Latency: latency(ep, proto)}
	}

	eps := make([]types.ProxyEndpoint, 40)
	for i := range eps {
		eps[i] = types.ProxyEndpoint{Host: fmt.Sprintf("10.1.0.%d", i+1), Port: 8000 + i}
	}

	var prev string
	for run, workers := range []int{1, 8, 80} {
		eng, err := New(probe, Options{Workers: workers, Protocols: twoProtocols})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		records := eng.Run(context.Background(), eps)
		s := summary.Summarize(records, 10, 0)

		var sig string
		for _, rec := range s.Ranked {
			lat, _ := rec.MinLatency()
			sig += fmt.Sprintf("%s@%v;", rec.Endpoint.Address(), lat)
		}
		sig += fmt.Sprintf("w=%d f=%d", s.Working, s.Failed)

		if run > 0 && sig != prev {
			t.Fatalf("summary differs across worker counts:\n%s\nvs\n%s", prev, sig)
		}
		prev = sig
	}
}

func TestOnCompleteOncePerRecord(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	probe := func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
		return types.ProbeOutcome{Success: true, Latency: time.Millisecond}
	}
	eng, err := New(probe, Options{
		Workers:   8,
		Protocols: twoProtocols,
		OnComplete: func(rec *types.ProxyRecord) {
			if !rec.Complete() {
				t.Errorf("OnComplete for incomplete record %s", rec.Endpoint.Address())
			}
			mu.Lock()
			seen[rec.Endpoint.Address()]++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	eps := makeEndpoints(20)
	eng.Run(context.Background(), eps)

	if len(seen) != len(eps) {
		t.Fatalf("OnComplete fired for %d records, want %d", len(seen), len(eps))
	}
	for addr, n := range seen {
		if n != 1 {
			t.Fatalf("OnComplete fired %d times for %s", n, addr)
		}
	}
}

func TestSkipUnreachable(t *testing.T) {
	var calls atomic.Int64
	inner := func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
		calls.Add(1)
		return types.ProbeOutcome{Success: true, Latency: time.Millisecond}
	}

	reachable := map[string]bool{"10.0.0.1:8080": true}
	probe := SkipUnreachable(inner, reachable)

	eng, err := New(probe, Options{Workers: 2, Protocols: twoProtocols})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	eps := makeEndpoints(2) // 10.0.0.1 reachable, 10.0.0.2 filtered
	records := eng.Run(context.Background(), eps)

	if got := calls.Load(); got != 2 {
		t.Fatalf("inner probe calls = %d, want 2 (filtered endpoint must not be probed)", got)
	}

	if !records[0].Working() {
		t.Fatal("reachable endpoint not working")
	}

	// The filtered endpoint still gets a complete record, marked unreachable.
	if !records[1].Complete() {
		t.Fatal("filtered endpoint record not complete")
	}
	for _, o := range records[1].Outcomes() {
		if o.Success || o.Failure != types.FailureUnreachable {
			t.Fatalf("filtered outcome = %+v, want unreachable failure", o)
		}
	}
}
