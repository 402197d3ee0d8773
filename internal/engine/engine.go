package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/metrics"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

// ProbeFunc performs one protocol check against one endpoint. Every failure
// must be folded into the outcome; the engine treats the returned value as
// final.
type ProbeFunc func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome

// Options configures a validation run.
type Options struct {
	// Workers bounds the number of concurrently executing probes.
	Workers int

	// Protocols lists the checks scheduled per endpoint, one task each.
	Protocols []types.Protocol

	// OnComplete, if set, is invoked once per record as it completes. It
	// runs on a worker goroutine and must not block for long; it has no
	// effect on the final record set.
	OnComplete func(*types.ProxyRecord)

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Engine drives all probes for a candidate set to completion over a bounded
// worker pool and owns the record table for the duration of the run.
type Engine struct {
	probe ProbeFunc
	opts  Options
}

type task struct {
	record *types.ProxyRecord
	proto  types.Protocol
}

// New validates the configuration before any task can run.
func New(probe ProbeFunc, opts Options) (*Engine, error) {
	if probe == nil {
		return nil, fmt.Errorf("probe function is required")
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be positive, got %d", opts.Workers)
	}
	if len(opts.Protocols) == 0 {
		return nil, fmt.Errorf("at least one protocol is required")
	}
	seen := make(map[types.Protocol]struct{}, len(opts.Protocols))
	for _, p := range opts.Protocols {
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("duplicate protocol %q", p)
		}
		seen[p] = struct{}{}
	}
	return &Engine{probe: probe, opts: opts}, nil
}

// Run schedules one task per (endpoint, protocol) pair and returns once every
// task has produced an outcome. An individual probe failure never aborts the
// run; a run over zero candidates completes immediately. The returned slice
// holds one complete record per endpoint, in input order.
//
// There is no mid-run cancellation: a scheduled task always runs to success,
// failure, or its own timeout.
func (e *Engine) Run(ctx context.Context, endpoints []types.ProxyEndpoint) []*types.ProxyRecord {
	records := make([]*types.ProxyRecord, len(endpoints))
	for i, ep := range endpoints {
		records[i] = types.NewProxyRecord(ep, e.opts.Protocols)
	}

	totalTasks := len(endpoints) * len(e.opts.Protocols)
	log.Infof("Starting validation: %d candidates, %d tasks, workers=%d",
		len(endpoints), totalTasks, e.opts.Workers)

	start := time.Now()

	var completedTasks atomic.Int64
	var completedRecords atomic.Int64

	progressDone := make(chan struct{})
	progressTicker := time.NewTicker(5 * time.Second)
	defer progressTicker.Stop()
	go func() {
		for {
			select {
			case <-progressTicker.C:
				done := completedTasks.Load()
				percent := float64(done) / float64(totalTasks) * 100.0
				log.Infof("Progress: %d/%d tasks (%.1f%%), records complete=%d",
					done, totalTasks, percent, completedRecords.Load())
			case <-progressDone:
				return
			}
		}
	}()

	tasks := make(chan task)

	var wg sync.WaitGroup
	for w := 0; w < e.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				if e.runTask(ctx, t) {
					completedRecords.Add(1)
				}
				completedTasks.Add(1)
			}
		}()
	}

	for _, rec := range records {
		for _, proto := range e.opts.Protocols {
			tasks <- task{record: rec, proto: proto}
		}
	}
	close(tasks)
	wg.Wait()
	close(progressDone)

	log.Infof("Validation complete: %d candidates in %v", len(endpoints), time.Since(start))
	return records
}

// runTask executes one probe and merges its outcome; it reports whether the
// owning record became complete.
func (e *Engine) runTask(ctx context.Context, t task) bool {
	outcome := e.probe(ctx, t.record.Endpoint, t.proto)
	outcome.Protocol = t.proto

	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordProbe(string(t.proto), outcome.Success, outcome.Latency.Seconds())
	}

	complete, err := t.record.SetOutcome(outcome)
	if err != nil {
		log.Warnf("Dropping outcome for %s/%s: %v", t.record.Endpoint.Address(), t.proto, err)
		return false
	}

	if complete && e.opts.OnComplete != nil {
		e.opts.OnComplete(t.record)
	}
	return complete
}

// SkipUnreachable wraps a probe function so endpoints outside the reachable
// set resolve immediately to an unreachable outcome, without issuing a
// request. Used with the fast TCP pre-filter; every endpoint still gets a
// full record.
func SkipUnreachable(probe ProbeFunc, reachable map[string]bool) ProbeFunc {
	return func(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
		if !reachable[ep.Address()] {
			return types.ProbeOutcome{
				Protocol: proto,
				Failure:  types.FailureUnreachable,
				Error:    "failed TCP pre-filter",
			}
		}
		return probe(ctx, ep, proto)
	}
}
