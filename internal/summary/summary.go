// Package summary derives run statistics and the speed ranking from a
// completed set of proxy records. Pure functions only; the records are read,
// never mutated.
package summary

import (
	"sort"
	"time"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

// Summarize computes the RunSummary for a completed record set. Records with
// no successful outcome are excluded from the ranking but counted in the
// failure statistics. topK truncates the ranking; a topK beyond the number of
// working records returns all of them, and topK <= 0 means no truncation.
//
// Deterministic for a fixed input: the rank order is ascending minimum
// successful latency, ties broken by (host, port) ascending.
func Summarize(records []*types.ProxyRecord, topK int, duration time.Duration) types.RunSummary {
	s := types.RunSummary{
		TotalChecked:      len(records),
		WorkingByProtocol: make(map[types.Protocol]int),
		Duration:          duration,
	}

	working := make([]*types.ProxyRecord, 0, len(records))
	for _, rec := range records {
		for _, o := range rec.Outcomes() {
			if o.Success {
				s.WorkingByProtocol[o.Protocol]++
			}
		}
		if rec.Working() {
			s.Working++
			working = append(working, rec)
		} else {
			s.Failed++
		}
	}

	sort.Slice(working, func(i, j int) bool {
		li, _ := working[i].MinLatency()
		lj, _ := working[j].MinLatency()
		if li != lj {
			return li < lj
		}
		if working[i].Endpoint.Host != working[j].Endpoint.Host {
			return working[i].Endpoint.Host < working[j].Endpoint.Host
		}
		return working[i].Endpoint.Port < working[j].Endpoint.Port
	})

	if topK > 0 && topK < len(working) {
		working = working[:topK]
	}
	s.Ranked = working

	return s
}
