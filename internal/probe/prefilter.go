package probe

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

// FastConnectFilter performs a TCP-only reachability pass over the candidate
// set before the full protocol probes run. It returns the set of addresses
// that accepted a connection; endpoints outside the set can be marked
// unreachable without spending a full probe timeout on each protocol.
func FastConnectFilter(endpoints []types.ProxyEndpoint, timeout time.Duration, concurrency int) map[string]bool {
	reachable := make(map[string]bool, len(endpoints))
	if len(endpoints) == 0 {
		return reachable
	}
	if concurrency < 1 {
		concurrency = 1
	}

	log.Infof("Starting fast TCP filter: %d candidates, concurrency=%d, timeout=%v",
		len(endpoints), concurrency, timeout)

	start := time.Now()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var connectable atomic.Int64

	sem := make(chan struct{}, concurrency)

	for _, ep := range endpoints {
		sem <- struct{}{}
		wg.Add(1)

		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return
			}
			conn.Close()

			mu.Lock()
			reachable[addr] = true
			mu.Unlock()
			connectable.Add(1)
		}(ep.Address())
	}

	wg.Wait()

	log.Infof("Fast filter complete: %d/%d connectable in %v",
		connectable.Load(), len(endpoints), time.Since(start))

	return reachable
}
