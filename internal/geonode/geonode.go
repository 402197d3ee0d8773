// Package geonode fetches candidate proxies from the GeoNode proxy-list API
// and validates the raw records into ProxyEndpoints. It lives entirely
// outside the validation engine; politeness throttling between page fetches
// happens here, not in the engine.
package geonode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/config"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/metrics"
	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

// ErrInvalidEndpoint marks a raw candidate that is missing its host or port.
// Invalid candidates are dropped before scheduling and never reach the
// engine; the error is not fatal to the run.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

const maxBodyBytes = 10 * 1024 * 1024

type Client struct {
	cfg     config.GeoNodeConfig
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Collector
}

// FetchStats summarizes one discovery pass.
type FetchStats struct {
	PagesFetched int
	Candidates   int
	Invalid      int
}

func NewClient(cfg config.GeoNodeConfig, metricsCollector *metrics.Collector) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		metrics: metricsCollector,
	}
}

// rawProxy mirrors one entry of the GeoNode listing. The API has returned
// ports as both strings and numbers over time, so both are accepted.
type rawProxy struct {
	IP             string      `json:"ip"`
	Port           json.Number `json:"port"`
	Protocols      []string    `json:"protocols"`
	Country        string      `json:"country"`
	AnonymityLevel string      `json:"anonymityLevel"`
	Speed          json.Number `json:"speed"`
	UpTime         json.Number `json:"upTime"`
}

type listResponse struct {
	Data []rawProxy `json:"data"`
}

// FetchAll retrieves up to maxPages pages of candidates, stopping early at
// the first empty page. Invalid candidates are counted and logged, never
// returned. A page-level fetch error aborts discovery; everything gathered so
// far is returned alongside the error.
func (c *Client) FetchAll(ctx context.Context, maxPages int) ([]types.ProxyEndpoint, FetchStats, error) {
	var endpoints []types.ProxyEndpoint
	var stats FetchStats

	for page := 1; page <= maxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return endpoints, stats, fmt.Errorf("rate limit wait: %w", err)
		}

		log.Infof("Fetching page %d...", page)
		raws, err := c.fetchPage(ctx, page)
		if err != nil {
			return endpoints, stats, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(raws) == 0 {
			log.Infof("No data on page %d, stopping", page)
			break
		}
		stats.PagesFetched++

		for _, raw := range raws {
			ep, err := validate(raw)
			if err != nil {
				stats.Invalid++
				if c.metrics != nil {
					c.metrics.RecordInvalidCandidate()
				}
				log.Debugf("Dropping candidate: %v", err)
				continue
			}
			endpoints = append(endpoints, ep)
		}

		log.Infof("Page %d returned %d candidates", page, len(raws))
	}

	stats.Candidates = len(endpoints)
	if c.metrics != nil {
		c.metrics.RecordCandidates(stats.Candidates)
	}
	return endpoints, stats, nil
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]rawProxy, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.cfg.PageLimit))
	params.Set("page", strconv.Itoa(page))
	params.Set("sort_by", "lastChecked")
	params.Set("sort_type", "desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return list.Data, nil
}

// validate converts a raw listing entry into a strict ProxyEndpoint, or
// classifies it as invalid.
func validate(raw rawProxy) (types.ProxyEndpoint, error) {
	if raw.IP == "" {
		return types.ProxyEndpoint{}, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if raw.Port == "" {
		return types.ProxyEndpoint{}, fmt.Errorf("%w: %s missing port", ErrInvalidEndpoint, raw.IP)
	}
	port, err := strconv.Atoi(raw.Port.String())
	if err != nil || port < 1 || port > 65535 {
		return types.ProxyEndpoint{}, fmt.Errorf("%w: %s bad port %q", ErrInvalidEndpoint, raw.IP, raw.Port)
	}

	speed, _ := raw.Speed.Int64()
	uptime, _ := raw.UpTime.Float64()

	return types.ProxyEndpoint{
		Host:           raw.IP,
		Port:           port,
		Protocols:      raw.Protocols,
		Country:        raw.Country,
		AnonymityLevel: raw.AnonymityLevel,
		Speed:          int(speed),
		UpTime:         uptime,
	}, nil
}
