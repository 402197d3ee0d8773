package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

// maxProbeBody caps how much of the target response is drained when
// measuring latency to response completion.
const maxProbeBody = 64 * 1024

// Config holds the fixed probe parameters for a run.
type Config struct {
	// HTTPTarget and HTTPSTarget are the reachability-check URLs, one per
	// protocol.
	HTTPTarget  string
	HTTPSTarget string

	Timeout time.Duration

	// SocksEnabled gates the optional SOCKS5 probe.
	SocksEnabled bool

	UserAgent string
}

// Prober performs one protocol check per call through a candidate proxy.
//
// Success policy: any received response with no transport-level error counts
// as success, regardless of status code. The upstream listing advertises many
// proxies that answer with captive pages or odd statuses but still relay
// traffic; narrowing the criterion to 2xx would change observable pass rates.
type Prober struct {
	cfg Config
}

func New(cfg Config) *Prober {
	return &Prober{cfg: cfg}
}

// Probe issues exactly one outbound request through the endpoint for the
// given protocol. Every failure is folded into the outcome; Probe never
// returns an engine-visible error. No retries are performed.
func (p *Prober) Probe(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol) types.ProbeOutcome {
	switch proto {
	case types.ProtocolHTTP:
		return p.probeHTTP(ctx, ep, proto, p.cfg.HTTPTarget)
	case types.ProtocolHTTPS:
		return p.probeHTTP(ctx, ep, proto, p.cfg.HTTPSTarget)
	case types.ProtocolSOCKS5:
		if !p.cfg.SocksEnabled {
			return types.ProbeOutcome{
				Protocol: proto,
				Failure:  types.FailureOther,
				Error:    "SOCKS checking disabled",
			}
		}
		return p.probeSOCKS5(ctx, ep)
	default:
		return types.ProbeOutcome{
			Protocol: proto,
			Failure:  types.FailureOther,
			Error:    fmt.Sprintf("unsupported protocol %q", proto),
		}
	}
}

func (p *Prober) probeHTTP(ctx context.Context, ep types.ProxyEndpoint, proto types.Protocol, target string) types.ProbeOutcome {
	proxyURL, err := url.Parse("http://" + ep.Address())
	if err != nil {
		return types.ProbeOutcome{
			Protocol: proto,
			Failure:  types.FailureOther,
			Error:    fmt.Sprintf("parse proxy URL: %v", err),
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout: p.cfg.Timeout,
		}).DialContext,
		ForceAttemptHTTP2:   false,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: p.cfg.Timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // candidate proxies routinely MITM TLS
		},
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   p.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return p.do(ctx, client, proto, target)
}

// do runs the request and measures wall-clock latency from request start to
// response completion.
func (p *Prober) do(ctx context.Context, client *http.Client, proto types.Protocol, target string) types.ProbeOutcome {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return types.ProbeOutcome{
			Protocol: proto,
			Failure:  types.FailureOther,
			Error:    fmt.Sprintf("create request: %v", err),
		}
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		kind := Classify(err)
		return types.ProbeOutcome{
			Protocol: proto,
			Failure:  kind,
			Error:    err.Error(),
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBody))

	return types.ProbeOutcome{
		Protocol: proto,
		Success:  true,
		Latency:  time.Since(start),
	}
}

// Classify maps a transport error to its failure kind.
func Classify(err error) types.FailureKind {
	if err == nil {
		return types.FailureNone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.FailureTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return types.FailureUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return types.FailureUnreachable
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return types.FailureProtocol
	}
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return types.FailureProtocol
	}
	msg := err.Error()
	if strings.Contains(msg, "tls:") ||
		strings.Contains(msg, "malformed HTTP") ||
		strings.Contains(msg, "handshake failure") {
		return types.FailureProtocol
	}

	return types.FailureOther
}
