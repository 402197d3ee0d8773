package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/proxy"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

// probeSOCKS5 checks a SOCKS5 candidate by fetching the HTTPS target through
// a SOCKS dialer. Same success policy as the HTTP probes.
func (p *Prober) probeSOCKS5(ctx context.Context, ep types.ProxyEndpoint) types.ProbeOutcome {
	dialer, err := proxy.SOCKS5("tcp", ep.Address(), nil, proxy.Direct)
	if err != nil {
		return types.ProbeOutcome{
			Protocol: types.ProtocolSOCKS5,
			Failure:  types.FailureOther,
			Error:    fmt.Sprintf("SOCKS5 dialer: %v", err),
		}
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: p.cfg.Timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
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

	return p.do(ctx, client, types.ProtocolSOCKS5, p.cfg.HTTPSTarget)
}
