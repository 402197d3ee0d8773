package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want types.FailureKind
	}{
		{"nil", nil, types.FailureNone},
		{"deadline", context.DeadlineExceeded, types.FailureTimeout},
		{"wrapped deadline", fmt.Errorf("Get \"http://x\": %w", context.DeadlineExceeded), types.FailureTimeout},
		{"url timeout", &url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}, types.FailureTimeout},
		{"conn refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, types.FailureUnreachable},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), types.FailureUnreachable},
		{"host unreachable", fmt.Errorf("dial: %w", syscall.EHOSTUNREACH), types.FailureUnreachable},
		{"dial op", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route")}, types.FailureUnreachable},
		{"tls record", tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}, types.FailureProtocol},
		{"malformed http", errors.New("net/http: malformed HTTP response"), types.FailureProtocol},
		{"tls message", errors.New("remote error: tls: handshake failure"), types.FailureProtocol},
		{"other", errors.New("something else entirely"), types.FailureOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

// proxyFromServer derives a ProxyEndpoint pointing at a test server, so the
// server plays the proxy role.
func proxyFromServer(t *testing.T, srv *httptest.Server) types.ProxyEndpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return types.ProxyEndpoint{Host: u.Hostname(), Port: port}
}

func TestProbeHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"origin": "1.2.3.4"}`))
	}))
	defer srv.Close()

	p := New(Config{
		HTTPTarget: "http://example.invalid/ip",
		Timeout:    5 * time.Second,
	})
	ep := proxyFromServer(t, srv)

	o := p.Probe(context.Background(), ep, types.ProtocolHTTP)
	if !o.Success {
		t.Fatalf("probe failed: [%s] %s", o.Failure, o.Error)
	}
	if o.Latency <= 0 {
		t.Fatalf("latency = %v, want > 0", o.Latency)
	}
}

func TestProbeAnyResponseCounts(t *testing.T) {
	// Non-2xx and garbage bodies still count as success: the endpoint relayed
	// a response.
	for _, status := range []int{http.StatusBadGateway, http.StatusForbidden, http.StatusTeapot} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				w.Write([]byte("not the expected body"))
			}))
			defer srv.Close()

			p := New(Config{HTTPTarget: "http://example.invalid/ip", Timeout: 5 * time.Second})
			o := p.Probe(context.Background(), proxyFromServer(t, srv), types.ProtocolHTTP)
			if !o.Success {
				t.Fatalf("status %d counted as failure: [%s] %s", status, o.Failure, o.Error)
			}
		})
	}
}

func TestProbeTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	// Unblock the handler before srv.Close waits for it.
	defer close(block)

	p := New(Config{HTTPTarget: "http://example.invalid/ip", Timeout: 200 * time.Millisecond})

	start := time.Now()
	o := p.Probe(context.Background(), proxyFromServer(t, srv), types.ProtocolHTTP)
	elapsed := time.Since(start)

	if o.Success {
		t.Fatal("probe against stalled server succeeded")
	}
	if o.Failure != types.FailureTimeout {
		t.Fatalf("failure = %s, want timeout (%s)", o.Failure, o.Error)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("probe took %v, should be bounded by the 200ms timeout", elapsed)
	}
}

func TestProbeUnreachable(t *testing.T) {
	// Grab a port that is certainly closed.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	p := New(Config{HTTPTarget: "http://example.invalid/ip", Timeout: 2 * time.Second})
	ep := types.ProxyEndpoint{Host: "127.0.0.1", Port: port}

	o := p.Probe(context.Background(), ep, types.ProtocolHTTP)
	if o.Success {
		t.Fatal("probe against closed port succeeded")
	}
	if o.Failure != types.FailureUnreachable {
		t.Fatalf("failure = %s, want unreachable (%s)", o.Failure, o.Error)
	}
}

func TestProbeSOCKSDisabled(t *testing.T) {
	p := New(Config{HTTPSTarget: "https://example.invalid/ip", Timeout: time.Second})
	o := p.Probe(context.Background(), types.ProxyEndpoint{Host: "127.0.0.1", Port: 1080}, types.ProtocolSOCKS5)
	if o.Success {
		t.Fatal("SOCKS probe succeeded while disabled")
	}
	if o.Failure != types.FailureOther {
		t.Fatalf("failure = %s, want other", o.Failure)
	}
}

func TestProbeUnknownProtocol(t *testing.T) {
	p := New(Config{Timeout: time.Second})
	o := p.Probe(context.Background(), types.ProxyEndpoint{Host: "127.0.0.1", Port: 80}, types.Protocol("gopher"))
	if o.Success || o.Failure != types.FailureOther {
		t.Fatalf("outcome = %+v, want other failure", o)
	}
}

func TestFastConnectFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	open := proxyFromServer(t, srv)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closedPort := l.Addr().(*net.TCPAddr).Port
	l.Close()
	closed := types.ProxyEndpoint{Host: "127.0.0.1", Port: closedPort}

	reachable := FastConnectFilter([]types.ProxyEndpoint{open, closed}, time.Second, 10)

	if !reachable[open.Address()] {
		t.Fatalf("open endpoint %s not reachable", open.Address())
	}
	if reachable[closed.Address()] {
		t.Fatalf("closed endpoint %s reported reachable", closed.Address())
	}
}
