package httpsshim

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ut-austin-fis/httpsshim/internal/tests"
)

func newTestTransport(srv *httptest.Server) *Transport {
	t := NewTransport()
	t.GetTLSClientConfig().RootCAs = tests.RootCAs(srv)
	return t
}

func getEcho(t *testing.T, rt http.RoundTripper, req *http.Request) (tests.Echo, *http.Response) {
	t.Helper()
	resp, err := (&http.Client{Transport: rt}).Do(req)
	tests.AssertNoError(t, err)
	defer resp.Body.Close()
	tests.AssertEqual(t, http.StatusOK, resp.StatusCode)
	var e tests.Echo
	tests.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e, resp
}

func TestTransportPinnedVersion(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS10, tls.VersionTLS13)
	tr := newTestTransport(srv).SetProtocolVersion(TLSv1_1)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/get?a=1&b=2", nil)
	e, resp := getEcho(t, tr, req)
	tests.AssertEqual(t, map[string]string{"a": "1", "b": "2"}, e.Args)
	tests.AssertEqual(t, uint16(tls.VersionTLS11), e.TLSVersion)
	tests.AssertEqual(t, uint16(tls.VersionTLS11), resp.TLS.Version)
	tests.AssertEqual(t, req, resp.Request)
}

func TestTransportContextOverride(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS10, tls.VersionTLS13)
	tr := newTestTransport(srv).SetProtocolVersion(TLSv1_2)

	ctx := WithProtocolVersion(context.Background(), TLSv1_3)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/get", nil)
	e, _ := getEcho(t, tr, req)
	tests.AssertEqual(t, uint16(tls.VersionTLS13), e.TLSVersion)

	// Requests without an override keep the transport version.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/get", nil)
	e, _ = getEcho(t, tr, req)
	tests.AssertEqual(t, uint16(tls.VersionTLS12), e.TLSVersion)
}

func TestTransportRejectsPlainHTTP(t *testing.T) {
	tr := NewTransport()
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	_, err := tr.RoundTrip(req)
	tests.AssertEqual(t, true, errors.Is(err, ErrUnsupportedScheme))
}

func TestTransportHandshakeFailure(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS12, tls.VersionTLS12)
	tr := newTestTransport(srv).SetProtocolVersion(TLSv1)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := tr.RoundTrip(req)
	he := tests.AssertErrorAs[*TLSHandshakeError](t, err)
	tests.AssertEqual(t, TLSv1, he.Version)
}

func TestTransportDecompress(t *testing.T) {
	srv := tests.NewTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Accept-Encoding", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		io.WriteString(gw, "hello gzip")
		gw.Close()
	}), tls.VersionTLS12, tls.VersionTLS13)

	tr := newTestTransport(srv)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := tr.RoundTrip(req)
	tests.AssertNoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, "hello gzip", string(b))
	tests.AssertEqual(t, true, resp.Uncompressed)
	tests.AssertEqual(t, "", resp.Header.Get("Content-Encoding"))
	tests.AssertEqual(t, "gzip, deflate, br, zstd", resp.Header.Get("X-Accept-Encoding"))

	// The caller negotiating encodings itself gets the raw body.
	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err = tr.RoundTrip(req)
	tests.AssertNoError(t, err)
	defer resp.Body.Close()
	tests.AssertEqual(t, false, resp.Uncompressed)
	tests.AssertEqual(t, "gzip", resp.Header.Get("Content-Encoding"))

	tr.DisableAutoDecompress()
	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err = tr.RoundTrip(req)
	tests.AssertNoError(t, err)
	defer resp.Body.Close()
	tests.AssertEqual(t, "", resp.Header.Get("X-Accept-Encoding"))
}

type trackingConn struct {
	net.Conn
	mu     sync.Mutex
	closed bool
}

func (c *trackingConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Conn.Close()
}

func (c *trackingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestTransportClosesConnWithBody(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS12, tls.VersionTLS13)
	var conns []*trackingConn
	tr := newTestTransport(srv).SetDial(func(ctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		tc := &trackingConn{Conn: c}
		conns = append(conns, tc)
		return tc, nil
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/get", nil)
		resp, err := tr.RoundTrip(req)
		tests.AssertNoError(t, err)
		io.Copy(io.Discard, resp.Body)
		tests.AssertEqual(t, false, conns[i].isClosed())
		tests.AssertNoError(t, resp.Body.Close())
		tests.AssertEqual(t, true, conns[i].isClosed())
	}
	// One connection per request.
	tests.AssertEqual(t, 2, len(conns))
}

func TestTransportHTTPProxy(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS10, tls.VersionTLS13)
	proxy := tests.NewConnectProxy(t)
	tr := newTestTransport(srv).
		SetProtocolVersion(TLSv1).
		SetProxyURL("http://user:pass@" + proxy.Addr().String())

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/get?a=1", nil)
	e, _ := getEcho(t, tr, req)
	tests.AssertEqual(t, uint16(tls.VersionTLS10), e.TLSVersion)

	reqs := proxy.Requests()
	tests.AssertEqual(t, 1, len(reqs))
	tests.AssertEqual(t, srv.Listener.Addr().String(), reqs[0].Host)
	tests.AssertEqual(t, "Basic dXNlcjpwYXNz", reqs[0].Header.Get("Proxy-Authorization"))
	// Proxy credentials never reach the target.
	tests.AssertEqual(t, "", e.Headers["Proxy-Authorization"])
}

func TestTransportSOCKS5Proxy(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS12, tls.VersionTLS13)
	proxy := tests.NewSOCKS5Proxy(t)
	tr := newTestTransport(srv).
		SetProtocolVersion(TLSv1_2).
		SetProxyURL("socks5://" + proxy.Addr().String())

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/get", nil)
	e, _ := getEcho(t, tr, req)
	tests.AssertEqual(t, uint16(tls.VersionTLS12), e.TLSVersion)
	tests.AssertEqual(t, []string{srv.Listener.Addr().String()}, proxy.Targets())
}

func TestTransportUnsupportedProxyScheme(t *testing.T) {
	tr := NewTransport().SetProxyURL("ftp://127.0.0.1:21")
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	_, err := tr.RoundTrip(req)
	tests.AssertErrorAs[*ConfigurationError](t, err)
}

func TestTransportConcurrentRequests(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS10, tls.VersionTLS13)
	tr := newTestTransport(srv).
		SetProtocolVersion(TLSv1_2).
		SetLogger(NewLogger(io.Discard)).
		EnableDebugLog()

	versions := []ProtocolVersion{TLSv1, TLSv1_1, TLSv1_2, TLSv1_3}
	var wg sync.WaitGroup
	errc := make(chan error, len(versions))
	got := make([]uint16, len(versions))
	for i, v := range versions {
		wg.Add(1)
		go func(i int, v ProtocolVersion) {
			defer wg.Done()
			ctx := WithProtocolVersion(context.Background(), v)
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/get", nil)
			resp, err := tr.RoundTrip(req)
			if err != nil {
				errc <- err
				return
			}
			defer resp.Body.Close()
			got[i] = resp.TLS.Version
		}(i, v)
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		tests.AssertNoError(t, err)
	}
	tests.AssertEqual(t, []uint16{tls.VersionTLS10, tls.VersionTLS11, tls.VersionTLS12, tls.VersionTLS13}, got)
}
