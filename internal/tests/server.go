package tests

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Echo is the JSON document written by EchoHandler, shaped like the
// httpbin.org /get and /post responses.
type Echo struct {
	Args       map[string]string `json:"args"`
	Data       string            `json:"data"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	TLSVersion uint16            `json:"tls_version"`
}

// EchoHandler answers every request with an Echo of it.
func EchoHandler(w http.ResponseWriter, r *http.Request) {
	e := Echo{
		Args:    map[string]string{},
		Method:  r.Method,
		Headers: map[string]string{},
	}
	for k := range r.URL.Query() {
		e.Args[k] = r.URL.Query().Get(k)
	}
	for k := range r.Header {
		e.Headers[k] = r.Header.Get(k)
	}
	b, _ := io.ReadAll(r.Body)
	e.Data = string(b)
	if r.TLS != nil {
		e.TLSVersion = r.TLS.Version
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(&e)
}

// NewTLSServer starts an HTTPS test server that only accepts TLS versions
// in [minVersion, maxVersion]. It is closed when the test ends.
func NewTLSServer(t *testing.T, handler http.Handler, minVersion, maxVersion uint16) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(handler)
	srv.TLS = &tls.Config{MinVersion: minVersion, MaxVersion: maxVersion}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

// RootCAs returns a pool trusting the certificate of srv.
func RootCAs(srv *httptest.Server) *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return pool
}

// HostPort returns the host and port srv listens on.
func HostPort(t *testing.T, addr net.Addr) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr.String())
	AssertNoError(t, err)
	p, err := strconv.Atoi(port)
	AssertNoError(t, err)
	return host, p
}

// ConnectProxy is an HTTP CONNECT proxy that records the order in which it
// sees the tunnel request, its own reply, and the first tunneled bytes.
type ConnectProxy struct {
	// Refuse makes the proxy answer CONNECT with 403.
	Refuse bool

	ln       net.Listener
	mu       sync.Mutex
	events   []string
	requests []*http.Request
}

// NewConnectProxy starts a ConnectProxy on a loopback port.
func NewConnectProxy(t *testing.T) *ConnectProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	AssertNoError(t, err)
	p := &ConnectProxy{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go p.serve()
	return p
}

// Addr returns the listening address of the proxy.
func (p *ConnectProxy) Addr() net.Addr {
	return p.ln.Addr()
}

// Events returns the recorded events in order.
func (p *ConnectProxy) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// Requests returns the CONNECT requests received so far.
func (p *ConnectProxy) Requests() []*http.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*http.Request(nil), p.requests...)
}

func (p *ConnectProxy) record(event string) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *ConnectProxy) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go p.handle(conn)
	}
}

func (p *ConnectProxy) handle(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	p.record("connect " + req.Host)
	if req.Method != http.MethodConnect {
		io.WriteString(conn, "HTTP/1.1 405 Method Not Allowed\r\nContent-Length: 0\r\n\r\n")
		return
	}

	// Nothing may arrive between the CONNECT request and the reply.
	early := br.Buffered() > 0
	if !early {
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		_, err := br.Peek(1)
		early = err == nil
		conn.SetReadDeadline(time.Time{})
	}
	if early {
		p.record("early bytes")
	}

	if p.Refuse {
		io.WriteString(conn, "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n")
		return
	}
	p.record("tunnel established")
	io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")

	first, err := br.Peek(1)
	if err != nil {
		return
	}
	if first[0] == 0x16 { // TLS handshake record
		p.record("tls client hello")
	}
	pipe(conn, br, req.Host)
}

// SOCKS5Proxy is a minimal no-auth SOCKS5 proxy supporting CONNECT.
type SOCKS5Proxy struct {
	ln      net.Listener
	mu      sync.Mutex
	targets []string
}

// NewSOCKS5Proxy starts a SOCKS5Proxy on a loopback port.
func NewSOCKS5Proxy(t *testing.T) *SOCKS5Proxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	AssertNoError(t, err)
	p := &SOCKS5Proxy{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go p.handle(conn)
		}
	}()
	return p
}

// Addr returns the listening address of the proxy.
func (p *SOCKS5Proxy) Addr() net.Addr {
	return p.ln.Addr()
}

// Targets returns the addresses clients asked to connect to.
func (p *SOCKS5Proxy) Targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.targets...)
}

func (p *SOCKS5Proxy) handle(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	greeting := make([]byte, 2)
	if _, err := io.ReadFull(br, greeting); err != nil || greeting[0] != 5 {
		return
	}
	if _, err := io.ReadFull(br, make([]byte, greeting[1])); err != nil {
		return
	}
	conn.Write([]byte{5, 0})

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(br, hdr); err != nil || hdr[1] != 1 {
		return
	}
	var host string
	switch hdr[3] {
	case 1:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(br, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 3:
		n, err := br.ReadByte()
		if err != nil {
			return
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(br, name); err != nil {
			return
		}
		host = string(name)
	case 4:
		ip := make([]byte, 16)
		if _, err := io.ReadFull(br, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	default:
		return
	}
	portb := make([]byte, 2)
	if _, err := io.ReadFull(br, portb); err != nil {
		return
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(portb))))
	p.mu.Lock()
	p.targets = append(p.targets, target)
	p.mu.Unlock()

	conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})
	pipe(conn, br, target)
}

func pipe(conn net.Conn, br *bufio.Reader, target string) {
	upstream, err := net.Dial("tcp", target)
	if err != nil {
		return
	}
	defer upstream.Close()
	go func() {
		io.Copy(upstream, br)
		if tc, ok := upstream.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()
	io.Copy(conn, upstream)
}
