package httpsshim

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/ut-austin-fis/httpsshim/internal/compress"
	"github.com/ut-austin-fis/httpsshim/internal/netutil"
)

const (
	defaultDialTimeout         = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
)

// Transport is an http.RoundTripper that sends each https request over its
// own Conn, pinning the protocol version chosen for the request.
//
// The version is resolved per request: a version attached to the request
// context with WithProtocolVersion wins over Transport.ProtocolVersion, and
// with neither the platform negotiates as usual.
//
// Transport does not pool connections; every request gets a fresh socket
// that is closed once its response body is closed.
//
// Configure a Transport before its first request. RoundTrip is safe for
// concurrent use, the setters are not.
type Transport struct {
	// ProtocolVersion is the version pinned for requests whose context
	// carries none.
	ProtocolVersion ProtocolVersion

	// Proxy returns the proxy for a request. http proxies are used through
	// CONNECT, socks5 and socks5h proxies through SOCKS5. A nil func or a
	// nil URL means no proxy.
	Proxy func(*http.Request) (*url.URL, error)

	// ProxyConnectHeader is sent with every CONNECT request.
	ProxyConnectHeader http.Header

	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	TLSHandshakeTimeout time.Duration

	// SourceAddress is an optional local address to bind.
	SourceAddress string

	// TLSClientConfig is the base configuration of every handshake.
	TLSClientConfig *tls.Config

	// DisableCompression stops Transport from requesting and decoding
	// compressed responses.
	DisableCompression bool

	fingerprint *utls.ClientHelloID
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)
	log         Logger
	debugLog    bool
}

// NewTransport returns a Transport with default timeouts and no pinned
// version.
func NewTransport() *Transport {
	return &Transport{
		DialTimeout:         defaultDialTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		log:                 &disableLogger{},
	}
}

// SetProtocolVersion sets the version pinned for requests that do not carry
// their own.
func (t *Transport) SetProtocolVersion(v ProtocolVersion) *Transport {
	t.ProtocolVersion = v
	return t
}

// SetProxy sets the proxy func, nil disables proxying.
func (t *Transport) SetProxy(proxy func(*http.Request) (*url.URL, error)) *Transport {
	t.Proxy = proxy
	return t
}

// SetProxyURL routes every request through the proxy at proxyURL.
func (t *Transport) SetProxyURL(proxyURL string) *Transport {
	u, err := url.Parse(proxyURL)
	if err != nil {
		t.logger().Errorf("failed to parse proxy url %s: %v", proxyURL, err)
		return t
	}
	t.Proxy = http.ProxyURL(u)
	return t
}

// SetProxyConnectHeader sets the header sent with every CONNECT request.
func (t *Transport) SetProxyConnectHeader(header http.Header) *Transport {
	t.ProxyConnectHeader = header
	return t
}

// SetDialTimeout sets the TCP connect timeout.
func (t *Transport) SetDialTimeout(d time.Duration) *Transport {
	t.DialTimeout = d
	return t
}

// SetTLSHandshakeTimeout sets the TLS handshake timeout.
func (t *Transport) SetTLSHandshakeTimeout(d time.Duration) *Transport {
	t.TLSHandshakeTimeout = d
	return t
}

// SetSourceAddress sets the local address to bind.
func (t *Transport) SetSourceAddress(addr string) *Transport {
	t.SourceAddress = addr
	return t
}

// SetTLSClientConfig sets the base tls.Config.
func (t *Transport) SetTLSClientConfig(cfg *tls.Config) *Transport {
	t.TLSClientConfig = cfg
	return t
}

// GetTLSClientConfig returns the base tls.Config, creating it if needed.
func (t *Transport) GetTLSClientConfig() *tls.Config {
	if t.TLSClientConfig == nil {
		t.TLSClientConfig = &tls.Config{}
	}
	return t.TLSClientConfig
}

// SetTLSFingerprint sends the ClientHello of the given uTLS profile.
func (t *Transport) SetTLSFingerprint(id utls.ClientHelloID) *Transport {
	t.fingerprint = &id
	return t
}

// DisableAutoDecompress stops requesting compressed responses.
func (t *Transport) DisableAutoDecompress() *Transport {
	t.DisableCompression = true
	return t
}

// SetDial replaces the function used to open raw sockets.
func (t *Transport) SetDial(fn func(ctx context.Context, network, addr string) (net.Conn, error)) *Transport {
	t.dial = fn
	return t
}

// SetLogger sets the logger, nil disables logging.
func (t *Transport) SetLogger(log Logger) *Transport {
	if log == nil {
		log = &disableLogger{}
	}
	t.log = log
	return t
}

// EnableDebugLog logs connect phases and requests at debug level.
func (t *Transport) EnableDebugLog() *Transport {
	t.debugLog = true
	return t
}

func (t *Transport) logger() Logger {
	if t.log == nil {
		return &disableLogger{}
	}
	return t.log
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, errors.New("httpsshim: nil Request.URL")
	}
	if req.URL.Scheme != "https" {
		closeBody(req)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, req.URL.Scheme)
	}
	ctx := req.Context()
	conn, err := t.newConn(req)
	if err != nil {
		closeBody(req)
		return nil, err
	}
	if err := conn.ConnectWithVersion(ctx, protocolVersionFromContext(ctx)); err != nil {
		closeBody(req)
		t.logger().Errorf("%s %s: %v", req.Method, req.URL.Redacted(), err)
		return nil, err
	}
	if ti := traceInfoFromContext(ctx); ti != nil {
		*ti = conn.TraceInfo()
	}

	outreq, requestedCompression := t.prepareRequest(req)
	resp, err := conn.Do(outreq)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if requestedCompression {
		decompress(resp)
	}
	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
	resp.Request = req
	return resp, nil
}

// newConn builds the Conn for req, routing it through the proxy when one
// applies.
func (t *Transport) newConn(req *http.Request) (*Conn, error) {
	host, port, err := netutil.URLHostPort(req.URL)
	if err != nil {
		return nil, err
	}
	conn := NewConn(host, port).
		SetTimeout(t.DialTimeout).
		SetSourceAddress(t.SourceAddress).
		SetProtocolVersion(t.ProtocolVersion).
		SetTLSClientConfig(t.TLSClientConfig).
		SetTLSHandshakeTimeout(t.TLSHandshakeTimeout).
		SetLogger(t.logger())
	if t.fingerprint != nil {
		conn.SetTLSFingerprint(*t.fingerprint)
	}
	if t.dial != nil {
		conn.SetDial(t.dial)
	}
	if t.debugLog {
		conn.EnableDebugLog()
	}
	if t.Proxy == nil {
		return conn, nil
	}
	proxyURL, err := t.Proxy(req)
	if err != nil || proxyURL == nil {
		return conn, err
	}
	proxyHost, proxyPort, err := netutil.URLHostPort(proxyURL)
	if err != nil {
		return nil, err
	}
	conn.Host, conn.Port = proxyHost, proxyPort
	switch proxyURL.Scheme {
	case "http", "":
		header := t.ProxyConnectHeader.Clone()
		if auth := proxyAuthorization(proxyURL); auth != "" {
			if header == nil {
				header = make(http.Header)
			}
			header.Set("Proxy-Authorization", auth)
		}
		conn.SetTunnel(host, port, header)
	case "socks5", "socks5h":
		conn.SetSOCKS5Tunnel(host, port, proxySOCKS5Auth(proxyURL))
	default:
		return nil, &ConfigurationError{Value: proxyURL.Redacted(), Reason: "unsupported proxy scheme " + proxyURL.Scheme}
	}
	return conn, nil
}

// prepareRequest returns the request written on the wire. It asks for a
// compressed response when the caller did not negotiate encodings itself.
func (t *Transport) prepareRequest(req *http.Request) (*http.Request, bool) {
	outreq := req.Clone(req.Context())
	outreq.Close = true
	if outreq.Header == nil {
		outreq.Header = make(http.Header)
	}
	requestedCompression := !t.DisableCompression &&
		outreq.Header.Get("Accept-Encoding") == "" &&
		outreq.Header.Get("Range") == "" &&
		outreq.Method != http.MethodHead
	if requestedCompression {
		outreq.Header.Set("Accept-Encoding", compress.AcceptEncoding)
	}
	if t.debugLog {
		t.logger().Debugf("%s %s", outreq.Method, outreq.URL.Redacted())
	}
	return outreq, requestedCompression
}

func decompress(resp *http.Response) {
	ce := resp.Header.Get("Content-Encoding")
	if ce == "" || !compress.Supported(ce) {
		return
	}
	resp.Body = compress.NewReader(resp.Body, ce)
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

// connBody closes the connection along with the response body.
type connBody struct {
	io.ReadCloser
	conn *Conn
	once sync.Once
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	// The server closes its side after the response, so a failed
	// close_notify is expected here.
	b.once.Do(func() { b.conn.Close() })
	return err
}
