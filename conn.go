package httpsshim

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/ut-austin-fis/httpsshim/internal/netutil"
	"golang.org/x/net/proxy"
)

// Conn is an HTTPS client connection whose TLS protocol version can be
// pinned, either once at construction (SetProtocolVersion) or per call
// (ConnectWithVersion). With no version at either level, Connect behaves
// exactly like a plain HTTPS connect.
//
// A Conn serves one request/response exchange at a time and must not be
// used from multiple goroutines concurrently.
type Conn struct {
	// Host and Port address the peer the raw socket is opened to. When a
	// tunnel is configured this is the proxy.
	Host string
	Port int

	// Timeout bounds the TCP connect only. Zero means no timeout.
	Timeout time.Duration

	// SourceAddress is an optional local "host" or "host:port" to bind.
	SourceAddress string

	// ProtocolVersion is the construction-time pin used by Connect.
	ProtocolVersion ProtocolVersion

	// TLSClientConfig is cloned for every connect. Certificates set with
	// SetCertFromFile are loaded on connect and appended to the clone.
	TLSClientConfig *tls.Config

	// TLSHandshakeTimeout bounds the TLS handshake. Zero means no timeout.
	TLSHandshakeTimeout time.Duration

	// CertFile and KeyFile name PEM client certificate material.
	CertFile string
	KeyFile  string

	tunnel      tunnel
	fingerprint *utls.ClientHelloID
	log         Logger
	debugLog    bool
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)

	// connectFunc is the version-aware connect routine that Connect and
	// ConnectWithVersion resolve into.
	connectFunc func(ctx context.Context, version ProtocolVersion) error

	sock     net.Conn
	br       *bufio.Reader
	tlsState *tls.ConnectionState
	trace    connTrace
	traced   TraceInfo
}

// NewConn creates an unconnected Conn to host:port. No network resource is
// opened until Connect.
func NewConn(host string, port int) *Conn {
	c := &Conn{
		Host: host,
		Port: port,
		log:  &disableLogger{},
	}
	c.connectFunc = c.connectWithVersion
	return c
}

// SetTimeout sets the TCP connect timeout.
func (c *Conn) SetTimeout(d time.Duration) *Conn {
	c.Timeout = d
	return c
}

// SetSourceAddress sets the local address the socket binds to, either
// "host" or "host:port".
func (c *Conn) SetSourceAddress(addr string) *Conn {
	c.SourceAddress = addr
	return c
}

// SetProtocolVersion sets the construction-time protocol version. Pass
// VersionUnspecified to let the platform negotiate.
func (c *Conn) SetProtocolVersion(v ProtocolVersion) *Conn {
	c.ProtocolVersion = v
	return c
}

// SetTunnel configures an HTTP CONNECT tunnel to host:port through the proxy
// at Conn.Host:Conn.Port. header is sent with the CONNECT request.
func (c *Conn) SetTunnel(host string, port int, header http.Header) *Conn {
	c.tunnel = tunnel{kind: tunnelHTTP, host: host, port: port, header: header}
	return c
}

// SetSOCKS5Tunnel configures a SOCKS5 tunnel to host:port through the
// proxy at Conn.Host:Conn.Port. auth may be nil.
func (c *Conn) SetSOCKS5Tunnel(host string, port int, auth *proxy.Auth) *Conn {
	c.tunnel = tunnel{kind: tunnelSOCKS5, host: host, port: port, auth: auth}
	return c
}

// SetCertFromFile sets the client certificate and key files presented
// during the handshake.
func (c *Conn) SetCertFromFile(certFile, keyFile string) *Conn {
	c.CertFile = certFile
	c.KeyFile = keyFile
	return c
}

// SetCerts appends client certificates.
func (c *Conn) SetCerts(certs ...tls.Certificate) *Conn {
	cfg := c.GetTLSClientConfig()
	cfg.Certificates = append(cfg.Certificates, certs...)
	return c
}

// GetTLSClientConfig returns the tls.Config used as the base of every
// handshake, creating it if needed.
func (c *Conn) GetTLSClientConfig() *tls.Config {
	if c.TLSClientConfig == nil {
		c.TLSClientConfig = &tls.Config{}
	}
	return c.TLSClientConfig
}

// SetTLSClientConfig replaces the base tls.Config.
func (c *Conn) SetTLSClientConfig(cfg *tls.Config) *Conn {
	c.TLSClientConfig = cfg
	return c
}

// SetTLSHandshakeTimeout bounds the TLS handshake separately from the TCP
// connect timeout.
func (c *Conn) SetTLSHandshakeTimeout(d time.Duration) *Conn {
	c.TLSHandshakeTimeout = d
	return c
}

// SetTLSFingerprint makes the handshake send the ClientHello of the given
// uTLS profile. Pinned versions still apply: the profile's
// supported_versions extension is rewritten to the pinned range, and a
// profile that cannot speak the pin fails with a ConfigurationError before
// dialing.
func (c *Conn) SetTLSFingerprint(id utls.ClientHelloID) *Conn {
	c.fingerprint = &id
	return c
}

// SetLogger sets the logger, nil disables logging.
func (c *Conn) SetLogger(log Logger) *Conn {
	if log == nil {
		c.log = &disableLogger{}
		return c
	}
	c.log = log
	return c
}

// EnableDebugLog logs each connect phase at debug level.
func (c *Conn) EnableDebugLog() *Conn {
	c.debugLog = true
	return c
}

// SetDial replaces the function used to open the raw socket.
func (c *Conn) SetDial(fn func(ctx context.Context, network, addr string) (net.Conn, error)) *Conn {
	c.dial = fn
	return c
}

// Connect establishes the connection using the construction-time protocol
// version.
func (c *Conn) Connect(ctx context.Context) error {
	return c.ConnectWithVersion(ctx, VersionUnspecified)
}

// ConnectWithVersion establishes the connection. A specified override takes
// precedence over the construction-time version; if neither is set the
// default connect behavior is used.
func (c *Conn) ConnectWithVersion(ctx context.Context, override ProtocolVersion) error {
	version := override
	if version.IsUnspecified() {
		version = c.ProtocolVersion
	}
	return c.connectFunc(ctx, version)
}

func (c *Conn) connectWithVersion(ctx context.Context, version ProtocolVersion) error {
	if version.IsUnspecified() {
		return c.connectDefault(ctx)
	}
	min, max, err := version.tlsRange()
	if err != nil {
		return err
	}
	if c.fingerprint != nil && *c.fingerprint != utls.HelloGolang {
		if _, err := fingerprintSpec(*c.fingerprint, min, max); err != nil {
			return err
		}
	}
	cfg, err := c.tlsConfig(version)
	if err != nil {
		return err
	}
	cfg.MinVersion, cfg.MaxVersion = min, max
	return c.establish(ctx, version, cfg)
}

// connectDefault is the unpinned connect: the base tls.Config is used as
// given and the negotiated version is not checked.
func (c *Conn) connectDefault(ctx context.Context) error {
	cfg, err := c.tlsConfig(VersionUnspecified)
	if err != nil {
		return err
	}
	return c.establish(ctx, VersionUnspecified, cfg)
}

func (c *Conn) tlsConfig(version ProtocolVersion) (*tls.Config, error) {
	cfg := cloneTLSConfig(c.TLSClientConfig)
	if cfg.ServerName == "" {
		cfg.ServerName = c.tlsHost()
	}
	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, &TLSHandshakeError{Version: version, ServerName: cfg.ServerName, Err: err}
		}
		cfg.Certificates = append(cfg.Certificates, cert)
	}
	return cfg, nil
}

func (c *Conn) tlsHost() string {
	if c.tunnel.kind != tunnelNone {
		return netutil.ASCIIHost(c.tunnel.host)
	}
	return netutil.ASCIIHost(c.Host)
}

func (c *Conn) addr() string {
	return netutil.HostPort(c.Host, c.Port)
}

// establish opens the raw socket, runs the tunnel handshake if any, and
// installs the TLS stream as the active socket.
func (c *Conn) establish(ctx context.Context, version ProtocolVersion, cfg *tls.Config) error {
	if c.sock != nil {
		c.Close()
	}
	c.trace.reset()
	addr := c.addr()
	if c.debugLog {
		c.log.Debugf("connect %s (protocol version %s)", addr, version)
	}

	conn, err := c.dialRaw(ctx, addr)
	if err != nil {
		return err
	}
	c.trace.dialDone = time.Now()

	if c.tunnel.kind != tunnelNone {
		if c.debugLog {
			c.log.Debugf("connect %s via %s proxy %s", c.tunnel.addr(), c.tunnel.kind, addr)
		}
		c.trace.tunnelStart = time.Now()
		if err := c.tunnel.establish(ctx, conn); err != nil {
			conn.Close()
			return &ConnectionError{Op: "proxyconnect", Addr: addr, Err: err}
		}
		c.trace.tunnelDone = time.Now()
	}

	c.trace.tlsStart = time.Now()
	tlsConn, err := c.addTLS(ctx, conn, cfg)
	if err != nil {
		return &TLSHandshakeError{Version: version, ServerName: cfg.ServerName, Err: err}
	}
	cs := tlsConn.ConnectionState()
	if !version.IsUnspecified() && (cs.Version < cfg.MinVersion || cs.Version > cfg.MaxVersion) {
		tlsConn.Close()
		return &TLSHandshakeError{
			Version:    version,
			ServerName: cfg.ServerName,
			Err:        fmt.Errorf("%w: got %s", errVersionMismatch, versionFromTLS(cs.Version)),
		}
	}
	c.trace.tlsDone = time.Now()

	c.sock = tlsConn
	c.br = bufio.NewReader(tlsConn)
	c.tlsState = &cs
	c.traced = c.trace.info()
	c.traced.RequestedVersion = version
	c.traced.NegotiatedVersion = versionFromTLS(cs.Version)
	c.traced.CipherSuite = tls.CipherSuiteName(cs.CipherSuite)
	c.traced.RemoteAddr = conn.RemoteAddr()
	if c.debugLog {
		c.log.Debugf("connected to %s with %s (%s)", addr, c.traced.NegotiatedVersion, c.traced.CipherSuite)
	}
	return nil
}

var zeroDialer net.Dialer

func (c *Conn) dialRaw(ctx context.Context, addr string) (net.Conn, error) {
	if c.dial != nil {
		conn, err := c.dial(ctx, "tcp", addr)
		if conn == nil && err == nil {
			err = errors.New("dial hook returned (nil, nil)")
		}
		if err != nil {
			return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
		}
		return conn, nil
	}
	d := zeroDialer
	d.Timeout = c.Timeout
	if c.SourceAddress != "" {
		local, err := resolveSourceAddress(c.SourceAddress)
		if err != nil {
			return nil, &ConnectionError{Op: "bind", Addr: c.SourceAddress, Err: err}
		}
		d.LocalAddr = local
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	return conn, nil
}

func resolveSourceAddress(addr string) (*net.TCPAddr, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "0")
	}
	return net.ResolveTCPAddr("tcp", addr)
}

// addTLS negotiates a TLS session over plainConn, honoring
// TLSHandshakeTimeout. plainConn is closed on failure.
func (c *Conn) addTLS(ctx context.Context, plainConn net.Conn, cfg *tls.Config) (TLSConn, error) {
	tlsConn, err := newTLSClient(plainConn, cfg, c.fingerprint)
	if err != nil {
		plainConn.Close()
		return nil, err
	}
	errc := make(chan error, 2)
	var timer *time.Timer // for canceling TLS handshake
	if d := c.TLSHandshakeTimeout; d != 0 {
		timer = time.AfterFunc(d, func() {
			errc <- tlsHandshakeTimeoutError{}
		})
	}
	go func() {
		err := tlsConn.HandshakeContext(ctx)
		if timer != nil {
			timer.Stop()
		}
		errc <- err
	}()
	if err := <-errc; err != nil {
		plainConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// Do writes req on the connection and reads its response. If the Conn is
// not connected it connects first with the construction-time version.
// The response body must be read before the next Do.
func (c *Conn) Do(req *http.Request) (*http.Response, error) {
	if c.sock == nil {
		if err := c.Connect(req.Context()); err != nil {
			return nil, err
		}
	}
	if err := req.Write(c.sock); err != nil {
		return nil, err
	}
	resp, err := http.ReadResponse(c.br, req)
	if err != nil {
		return nil, err
	}
	cs := *c.tlsState
	resp.TLS = &cs
	return resp, nil
}

// Close closes the active socket. The Conn may be connected again.
func (c *Conn) Close() error {
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	c.br = nil
	c.tlsState = nil
	return err
}

// IsConnected reports whether the Conn holds an active socket.
func (c *Conn) IsConnected() bool {
	return c.sock != nil
}

// NetConn returns the active TLS socket, or nil.
func (c *Conn) NetConn() net.Conn {
	return c.sock
}

// ConnectionState returns the TLS state of the active socket. ok is false
// when the Conn is not connected.
func (c *Conn) ConnectionState() (cs tls.ConnectionState, ok bool) {
	if c.tlsState == nil {
		return tls.ConnectionState{}, false
	}
	return *c.tlsState, true
}

// TraceInfo returns the timing of the last successful connect.
func (c *Conn) TraceInfo() TraceInfo {
	return c.traced
}
