package httpsshim

import (
	"errors"
	"fmt"
)

// ErrUnsupportedScheme is returned by Transport for request URLs that are
// not https.
var ErrUnsupportedScheme = errors.New("httpsshim: unsupported protocol scheme")

var errVersionMismatch = errors.New("negotiated protocol version is not the pinned version")

// ConfigurationError reports an invalid or unsupported configuration value,
// such as a protocol version the TLS stack cannot speak. It is returned
// before any network resource is opened.
type ConfigurationError struct {
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("httpsshim: invalid configuration %q: %s", e.Value, e.Reason)
}

// ConnectionError reports a failure to establish the transport below TLS:
// the TCP connect, the local bind, or the tunnel handshake.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("httpsshim: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Timeout reports whether the underlying error was a timeout.
func (e *ConnectionError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// TLSHandshakeError reports a failed TLS negotiation: the peer refused the
// pinned version, the certificate material was invalid, the handshake timed
// out, or the negotiated version was not the pinned one.
type TLSHandshakeError struct {
	Version    ProtocolVersion
	ServerName string
	Err        error
}

func (e *TLSHandshakeError) Error() string {
	return fmt.Sprintf("httpsshim: tls handshake with %s (%s) failed: %v", e.ServerName, e.Version, e.Err)
}

func (e *TLSHandshakeError) Unwrap() error { return e.Err }

type tlsHandshakeTimeoutError struct{}

func (tlsHandshakeTimeoutError) Timeout() bool   { return true }
func (tlsHandshakeTimeoutError) Temporary() bool { return true }
func (tlsHandshakeTimeoutError) Error() string   { return "tls handshake timeout" }
