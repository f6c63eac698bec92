package httpsshim

import (
	"fmt"
	"net"
	"time"
)

const traceFmt = `TotalConnectTime  : %v
TCPConnectTime    : %v
TunnelTime        : %v
TLSHandshakeTime  : %v
ProtocolVersion   : %v
CipherSuite       : %v
RemoteAddr        : %v`

// TraceInfo describes how long each phase of a connect took.
type TraceInfo struct {
	// TCPConnectTime is the time taken to open the raw socket.
	TCPConnectTime time.Duration

	// TunnelTime is the time taken by the CONNECT or SOCKS5 handshake,
	// zero when no tunnel is configured.
	TunnelTime time.Duration

	// TLSHandshakeTime is the time taken by the TLS handshake.
	TLSHandshakeTime time.Duration

	// TotalConnectTime covers the whole connect.
	TotalConnectTime time.Duration

	// RequestedVersion is the resolved version the connect was asked for.
	RequestedVersion ProtocolVersion

	// NegotiatedVersion is the version the handshake settled on.
	NegotiatedVersion ProtocolVersion

	// CipherSuite is the name of the negotiated cipher suite.
	CipherSuite string

	// RemoteAddr is the address of the peer the raw socket is connected to.
	RemoteAddr net.Addr
}

// Blame returns the human-readable name of the slowest connect phase.
func (t TraceInfo) Blame() string {
	if t.RemoteAddr == nil {
		return "not connected"
	}
	var mk string
	var mv time.Duration
	phases := []struct {
		name string
		d    time.Duration
	}{
		{"on tcp connect", t.TCPConnectTime},
		{"on tunnel handshake", t.TunnelTime},
		{"on tls handshake", t.TLSHandshakeTime},
	}
	for _, p := range phases {
		if p.d > mv {
			mk, mv = p.name, p.d
		}
	}
	if mk == "" {
		return "nothing to blame"
	}
	return fmt.Sprintf("the connect total time is %v, and costs %v %s", t.TotalConnectTime, mv, mk)
}

// String returns the details of the trace.
func (t TraceInfo) String() string {
	if t.RemoteAddr == nil {
		return "not connected"
	}
	return fmt.Sprintf(traceFmt, t.TotalConnectTime, t.TCPConnectTime, t.TunnelTime,
		t.TLSHandshakeTime, t.NegotiatedVersion, t.CipherSuite, t.RemoteAddr)
}

type connTrace struct {
	start       time.Time
	dialDone    time.Time
	tunnelStart time.Time
	tunnelDone  time.Time
	tlsStart    time.Time
	tlsDone     time.Time
}

func (t *connTrace) reset() {
	*t = connTrace{start: time.Now()}
}

func (t *connTrace) info() TraceInfo {
	ti := TraceInfo{}
	if !t.dialDone.IsZero() {
		ti.TCPConnectTime = t.dialDone.Sub(t.start)
	}
	if !t.tunnelDone.IsZero() {
		ti.TunnelTime = t.tunnelDone.Sub(t.tunnelStart)
	}
	if !t.tlsDone.IsZero() {
		ti.TLSHandshakeTime = t.tlsDone.Sub(t.tlsStart)
		ti.TotalConnectTime = t.tlsDone.Sub(t.start)
	}
	return ti
}
