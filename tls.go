package httpsshim

import (
	"context"
	"crypto/tls"
	"net"

	utls "github.com/refraction-networking/utls"
)

// TLSConn is the connection Conn installs as its active socket once the
// handshake succeeds. Both *tls.Conn and the uTLS fingerprinted connection
// implement it.
type TLSConn interface {
	net.Conn
	// ConnectionState returns basic TLS details about the connection.
	ConnectionState() tls.ConnectionState
	// HandshakeContext runs the client handshake if it has not yet been run.
	// If the context is canceled before the handshake is complete, the
	// handshake is interrupted and an error is returned.
	HandshakeContext(ctx context.Context) error
}

// NetConnWrapper is implemented by TLS connections that expose the socket
// they wrap.
type NetConnWrapper interface {
	// NetConn returns the underlying connection that is wrapped by c.
	// Note that writing to or reading from this connection directly will corrupt the
	// TLS session.
	NetConn() net.Conn
}

var (
	_ TLSConn        = (*tls.Conn)(nil)
	_ TLSConn        = (*uTLSConn)(nil)
	_ NetConnWrapper = (*uTLSConn)(nil)
)

// newTLSClient wraps plainConn according to cfg. A nil fingerprint uses
// crypto/tls.
func newTLSClient(plainConn net.Conn, cfg *tls.Config, fingerprint *utls.ClientHelloID) (TLSConn, error) {
	if fingerprint == nil {
		return tls.Client(plainConn, cfg), nil
	}
	return newUTLSConn(plainConn, cfg, *fingerprint)
}

// uTLSConn adapts *utls.UConn to TLSConn.
type uTLSConn struct {
	*utls.UConn
}

func newUTLSConn(plainConn net.Conn, cfg *tls.Config, id utls.ClientHelloID) (*uTLSConn, error) {
	if (cfg.MinVersion == 0 && cfg.MaxVersion == 0) || id == utls.HelloGolang {
		return &uTLSConn{UConn: utls.UClient(plainConn, toUTLSConfig(cfg), id)}, nil
	}
	spec, err := fingerprintSpec(id, cfg.MinVersion, cfg.MaxVersion)
	if err != nil {
		return nil, err
	}
	uconn := utls.UClient(plainConn, toUTLSConfig(cfg), utls.HelloCustom)
	if err := uconn.ApplyPreset(spec); err != nil {
		return nil, err
	}
	return &uTLSConn{UConn: uconn}, nil
}

// fingerprintSpec returns the ClientHello of id restricted to the versions
// in [min, max]. The supported_versions extension is rewritten to offer
// exactly that range, keeping GREASE values in place.
func fingerprintSpec(id utls.ClientHelloID, min, max uint16) (*utls.ClientHelloSpec, error) {
	name := id.Client + "-" + id.Version
	if min == 0 {
		min = tls.VersionTLS10
	}
	if max == 0 {
		max = tls.VersionTLS13
	}
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, &ConfigurationError{Value: name, Reason: "fingerprint cannot be pinned: " + err.Error()}
	}
	hasVersionsExt := false
	for _, ext := range spec.Extensions {
		sv, ok := ext.(*utls.SupportedVersionsExtension)
		if !ok {
			continue
		}
		hasVersionsExt = true
		var versions []uint16
		for _, v := range sv.Versions {
			if isGREASE(v) {
				versions = append(versions, v)
			}
		}
		for v := max; v >= min; v-- {
			versions = append(versions, v)
		}
		sv.Versions = versions
	}
	if max >= tls.VersionTLS13 && !hasVersionsExt {
		return nil, &ConfigurationError{Value: name, Reason: "fingerprint does not offer TLS 1.3"}
	}
	if !hasCipherSuiteFor(spec.CipherSuites, min, max) {
		return nil, &ConfigurationError{Value: name, Reason: "fingerprint has no cipher suite for " + tls.VersionName(min) + "-" + tls.VersionName(max)}
	}
	spec.TLSVersMin, spec.TLSVersMax = min, max
	return &spec, nil
}

// suiteVersions maps every cipher suite crypto/tls knows to the versions
// it can be negotiated in.
var suiteVersions = func() map[uint16][]uint16 {
	m := make(map[uint16][]uint16)
	for _, cs := range append(tls.CipherSuites(), tls.InsecureCipherSuites()...) {
		m[cs.ID] = cs.SupportedVersions
	}
	return m
}()

func hasCipherSuiteFor(suites []uint16, min, max uint16) bool {
	for _, id := range suites {
		for _, v := range suiteVersions[id] {
			if v >= min && v <= max {
				return true
			}
		}
	}
	return false
}

// isGREASE reports whether v is a GREASE value (RFC 8701).
func isGREASE(v uint16) bool {
	return v&0x0f0f == 0x0a0a && v>>8 == v&0xff
}

func (c *uTLSConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                     cs.Version,
		HandshakeComplete:           cs.HandshakeComplete,
		DidResume:                   cs.DidResume,
		CipherSuite:                 cs.CipherSuite,
		NegotiatedProtocol:          cs.NegotiatedProtocol,
		ServerName:                  cs.ServerName,
		PeerCertificates:            cs.PeerCertificates,
		VerifiedChains:              cs.VerifiedChains,
		SignedCertificateTimestamps: cs.SignedCertificateTimestamps,
		OCSPResponse:                cs.OCSPResponse,
	}
}

func (c *uTLSConn) NetConn() net.Conn {
	return c.UConn.NetConn()
}

func toUTLSConfig(cfg *tls.Config) *utls.Config {
	uc := &utls.Config{
		Rand:                  cfg.Rand,
		Time:                  cfg.Time,
		RootCAs:               cfg.RootCAs,
		NextProtos:            cfg.NextProtos,
		ServerName:            cfg.ServerName,
		InsecureSkipVerify:    cfg.InsecureSkipVerify,
		MinVersion:            cfg.MinVersion,
		MaxVersion:            cfg.MaxVersion,
		KeyLogWriter:          cfg.KeyLogWriter,
		VerifyPeerCertificate: cfg.VerifyPeerCertificate,
	}
	for _, cert := range cfg.Certificates {
		uc.Certificates = append(uc.Certificates, utls.Certificate{
			Certificate:                 cert.Certificate,
			PrivateKey:                  cert.PrivateKey,
			OCSPStaple:                  cert.OCSPStaple,
			SignedCertificateTimestamps: cert.SignedCertificateTimestamps,
			Leaf:                        cert.Leaf,
		})
	}
	return uc
}

func cloneTLSConfig(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		return &tls.Config{}
	}
	return cfg.Clone()
}
