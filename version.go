package httpsshim

import (
	"crypto/tls"
	"strconv"
	"strings"
)

// ProtocolVersion names the TLS/SSL protocol a connection is pinned to.
// The zero value is VersionUnspecified, which lets the platform negotiate.
type ProtocolVersion int

const (
	// VersionUnspecified means no pinning: the default connect behavior is used.
	VersionUnspecified ProtocolVersion = iota
	// SSLv2 is known for completeness, it cannot be spoken by this package.
	SSLv2
	// SSLv23 negotiates the highest version both peers support (TLS 1.0 up to TLS 1.3).
	SSLv23
	// SSLv3 is known for completeness, it cannot be spoken by this package.
	SSLv3
	TLSv1
	TLSv1_1
	TLSv1_2
	TLSv1_3
)

var versionNames = map[ProtocolVersion]string{
	VersionUnspecified: "unspecified",
	SSLv2:              "SSLv2",
	SSLv23:             "SSLv23",
	SSLv3:              "SSLv3",
	TLSv1:              "TLSv1",
	TLSv1_1:            "TLSv1.1",
	TLSv1_2:            "TLSv1.2",
	TLSv1_3:            "TLSv1.3",
}

var versionAliases = map[string]ProtocolVersion{
	"":            VersionUnspecified,
	"unspecified": VersionUnspecified,
	"sslv2":       SSLv2,
	"sslv23":      SSLv23,
	"auto":        SSLv23,
	"tls":         SSLv23,
	"sslv3":       SSLv3,
	"tlsv1":       TLSv1,
	"tlsv1.0":     TLSv1,
	"tlsv1_0":     TLSv1,
	"tlsv1.1":     TLSv1_1,
	"tlsv1_1":     TLSv1_1,
	"tlsv1.2":     TLSv1_2,
	"tlsv1_2":     TLSv1_2,
	"tlsv1.3":     TLSv1_3,
	"tlsv1_3":     TLSv1_3,
}

// ParseProtocolVersion converts a version name such as "TLSv1.2",
// "PROTOCOL_TLSv1" or "auto" into a ProtocolVersion. Matching is
// case-insensitive. Unknown names return a *ConfigurationError.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimPrefix(key, "protocol_")
	if v, ok := versionAliases[key]; ok {
		return v, nil
	}
	return VersionUnspecified, &ConfigurationError{Value: s, Reason: "unknown protocol version"}
}

// String returns the conventional name of the version.
func (v ProtocolVersion) String() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return "ProtocolVersion(" + strconv.Itoa(int(v)) + ")"
}

// IsValid reports whether v is one of the enumerated versions.
func (v ProtocolVersion) IsValid() bool {
	_, ok := versionNames[v]
	return ok
}

// IsUnspecified reports whether v leaves negotiation to the platform.
func (v ProtocolVersion) IsUnspecified() bool {
	return v == VersionUnspecified
}

// tlsRange returns the crypto/tls version bounds for a pinned version.
func (v ProtocolVersion) tlsRange() (min, max uint16, err error) {
	switch v {
	case SSLv23:
		return tls.VersionTLS10, tls.VersionTLS13, nil
	case TLSv1:
		return tls.VersionTLS10, tls.VersionTLS10, nil
	case TLSv1_1:
		return tls.VersionTLS11, tls.VersionTLS11, nil
	case TLSv1_2:
		return tls.VersionTLS12, tls.VersionTLS12, nil
	case TLSv1_3:
		return tls.VersionTLS13, tls.VersionTLS13, nil
	case SSLv2, SSLv3:
		return 0, 0, &ConfigurationError{Value: v.String(), Reason: "protocol version is not supported by the TLS stack"}
	case VersionUnspecified:
		return 0, 0, &ConfigurationError{Value: v.String(), Reason: "no protocol version to pin"}
	}
	return 0, 0, &ConfigurationError{Value: v.String(), Reason: "unknown protocol version"}
}

// versionFromTLS maps a negotiated crypto/tls version back to a ProtocolVersion.
func versionFromTLS(vers uint16) ProtocolVersion {
	switch vers {
	case tls.VersionTLS10:
		return TLSv1
	case tls.VersionTLS11:
		return TLSv1_1
	case tls.VersionTLS12:
		return TLSv1_2
	case tls.VersionTLS13:
		return TLSv1_3
	}
	return VersionUnspecified
}
