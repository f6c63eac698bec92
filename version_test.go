package httpsshim

import (
	"crypto/tls"
	"testing"

	"github.com/ut-austin-fis/httpsshim/internal/tests"
)

func TestParseProtocolVersion(t *testing.T) {
	cases := map[string]ProtocolVersion{
		"TLSv1":            TLSv1,
		"tlsv1.0":          TLSv1,
		"TLSv1.1":          TLSv1_1,
		"PROTOCOL_TLSv1":   TLSv1,
		"protocol_tlsv1_2": TLSv1_2,
		" TLSv1.3 ":        TLSv1_3,
		"auto":             SSLv23,
		"PROTOCOL_SSLv23":  SSLv23,
		"SSLv3":            SSLv3,
		"SSLv2":            SSLv2,
	}
	for name, want := range cases {
		got, err := ParseProtocolVersion(name)
		tests.AssertNoError(t, err)
		tests.AssertEqual(t, want, got)
	}

	_, err := ParseProtocolVersion("TLSv2")
	ce := tests.AssertErrorAs[*ConfigurationError](t, err)
	tests.AssertEqual(t, "TLSv2", ce.Value)
}

func TestProtocolVersionString(t *testing.T) {
	tests.AssertEqual(t, "TLSv1.2", TLSv1_2.String())
	tests.AssertEqual(t, "SSLv23", SSLv23.String())
	tests.AssertEqual(t, "ProtocolVersion(42)", ProtocolVersion(42).String())
	tests.AssertEqual(t, true, TLSv1_3.IsValid())
	tests.AssertEqual(t, false, ProtocolVersion(42).IsValid())
	tests.AssertEqual(t, true, ProtocolVersion(0).IsUnspecified())
}

func TestTLSRange(t *testing.T) {
	cases := []struct {
		v        ProtocolVersion
		min, max uint16
	}{
		{SSLv23, tls.VersionTLS10, tls.VersionTLS13},
		{TLSv1, tls.VersionTLS10, tls.VersionTLS10},
		{TLSv1_1, tls.VersionTLS11, tls.VersionTLS11},
		{TLSv1_2, tls.VersionTLS12, tls.VersionTLS12},
		{TLSv1_3, tls.VersionTLS13, tls.VersionTLS13},
	}
	for _, c := range cases {
		min, max, err := c.v.tlsRange()
		tests.AssertNoError(t, err)
		tests.AssertEqual(t, c.min, min)
		tests.AssertEqual(t, c.max, max)
		if c.v != SSLv23 {
			tests.AssertEqual(t, c.v, versionFromTLS(min))
		}
	}
	for _, v := range []ProtocolVersion{SSLv2, SSLv3, VersionUnspecified, ProtocolVersion(42)} {
		_, _, err := v.tlsRange()
		tests.AssertErrorAs[*ConfigurationError](t, err)
	}
}
