package netutil

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ASCIIHost converts an internationalized host name to its ASCII form and
// strips IPv6 brackets. Hosts idna cannot convert are returned unchanged.
func ASCIIHost(host string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if a, err := idna.ToASCII(host); err == nil {
		return a
	}
	return host
}

// HostPort joins host and port into a dialable address.
func HostPort(host string, port int) string {
	return net.JoinHostPort(ASCIIHost(host), strconv.Itoa(port))
}

// SplitAuthority returns the host and port of a URL authority, filling in the
// default port of the scheme when it is missing.
func SplitAuthority(scheme, authority string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(authority)
	if err != nil { // authority didn't have a port
		h, p = authority, DefaultPort(scheme)
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		return "", 0, &net.AddrError{Err: "invalid port", Addr: authority}
	}
	return ASCIIHost(h), port, nil
}

// DefaultPort returns the well-known port for a URL scheme.
func DefaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "socks5", "socks5h":
		return "1080"
	}
	return "443"
}

// URLHostPort returns the host and port addressed by u.
func URLHostPort(u *url.URL) (string, int, error) {
	return SplitAuthority(u.Scheme, u.Host)
}
