package httpsshim

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ut-austin-fis/httpsshim/internal/netutil"
	"golang.org/x/net/proxy"
)

type tunnelKind int

const (
	tunnelNone tunnelKind = iota
	tunnelHTTP
	tunnelSOCKS5
)

func (k tunnelKind) String() string {
	switch k {
	case tunnelHTTP:
		return "http"
	case tunnelSOCKS5:
		return "socks5"
	}
	return "none"
}

// tunnel describes the target reached through a proxy after the raw
// socket to the proxy is open.
type tunnel struct {
	kind   tunnelKind
	host   string
	port   int
	header http.Header
	auth   *proxy.Auth
}

func (tn *tunnel) addr() string {
	return netutil.HostPort(tn.host, tn.port)
}

// establish runs the tunnel handshake over conn. Once it returns nil, conn
// is a transparent pipe to the tunnel target.
func (tn *tunnel) establish(ctx context.Context, conn net.Conn) error {
	switch tn.kind {
	case tunnelHTTP:
		return httpConnect(ctx, conn, tn.addr(), tn.header)
	case tunnelSOCKS5:
		return socks5Connect(ctx, conn, tn.addr(), tn.auth)
	}
	return nil
}

// httpConnect sends a CONNECT request for target and waits for a 200.
func httpConnect(ctx context.Context, conn net.Conn, target string, hdr http.Header) error {
	if hdr == nil {
		hdr = make(http.Header)
	}
	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: hdr,
	}

	// Without a deadline from the caller, bound the exchange so a proxy
	// that stops replying after the TCP connect can't block forever.
	connectCtx := ctx
	if ctx.Done() == nil {
		newCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
		defer cancel()
		connectCtx = newCtx
	}

	didReadResponse := make(chan struct{}) // closed after CONNECT write+read is done or fails
	var (
		resp *http.Response
		err  error // write or read error
	)
	go func() {
		defer close(didReadResponse)
		err = connectReq.Write(conn)
		if err != nil {
			return
		}
		// Okay to use and discard buffered reader here, because
		// TLS server will not speak until spoken to.
		br := bufio.NewReader(conn)
		resp, err = http.ReadResponse(br, connectReq)
	}()
	select {
	case <-connectCtx.Done():
		conn.Close()
		<-didReadResponse
		return connectCtx.Err()
	case <-didReadResponse:
	}
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		_, text, ok := strings.Cut(resp.Status, " ")
		if !ok {
			return errors.New("unknown status code")
		}
		return fmt.Errorf("proxy refused tunnel: %s", text)
	}
	return nil
}

// connDialer hands an already open connection to a proxy.Dialer.
type connDialer struct {
	conn net.Conn
}

func (d connDialer) Dial(network, addr string) (net.Conn, error) {
	return d.conn, nil
}

func (d connDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.conn, nil
}

// socks5Connect performs the SOCKS5 greeting and CONNECT command for target.
func socks5Connect(ctx context.Context, conn net.Conn, target string, auth *proxy.Auth) error {
	d, err := proxy.SOCKS5("tcp", conn.RemoteAddr().String(), auth, connDialer{conn: conn})
	if err != nil {
		return err
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		_, err = cd.DialContext(ctx, "tcp", target)
		return err
	}
	_, err = d.Dial("tcp", target)
	return err
}

// proxyAuthorization returns the Proxy-Authorization value carried by the
// userinfo of a proxy URL, or "".
func proxyAuthorization(u *url.URL) string {
	if u == nil || u.User == nil {
		return ""
	}
	username := u.User.Username()
	password, _ := u.User.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// proxySOCKS5Auth returns the SOCKS5 credentials carried by a proxy URL.
func proxySOCKS5Auth(u *url.URL) *proxy.Auth {
	if u == nil || u.User == nil {
		return nil
	}
	auth := &proxy.Auth{User: u.User.Username()}
	auth.Password, _ = u.User.Password()
	return auth
}
