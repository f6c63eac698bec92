/*
Package httpsshim is an HTTPS client that pins the TLS protocol version of
its connections.

Some peers misbehave under the platform's default version negotiation. A Conn
opens the TCP socket itself, performs an optional CONNECT or SOCKS5 tunnel
handshake, and wraps the stream in a TLS session limited to one version:

	conn := httpsshim.NewConn("example.com", 443).
		SetProtocolVersion(httpsshim.TLSv1_2)
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()

Transport does the same per request and composes with net/http, and Client
wraps it with a chained request builder:

	resp, err := httpsshim.C().
		SetProtocolVersion(httpsshim.TLSv1).
		R().
		SetQueryParams(map[string]string{"a": "1", "b": "2"}).
		Get("https://httpbin.org/get")

With no version configured the connection is made exactly as crypto/tls
would make it.
*/
package httpsshim
