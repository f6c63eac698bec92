package httpsshim

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/cookiejar"
	urlpkg "net/url"
	"os"
	"strings"
	"time"

	"github.com/icholy/digest"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/publicsuffix"
)

// DefaultClient returns the global default Client.
func DefaultClient() *Client {
	return defaultClient
}

// SetDefaultClient override the global default Client.
func SetDefaultClient(c *Client) {
	if c != nil {
		defaultClient = c
	}
}

var defaultClient = C()

// Client sends requests through a Transport that pins the protocol
// version of every connection it opens.
type Client struct {
	BaseURL     string
	QueryParams urlpkg.Values
	Headers     http.Header
	DebugLog    bool

	log        Logger
	t          *Transport
	httpClient *http.Client
}

// C create a new client.
func C() *Client {
	t := NewTransport()
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	httpClient := &http.Client{
		Transport: t,
		Jar:       jar,
		Timeout:   2 * time.Minute,
	}
	c := &Client{
		log:        createLogger(),
		t:          t,
		httpClient: httpClient,
	}
	t.SetLogger(c.log)
	return c
}

// NewClient is the alias of C
func NewClient() *Client {
	return C()
}

// R is a global wrapper methods which delegated
// to the default client's R().
func R() *Request {
	return defaultClient.R()
}

// R create a new request.
func (c *Client) R() *Request {
	return &Request{
		client:      c,
		Headers:     make(http.Header),
		QueryParams: make(urlpkg.Values),
	}
}

// GetTransport return the underlying Transport.
func (c *Client) GetTransport() *Transport {
	return c.t
}

// GetClient returns the underlying http.Client.
func (c *Client) GetClient() *http.Client {
	return c.httpClient
}

// SetBaseURL set the default base URL, will be used if request URL is
// a relative URL.
func (c *Client) SetBaseURL(u string) *Client {
	c.BaseURL = strings.TrimRight(u, "/")
	return c
}

// SetCommonHeader set a header for all requests.
func (c *Client) SetCommonHeader(key, value string) *Client {
	if c.Headers == nil {
		c.Headers = make(http.Header)
	}
	c.Headers.Set(key, value)
	return c
}

// SetCommonHeaders set headers for all requests.
func (c *Client) SetCommonHeaders(hdrs map[string]string) *Client {
	for k, v := range hdrs {
		c.SetCommonHeader(k, v)
	}
	return c
}

// SetUserAgent set the "User-Agent" header for all requests.
func (c *Client) SetUserAgent(userAgent string) *Client {
	return c.SetCommonHeader("User-Agent", userAgent)
}

// SetCommonQueryParam set an URL query parameter for all requests.
func (c *Client) SetCommonQueryParam(key, value string) *Client {
	if c.QueryParams == nil {
		c.QueryParams = make(urlpkg.Values)
	}
	c.QueryParams.Set(key, value)
	return c
}

// SetCommonQueryParams set URL query parameters for all requests.
func (c *Client) SetCommonQueryParams(params map[string]string) *Client {
	for k, v := range params {
		c.SetCommonQueryParam(k, v)
	}
	return c
}

// SetTimeout set timeout for all requests.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.httpClient.Timeout = d
	return c
}

// SetProtocolVersion pins the protocol version of every connection, unless
// a request sets its own.
func (c *Client) SetProtocolVersion(v ProtocolVersion) *Client {
	c.t.SetProtocolVersion(v)
	return c
}

// SetProxyURL set proxy from the proxy URL. http, socks5 and socks5h
// proxies are supported.
func (c *Client) SetProxyURL(proxyUrl string) *Client {
	u, err := urlpkg.Parse(proxyUrl)
	if err != nil {
		c.log.Errorf("failed to parse proxy url %s: %v", proxyUrl, err)
		return c
	}
	c.t.SetProxy(http.ProxyURL(u))
	return c
}

// SetProxy set the proxy function.
func (c *Client) SetProxy(proxy func(*http.Request) (*urlpkg.URL, error)) *Client {
	c.t.SetProxy(proxy)
	return c
}

// SetCertFromFile helps to set client certificates from cert and key file.
func (c *Client) SetCertFromFile(certFile, keyFile string) *Client {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		c.log.Errorf("failed to load client cert: %v", err)
		return c
	}
	return c.SetCerts(cert)
}

// SetCerts set client certificates.
func (c *Client) SetCerts(certs ...tls.Certificate) *Client {
	config := c.GetTLSClientConfig()
	config.Certificates = append(config.Certificates, certs...)
	return c
}

func (c *Client) appendRootCertData(data []byte) {
	config := c.GetTLSClientConfig()
	if config.RootCAs == nil {
		config.RootCAs = x509.NewCertPool()
	}
	if !config.RootCAs.AppendCertsFromPEM(data) {
		c.log.Warnf("no root certificate found in PEM data")
	}
}

// SetRootCertFromString set root certificates from string.
func (c *Client) SetRootCertFromString(pemContent string) *Client {
	c.appendRootCertData([]byte(pemContent))
	return c
}

// SetRootCertsFromFile set root certificates from files.
func (c *Client) SetRootCertsFromFile(pemFiles ...string) *Client {
	for _, pemFile := range pemFiles {
		rootPemData, err := os.ReadFile(pemFile)
		if err != nil {
			c.log.Errorf("failed to read root cert file: %v", err)
			return c
		}
		c.appendRootCertData(rootPemData)
	}
	return c
}

// EnableInsecureSkipVerify disable the server certificate verification.
func (c *Client) EnableInsecureSkipVerify() *Client {
	c.GetTLSClientConfig().InsecureSkipVerify = true
	return c
}

// GetTLSClientConfig return the underlying tls.Config.
func (c *Client) GetTLSClientConfig() *tls.Config {
	return c.t.GetTLSClientConfig()
}

// SetTLSClientConfig set the TLS client config.
func (c *Client) SetTLSClientConfig(conf *tls.Config) *Client {
	c.t.SetTLSClientConfig(conf)
	return c
}

// SetTLSHandshakeTimeout set the TLS handshake timeout.
func (c *Client) SetTLSHandshakeTimeout(timeout time.Duration) *Client {
	c.t.SetTLSHandshakeTimeout(timeout)
	return c
}

// SetTLSFingerprint set the ClientHello fingerprint sent by every
// handshake, e.g. utls.HelloChrome_Auto.
func (c *Client) SetTLSFingerprint(id utls.ClientHelloID) *Client {
	c.t.SetTLSFingerprint(id)
	return c
}

// DisableCompression stops requesting compressed responses.
func (c *Client) DisableCompression() *Client {
	c.t.DisableAutoDecompress()
	return c
}

// SetDigestAuth answers HTTP digest challenges with username and password.
func (c *Client) SetDigestAuth(username, password string) *Client {
	c.httpClient.Transport = &digest.Transport{
		Username:  username,
		Password:  password,
		Transport: c.t,
	}
	return c
}

// SetCookieJar set the cookie jar, nil disables cookies.
func (c *Client) SetCookieJar(jar http.CookieJar) *Client {
	c.httpClient.Jar = jar
	return c
}

// SetLogger set the customized logger for client, will disable log if set to nil.
func (c *Client) SetLogger(log Logger) *Client {
	if log == nil {
		log = &disableLogger{}
	}
	c.log = log
	c.t.SetLogger(log)
	return c
}

// EnableDebugLog logs connect phases and requests at debug level.
func (c *Client) EnableDebugLog() *Client {
	c.DebugLog = true
	c.t.EnableDebugLog()
	return c
}

func (c *Client) do(r *Request) (*Response, error) {
	req, err := r.newHTTPRequest()
	if err != nil {
		return &Response{Request: r, Err: err}, err
	}
	if c.DebugLog {
		c.log.Debugf("sending %s %s", req.Method, req.URL.Redacted())
	}
	httpResp, err := c.httpClient.Do(req)
	resp := &Response{Request: r, Response: httpResp, Err: err, receivedAt: time.Now()}
	if err != nil {
		return resp, err
	}
	if r.trace != nil {
		resp.traceInfo = *r.trace
	}
	return resp, nil
}
