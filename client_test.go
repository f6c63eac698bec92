package httpsshim

import (
	"crypto/tls"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ut-austin-fis/httpsshim/internal/tests"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func tc(srv *httptest.Server) *Client {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	return C().SetLogger(nil).SetRootCertFromString(string(certPEM))
}

func TestClientGetWithPinnedVersion(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS10, tls.VersionTLS13)
	resp, err := tc(srv).SetProtocolVersion(TLSv1).R().
		SetQueryParams(map[string]string{"a": "1", "b": "2"}).
		Get(srv.URL + "/get")
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, true, resp.IsSuccessState())
	tests.AssertEqual(t, TLSv1, resp.TLSVersion())

	var e tests.Echo
	tests.AssertNoError(t, resp.Into(&e))
	tests.AssertEqual(t, map[string]string{"a": "1", "b": "2"}, e.Args)
	tests.AssertEqual(t, uint16(tls.VersionTLS10), e.TLSVersion)
}

func TestClientGetWithoutVersion(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS10, tls.VersionTLS13)
	resp, err := tc(srv).R().Get(srv.URL + "/get?a=1&b=2")
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, TLSv1_3, resp.TLSVersion())
	var e tests.Echo
	tests.AssertNoError(t, resp.Into(&e))
	tests.AssertEqual(t, map[string]string{"a": "1", "b": "2"}, e.Args)
}

func TestRequestProtocolVersionOverride(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS10, tls.VersionTLS13)
	c := tc(srv).SetProtocolVersion(TLSv1_2)

	resp, err := c.R().SetProtocolVersion(TLSv1_1).Get(srv.URL)
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, TLSv1_1, resp.TLSVersion())

	resp, err = c.R().Get(srv.URL)
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, TLSv1_2, resp.TLSVersion())
}

func TestRequestQueryParamsFromStruct(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS12, tls.VersionTLS13)
	type params struct {
		A    int    `url:"a"`
		B    string `url:"b"`
		Skip string `url:"skip,omitempty"`
	}
	var e tests.Echo
	resp, err := tc(srv).R().SetQueryParamsFromStruct(params{A: 1, B: "2"}).Get(srv.URL)
	tests.AssertNoError(t, err)
	tests.AssertNoError(t, resp.Into(&e))
	tests.AssertEqual(t, map[string]string{"a": "1", "b": "2"}, e.Args)
}

func TestClientCommonSettings(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS12, tls.VersionTLS13)
	c := tc(srv).
		SetBaseURL(srv.URL+"/").
		SetUserAgent("httpsshim-test").
		SetCommonQueryParam("common", "yes").
		SetCommonHeader("X-Common", "c")

	resp, err := c.R().
		SetHeader("X-Common", "override").
		SetQueryParam("common", "override").
		SetBodyJsonMarshal(map[string]string{"name": "roc"}).
		Post("/post")
	tests.AssertNoError(t, err)
	var e tests.Echo
	tests.AssertNoError(t, resp.Into(&e))
	tests.AssertEqual(t, http.MethodPost, e.Method)
	tests.AssertEqual(t, `{"name":"roc"}`, e.Data)
	tests.AssertEqual(t, "application/json; charset=utf-8", e.Headers["Content-Type"])
	tests.AssertEqual(t, "httpsshim-test", e.Headers["User-Agent"])
	tests.AssertEqual(t, "override", e.Headers["X-Common"])
	tests.AssertEqual(t, map[string]string{"common": "override"}, e.Args)

	resp, err = c.R().SetFormData(map[string]string{"k": "v"}).Put("put")
	tests.AssertNoError(t, err)
	e = tests.Echo{}
	tests.AssertNoError(t, resp.Into(&e))
	tests.AssertEqual(t, http.MethodPut, e.Method)
	tests.AssertEqual(t, "k=v", e.Data)
	tests.AssertEqual(t, "application/x-www-form-urlencoded", e.Headers["Content-Type"])
	tests.AssertEqual(t, "yes", e.Args["common"])
}

func TestRequestErrorsAreReturnedBySend(t *testing.T) {
	c := C().SetLogger(nil)
	resp, err := c.R().SetQueryString("a=%zz").Get("https://127.0.0.1:1/")
	tests.AssertNotNil(t, err)
	tests.AssertEqual(t, err, resp.Err)
	tests.AssertIsNil(t, resp.Response)

	_, err = c.R().Get("/relative")
	tests.AssertEqual(t, true, errors.Is(err, ErrUnsupportedScheme))
}

func TestRequestTrace(t *testing.T) {
	srv := newEchoServer(t, tls.VersionTLS12, tls.VersionTLS13)
	resp, err := tc(srv).SetProtocolVersion(TLSv1_2).R().EnableTrace().Get(srv.URL)
	tests.AssertNoError(t, err)
	ti := resp.TraceInfo()
	tests.AssertEqual(t, TLSv1_2, ti.RequestedVersion)
	tests.AssertEqual(t, TLSv1_2, ti.NegotiatedVersion)
	tests.AssertEqual(t, true, ti.TLSHandshakeTime > 0)
	tests.AssertEqual(t, srv.Listener.Addr().String(), ti.RemoteAddr.String())
}

func TestResponseToStringDecodesCharset(t *testing.T) {
	body, err := simplifiedchinese.GBK.NewEncoder().String("你好")
	tests.AssertNoError(t, err)
	srv := tests.NewTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=gbk")
		w.Write([]byte(body))
	}), tls.VersionTLS12, tls.VersionTLS13)

	resp, err := tc(srv).R().Get(srv.URL)
	tests.AssertNoError(t, err)
	s, err := resp.ToString()
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, "你好", s)
	b, err := resp.ToBytes()
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, body, string(b))
}

func TestClientDigestAuth(t *testing.T) {
	srv := tests.NewTLSServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Digest ") {
			w.Header().Set("WWW-Authenticate", `Digest realm="test", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", qop="auth", algorithm=MD5`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.Contains(auth, `username="roc"`) || !strings.Contains(auth, `realm="test"`) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), tls.VersionTLS12, tls.VersionTLS13)

	resp, err := tc(srv).SetProtocolVersion(TLSv1_2).SetDigestAuth("roc", "123456").R().Get(srv.URL + "/digest")
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, http.StatusOK, resp.StatusCode)
}
