package httpsshim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	urlpkg "net/url"
	"strings"

	"github.com/google/go-querystring/query"
)

// Request is a request built with chained setters and sent by its Client.
// Setter errors are collected and returned by Send.
type Request struct {
	URL         string
	Method      string
	Headers     http.Header
	QueryParams urlpkg.Values
	FormData    urlpkg.Values

	error           error
	client          *Client
	ctx             context.Context
	body            []byte
	hasBody         bool
	protocolVersion ProtocolVersion
	trace           *TraceInfo
}

func (r *Request) appendError(err error) {
	r.error = errors.Join(r.error, err)
}

// Error returns the errors collected by the setters so far.
func (r *Request) Error() error {
	return r.error
}

// Context returns the request context, context.Background when unset.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// SetContext set the context of the request.
func (r *Request) SetContext(ctx context.Context) *Request {
	if ctx != nil {
		r.ctx = ctx
	}
	return r
}

// SetProtocolVersion pins the protocol version of the connection this
// request is sent on, overriding the client-level version.
func (r *Request) SetProtocolVersion(v ProtocolVersion) *Request {
	r.protocolVersion = v
	return r
}

// EnableTrace records the connect timing, see Response.TraceInfo.
func (r *Request) EnableTrace() *Request {
	if r.trace == nil {
		r.trace = &TraceInfo{}
	}
	return r
}

// SetHeader set a header for the request.
func (r *Request) SetHeader(key, value string) *Request {
	r.Headers.Set(key, value)
	return r
}

// SetHeaders set headers from a map for the request.
func (r *Request) SetHeaders(hdrs map[string]string) *Request {
	for k, v := range hdrs {
		r.SetHeader(k, v)
	}
	return r
}

// SetBasicAuth set basic auth for the request.
func (r *Request) SetBasicAuth(username, password string) *Request {
	req := http.Request{Header: http.Header{}}
	req.SetBasicAuth(username, password)
	return r.SetHeader("Authorization", req.Header.Get("Authorization"))
}

// SetBearerAuthToken set bearer auth token for the request.
func (r *Request) SetBearerAuthToken(token string) *Request {
	return r.SetHeader("Authorization", "Bearer "+token)
}

// SetQueryParam set an URL query parameter for the request.
func (r *Request) SetQueryParam(key, value string) *Request {
	r.QueryParams.Set(key, value)
	return r
}

// AddQueryParam add a value to an URL query parameter.
func (r *Request) AddQueryParam(key, value string) *Request {
	r.QueryParams.Add(key, value)
	return r
}

// SetQueryParams set URL query parameters from a map for the request.
func (r *Request) SetQueryParams(params map[string]string) *Request {
	for k, v := range params {
		r.SetQueryParam(k, v)
	}
	return r
}

// SetQueryParamsFromStruct set URL query parameters from the `url` tags of
// a struct.
func (r *Request) SetQueryParamsFromStruct(v interface{}) *Request {
	values, err := query.Values(v)
	if err != nil {
		r.appendError(err)
		return r
	}
	for k, vs := range values {
		r.QueryParams[k] = vs
	}
	return r
}

// SetQueryString set URL query parameters from a raw query string.
func (r *Request) SetQueryString(rawQuery string) *Request {
	params, err := urlpkg.ParseQuery(strings.TrimSpace(rawQuery))
	if err != nil {
		r.appendError(err)
		return r
	}
	for k, vs := range params {
		r.QueryParams[k] = vs
	}
	return r
}

// SetFormData set the urlencoded form body of the request.
func (r *Request) SetFormData(data map[string]string) *Request {
	if r.FormData == nil {
		r.FormData = make(urlpkg.Values)
	}
	for k, v := range data {
		r.FormData.Set(k, v)
	}
	return r
}

// SetBodyBytes set the request body as []byte.
func (r *Request) SetBodyBytes(body []byte) *Request {
	r.body = body
	r.hasBody = true
	return r
}

// SetBodyString set the request body as string.
func (r *Request) SetBodyString(body string) *Request {
	return r.SetBodyBytes([]byte(body))
}

// SetBodyJsonMarshal set the request body that marshaled from object.
func (r *Request) SetBodyJsonMarshal(v interface{}) *Request {
	b, err := json.Marshal(v)
	if err != nil {
		r.appendError(err)
		return r
	}
	r.SetHeader("Content-Type", "application/json; charset=utf-8")
	return r.SetBodyBytes(b)
}

// Get fires http request with GET method and the specified URL.
func (r *Request) Get(url string) (*Response, error) {
	return r.send(http.MethodGet, url)
}

// Post fires http request with POST method and the specified URL.
func (r *Request) Post(url string) (*Response, error) {
	return r.send(http.MethodPost, url)
}

// Put fires http request with PUT method and the specified URL.
func (r *Request) Put(url string) (*Response, error) {
	return r.send(http.MethodPut, url)
}

// Delete fires http request with DELETE method and the specified URL.
func (r *Request) Delete(url string) (*Response, error) {
	return r.send(http.MethodDelete, url)
}

// Head fires http request with HEAD method and the specified URL.
func (r *Request) Head(url string) (*Response, error) {
	return r.send(http.MethodHead, url)
}

func (r *Request) send(method, url string) (*Response, error) {
	r.Method = method
	r.URL = url
	return r.Send()
}

// Send fires http request with the Method and URL already set.
func (r *Request) Send() (*Response, error) {
	if r.error != nil {
		return &Response{Request: r, Err: r.error}, r.error
	}
	return r.client.do(r)
}

func (r *Request) resolveURL() (*urlpkg.URL, error) {
	rawURL := r.URL
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		if r.client.BaseURL == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, rawURL)
		}
		rawURL = r.client.BaseURL + "/" + strings.TrimLeft(rawURL, "/")
	}
	u, err := urlpkg.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, vs := range r.client.QueryParams {
		if _, ok := q[k]; !ok {
			q[k] = vs
		}
	}
	for k, vs := range r.QueryParams {
		q[k] = vs
	}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (r *Request) newHTTPRequest() (*http.Request, error) {
	u, err := r.resolveURL()
	if err != nil {
		return nil, err
	}
	var body io.Reader
	switch {
	case r.hasBody:
		body = bytes.NewReader(r.body)
	case len(r.FormData) > 0:
		body = strings.NewReader(r.FormData.Encode())
		if r.Headers.Get("Content-Type") == "" {
			r.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	ctx := r.Context()
	if !r.protocolVersion.IsUnspecified() {
		ctx = WithProtocolVersion(ctx, r.protocolVersion)
	}
	if r.trace != nil {
		ctx = withTraceInfo(ctx, r.trace)
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.client.Headers {
		req.Header[k] = vs
	}
	for k, vs := range r.Headers {
		req.Header[k] = vs
	}
	return req, nil
}
