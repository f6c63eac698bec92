package httpsshim

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ut-austin-fis/httpsshim/internal/charsets"
)

// Response is the http response.
type Response struct {
	// The underlying http.Response is embed into Response.
	*http.Response
	// Err is the underlying error, not nil if some error occurs.
	Err error
	// Request is the Response's related Request.
	Request    *Request
	body       []byte
	receivedAt time.Time
	traceInfo  TraceInfo
}

// IsSuccessState method returns true if no error occurs and HTTP status
// `code >= 200 and <= 299`.
func (r *Response) IsSuccessState() bool {
	if r.Response == nil {
		return false
	}
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// IsErrorState method returns true if no error occurs and HTTP status
// `code >= 400`.
func (r *Response) IsErrorState() bool {
	if r.Response == nil {
		return false
	}
	return r.StatusCode >= 400
}

// GetContentType return the `Content-Type` header value.
func (r *Response) GetContentType() string {
	if r.Response == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// GetStatusCode returns the response status code.
func (r *Response) GetStatusCode() int {
	if r.Response == nil {
		return 0
	}
	return r.StatusCode
}

// TLSVersion returns the protocol version the response was received over,
// VersionUnspecified if unknown.
func (r *Response) TLSVersion() ProtocolVersion {
	if r.Response == nil || r.TLS == nil {
		return VersionUnspecified
	}
	return versionFromTLS(r.TLS.Version)
}

// TraceInfo returns the connect timing, Request.EnableTrace must have been
// called.
func (r *Response) TraceInfo() TraceInfo {
	return r.traceInfo
}

// ReceivedAt returns the timestamp that response we received.
func (r *Response) ReceivedAt() time.Time {
	return r.receivedAt
}

// ToBytes returns the response body as []byte, read body if not have been read.
func (r *Response) ToBytes() (body []byte, err error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if r.body != nil {
		return r.body, nil
	}
	if r.Response == nil || r.Response.Body == nil {
		return []byte{}, nil
	}
	defer func() {
		r.Body.Close()
		if err != nil {
			r.Err = err
		}
		r.body = body
	}()
	body, err = io.ReadAll(r.Body)
	return
}

// ToString returns the response body as UTF-8 string, converted from the
// charset declared by the response when it is not UTF-8.
func (r *Response) ToString() (string, error) {
	b, err := r.ToBytes()
	if err != nil {
		return "", err
	}
	s, name, err := charsets.ToUTF8(b, r.GetContentType())
	if err != nil {
		if r.Request != nil && r.Request.client != nil {
			r.Request.client.log.Warnf("failed to decode %s response body: %v", name, err)
		}
		return string(b), nil
	}
	return string(s), nil
}

// Into unmarshalls the JSON response body into v.
func (r *Response) Into(v interface{}) error {
	b, err := r.ToBytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
