// Package compress decodes response bodies according to their
// Content-Encoding.
package compress

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"io/fs"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding is the Accept-Encoding value matching the decoders
// NewReader knows.
const AcceptEncoding = "gzip, deflate, br, zstd"

type newDecoder func(r io.Reader) (io.Reader, error)

var decoders = map[string]newDecoder{
	"gzip": func(r io.Reader) (io.Reader, error) {
		return gzip.NewReader(r)
	},
	"deflate": func(r io.Reader) (io.Reader, error) {
		return flate.NewReader(r), nil
	},
	"br": func(r io.Reader) (io.Reader, error) {
		return brotli.NewReader(r), nil
	},
	"zstd": func(r io.Reader) (io.Reader, error) {
		return zstd.NewReader(r)
	},
}

// Supported reports whether contentEncoding can be decoded.
func Supported(contentEncoding string) bool {
	_, ok := decoders[normalize(contentEncoding)]
	return ok
}

// NewReader wraps body in a reader that decodes contentEncoding lazily on
// the first Read. It returns nil for unknown encodings.
func NewReader(body io.ReadCloser, contentEncoding string) io.ReadCloser {
	fn, ok := decoders[normalize(contentEncoding)]
	if !ok {
		return nil
	}
	return &reader{body: body, newDecoder: fn}
}

func normalize(contentEncoding string) string {
	return strings.ToLower(strings.TrimSpace(contentEncoding))
}

type reader struct {
	body       io.ReadCloser
	newDecoder newDecoder
	dec        io.Reader
	err        error // sticky error
}

func (r *reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.dec == nil {
		r.dec, r.err = r.newDecoder(r.body)
		if r.err != nil {
			return 0, r.err
		}
	}
	return r.dec.Read(p)
}

func (r *reader) Close() error {
	switch d := r.dec.(type) {
	case io.Closer:
		d.Close()
	case *zstd.Decoder:
		d.Close()
	}
	r.err = fs.ErrClosed
	return r.body.Close()
}
