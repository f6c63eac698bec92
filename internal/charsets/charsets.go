// Package charsets converts response bodies to UTF-8.
package charsets

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// FindEncoding determines the encoding of content from its BOM, the
// charset parameter of contentType, or an HTML meta prescan, in that order.
// Content with no declared charset that is valid UTF-8 (ASCII included) is
// reported as "utf-8". enc is nil when the content is already UTF-8 or the
// encoding is unknown, in which case name is "".
func FindEncoding(content []byte, contentType string) (enc encoding.Encoding, name string) {
	if len(content) == 0 {
		return nil, ""
	}
	enc, name, certain := htmlcharset.DetermineEncoding(content, contentType)
	// DetermineEncoding falls back to windows-1252 when it finds nothing,
	// pure ASCII included.
	if !certain && name == "windows-1252" && !hasCharsetParam(contentType) {
		if utf8.Valid(content) {
			return nil, "utf-8"
		}
		return nil, ""
	}
	if strings.EqualFold(name, "utf-8") {
		return nil, "utf-8"
	}
	return enc, name
}

func hasCharsetParam(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "charset=")
}

// ToUTF8 returns content decoded to UTF-8 and the name of the source
// encoding. A leading UTF-8 BOM is removed.
func ToUTF8(content []byte, contentType string) ([]byte, string, error) {
	enc, name := FindEncoding(content, contentType)
	if enc == nil {
		if name == "utf-8" {
			content = bytes.TrimPrefix(content, utf8BOM)
		}
		return content, name, nil
	}
	b, err := io.ReadAll(transform.NewReader(bytes.NewReader(content), enc.NewDecoder()))
	if err != nil {
		return nil, name, err
	}
	return b, name, nil
}
