package htmldoc

import (
	"io"
	"mime"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// Charset returns the charset parameter of a Content-Type header value, or
// "" when there is none.
func Charset(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

// NewReader returns a UTF-8 reader over r, which is encoded in charset. An
// empty charset is treated as UTF-8.
func NewReader(r io.Reader, charset string) (io.Reader, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "htmldoc: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// ParseCharset decodes r from charset and parses it.
func ParseCharset(r io.Reader, charset string) (*Document, error) {
	dec, err := NewReader(r, charset)
	if err != nil {
		return nil, err
	}
	return Parse(dec)
}
