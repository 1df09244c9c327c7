// Package htmlenc re-encodes browser-extracted page text into the byte
// representation a crawler expects, honoring declared charsets.
package htmlenc

import (
	"mime"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// FallbackEncoding is used when no declared charset can encode the text.
const FallbackEncoding = "utf-8"

// metaCharsetRe matches both <meta charset="..."> and the http-equiv
// Content-Type form within the document head.
var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]*charset\s*=\s*["']?([a-zA-Z0-9_\-]+)`)

// How far into the document a charset declaration is honored. Matches the
// prescan window browsers use.
const metaPrescanBytes = 4096

// EncodeBody encodes already-decoded page text into bytes, choosing the first
// declared charset that can actually encode it:
//
//  1. the charset parameter of the Content-Type header, if it encodes the
//     text without error;
//  2. otherwise the charset declared in the body (meta tag), same condition;
//  3. otherwise UTF-8, which never fails.
//
// Charset labels are canonicalized per the WHATWG encoding standard
// (ISO-8859-1 resolves to windows-1252) plus a gb2312/gbk to gb18030 upgrade
// for compatibility. The returned name is the canonical name of the encoding
// that produced the bytes.
func EncodeBody(headers http.Header, text string) ([]byte, string) {
	if enc, name, ok := headerDeclaredEncoding(headers); ok {
		if body, err := encodeText(text, enc, name); err == nil {
			return body, name
		}
		// The header's choice cannot represent this text; fall through to
		// the body declaration rather than producing mojibake.
	}
	if enc, name, ok := bodyDeclaredEncoding(text); ok {
		if body, err := encodeText(text, enc, name); err == nil {
			return body, name
		}
	}
	return []byte(text), FallbackEncoding
}

// headerDeclaredEncoding extracts and resolves the charset parameter of the
// Content-Type header.
func headerDeclaredEncoding(headers http.Header) (encoding.Encoding, string, bool) {
	contentType := headers.Get("Content-Type")
	if contentType == "" {
		return nil, "", false
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, "", false
	}
	label, ok := params["charset"]
	if !ok {
		return nil, "", false
	}
	return resolveEncoding(label)
}

// bodyDeclaredEncoding looks for a charset declaration inside the document
// itself, within the prescan window.
func bodyDeclaredEncoding(text string) (encoding.Encoding, string, bool) {
	window := text
	if len(window) > metaPrescanBytes {
		window = window[:metaPrescanBytes]
	}
	m := metaCharsetRe.FindStringSubmatch(window)
	if m == nil {
		return nil, "", false
	}
	return resolveEncoding(m[1])
}

// resolveEncoding canonicalizes a charset label. The WHATWG lookup already
// folds ISO-8859-1 into windows-1252; gb2312 and gbk are additionally
// upgraded to their gb18030 superset so that text exceeding the declared
// repertoire still round-trips.
//
// charset.Lookup is used only to resolve the label to its canonical name:
// the encodings it returns are HTML-flavored and replace unsupported runes
// with character references instead of failing, which would defeat the
// first-that-encodes precedence. The strict IANA encoding under the resolved
// name does error on out-of-repertoire runes.
func resolveEncoding(label string) (encoding.Encoding, string, bool) {
	_, name := charset.Lookup(strings.TrimSpace(label))
	if name == "" {
		return nil, "", false
	}
	switch name {
	case "gbk", "gb2312":
		name = "gb18030"
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, "", false
	}
	return enc, name, true
}

// encodeText encodes text with enc, erroring on any rune outside the
// encoding's repertoire. UTF-8 is a plain byte copy.
func encodeText(text string, enc encoding.Encoding, name string) ([]byte, error) {
	if name == FallbackEncoding {
		return []byte(text), nil
	}
	return enc.NewEncoder().Bytes([]byte(text))
}
