package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"mime"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// decompress wraps r according to a Content-Encoding header.
func decompress(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: gzip")
		}
		return zr, nil
	case "br":
		return brotli.NewReader(r), nil
	case "deflate":
		return flate.NewReader(r), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported content encoding %q", encoding)
	}
}

// decodeCharset converts body to UTF-8. An explicit charset parameter wins;
// otherwise the encoding is sniffed from BOM and meta tags.
func decodeCharset(body []byte, contentType string) ([]byte, error) {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if label := params["charset"]; label != "" {
			enc, err := htmlindex.Get(label)
			if err != nil {
				return nil, eris.Wrapf(err, "fetcher: unknown charset %q", label)
			}
			if name, _ := htmlindex.Name(enc); name == "utf-8" {
				return body, nil
			}
			return enc.NewDecoder().Bytes(body)
		}
	}

	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" {
		return body, nil
	}
	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: decode %s", name)
	}
	return out, nil
}
