package fetcher

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// StreamXML decodes XML elements with the given local name and sends them
// to a channel. Both channels are closed when decoding completes.
func StreamXML[T any](ctx context.Context, r io.Reader, elementName string) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := xml.NewDecoder(r)
		decoder.Strict = false
		decoder.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
			enc, err := htmlindex.Get(label)
			if err != nil {
				return nil, eris.Wrapf(err, "xml: unsupported charset %q", label)
			}
			return enc.NewDecoder().Reader(input), nil
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}
			tok, err := decoder.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "xml: read token")
				return
			}
			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != elementName {
				continue
			}
			var item T
			if err := decoder.DecodeElement(&item, &se); err != nil {
				errCh <- eris.Wrap(err, "xml: decode element")
				return
			}
			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

type sitemapLoc struct {
	Value string `xml:",chardata"`
}

// SitemapURLs collects every <loc> of a urlset or sitemap index in document
// order, stopping after limit entries (0 means no limit).
func SitemapURLs(ctx context.Context, r io.Reader, limit int) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	locs, errs := StreamXML[sitemapLoc](ctx, r, "loc")
	var out []string
	for loc := range locs {
		if v := strings.TrimSpace(loc.Value); v != "" {
			out = append(out, v)
		}
		if limit > 0 && len(out) >= limit {
			return out, nil
		}
	}
	if err := <-errs; err != nil {
		return out, err
	}
	return out, nil
}
