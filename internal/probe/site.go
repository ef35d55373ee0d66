package probe

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/model"
)

// ParseRobots reads the Disallow rules of the "*" group and every Sitemap
// line of a robots.txt body.
func ParseRobots(body []byte) model.RobotsInfo {
	info := model.RobotsInfo{Present: true}
	var (
		inStar   bool
		inRules  bool
		seenDis  = map[string]bool{}
		seenMaps = map[string]bool{}
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		switch k {
		case "user-agent":
			// Consecutive user-agent lines share one group.
			if inRules {
				inStar, inRules = false, false
			}
			if v == "*" {
				inStar = true
			}
		case "disallow", "allow", "crawl-delay":
			inRules = true
			if k == "disallow" && inStar && v != "" && !seenDis[v] {
				seenDis[v] = true
				info.Disallow = append(info.Disallow, v)
			}
		case "sitemap":
			if v != "" && !seenMaps[v] {
				seenMaps[v] = true
				info.Sitemaps = append(info.Sitemaps, v)
			}
		}
	}
	return info
}

// robots fetches and parses /robots.txt. A missing file is not an error.
func (p *Prober) robots(ctx context.Context, h *home, rawURL string) (model.RobotsInfo, error) {
	page, err := p.d.Fetcher.Get(ctx, siteURL(h, rawURL, "/robots.txt"))
	if err != nil {
		if fetcher.KindOf(err) == fetcher.ErrKindHTTP4xx {
			return model.RobotsInfo{}, nil
		}
		return model.RobotsInfo{}, err
	}
	if page.IsHTML() {
		// Soft 404 served as the home page.
		return model.RobotsInfo{}, nil
	}
	return ParseRobots(page.Body), nil
}

// sitemapLimit caps how many sitemap entries are counted.
const sitemapLimit = 50000

// sitemap looks for a sitemap, first at the locations named by robots.txt
// and then at the conventional paths. It returns whether one was found
// and how many URLs it lists.
func (p *Prober) sitemap(ctx context.Context, h *home, rawURL string, robots model.RobotsInfo) (bool, int, error) {
	candidates := append([]string(nil), robots.Sitemaps...)
	for _, path := range []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemaps.xml"} {
		candidates = append(candidates, siteURL(h, rawURL, path))
	}
	var lastErr error
	for _, u := range candidates {
		page, err := p.d.Fetcher.Get(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return false, 0, ctx.Err()
			}
			if fetcher.KindOf(err) != fetcher.ErrKindHTTP4xx {
				lastErr = err
			}
			continue
		}
		if page.IsHTML() {
			continue
		}
		locs, err := fetcher.SitemapURLs(ctx, bytes.NewReader(page.Body), sitemapLimit)
		if err != nil && len(locs) == 0 {
			lastErr = err
			continue
		}
		return true, len(locs), nil
	}
	return false, 0, lastErr
}
