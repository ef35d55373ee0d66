package extract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Unspecified is the sector of companies nothing could be inferred for.
const Unspecified = "Unspecified"

// Sector is one entry of the sector taxonomy.
type Sector struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`

	patterns []*regexp.Regexp
}

// SizeHints drives the fallback of EstimateCompanySize.
type SizeHints struct {
	LargeWords []string `yaml:"large_words"`
	ByCategory []struct {
		Label string   `yaml:"label"`
		Words []string `yaml:"words"`
	} `yaml:"by_category"`
	Default string `yaml:"default"`
}

// Taxonomy is the compiled sector and size reference data.
type Taxonomy struct {
	Sectors []Sector  `yaml:"sectors"`
	Size    SizeHints `yaml:"size"`
}

// LoadTaxonomy parses a YAML taxonomy and compiles its keyword patterns.
// Keywords match whole words only.
func LoadTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "extract: parse taxonomy")
	}
	for i := range t.Sectors {
		s := &t.Sectors[i]
		if s.Name == "" || len(s.Keywords) == 0 {
			return nil, eris.Errorf("extract: taxonomy sector %d is incomplete", i)
		}
		for _, kw := range s.Keywords {
			s.patterns = append(s.patterns, wordPattern(kw))
		}
	}
	if t.Size.Default == "" {
		t.Size.Default = "SME (10-50 employees)"
	}
	return &t, nil
}

func wordPattern(kw string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(strings.ToLower(kw)) + `(?:[^\p{L}\p{N}]|$)`)
}

var (
	taxonomyOnce sync.Once
	taxonomy     *Taxonomy
)

// DefaultTaxonomy returns the embedded taxonomy.
func DefaultTaxonomy() *Taxonomy {
	taxonomyOnce.Do(func() {
		t, err := LoadTaxonomy(defaultTaxonomy)
		if err != nil {
			panic(err)
		}
		taxonomy = t
	})
	return taxonomy
}

// ExtractSector classifies a company with the default taxonomy. p may be
// nil.
func ExtractSector(category, text string, p *Page) string {
	return DefaultTaxonomy().Sector(category, text, p)
}

// Sector picks the taxonomy entry with the most keyword hits over the
// category, the meta description and text. Without hits it falls back to
// a schema.org industry, then to the category itself.
func (t *Taxonomy) Sector(category, text string, p *Page) string {
	search := strings.ToLower(category + " " + text)
	var industry string
	if p != nil {
		search = strings.ToLower(metaContent(p.Doc, `meta[name="description"]`)) + " " + search
		industry = ldIndustry(p)
	}

	best, bestScore := "", 0
	for _, s := range t.Sectors {
		score := 0
		for _, re := range s.patterns {
			if re.MatchString(search) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = s.Name, score
		}
	}
	switch {
	case best != "":
		return best
	case industry != "":
		return industry
	case strings.TrimSpace(category) != "":
		return strings.TrimSpace(category)
	}
	return Unspecified
}

// Keywords returns the keywords of the named sector found in text, in
// taxonomy order.
func (t *Taxonomy) Keywords(sector, text string) []string {
	lower := strings.ToLower(text)
	for _, s := range t.Sectors {
		if s.Name != sector {
			continue
		}
		var out []string
		for i, re := range s.patterns {
			if re.MatchString(lower) {
				out = append(out, s.Keywords[i])
			}
		}
		return out
	}
	return nil
}

// ldIndustry returns the industry of an Organization in JSON-LD blocks.
func ldIndustry(p *Page) string {
	var industry string
	p.Doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if data["@type"] != "Organization" {
			return true
		}
		if v, ok := data["industry"].(string); ok && strings.TrimSpace(v) != "" {
			industry = strings.TrimSpace(v)
			return false
		}
		return true
	})
	return industry
}

var (
	rangeSizeRe = regexp.MustCompile(`(\d+)\s*(?:à|a|-|to)\s*(\d+)\s*(?:employés|salariés|employees)`)
	sizeRes     = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s*(?:employés|salariés|collaborateurs|personnes|employees|people)`),
		regexp.MustCompile(`(?:équipe de|nous sommes|team of)\s+(\d+)`),
		regexp.MustCompile(`plus de\s+(\d+)\s*(?:employés|salariés)`),
	}
)

// EstimateCompanySize labels the company size from stated headcounts, then
// from multi-site vocabulary, then from the category.
func EstimateCompanySize(text, category string) string {
	return DefaultTaxonomy().CompanySize(text, category)
}

// CompanySize implements EstimateCompanySize over t.
func (t *Taxonomy) CompanySize(text, category string) string {
	lower := strings.ToLower(text)
	largest := -1
	for _, m := range rangeSizeRe.FindAllStringSubmatch(lower, -1) {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		largest = max(largest, (a+b)/2)
	}
	for _, re := range sizeRes {
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n < 1_000_000 {
				largest = max(largest, n)
			}
		}
	}
	switch {
	case largest >= 250:
		return fmt.Sprintf("Large company (%d+ employees)", largest)
	case largest >= 50:
		return fmt.Sprintf("Mid-size company (%d employees)", largest)
	case largest >= 10:
		return fmt.Sprintf("SME (%d employees)", largest)
	case largest >= 0:
		return fmt.Sprintf("Small company (%d employees)", largest)
	}

	for _, w := range t.Size.LargeWords {
		if strings.Contains(lower, w) {
			return "Large company (50+ employees)"
		}
	}
	cat := strings.ToLower(category)
	for _, c := range t.Size.ByCategory {
		for _, w := range c.Words {
			if strings.Contains(cat, w) {
				return c.Label
			}
		}
	}
	return t.Size.Default
}
