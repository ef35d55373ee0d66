package extract

import (
	_ "embed"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospect-intel/internal/model"
)

//go:embed signatures.yaml
var defaultSignatures []byte

// Signal sources.
const (
	SourceHTML      = "html"
	SourceScript    = "script"
	SourceLink      = "link"
	SourceGenerator = "generator"
	SourceHeader    = "header"
)

// Signal is one piece of evidence for a technology.
type Signal struct {
	Source   string `yaml:"source"`
	Key      string `yaml:"key,omitempty"`
	Contains string `yaml:"contains"`
	Version  string `yaml:"version,omitempty"`
	Weight   int    `yaml:"weight,omitempty"`

	versionRe *regexp.Regexp
}

// Signature describes how to recognize one technology.
type Signature struct {
	Name      string   `yaml:"name"`
	Category  string   `yaml:"category"`
	Threshold int      `yaml:"threshold,omitempty"`
	Signals   []Signal `yaml:"signals"`
}

// Signatures is a compiled signature table.
type Signatures struct {
	Technologies []Signature `yaml:"technologies"`
}

// LoadSignatures parses and compiles a YAML signature table.
func LoadSignatures(data []byte) (*Signatures, error) {
	var s Signatures
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "extract: parse signatures")
	}
	for i := range s.Technologies {
		t := &s.Technologies[i]
		if t.Name == "" {
			return nil, eris.Errorf("extract: signature %d has no name", i)
		}
		if t.Threshold <= 0 {
			t.Threshold = 1
		}
		for j := range t.Signals {
			sig := &t.Signals[j]
			switch sig.Source {
			case SourceHTML, SourceScript, SourceLink, SourceGenerator:
			case SourceHeader:
				if sig.Key == "" {
					return nil, eris.Errorf("extract: %s header signal has no key", t.Name)
				}
			default:
				return nil, eris.Errorf("extract: %s has unknown signal source %q", t.Name, sig.Source)
			}
			sig.Contains = strings.ToLower(sig.Contains)
			if sig.Weight <= 0 {
				sig.Weight = 1
			}
			if sig.Version != "" {
				re, err := regexp.Compile(sig.Version)
				if err != nil {
					return nil, eris.Wrapf(err, "extract: %s version pattern", t.Name)
				}
				sig.versionRe = re
			}
		}
	}
	return &s, nil
}

var (
	builtinOnce sync.Once
	builtin     *Signatures
)

// DefaultSignatures returns the embedded signature table.
func DefaultSignatures() *Signatures {
	builtinOnce.Do(func() {
		s, err := LoadSignatures(defaultSignatures)
		if err != nil {
			panic(err)
		}
		builtin = s
	})
	return builtin
}

// DetectTechnologies fingerprints the page with the default signatures.
func DetectTechnologies(p *Page, header http.Header) []model.Technology {
	return DefaultSignatures().Detect(p, header)
}

type scanEnv struct {
	html      string
	scripts   []string
	links     []string
	generator []string
	header    http.Header
}

func newScanEnv(p *Page, header http.Header) *scanEnv {
	env := &scanEnv{html: strings.ToLower(p.HTML), header: header}
	p.Doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		env.scripts = append(env.scripts, strings.ToLower(attr(s, "src")))
	})
	p.Doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		env.links = append(env.links, strings.ToLower(attr(s, "href")))
	})
	p.Doc.Find(`meta[name="generator"], meta[name="Generator"]`).Each(func(_ int, s *goquery.Selection) {
		env.generator = append(env.generator, strings.ToLower(attr(s, "content")))
	})
	return env
}

// values returns the candidate strings a signal is evaluated against.
func (e *scanEnv) values(sig *Signal) []string {
	switch sig.Source {
	case SourceHTML:
		return []string{e.html}
	case SourceScript:
		return e.scripts
	case SourceLink:
		return e.links
	case SourceGenerator:
		return e.generator
	case SourceHeader:
		vals := e.header.Values(sig.Key)
		out := make([]string, len(vals))
		for i, v := range vals {
			out[i] = strings.ToLower(v)
		}
		return out
	}
	return nil
}

// Detect returns the technologies whose signals match, sorted by category
// then name.
func (s *Signatures) Detect(p *Page, header http.Header) []model.Technology {
	if header == nil {
		header = http.Header{}
	}
	env := newScanEnv(p, header)
	var out []model.Technology
	for i := range s.Technologies {
		t := &s.Technologies[i]
		score, version := 0, ""
		for j := range t.Signals {
			sig := &t.Signals[j]
			matched, v := sig.match(env.values(sig))
			if !matched {
				continue
			}
			score += sig.Weight
			if version == "" {
				version = v
			}
		}
		if score >= t.Threshold {
			out = append(out, model.Technology{Category: t.Category, Name: t.Name, Version: version})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (sig *Signal) match(values []string) (bool, string) {
	matched := false
	for _, v := range values {
		if !strings.Contains(v, sig.Contains) {
			continue
		}
		matched = true
		if sig.versionRe != nil {
			if m := sig.versionRe.FindStringSubmatch(v); len(m) > 1 {
				return true, strings.TrimRight(m[1], ".")
			}
		}
	}
	return matched, ""
}

// TechnologyNames formats technologies as "Name" or "Name Version".
func TechnologyNames(techs []model.Technology) []string {
	out := make([]string, 0, len(techs))
	for _, t := range techs {
		if t.Version != "" {
			out = append(out, t.Name+" "+t.Version)
			continue
		}
		out = append(out, t.Name)
	}
	return out
}
