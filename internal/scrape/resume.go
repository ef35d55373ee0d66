package scrape

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/prospect-intel/internal/extract"
)

const (
	resumeMin = 400
	resumeMax = 800
)

// resume writes a one-paragraph summary of the site. It is built only
// from res and the site text, in a fixed order, and padded with the
// opening of the site text when the facts alone are too short.
func (s *SiteScraper) resume(t Target, res *Result, siteText string) string {
	if len(res.Visited) == 0 && siteText == "" {
		return ""
	}
	name := firstNonEmpty(t.Name, res.Metadata.Title, res.URL)
	m := res.Metadata

	var parts []string
	if m.Sector != "" && m.Sector != extract.Unspecified {
		parts = append(parts, fmt.Sprintf("%s operates in the %s sector.", name, m.Sector))
	} else {
		parts = append(parts, fmt.Sprintf("%s presents its business online.", name))
	}
	if m.Description != "" {
		parts = append(parts, sentence(m.Description))
	}
	if kws := s.taxonomy.Keywords(m.Sector, siteText); len(kws) > 0 {
		if len(kws) > 5 {
			kws = kws[:5]
		}
		parts = append(parts, "Main activities: "+strings.Join(kws, ", ")+".")
	}
	if m.FoundedYear != nil {
		parts = append(parts, fmt.Sprintf("Founded in %d.", *m.FoundedYear))
	}
	if m.Size != "" {
		parts = append(parts, "Estimated size: "+m.Size+".")
	}
	if m.Responsible != "" {
		parts = append(parts, "Managed by "+m.Responsible+".")
	}
	c := res.Counters
	parts = append(parts, fmt.Sprintf("The website lists %d email address(es), %d phone number(s) and %d social profile(s).",
		c.Emails, c.Phones, c.SocialPlatforms))
	if techs := extract.TechnologyNames(res.Artifacts.Technologies); len(techs) > 0 {
		if len(techs) > 4 {
			techs = techs[:4]
		}
		parts = append(parts, "Built with "+strings.Join(techs, ", ")+".")
	}
	if res.SiteAge != nil && res.SiteAge.Status != extract.AgeModern {
		parts = append(parts, "The site looks dated ("+res.SiteAge.IndicatorText()+").")
	}

	out := strings.Join(parts, " ")
	if n := utf8.RuneCountInString(out); n < resumeMin && siteText != "" {
		out += " " + sentence(cutWords(strings.TrimSpace(siteText), resumeMin-n+80))
	}
	return cutWords(out, resumeMax)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if last, _ := utf8.DecodeLastRuneInString(s); strings.ContainsRune(".!?…", last) {
		return s
	}
	return s + "."
}

// cutWords shortens s to at most limit runes at a word boundary, marking
// the cut with an ellipsis.
func cutWords(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	keep := r[:max(limit-1, 0)]
	cut := string(keep)
	// Back up only when the cut splits a word.
	if len(keep) > 0 && r[len(keep)] != ' ' && keep[len(keep)-1] != ' ' {
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, " ,;:") + "…"
}
