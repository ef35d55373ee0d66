package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/prospect-intel/internal/model"
)

// AgeStatus buckets a site by how dated it looks.
type AgeStatus string

const (
	AgeModern       AgeStatus = "Modern"
	AgeToModernize  AgeStatus = "ToModernize"
	AgeObsolete     AgeStatus = "Obsolete"
	AgeVeryObsolete AgeStatus = "VeryObsolete"
)

// SiteAge is the outcome of AnalyzeSiteAge.
type SiteAge struct {
	Status      AgeStatus   `json:"status"`
	Score       int         `json:"score"`
	Indicators  []string    `json:"indicators"`
	Opportunity model.Grade `json:"opportunity"`
}

// IndicatorText joins the indicators the way they are shown to operators.
func (a SiteAge) IndicatorText() string {
	return strings.Join(a.Indicators, "; ")
}

// Copyright mentions of 2000-2015, kept within one short phrase so a
// stray year elsewhere on the page does not count.
var ageCopyrightRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)copyright[^.\n]{0,40}?20(0[0-9]|1[0-5])\b`),
	regexp.MustCompile(`©[^.\n]{0,40}?20(0[0-9]|1[0-5])\b`),
	regexp.MustCompile(`(?i)créé[^.\n]{0,20}?\ben\s+20(0[0-9]|1[0-5])\b`),
	regexp.MustCompile(`(?i)fondé[^.\n]{0,20}?\ben\s+20(0[0-9]|1[0-5])\b`),
}

var obsoleteMarkers = []string{
	"jquery-1.", "jquery-2.", "jquery-3.0", "jquery-3.1",
	"bootstrap-3", "bootstrap-2",
	"php-5", "php-7.0", "php-7.1",
	"wordpress-3.", "wordpress-4.0", "wordpress-4.1",
	"angularjs", "angular-1.",
	"flash", "shockwave",
}

// AnalyzeSiteAge scores how dated a site looks from its markup. Obsolete
// copyright years weigh 2 each, obsolete technology markers and legacy
// tags 1 each.
func AnalyzeSiteAge(p *Page) SiteAge {
	var (
		score      int
		indicators []string
	)
	text := p.Text()
	for _, re := range ageCopyrightRes {
		if m := re.FindStringSubmatch(text); m != nil {
			score += 2
			indicators = append(indicators, "Old copyright (20"+m[1]+")")
		}
	}

	lower := strings.ToLower(p.HTML)
	for _, marker := range obsoleteMarkers {
		if strings.Contains(lower, marker) {
			score++
			indicators = append(indicators, "Obsolete technology: "+marker)
		}
	}

	if p.Doc.Find("embed, object").Length() > 0 {
		score++
		indicators = append(indicators, "Embed/object tags")
	}
	if p.Doc.Find("table[cellpadding], font").Length() > 0 {
		score++
		indicators = append(indicators, "Table layout or font tags")
	}

	a := SiteAge{Score: score, Indicators: indicators}
	if a.Indicators == nil {
		a.Indicators = []string{}
	}
	switch {
	case score >= 4:
		a.Status, a.Opportunity = AgeVeryObsolete, model.GradeHigh
	case score >= 2:
		a.Status, a.Opportunity = AgeObsolete, model.GradeMedium
	case score >= 1:
		a.Status, a.Opportunity = AgeToModernize, model.GradeLow
	default:
		a.Status, a.Opportunity = AgeModern, model.GradeVeryLow
	}
	return a
}
