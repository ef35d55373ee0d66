package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/prospect-intel/internal/model"
)

// ExtractLogo returns the absolute URL of the most likely site logo.
func ExtractLogo(p *Page) string {
	var found string
	for _, key := range []string{"class", "id", "alt"} {
		p.Doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr(key)
			if !strings.Contains(strings.ToLower(v), "logo") {
				return true
			}
			found = p.Resolve(attr(s, "src", "data-src"))
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	for _, sel := range []string{".logo img", "a.logo img", "header img", "nav img"} {
		p.Doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = p.Resolve(attr(s, "src", "data-src"))
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

const maxDescription = 300

var descriptionHints = []string{"description", "about", "presentation"}

// ExtractDescription returns a short description of the company: the meta
// description, else a description block, else the first substantial
// paragraph.
func ExtractDescription(p *Page) string {
	if d := metaContent(p.Doc, `meta[name="description"], meta[name="Description"]`); len([]rune(d)) > 20 {
		return truncate(d, maxDescription)
	}
	var found string
	p.Doc.Find("div, section").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		hay := strings.ToLower(attr(s, "class") + " " + attr(s, "id"))
		for _, h := range descriptionHints {
			if strings.Contains(hay, h) {
				if t := cleanText(s.Text()); len([]rune(t)) > 20 {
					found = t
					return false
				}
			}
		}
		return true
	})
	if found == "" {
		p.Doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t := cleanText(s.Text())
			if n := len([]rune(t)); n >= 50 && n <= 500 {
				found = t
				return false
			}
			return true
		})
	}
	return truncate(found, maxDescription)
}

var foundedRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:fondée?|créée?|établie?|founded|established|since|depuis)\s+(?:en\s+|in\s+)?((?:19|20)\d{2})\b`),
	regexp.MustCompile(`(?i)\b(?:depuis|en)\s+((?:19|20)\d{2})\b`),
	regexp.MustCompile(`©\s*((?:19|20)\d{2})\b`),
	regexp.MustCompile(`(?i)copyright\s+((?:19|20)\d{2})\b`),
}

// ExtractFoundedYear returns the founding year stated on the page, bounded
// to [1900, now.Year()+1].
func ExtractFoundedYear(p *Page, now time.Time) *int {
	text := p.Text()
	limit := now.Year() + 1
	for _, re := range foundedRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			y, err := strconv.Atoi(m[1])
			if err != nil || y < 1900 || y > limit {
				continue
			}
			return &y
		}
	}
	return nil
}

const (
	namePattern  = `(\p{Lu}[\p{Ll}'’]+(?:[ \-]\p{Lu}[\p{Ll}'’]+){1,3})`
	titlePattern = `(?i:directeur(?:rice)?(?: général(?:e)?)?|directrice|dirigeant(?:e)?|fondat(?:eur|rice)|co-?fondat(?:eur|rice)|gérant(?:e)?|ceo|cto|cfo|cmo|responsable|manager|président(?:e)?|pdg)`
)

var (
	titleThenName = regexp.MustCompile(`\b(` + titlePattern + `)\s*[:,\-–]?\s*` + namePattern)
	nameThenTitle = regexp.MustCompile(namePattern + `\s*[,\-–(]\s*(` + titlePattern + `)\b`)
	civilityName  = regexp.MustCompile(`\b(?:M\.|Mme|Monsieur|Madame|Mr\.?|Mrs\.?|Ms\.?)\s+` + namePattern)
	nameThenVerb  = regexp.MustCompile(namePattern + `\s+(?:gère|dirige|a fondé|fonde|a créé|crée)`)
)

// Words that disqualify a captured name.
var nameStopWords = []string{"directeur", "directrice", "dirigeant", "fondateur", "gérant", "entreprise", "société", "societe"}

var sectionHint = regexp.MustCompile(`(?i)equipe|équipe|team|about|a-propos|contact`)

// ExtractResponsible returns the most frequently named executive on the
// page.
func ExtractResponsible(p *Page) string {
	counts := make(map[string]int)
	var order []string
	add := func(name string) {
		name = cleanText(name)
		if !plausibleName(name) {
			return
		}
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	scan := func(text string) {
		for _, m := range titleThenName.FindAllStringSubmatch(text, -1) {
			add(m[2])
		}
		for _, m := range nameThenTitle.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
		for _, m := range civilityName.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
		for _, m := range nameThenVerb.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	}

	p.Doc.Find("section, div").Each(func(_ int, s *goquery.Selection) {
		if sectionHint.MatchString(attr(s, "class") + " " + attr(s, "id")) {
			scan(cleanText(s.Text()))
		}
	})
	p.Doc.Find("p, li, span, strong, h2, h3, h4, td").Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s.Text()); len(t) < 200 {
			scan(t)
		}
	})
	if len(counts) == 0 {
		scan(p.Text())
	}

	best, bestN := "", 0
	for _, name := range order {
		if counts[name] > bestN {
			best, bestN = name, counts[name]
		}
	}
	return best
}

// ExtractPeople returns the people named next to a job title on the page.
func ExtractPeople(p *Page) []model.ScrapedPerson {
	seen := make(map[string]int)
	var out []model.ScrapedPerson
	add := func(name, title string) {
		name = cleanText(name)
		if !plausibleName(name) {
			return
		}
		key := strings.ToLower(name)
		if i, ok := seen[key]; ok {
			if out[i].Title == "" {
				out[i].Title = title
			}
			return
		}
		seen[key] = len(out)
		out = append(out, model.ScrapedPerson{Name: name, Title: title, PageURL: p.URL.String()})
	}
	p.Doc.Find("p, li, span, strong, h2, h3, h4, td, div").Each(func(_ int, s *goquery.Selection) {
		t := cleanText(s.Text())
		if len(t) >= 200 {
			return
		}
		for _, m := range titleThenName.FindAllStringSubmatch(t, -1) {
			add(m[2], capitalizeTitle(m[1]))
		}
		for _, m := range nameThenTitle.FindAllStringSubmatch(t, -1) {
			add(m[1], capitalizeTitle(m[2]))
		}
		for _, m := range civilityName.FindAllStringSubmatch(t, -1) {
			add(m[1], "")
		}
	})
	return out
}

// NameFromEmail guesses a person name from an email local part such as
// "jean.dupont". Parts shorter than three letters or containing digits
// are dropped; fewer than two remaining parts yields "".
func NameFromEmail(email string) string {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	parts := strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == '_' || r == '-' })
	var words []string
	for _, part := range parts {
		if len([]rune(part)) <= 2 || !isAlpha(part) {
			continue
		}
		r := []rune(strings.ToLower(part))
		r[0] = unicode.ToUpper(r[0])
		words = append(words, string(r))
	}
	if len(words) < 2 {
		return ""
	}
	return strings.Join(words, " ")
}

func plausibleName(name string) bool {
	if name == "" || len(name) >= 60 {
		return false
	}
	if n := len(strings.Fields(strings.ReplaceAll(name, "-", " "))); n < 2 || n > 4 {
		return false
	}
	lower := strings.ToLower(name)
	for _, w := range nameStopWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	return true
}

func capitalizeTitle(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if len(t) <= 3 {
		return strings.ToUpper(t)
	}
	r := []rune(strings.ToLower(t))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

func cleanText(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
