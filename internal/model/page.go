package model

import (
	"net/url"
	"strings"
)

// PageType is a coarse classification of a crawled page by its path.
type PageType string

const (
	PageTypeHomepage PageType = "homepage"
	PageTypeContact  PageType = "contact"
	PageTypeAbout    PageType = "about"
	PageTypeTeam     PageType = "team"
	PageTypeLegal    PageType = "legal"
	PageTypeCareers  PageType = "careers"
	PageTypeOther    PageType = "other"
)

// AllPageTypes returns all defined page types.
func AllPageTypes() []PageType {
	return []PageType{
		PageTypeHomepage,
		PageTypeContact,
		PageTypeAbout,
		PageTypeTeam,
		PageTypeLegal,
		PageTypeCareers,
		PageTypeOther,
	}
}

var pageTypeTokens = []struct {
	pt     PageType
	tokens []string
}{
	{PageTypeContact, []string{"contact", "nous-contacter"}},
	{PageTypeTeam, []string{"equipe", "team", "notre-equipe", "qui-sommes-nous"}},
	{PageTypeAbout, []string{"about", "a-propos", "apropos", "societe", "entreprise"}},
	{PageTypeLegal, []string{"mentions-legales", "legal", "cgv", "cgu", "privacy", "confidentialite"}},
	{PageTypeCareers, []string{"carriere", "careers", "recrutement", "jobs"}},
}

// ClassifyPage returns the page type for a URL based on its path.
func ClassifyPage(rawURL string) PageType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PageTypeOther
	}
	p := strings.ToLower(strings.Trim(u.Path, "/"))
	if p == "" || p == "index.html" || p == "index.php" {
		return PageTypeHomepage
	}
	for _, e := range pageTypeTokens {
		for _, tok := range e.tokens {
			if strings.Contains(p, tok) {
				return e.pt
			}
		}
	}
	return PageTypeOther
}

// RichInPeople reports whether pages of this type usually name people.
func (pt PageType) RichInPeople() bool {
	return pt == PageTypeTeam || pt == PageTypeAbout || pt == PageTypeLegal || pt == PageTypeContact
}
