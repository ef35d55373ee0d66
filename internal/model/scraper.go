package model

import "time"

// ScraperKind identifies what a scraper run collected.
type ScraperKind string

const (
	ScraperEmails       ScraperKind = "emails"
	ScraperPeople       ScraperKind = "people"
	ScraperPhones       ScraperKind = "phones"
	ScraperSocial       ScraperKind = "social"
	ScraperTechnologies ScraperKind = "technologies"
	ScraperMetadata     ScraperKind = "metadata"
	ScraperUnified      ScraperKind = "unified"
	ScraperGlobal       ScraperKind = "global"
)

// Valid reports whether k is a known scraper kind.
func (k ScraperKind) Valid() bool {
	switch k {
	case ScraperEmails, ScraperPeople, ScraperPhones, ScraperSocial,
		ScraperTechnologies, ScraperMetadata, ScraperUnified, ScraperGlobal:
		return true
	}
	return false
}

// Counters summarizes what a scraper run found.
type Counters struct {
	Emails          int `json:"emails"`
	People          int `json:"people"`
	Phones          int `json:"phones"`
	SocialPlatforms int `json:"social_platforms"`
	Technologies    int `json:"technologies"`
	Metadata        int `json:"metadata"`
	Images          int `json:"images"`
}

// ScrapedEmail is an email address found on a page.
type ScrapedEmail struct {
	Email   string `json:"email"`
	PageURL string `json:"page_url,omitempty"`
}

// ScrapedPhone is a phone number found on a page.
type ScrapedPhone struct {
	Phone   string `json:"phone"`
	PageURL string `json:"page_url,omitempty"`
}

// SocialProfile is a link to a company profile on a social platform.
type SocialProfile struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
}

// Technology is a detected library, framework, or CMS.
type Technology struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
}

// ScrapedPerson is a person mention found on the site.
type ScrapedPerson struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Email       string `json:"email,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	PageURL     string `json:"page_url,omitempty"`
	PersonID    *int64 `json:"person_id,omitempty"`
}

// Image is an image referenced by the site. Images are deduplicated per
// company by URL.
type Image struct {
	URL     string `json:"url"`
	Alt     string `json:"alt,omitempty"`
	PageURL string `json:"page_url,omitempty"`
	Width   *int   `json:"width,omitempty"`
	Height  *int   `json:"height,omitempty"`
}

// SiteMetadata is the company-level information derived from a scrape.
type SiteMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
	OGImage     string `json:"og_image,omitempty"`
	Sector      string `json:"sector,omitempty"`
	Size        string `json:"size,omitempty"`
	Responsible string `json:"responsible,omitempty"`
	FoundedYear *int   `json:"founded_year,omitempty"`
	ContactPage string `json:"contact_page,omitempty"`
	Language    string `json:"language,omitempty"`
}

// Fields counts the non-empty metadata fields.
func (m *SiteMetadata) Fields() int {
	n := 0
	for _, s := range []string{m.Title, m.Description, m.Logo, m.Favicon, m.OGImage, m.Sector, m.Size, m.Responsible, m.ContactPage, m.Language} {
		if s != "" {
			n++
		}
	}
	if m.FoundedYear != nil {
		n++
	}
	return n
}

// Artifacts holds every datum produced by one scraper run. Saving a run
// replaces all previously stored artifacts for the same run.
type Artifacts struct {
	Emails       []ScrapedEmail  `json:"emails"`
	Phones       []ScrapedPhone  `json:"phones"`
	Social       []SocialProfile `json:"social_profiles"`
	Technologies []Technology    `json:"technologies"`
	People       []ScrapedPerson `json:"people"`
	Images       []Image         `json:"images"`
}

// ScraperRun is one execution of the site scraper against a URL and kind.
type ScraperRun struct {
	ID          int64        `json:"id"`
	CompanyID   int64        `json:"company_id"`
	URL         string       `json:"url"`
	Kind        ScraperKind  `json:"kind"`
	VisitedURLs int          `json:"visited_urls"`
	Counters    Counters     `json:"counters"`
	Duration    float64      `json:"duration"`
	Resume      string       `json:"resume,omitempty"`
	Metadata    SiteMetadata `json:"metadata"`
	Artifacts   Artifacts    `json:"artifacts"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
