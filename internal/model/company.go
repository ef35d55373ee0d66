package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Status is the commercial follow-up state of a company.
type Status string

const (
	StatusNew        Status = "New"
	StatusToQualify  Status = "ToQualify"
	StatusRelance    Status = "Relance"
	StatusWon        Status = "Won"
	StatusLost       Status = "Lost"
	StatusProspect   Status = "Prospect"
	StatusCompetitor Status = "Competitor"
)

// AllStatuses returns every canonical status.
func AllStatuses() []Status {
	return []Status{
		StatusNew,
		StatusToQualify,
		StatusRelance,
		StatusWon,
		StatusLost,
		StatusProspect,
		StatusCompetitor,
	}
}

// legacyStatuses maps spellings submitted by older callers onto canonical
// statuses. Keys are lowercase.
var legacyStatuses = map[string]Status{
	"new":         StatusNew,
	"nouveau":     StatusNew,
	"toqualify":   StatusToQualify,
	"to_qualify":  StatusToQualify,
	"to qualify":  StatusToQualify,
	"a_qualifier": StatusToQualify,
	"à qualifier": StatusToQualify,
	"a qualifier": StatusToQualify,
	"relance":     StatusRelance,
	"won":         StatusWon,
	"gagne":       StatusWon,
	"gagné":       StatusWon,
	"lost":        StatusLost,
	"perdu":       StatusLost,
	"prospect":    StatusProspect,
	"competitor":  StatusCompetitor,
	"concurrent":  StatusCompetitor,
	"competition": StatusCompetitor,
}

// ParseStatus normalizes a canonical or legacy status spelling.
func ParseStatus(s string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return StatusNew, nil
	}
	if st, ok := legacyStatuses[key]; ok {
		return st, nil
	}
	return "", eris.Errorf("model: unknown status %q", s)
}

// Grade is the opportunity grade of a prospect.
type Grade string

const (
	GradeVeryHigh Grade = "VeryHigh"
	GradeHigh     Grade = "High"
	GradeMedium   Grade = "Medium"
	GradeLow      Grade = "Low"
	GradeVeryLow  Grade = "VeryLow"
)

// GradeForScore maps a 0-100 opportunity score onto a grade.
func GradeForScore(score int) Grade {
	switch {
	case score >= 80:
		return GradeVeryHigh
	case score >= 60:
		return GradeHigh
	case score >= 40:
		return GradeMedium
	case score >= 20:
		return GradeLow
	default:
		return GradeVeryLow
	}
}

// Company is the aggregate root of the prospect corpus.
type Company struct {
	ID               int64              `json:"id"`
	AnalysisID       *int64             `json:"analysis_id,omitempty"`
	Name             string             `json:"name"`
	Website          string             `json:"website,omitempty"`
	Sector           string             `json:"sector,omitempty"`
	Status           Status             `json:"status"`
	Opportunity      Grade              `json:"opportunity,omitempty"`
	OpportunityScore *int               `json:"opportunity_score,omitempty"`
	Breakdown        map[string]float64 `json:"opportunity_breakdown,omitempty"`
	Email            string             `json:"email,omitempty"`
	Responsible      string             `json:"responsible,omitempty"`
	Size             string             `json:"size,omitempty"`
	Hosting          string             `json:"hosting,omitempty"`
	Framework        string             `json:"framework,omitempty"`
	SecurityScore    *int               `json:"security_score,omitempty"`
	PentestScore     *int               `json:"pentest_score,omitempty"`
	Tags             []string           `json:"tags"`
	Notes            string             `json:"notes,omitempty"`
	Favorite         bool               `json:"favorite"`
	Phone            string             `json:"phone,omitempty"`
	Country          string             `json:"country,omitempty"`
	Address1         string             `json:"address_1,omitempty"`
	Address2         string             `json:"address_2,omitempty"`
	Longitude        *float64           `json:"longitude,omitempty"`
	Latitude         *float64           `json:"latitude,omitempty"`
	Rating           *float64           `json:"rating,omitempty"`
	ReviewsCount     *int               `json:"reviews_count,omitempty"`
	Summary          string             `json:"summary,omitempty"`
	OGImage          string             `json:"og_image,omitempty"`
	Favicon          string             `json:"favicon,omitempty"`
	Logo             string             `json:"logo,omitempty"`
	OGData           map[string]any     `json:"og_data,omitempty"`
	SiteAgeScore     *int               `json:"site_age_score,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (c *Company) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// CompanyInput is the payload accepted by the store when saving a company,
// typically produced by spreadsheet ingestion.
type CompanyInput struct {
	Name              string         `json:"name"`
	Website           string         `json:"website,omitempty"`
	Sector            string         `json:"sector,omitempty"`
	Category          string         `json:"category,omitempty"`
	CategoryTranslate string         `json:"category_translate,omitempty"`
	Phone             string         `json:"phone_number,omitempty"`
	Country           string         `json:"country,omitempty"`
	Address1          string         `json:"address_1,omitempty"`
	Address2          string         `json:"address_2,omitempty"`
	AddressFull       string         `json:"address_full,omitempty"`
	Longitude         *float64       `json:"longitude,omitempty"`
	Latitude          *float64       `json:"latitude,omitempty"`
	Rating            *float64       `json:"rating,omitempty"`
	ReviewsCount      *int           `json:"reviews_count,omitempty"`
	Resume            string         `json:"resume,omitempty"`
	OGImage           string         `json:"og_image,omitempty"`
	Favicon           string         `json:"favicon,omitempty"`
	Logo              string         `json:"logo,omitempty"`
	OGData            map[string]any `json:"og_data,omitempty"`
}

// ResolvedSector picks the sector in priority order: explicit sector,
// translated category, raw category.
func (in *CompanyInput) ResolvedSector() string {
	for _, s := range []string{in.Sector, in.CategoryTranslate, in.Category} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// NormalizeKey lowercases and trims a value used in a dedup key.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Enrichment carries the company-level fields written back by the
// analysis and scrape stages. Empty strings and nil pointers are left
// untouched by the store.
type Enrichment struct {
	Email         string
	Responsible   string
	Size          string
	Sector        string
	Hosting       string
	Framework     string
	SecurityScore *int
	PentestScore  *int
	Logo          string
	Favicon       string
	OGImage       string
	Summary       string
	SiteAgeScore  *int
}

// Opportunity is the outcome of scoring a company.
type Opportunity struct {
	Grade            Grade              `json:"grade"`
	Score            int                `json:"score"`
	MaxPossibleScore float64            `json:"max_possible_score"`
	ActualScore      float64            `json:"actual_score"`
	Breakdown        map[string]float64 `json:"breakdown"`
	Indicators       []string           `json:"indicators"`
}
