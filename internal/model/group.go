package model

import "time"

// Group is a named, colored bucket of companies.
type Group struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Color        string    `json:"color"`
	Description  string    `json:"description,omitempty"`
	CompanyCount int       `json:"company_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenCaps are the capability bits of an API token.
type TokenCaps struct {
	ReadCompanies bool `json:"can_read_companies"`
	ReadEmails    bool `json:"can_read_emails"`
	ReadStats     bool `json:"can_read_stats"`
	ReadGroups    bool `json:"can_read_groups"`
}

// APIToken is an opaque bearer token used by sibling applications.
type APIToken struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	Name      string     `json:"name"`
	AppURL    string     `json:"app_url,omitempty"`
	UserID    *int64     `json:"user_id,omitempty"`
	Active    bool       `json:"is_active"`
	Caps      TokenCaps  `json:"caps"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// Statistics summarizes the corpus, optionally scoped to one analysis.
type Statistics struct {
	Total             int            `json:"total"`
	Favorites         int            `json:"favorites"`
	WithEmail         int            `json:"with_email"`
	WithWebsite       int            `json:"with_website"`
	BySector          map[string]int `json:"by_sector"`
	ByOpportunity     map[string]int `json:"by_opportunity"`
	ByStatus          map[string]int `json:"by_status"`
	AvgSecurityScore  *float64       `json:"avg_security_score,omitempty"`
	AvgPentestScore   *float64       `json:"avg_pentest_score,omitempty"`
	ScrapedCompanies  int            `json:"scraped_companies"`
	AnalyzedCompanies int            `json:"analyzed_companies"`
}

// NearbyCompany is a company with its distance from a reference point.
type NearbyCompany struct {
	Company
	DistanceKM float64 `json:"distance_km"`
}

// Competition summarizes same-sector companies around a reference.
type Competition struct {
	Reference     Company         `json:"reference"`
	RadiusKM      float64         `json:"radius_km"`
	Competitors   []NearbyCompany `json:"competitors"`
	Count         int             `json:"count"`
	AvgDistanceKM *float64        `json:"avg_distance_km,omitempty"`
	MinDistanceKM *float64        `json:"min_distance_km,omitempty"`
	MaxDistanceKM *float64        `json:"max_distance_km,omitempty"`
	AvgRating     *float64        `json:"avg_rating,omitempty"`
	TotalReviews  int             `json:"total_reviews"`
}
