package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrNoCoordinates is returned by geospatial queries on a company without
// a location.
var ErrNoCoordinates = eris.New("store: company has no coordinates")

// ErrInvalidManager is returned when a manager link would cross companies
// or create a cycle.
var ErrInvalidManager = eris.New("store: invalid manager")

// CompanyFilter specifies criteria for listing companies. Score ranges are
// clamped to [0,100]; nil bounds are open.
type CompanyFilter struct {
	AnalysisID  *int64 `json:"analysis_id,omitempty"`
	GroupID     *int64 `json:"group_id,omitempty"`
	Sector      string `json:"sector,omitempty"`
	Status      string `json:"status,omitempty"`
	Opportunity string `json:"opportunity,omitempty"`
	Favorite    *bool  `json:"favorite,omitempty"`
	Search      string `json:"search,omitempty"`
	SecurityMin *int   `json:"security_min,omitempty"`
	SecurityMax *int   `json:"security_max,omitempty"`
	PentestMin  *int   `json:"pentest_min,omitempty"`
	PentestMax  *int   `json:"pentest_max,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// NearbyQuery specifies a radius search around a point.
type NearbyQuery struct {
	Lat      float64
	Lon      float64
	RadiusKM float64
	Sector   string
	Limit    int
	// ExcludeID skips one company, typically the reference itself.
	ExcludeID int64
}

// ScraperSave is the full input of one scraper run. Artifacts replace any
// previously stored artifacts for the same (company, url, kind).
type ScraperSave struct {
	CompanyID   int64
	URL         string
	Kind        model.ScraperKind
	VisitedURLs int
	Counters    model.Counters
	Duration    float64
	Resume      string
	Metadata    model.SiteMetadata
	Artifacts   model.Artifacts
}

// Store defines the persistence interface for the prospect corpus.
type Store interface {
	// Companies
	FindDuplicate(ctx context.Context, name, website, addr1, addr2 string) (int64, bool, error)
	SaveCompany(ctx context.Context, analysisID *int64, in model.CompanyInput, skipDuplicates bool) (int64, bool, error)
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, int, error)
	DeleteCompany(ctx context.Context, id int64) error
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	UpdateTags(ctx context.Context, id int64, tags []string) error
	UpdateNotes(ctx context.Context, id int64, notes string) error
	UpdateStatus(ctx context.Context, id int64, status string) (model.Status, error)
	UpdateOpportunity(ctx context.Context, id int64, opp model.Opportunity) error
	UpdateEnrichment(ctx context.Context, id int64, e model.Enrichment) error

	// Analyses (batches)
	CreateAnalysis(ctx context.Context, filename string, totalRows int, params map[string]any) (int64, error)
	FinishAnalysis(ctx context.Context, id int64, status model.AnalysisStatus, duration float64, output *string, warnings []model.RowWarning) error
	GetAnalysis(ctx context.Context, id int64) (*model.Analysis, error)
	ListAnalyses(ctx context.Context, limit, offset int) ([]model.Analysis, error)
	DeleteAnalysis(ctx context.Context, id int64) error

	// Scrapers
	SaveScraper(ctx context.Context, in ScraperSave) (int64, error)
	GetScraper(ctx context.Context, id int64) (*model.ScraperRun, error)
	ListScrapers(ctx context.Context, companyID int64) ([]model.ScraperRun, error)
	DeleteScraper(ctx context.Context, id int64) error
	ListImages(ctx context.Context, companyID int64) ([]model.Image, error)

	// Probe aggregates
	SaveTechnical(ctx context.Context, companyID int64, url string, r *model.TechnicalReport) (int64, error)
	UpdateTechnical(ctx context.Context, id int64, r *model.TechnicalReport) (int64, error)
	LatestTechnical(ctx context.Context, companyID int64) (*model.ProbeRecord[model.TechnicalReport], error)
	SaveOSINT(ctx context.Context, companyID int64, url string, r *model.OSINTReport) (int64, error)
	UpdateOSINT(ctx context.Context, id int64, r *model.OSINTReport) (int64, error)
	LatestOSINT(ctx context.Context, companyID int64) (*model.ProbeRecord[model.OSINTReport], error)
	SavePentest(ctx context.Context, companyID int64, url string, r *model.PentestReport) (int64, error)
	UpdatePentest(ctx context.Context, id int64, r *model.PentestReport) (int64, error)
	LatestPentest(ctx context.Context, companyID int64) (*model.ProbeRecord[model.PentestReport], error)
	SaveSEO(ctx context.Context, companyID int64, url string, r *model.SEOReport) (int64, error)
	UpdateSEO(ctx context.Context, id int64, r *model.SEOReport) (int64, error)
	LatestSEO(ctx context.Context, companyID int64) (*model.ProbeRecord[model.SEOReport], error)
	DeleteProbes(ctx context.Context, companyID int64, kind model.ProbeKind) error

	// Persons
	UpsertPerson(ctx context.Context, p model.Person) (int64, error)
	ListPersons(ctx context.Context, companyID int64) ([]model.Person, error)
	SetManager(ctx context.Context, personID int64, managerID *int64) error
	LinkScraperPeople(ctx context.Context, companyID int64) (int, error)

	// Geospatial
	Nearby(ctx context.Context, q NearbyQuery) ([]model.NearbyCompany, error)
	Competition(ctx context.Context, companyID int64, radiusKM float64) (*model.Competition, error)

	// Groups
	CreateGroup(ctx context.Context, name, color, description string) (int64, error)
	ListGroups(ctx context.Context) ([]model.Group, error)
	AddToGroup(ctx context.Context, groupID, companyID int64) error
	RemoveFromGroup(ctx context.Context, groupID, companyID int64) error
	DeleteGroup(ctx context.Context, groupID int64) error

	// API tokens
	CreateToken(ctx context.Context, name, appURL string, userID *int64, caps model.TokenCaps) (*model.APIToken, error)
	ValidateToken(ctx context.Context, token string) (*model.APIToken, error)
	RevokeToken(ctx context.Context, id int64) error
	ListTokens(ctx context.Context) ([]model.APIToken, error)

	// Reporting
	Statistics(ctx context.Context, analysisID *int64) (*model.Statistics, error)
	ClearAll(ctx context.Context) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
