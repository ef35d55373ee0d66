package model

import "time"

// ProbeKind names one of the four deep-probe analyzers.
type ProbeKind string

const (
	ProbeTechnical ProbeKind = "technical"
	ProbeOSINT     ProbeKind = "osint"
	ProbePentest   ProbeKind = "pentest"
	ProbeSEO       ProbeKind = "seo"
)

// AllProbes returns the probe kinds in execution order.
func AllProbes() []ProbeKind {
	return []ProbeKind{ProbeTechnical, ProbeOSINT, ProbePentest, ProbeSEO}
}

// Diagnostic records tool availability and sub-analysis failures of a probe.
type Diagnostic struct {
	Tools  map[string]bool   `json:"tools"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Fail records a failed sub-analysis.
func (d *Diagnostic) Fail(step string, err error) {
	if err == nil {
		return
	}
	if d.Errors == nil {
		d.Errors = make(map[string]string)
	}
	d.Errors[step] = err.Error()
}

// ServerInfo is parsed from the Server response header.
type ServerInfo struct {
	Type    string `json:"type,omitempty"`
	Version string `json:"version,omitempty"`
	OS      string `json:"os,omitempty"`
}

// WhoisInfo is the subset of WHOIS data kept by the probes.
type WhoisInfo struct {
	Registrar   string   `json:"registrar,omitempty"`
	Created     string   `json:"creation_date,omitempty"`
	Expires     string   `json:"expiration_date,omitempty"`
	Updated     string   `json:"updated_date,omitempty"`
	NameServers []string `json:"name_servers,omitempty"`
	Registrant  string   `json:"registrant,omitempty"`
	Country     string   `json:"country,omitempty"`
}

// SSLInfo describes the leaf certificate and negotiated protocol.
type SSLInfo struct {
	Valid        bool      `json:"valid"`
	Issuer       string    `json:"issuer,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	DaysToExpiry int       `json:"days_to_expiry"`
	Protocol     string    `json:"protocol,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// CMSPlugin is a plugin or extension of a detected CMS.
type CMSPlugin struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Port is an open port reported by nmap.
type Port struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
	Version  string `json:"version,omitempty"`
}

// RobotsInfo is the parsed robots.txt.
type RobotsInfo struct {
	Present  bool     `json:"present"`
	Disallow []string `json:"disallow,omitempty"`
	Sitemaps []string `json:"sitemaps,omitempty"`
}

// AssetCounts counts static assets referenced by the home page.
type AssetCounts struct {
	Scripts     int `json:"scripts"`
	Stylesheets int `json:"stylesheets"`
	Images      int `json:"images"`
	Inline      int `json:"inline_scripts"`
}

// TechnicalReport is the output of the technical probe.
type TechnicalReport struct {
	URL              string            `json:"url"`
	Domain           string            `json:"domain"`
	StatusCode       int               `json:"status_code,omitempty"`
	Server           ServerInfo        `json:"server"`
	PoweredBy        string            `json:"powered_by,omitempty"`
	PHPVersion       string            `json:"php_version,omitempty"`
	AspNetVersion    string            `json:"aspnet_version,omitempty"`
	IP               string            `json:"ip,omitempty"`
	Hostname         string            `json:"hostname,omitempty"`
	Hosting          string            `json:"hosting,omitempty"`
	Whois            *WhoisInfo        `json:"whois,omitempty"`
	CMS              string            `json:"cms,omitempty"`
	CMSVersion       string            `json:"cms_version,omitempty"`
	CMSPlugins       []CMSPlugin       `json:"cms_plugins"`
	Frameworks       []Technology      `json:"frameworks,omitempty"`
	CDN              string            `json:"cdn,omitempty"`
	WAF              string            `json:"waf,omitempty"`
	Analytics        []string          `json:"analytics"`
	SecurityHeaders  map[string]string `json:"security_headers"`
	SSL              *SSLInfo          `json:"ssl,omitempty"`
	Robots           RobotsInfo        `json:"robots"`
	SitemapPresent   bool              `json:"sitemap_present"`
	SitemapURLs      int               `json:"sitemap_urls"`
	Assets           AssetCounts       `json:"assets"`
	LastModified     string            `json:"last_modified,omitempty"`
	Ports            []Port            `json:"ports,omitempty"`
	OSGuess          string            `json:"os_guess,omitempty"`
	SecurityScore    int               `json:"security_score"`
	PerformanceScore *int              `json:"performance_score,omitempty"`
	Diagnostic       Diagnostic        `json:"diagnostic"`
}

// DNSRecord is one resolved DNS record.
type DNSRecord struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// OSINTEmail is an email address with the source that produced it.
type OSINTEmail struct {
	Email  string `json:"email"`
	Source string `json:"source,omitempty"`
}

// OSINTPerson is a person correlated by the OSINT probe.
type OSINTPerson struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Email       string `json:"email,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Level       int    `json:"hierarchy_level"`
	Role        string `json:"role"`
	Source      string `json:"source,omitempty"`
}

// OSINTSummary counts OSINT findings.
type OSINTSummary struct {
	Subdomains  int `json:"subdomains"`
	DNSRecords  int `json:"dns_records"`
	Emails      int `json:"emails"`
	People      int `json:"people"`
	SocialMedia int `json:"social_media"`
}

// OSINTReport is the output of the OSINT probe.
type OSINTReport struct {
	Domain       string          `json:"domain"`
	Subdomains   []string        `json:"subdomains"`
	DNSRecords   []DNSRecord     `json:"dns_records"`
	Whois        *WhoisInfo      `json:"whois,omitempty"`
	Emails       []OSINTEmail    `json:"emails"`
	SocialMedia  []SocialProfile `json:"social_media"`
	Technologies []string        `json:"technologies"`
	People       []OSINTPerson   `json:"people"`
	Summary      OSINTSummary    `json:"summary"`
	ToolsUsed    []string        `json:"tools_used"`
	Diagnostic   Diagnostic      `json:"diagnostic"`
}

// Severity levels used by the pentest probe.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Vulnerability is a finding of the pentest probe.
type Vulnerability struct {
	Name           string `json:"name"`
	Severity       string `json:"severity"`
	Description    string `json:"description,omitempty"`
	Evidence       string `json:"evidence,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// HeaderCheck is the evaluation of one security header.
type HeaderCheck struct {
	Name     string `json:"name"`
	Present  bool   `json:"present"`
	Value    string `json:"value,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// CMSVulnerability is a known issue of a CMS version.
type CMSVulnerability struct {
	CMS      string `json:"cms"`
	Version  string `json:"version,omitempty"`
	Issue    string `json:"issue"`
	Severity string `json:"severity"`
}

// PentestReport is the output of the pentest probe.
type PentestReport struct {
	URL                string             `json:"url"`
	Domain             string             `json:"domain"`
	Vulnerabilities    []Vulnerability    `json:"vulnerabilities"`
	SecurityHeaders    []HeaderCheck      `json:"security_headers"`
	CMSVulnerabilities []CMSVulnerability `json:"cms_vulnerabilities"`
	OpenPorts          []Port             `json:"open_ports"`
	TLS                *SSLInfo           `json:"tls,omitempty"`
	CriticalCount      int                `json:"critical_count"`
	HighCount          int                `json:"high_count"`
	RiskScore          int                `json:"risk_score"`
	Diagnostic         Diagnostic         `json:"diagnostic"`
}

// SEO issue types and impacts.
const (
	IssueCritical = "critical"
	IssueWarning  = "warning"
	IssueInfo     = "info"
	ImpactHigh    = "high"
	ImpactMedium  = "medium"
	ImpactLow     = "low"
)

// SEOIssue is a rule violation found by the SEO probe.
type SEOIssue struct {
	Type     string `json:"type"`
	Category string `json:"category"`
	Impact   string `json:"impact"`
	Message  string `json:"message"`
}

// MetaTag is one name/content pair of the head section.
type MetaTag struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SEOStructure counts structural elements of the page.
type SEOStructure struct {
	H1               int    `json:"h1_count"`
	H2               int    `json:"h2_count"`
	H3               int    `json:"h3_count"`
	Images           int    `json:"images_count"`
	ImagesWithoutAlt int    `json:"images_without_alt"`
	InternalLinks    int    `json:"internal_links"`
	ExternalLinks    int    `json:"external_links"`
	Lang             string `json:"lang,omitempty"`
}

// LighthouseScores holds category scores in [0,1] from a Lighthouse audit.
type LighthouseScores struct {
	SEO         *float64 `json:"seo,omitempty"`
	Performance *float64 `json:"performance,omitempty"`
}

// SEOReport is the output of the SEO probe.
type SEOReport struct {
	URL            string            `json:"url"`
	Domain         string            `json:"domain"`
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	MetaTags       []MetaTag         `json:"meta_tags"`
	Headers        map[string]string `json:"headers"`
	Structure      SEOStructure      `json:"structure"`
	SitemapPresent bool              `json:"sitemap_present"`
	RobotsPresent  bool              `json:"robots_present"`
	Lighthouse     *LighthouseScores `json:"lighthouse,omitempty"`
	Score          int               `json:"score"`
	Issues         []SEOIssue        `json:"issues"`
	Diagnostic     Diagnostic        `json:"diagnostic"`
}

// ProbeReport is satisfied by the four probe report types.
type ProbeReport interface {
	TechnicalReport | OSINTReport | PentestReport | SEOReport
}

// ProbeRecord is a stored probe analysis.
type ProbeRecord[R ProbeReport] struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	Report    R         `json:"report"`
	CreatedAt time.Time `json:"created_at"`
}
