package model

import (
	"strings"
	"time"
)

// Hierarchy levels run from 1 (executive) to 5 (individual contributor).
const (
	LevelExecutive    = 1
	LevelDirector     = 2
	LevelManager      = 3
	LevelExpert       = 4
	LevelContributor  = 5
	RoleDirection     = "Direction"
	RoleManagement    = "Management"
	RoleExpert        = "Expert"
	RoleCollaborateur = "Collaborateur"
)

// Person is a company-scoped individual. ManagerID references another
// person of the same company.
type Person struct {
	ID             int64             `json:"id"`
	CompanyID      int64             `json:"company_id"`
	Name           string            `json:"name"`
	Title          string            `json:"title,omitempty"`
	Email          string            `json:"email,omitempty"`
	LinkedInURL    string            `json:"linkedin_url,omitempty"`
	Level          int               `json:"hierarchy_level"`
	Role           string            `json:"role"`
	ManagerID      *int64            `json:"manager_id,omitempty"`
	SocialProfiles map[string]string `json:"social_profiles,omitempty"`
	OSINT          map[string]any    `json:"osint,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

var hierarchyRules = []struct {
	level    int
	role     string
	keywords []string
}{
	{LevelExecutive, RoleDirection, []string{"ceo", "pdg", "directeur général", "directeur general", "président", "president", "founder", "fondateur", "gérant", "gerant"}},
	{LevelDirector, RoleDirection, []string{"directeur", "directrice", "director", "head of", "cto", "cfo", "cmo", "coo"}},
	{LevelManager, RoleManagement, []string{"manager", "responsable", "chef de", "lead"}},
	{LevelExpert, RoleExpert, []string{"senior", "expert"}},
}

// InferHierarchy derives a hierarchy level and role bucket from a job title.
func InferHierarchy(title string) (int, string) {
	t := strings.ToLower(title)
	for _, r := range hierarchyRules {
		for _, kw := range r.keywords {
			if strings.Contains(t, kw) {
				return r.level, r.role
			}
		}
	}
	return LevelContributor, RoleCollaborateur
}
