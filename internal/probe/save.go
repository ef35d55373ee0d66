package probe

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Saver is the part of the store used to persist probe reports.
type Saver interface {
	SaveTechnical(ctx context.Context, companyID int64, url string, r *model.TechnicalReport) (int64, error)
	SaveOSINT(ctx context.Context, companyID int64, url string, r *model.OSINTReport) (int64, error)
	SavePentest(ctx context.Context, companyID int64, url string, r *model.PentestReport) (int64, error)
	SaveSEO(ctx context.Context, companyID int64, url string, r *model.SEOReport) (int64, error)
	UpdateEnrichment(ctx context.Context, id int64, e model.Enrichment) error
	UpsertPerson(ctx context.Context, p model.Person) (int64, error)
}

// Save stores a report returned by Run and copies its headline fields
// onto the company: hosting, framework and security score from the
// technical probe, the risk score from the pentest probe, and the people
// correlated by the OSINT probe.
func Save(ctx context.Context, st Saver, companyID int64, url string, report any) (int64, error) {
	switch r := report.(type) {
	case *model.TechnicalReport:
		id, err := st.SaveTechnical(ctx, companyID, url, r)
		if err != nil {
			return 0, err
		}
		e := model.Enrichment{Hosting: r.Hosting, Framework: r.CMS, SecurityScore: &r.SecurityScore}
		if e.Framework == "" && len(r.Frameworks) > 0 {
			e.Framework = r.Frameworks[0].Name
		}
		return id, eris.Wrap(st.UpdateEnrichment(ctx, companyID, e), "probe: enrich from technical")
	case *model.OSINTReport:
		id, err := st.SaveOSINT(ctx, companyID, url, r)
		if err != nil {
			return 0, err
		}
		for _, p := range r.People {
			if _, err := st.UpsertPerson(ctx, model.Person{
				CompanyID:   companyID,
				Name:        p.Name,
				Title:       p.Title,
				Email:       p.Email,
				LinkedInURL: p.LinkedInURL,
				Level:       p.Level,
				Role:        p.Role,
				OSINT:       map[string]any{"source": p.Source},
			}); err != nil {
				return id, eris.Wrapf(err, "probe: save person %q", p.Name)
			}
		}
		return id, nil
	case *model.PentestReport:
		id, err := st.SavePentest(ctx, companyID, url, r)
		if err != nil {
			return 0, err
		}
		return id, eris.Wrap(st.UpdateEnrichment(ctx, companyID, model.Enrichment{PentestScore: &r.RiskScore}),
			"probe: enrich from pentest")
	case *model.SEOReport:
		return st.SaveSEO(ctx, companyID, url, r)
	}
	return 0, eris.Errorf("probe: cannot save report of type %T", report)
}
