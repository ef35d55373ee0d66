package scorer

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/store"
)

// Source is the slice of the store the scorer reads from and writes to.
type Source interface {
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	LatestTechnical(ctx context.Context, companyID int64) (*model.ProbeRecord[model.TechnicalReport], error)
	LatestPentest(ctx context.Context, companyID int64) (*model.ProbeRecord[model.PentestReport], error)
	LatestOSINT(ctx context.Context, companyID int64) (*model.ProbeRecord[model.OSINTReport], error)
	ListScrapers(ctx context.Context, companyID int64) ([]model.ScraperRun, error)
	UpdateOpportunity(ctx context.Context, id int64, opp model.Opportunity) error
}

// LoadSignals gathers the latest persisted signals for a company. Missing
// probe rows are absent signals, not errors.
func LoadSignals(ctx context.Context, src Source, companyID int64) (Signals, error) {
	var s Signals

	c, err := src.GetCompany(ctx, companyID)
	if err != nil {
		return s, eris.Wrapf(err, "scorer: load company %d", companyID)
	}
	s.SiteAge = c.SiteAgeScore

	tech, err := src.LatestTechnical(ctx, companyID)
	if err = absent(err); err != nil {
		return s, eris.Wrapf(err, "scorer: load technical for company %d", companyID)
	}
	if tech != nil {
		sec := tech.Report.SecurityScore
		s.SecurityScore = &sec
		s.PerformanceScore = tech.Report.PerformanceScore
	}

	pen, err := src.LatestPentest(ctx, companyID)
	if err = absent(err); err != nil {
		return s, eris.Wrapf(err, "scorer: load pentest for company %d", companyID)
	}
	if pen != nil {
		risk := pen.Report.RiskScore
		s.RiskScore = &risk
		s.CriticalCount = pen.Report.CriticalCount
		s.HighCount = pen.Report.HighCount
	}

	osint, err := src.LatestOSINT(ctx, companyID)
	if err = absent(err); err != nil {
		return s, eris.Wrapf(err, "scorer: load osint for company %d", companyID)
	}
	if osint != nil {
		s.OSINT = &Yield{Emails: len(osint.Report.Emails), People: len(osint.Report.People)}
	}

	runs, err := src.ListScrapers(ctx, companyID)
	if err != nil {
		return s, eris.Wrapf(err, "scorer: load scrapers for company %d", companyID)
	}
	if len(runs) > 0 {
		// Newest first.
		n := runs[0].Counters
		s.Scraping = &Yield{Emails: n.Emails, People: n.People, Phones: n.Phones}
	}
	return s, nil
}

// Recompute scores a company from its persisted signals and stores the
// result on the company row.
func Recompute(ctx context.Context, src Source, companyID int64) (model.Opportunity, error) {
	s, err := LoadSignals(ctx, src, companyID)
	if err != nil {
		return model.Opportunity{}, err
	}
	opp := Score(s)
	if err := src.UpdateOpportunity(ctx, companyID, opp); err != nil {
		return opp, eris.Wrapf(err, "scorer: save opportunity for company %d", companyID)
	}

	zap.L().Debug("scorer: scored company",
		zap.Int64("company_id", companyID),
		zap.Int("score", opp.Score),
		zap.String("grade", string(opp.Grade)),
	)
	return opp, nil
}

// RecomputeAll rescores each company in turn. A failure on one company is
// logged and skipped; the count of companies scored is returned. Context
// cancellation stops the loop.
func RecomputeAll(ctx context.Context, src Source, ids []int64) (int, error) {
	var scored int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return scored, err
		}
		if _, err := Recompute(ctx, src, id); err != nil {
			if errors.Is(err, context.Canceled) {
				return scored, err
			}
			zap.L().Warn("scorer: recompute failed", zap.Int64("company_id", id), zap.Error(err))
			continue
		}
		scored++
	}

	zap.L().Info("scorer: recompute complete",
		zap.Int("companies", len(ids)),
		zap.Int("scored", scored),
	)
	return scored, nil
}

func absent(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
