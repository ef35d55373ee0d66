package store

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-intel/internal/geo"
	"github.com/sells-group/prospect-intel/internal/model"
)

// Nearby returns companies within q.RadiusKM of (q.Lat, q.Lon), nearest
// first. A bounding box narrows the scan; the exact haversine distance
// decides membership.
func (s *SQLiteStore) Nearby(ctx context.Context, q NearbyQuery) ([]model.NearbyCompany, error) {
	if !geo.ValidLatLon(q.Lat, q.Lon) {
		return nil, eris.Errorf("sqlite: nearby: invalid coordinates (%f, %f)", q.Lat, q.Lon)
	}
	if q.RadiusKM < 0 {
		return nil, eris.Errorf("sqlite: nearby: negative radius %f", q.RadiusKM)
	}

	center := geo.NewPoint(q.Lat, q.Lon)
	box := geo.Bounds(center, q.RadiusKM)

	query := `SELECT ` + companyColumns + ` FROM companies
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
			AND latitude BETWEEN ? AND ? AND id <> ?`
	args := []any{box.Min(1), box.Max(1), q.ExcludeID}
	if lons := geo.LonRanges(box); lons[0] != [2]float64{-180, 180} {
		conds := make([]string, len(lons))
		for i, r := range lons {
			conds[i] = `longitude BETWEEN ? AND ?`
			args = append(args, r[0], r[1])
		}
		query += ` AND (` + strings.Join(conds, ` OR `) + `)`
	}
	if q.Sector != "" {
		query += ` AND sector = ?`
		args = append(args, q.Sector)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: nearby")
	}
	defer rows.Close()

	var out []model.NearbyCompany
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		d := geo.HaversineKM(center, geo.NewPoint(*c.Latitude, *c.Longitude))
		if d > q.RadiusKM {
			continue
		}
		out = append(out, model.NearbyCompany{Company: *c, DistanceKM: geo.Round2(d)})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate nearby")
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKM != out[j].DistanceKM {
			return out[i].DistanceKM < out[j].DistanceKM
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Competition summarizes same-sector companies around a reference company.
func (s *SQLiteStore) Competition(ctx context.Context, companyID int64, radiusKM float64) (*model.Competition, error) {
	ref, err := s.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if !ref.HasCoordinates() {
		return nil, eris.Wrapf(ErrNoCoordinates, "sqlite: competition: company %d", companyID)
	}

	competitors, err := s.Nearby(ctx, NearbyQuery{
		Lat:       *ref.Latitude,
		Lon:       *ref.Longitude,
		RadiusKM:  radiusKM,
		Sector:    ref.Sector,
		ExcludeID: ref.ID,
	})
	if err != nil {
		return nil, err
	}

	out := &model.Competition{
		Reference:   *ref,
		RadiusKM:    radiusKM,
		Competitors: competitors,
		Count:       len(competitors),
	}
	if len(competitors) == 0 {
		return out, nil
	}

	var (
		sumDist          float64
		minDist, maxDist = competitors[0].DistanceKM, competitors[0].DistanceKM
		sumRating        float64
		rated            int
	)
	for _, c := range competitors {
		sumDist += c.DistanceKM
		minDist = min(minDist, c.DistanceKM)
		maxDist = max(maxDist, c.DistanceKM)
		if c.Rating != nil {
			sumRating += *c.Rating
			rated++
		}
		if c.ReviewsCount != nil {
			out.TotalReviews += *c.ReviewsCount
		}
	}
	avg := geo.Round2(sumDist / float64(len(competitors)))
	out.AvgDistanceKM = &avg
	out.MinDistanceKM = &minDist
	out.MaxDistanceKM = &maxDist
	if rated > 0 {
		r := geo.Round2(sumRating / float64(rated))
		out.AvgRating = &r
	}
	return out, nil
}
