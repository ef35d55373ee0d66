package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/model"
)

const (
	metzLat, metzLon   = 49.1193, 6.1757
	reimsLat, reimsLon = 49.2583, 4.0317
)

func TestSQLite_Nearby_Radius(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	reims := mustCompany(t, st, model.CompanyInput{Name: "Reims Co", Latitude: ptr(reimsLat), Longitude: ptr(reimsLon)})
	mustCompany(t, st, model.CompanyInput{Name: "No Coords"})

	got, err := st.Nearby(ctx, NearbyQuery{Lat: metzLat, Lon: metzLon, RadiusKM: 100})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = st.Nearby(ctx, NearbyQuery{Lat: metzLat, Lon: metzLon, RadiusKM: 200})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, reims, got[0].ID)
	assert.GreaterOrEqual(t, got[0].DistanceKM, 156.0)
	assert.LessOrEqual(t, got[0].DistanceKM, 157.5)
}

func TestSQLite_Nearby_EdgesOfTheMap(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	east := mustCompany(t, st, model.CompanyInput{Name: "Across", Latitude: ptr(0.0), Longitude: ptr(-179.9)})
	north := mustCompany(t, st, model.CompanyInput{Name: "Arctic", Latitude: ptr(81.8), Longitude: ptr(35.0)})
	pole := mustCompany(t, st, model.CompanyInput{Name: "Pole", Latitude: ptr(88.0), Longitude: ptr(180.0)})

	tests := []struct {
		name     string
		lat, lon float64
		radius   float64
		want     int64
	}{
		{"antimeridian", 0, 179.9, 50, east},
		{"high latitude", 80, 0, 640, north},
		{"around the pole", 87, 0, 600, pole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.Nearby(ctx, NearbyQuery{Lat: tt.lat, Lon: tt.lon, RadiusKM: tt.radius})
			require.NoError(t, err)
			ids := make([]int64, 0, len(got))
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Contains(t, ids, tt.want)
		})
	}
}

func TestSQLite_Nearby_OrderSectorLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Points roughly 1, 5, and 20 km north of Metz.
	far := mustCompany(t, st, model.CompanyInput{Name: "Far", Sector: "Bakery", Latitude: ptr(metzLat + 0.18), Longitude: ptr(metzLon)})
	near := mustCompany(t, st, model.CompanyInput{Name: "Near", Sector: "Bakery", Latitude: ptr(metzLat + 0.009), Longitude: ptr(metzLon)})
	mid := mustCompany(t, st, model.CompanyInput{Name: "Mid", Sector: "Garage", Latitude: ptr(metzLat + 0.045), Longitude: ptr(metzLon)})

	got, err := st.Nearby(ctx, NearbyQuery{Lat: metzLat, Lon: metzLon, RadiusKM: 50})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{near, mid, far}, []int64{got[0].ID, got[1].ID, got[2].ID})
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].DistanceKM, got[i].DistanceKM)
	}

	got, err = st.Nearby(ctx, NearbyQuery{Lat: metzLat, Lon: metzLon, RadiusKM: 50, Sector: "Bakery", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, near, got[0].ID)

	_, err = st.Nearby(ctx, NearbyQuery{Lat: 120, Lon: 0, RadiusKM: 1})
	require.Error(t, err)
}

func TestSQLite_Competition(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ref := mustCompany(t, st, model.CompanyInput{Name: "Ref", Sector: "Bakery", Latitude: ptr(metzLat), Longitude: ptr(metzLon)})
	mustCompany(t, st, model.CompanyInput{Name: "C1", Sector: "Bakery", Latitude: ptr(metzLat + 0.009), Longitude: ptr(metzLon),
		Rating: ptr(4.0), ReviewsCount: ptr(10)})
	mustCompany(t, st, model.CompanyInput{Name: "C2", Sector: "Bakery", Latitude: ptr(metzLat + 0.045), Longitude: ptr(metzLon),
		ReviewsCount: ptr(5)})
	mustCompany(t, st, model.CompanyInput{Name: "Other", Sector: "Garage", Latitude: ptr(metzLat + 0.01), Longitude: ptr(metzLon)})

	c, err := st.Competition(ctx, ref, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Count)
	assert.Equal(t, 15, c.TotalReviews)
	require.NotNil(t, c.AvgRating)
	assert.InDelta(t, 4.0, *c.AvgRating, 1e-9)
	require.NotNil(t, c.MinDistanceKM)
	require.NotNil(t, c.MaxDistanceKM)
	assert.Less(t, *c.MinDistanceKM, *c.MaxDistanceKM)
	for _, comp := range c.Competitors {
		assert.NotEqual(t, ref, comp.ID)
	}

	noCoords := mustCompany(t, st, model.CompanyInput{Name: "Nowhere"})
	_, err = st.Competition(ctx, noCoords, 10)
	require.Error(t, err)
}
