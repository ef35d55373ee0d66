// Package geo provides great-circle distance helpers over WGS84 points.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

// EarthRadiusKM is the mean Earth radius used by the haversine formula.
const EarthRadiusKM = 6371.0

// NewPoint builds a WGS84 point. Coordinates are stored x=longitude, y=latitude.
func NewPoint(lat, lon float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(4326)
}

// Lat returns the latitude of p.
func Lat(p *geom.Point) float64 { return p.Y() }

// Lon returns the longitude of p.
func Lon(p *geom.Point) float64 { return p.X() }

// HaversineKM returns the great-circle distance between a and b in kilometers.
func HaversineKM(a, b *geom.Point) float64 {
	lat1 := radians(Lat(a))
	lat2 := radians(Lat(b))
	dLat := lat2 - lat1
	dLon := radians(Lon(b) - Lon(a))

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bounds returns a latitude/longitude box that contains every point within
// radiusKM of p. It is a coarse prefilter; callers must still check the
// exact distance. Longitudes are not wrapped: a circle crossing the
// antimeridian yields a box reaching past ±180, and a circle containing a
// pole spans every longitude. LonRanges splits the box for querying.
func Bounds(p *geom.Point, radiusKM float64) *geom.Bounds {
	ang := radiusKM / EarthRadiusKM
	dLat := degrees(ang)
	minLat, maxLat := Lat(p)-dLat, Lat(p)+dLat
	if minLat <= -90 || maxLat >= 90 {
		return geom.NewBounds(geom.XY).Set(-180, math.Max(-90, minLat), 180, math.Min(90, maxLat))
	}
	// Widest longitude offset reached on the circle, at the tangent points.
	dLon := degrees(math.Asin(math.Sin(ang) / math.Cos(radians(Lat(p)))))
	return geom.NewBounds(geom.XY).Set(Lon(p)-dLon, minLat, Lon(p)+dLon, maxLat)
}

// LonRanges folds the longitude span of b back into [-180, 180]. The result
// has two ranges when b crosses the antimeridian and one otherwise.
func LonRanges(b *geom.Bounds) [][2]float64 {
	lo, hi := b.Min(0), b.Max(0)
	switch {
	case hi-lo >= 360:
		return [][2]float64{{-180, 180}}
	case lo < -180:
		return [][2]float64{{lo + 360, 180}, {-180, hi}}
	case hi > 180:
		return [][2]float64{{lo, 180}, {-180, hi - 360}}
	}
	return [][2]float64{{lo, hi}}
}

// ValidLatLon reports whether the coordinates are within WGS84 ranges.
func ValidLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 &&
		!math.IsNaN(lat) && !math.IsNaN(lon)
}

// Round2 rounds v to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }
