package geo

import "math"

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
}

func (p Point) IsZero() bool { return p.Lat == 0 && p.Lon == 0 }

// Path is an ordered route polyline. Callers treat it as immutable.
type Path []Point

// Clone returns a copy so the caller's slice can't be mutated through the result.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Haversine distance in meters
func Haversine(a, b Point) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Bearing returns the initial bearing from a to b in degrees [0,360).
func Bearing(a, b Point) float64 {
	y := math.Sin((b.Lon-a.Lon)*math.Pi/180.0) * math.Cos(b.Lat*math.Pi/180.0)
	x := math.Cos(a.Lat*math.Pi/180.0)*math.Sin(b.Lat*math.Pi/180.0) - math.Sin(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*math.Cos((b.Lon-a.Lon)*math.Pi/180.0)
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// CumDistances returns the cumulative haversine distance at every vertex.
func CumDistances(p Path) []float64 {
	n := len(p)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Haversine(p[i-1], p[i])
		cum[i] = sum
	}
	return cum
}

// Length is the total haversine length of the path in meters.
func (p Path) Length() float64 {
	cum := CumDistances(p)
	if len(cum) == 0 {
		return 0
	}
	return cum[len(cum)-1]
}

// NearestIndex returns the index of the vertex closest to pt, or -1 for an empty path.
// Uses an equirectangular approximation around pt, which is accurate enough at city scale.
func NearestIndex(p Path, pt Point) int {
	if len(p) == 0 {
		return -1
	}
	cosLat0 := math.Cos(pt.Lat * math.Pi / 180)
	best := -1
	bestDist2 := math.MaxFloat64
	for i, v := range p {
		y := (v.Lat - pt.Lat) * math.Pi / 180 * earthRadiusMeters
		x := (v.Lon - pt.Lon) * math.Pi / 180 * earthRadiusMeters * cosLat0
		d2 := x*x + y*y
		if d2 < bestDist2 {
			bestDist2 = d2
			best = i
		}
	}
	return best
}

// TrimFrom returns the suffix of p starting at the vertex nearest to origin.
func TrimFrom(p Path, origin Point) Path {
	i := NearestIndex(p, origin)
	if i < 0 {
		return nil
	}
	return p[i:].Clone()
}
