package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	// one degree of latitude is ~111.2km
	d := Haversine(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	assert.InDelta(t, 111195, d, 50)
	assert.Zero(t, Haversine(Point{Lat: 43.2, Lon: 76.9}, Point{Lat: 43.2, Lon: 76.9}))
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, Bearing(Point{0, 0}, Point{1, 0}), 0.001)
	assert.InDelta(t, 90, Bearing(Point{0, 0}, Point{0, 1}), 0.001)
	assert.InDelta(t, 180, Bearing(Point{1, 0}, Point{0, 0}), 0.001)
	assert.InDelta(t, 270, Bearing(Point{0, 1}, Point{0, 0}), 0.001)
}

func TestCumDistances(t *testing.T) {
	p := Path{{0, 0}, {0, 1}, {0, 2}}
	cum := CumDistances(p)
	require.Len(t, cum, 3)
	assert.Zero(t, cum[0])
	assert.InDelta(t, 2*cum[1], cum[2], 1)
	assert.InDelta(t, cum[2], p.Length(), 0.0001)

	assert.Nil(t, CumDistances(nil))
	assert.Zero(t, Path{}.Length())
}

func TestNearestIndexAndTrim(t *testing.T) {
	p := Path{{0, 0}, {0, 0.01}, {0, 0.02}, {0, 0.03}}

	assert.Equal(t, -1, NearestIndex(nil, Point{}))
	assert.Equal(t, 2, NearestIndex(p, Point{Lat: 0.001, Lon: 0.0199}))

	trimmed := TrimFrom(p, Point{Lat: 0.001, Lon: 0.011})
	assert.Equal(t, Path{{0, 0.01}, {0, 0.02}, {0, 0.03}}, trimmed)

	trimmed[0] = Point{9, 9}
	assert.Equal(t, Point{0, 0.01}, p[1], "trim must copy")
	assert.Nil(t, TrimFrom(nil, Point{}))
}

func TestClone(t *testing.T) {
	var nilPath Path
	assert.Nil(t, nilPath.Clone())

	p := Path{{1, 2}}
	c := p.Clone()
	c[0].Lat = 5
	assert.Equal(t, 1.0, p[0].Lat)
}
