// Package watermask classifies locations as land or water from a set of land
// polygons.
package watermask

import (
	"fmt"
	"log"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/project-spencer/wlr/pkg/classify"
)

// sub-pixel grid used for the water fraction
const subSamples = 3

type polygon struct {
	bound orb.Bound
	geom  orb.Geometry
}

// Mask is an in-memory land mask. It is read-only after construction and
// safe for concurrent use.
type Mask struct {
	land []polygon
	// footprint of one pixel in degrees, for the water fraction
	pixelSize float64
}

// New builds a mask from land geometries. Only polygons and multipolygons
// are used, other geometry types are skipped.
func New(land []orb.Geometry, pixelSizeDeg float64) *Mask {
	m := &Mask{pixelSize: pixelSizeDeg}
	for _, g := range land {
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			m.land = append(m.land, polygon{bound: g.Bound(), geom: g})
		}
	}
	return m
}

// Decode reads land polygons from a GeoJSON feature collection.
func Decode(data []byte, pixelSizeDeg float64) (*Mask, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("could not parse land polygons: %w", err)
	}

	geoms := make([]orb.Geometry, 0, len(fc.Features))
	for _, f := range fc.Features {
		geoms = append(geoms, f.Geometry)
	}

	m := New(geoms, pixelSizeDeg)
	if len(m.land) < len(geoms) {
		log.Printf("skipped %d non-polygon land features", len(geoms)-len(m.land))
	}

	return m, nil
}

// Load reads a GeoJSON land polygon file.
func Load(path string, pixelSizeDeg float64) (*Mask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read water mask: %w", err)
	}
	return Decode(data, pixelSizeDeg)
}

// IsLand reports whether the point lies inside a land polygon.
func (m *Mask) IsLand(lat, lon float64) bool {
	pt := orb.Point{lon, lat}
	for _, p := range m.land {
		if !p.bound.Contains(pt) {
			continue
		}
		switch g := p.geom.(type) {
		case orb.Polygon:
			if planar.PolygonContains(g, pt) {
				return true
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(g, pt) {
				return true
			}
		}
	}
	return false
}

// Sample returns the mask value at the pixel center and the share of water
// in percent over a 3x3 grid spanning the pixel footprint.
func (m *Mask) Sample(lat, lon float64) (uint8, uint8) {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return classify.InvalidValue, classify.InvalidValue
	}

	sample := classify.WaterValue
	if m.IsLand(lat, lon) {
		sample = classify.LandValue
	}

	water := 0
	step := m.pixelSize / subSamples
	for i := 0; i < subSamples; i++ {
		for j := 0; j < subSamples; j++ {
			dLat := (float64(i) - 1) * step
			dLon := (float64(j) - 1) * step
			if !m.IsLand(lat+dLat, lon+dLon) {
				water++
			}
		}
	}

	fraction := math.Round(100 * float64(water) / (subSamples * subSamples))
	return sample, uint8(fraction)
}
