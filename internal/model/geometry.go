package model

import (
	"encoding/json"
	"fmt"
)

// Geometry is a sealed interface over the shapes a location of interest can
// carry. Only Point, Polygon, and GeoJSON implement it. Exactly one geometry
// is set per location of interest.
type Geometry interface {
	geometry() // Sealed - only types in this package implement it.

	// Validate reports whether the geometry is well-formed.
	Validate() error
}

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point is a single-vertex geometry.
type Point struct {
	Coordinates Coordinates `json:"coordinates"`
}

func (Point) geometry() {}

// Validate checks the point's coordinates are within WGS84 bounds.
func (p Point) Validate() error {
	return validateCoordinates(p.Coordinates)
}

// Polygon is a closed ring of vertices. The ring is stored as given; the
// closing vertex is implicit (first vertex is not repeated).
type Polygon struct {
	Vertices []Coordinates `json:"vertices"`
}

func (Polygon) geometry() {}

// Validate checks the polygon has at least three vertices, each in bounds.
func (p Polygon) Validate() error {
	if len(p.Vertices) < 3 {
		return fmt.Errorf("polygon needs at least 3 vertices, got %d", len(p.Vertices))
	}
	for i, v := range p.Vertices {
		if err := validateCoordinates(v); err != nil {
			return fmt.Errorf("vertex %d: %w", i, err)
		}
	}
	return nil
}

// GeoJSON is an opaque GeoJSON document. The payload is passed through to the
// remote store without interpretation; only basic JSON well-formedness is
// checked locally.
type GeoJSON string

func (GeoJSON) geometry() {}

// Validate checks the payload is non-empty, syntactically valid JSON.
func (g GeoJSON) Validate() error {
	if g == "" {
		return fmt.Errorf("empty geojson")
	}
	if !json.Valid([]byte(g)) {
		return fmt.Errorf("malformed geojson")
	}
	return nil
}

func validateCoordinates(c Coordinates) error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Lng)
	}
	return nil
}
