package provider

import (
	"fmt"
	"strings"
)

// Default spatial reference identifiers.
const (
	DefaultGeographySRID = 4326
	DefaultGeometrySRID  = 0
)

// Geography is a geodetic value in well-known text form.
type Geography struct {
	SRID int
	WKT  string
}

// Geometry is a planar value in well-known text form.
type Geometry struct {
	SRID int
	WKT  string
}

// SpatialServices converts between spatial values and their textual form.
type SpatialServices interface {
	GeographyFromText(wkt string, srid int) (Geography, error)
	GeometryFromText(wkt string, srid int) (Geometry, error)
	// AsText returns the well-known text of a Geography or Geometry.
	AsText(v any) (string, error)
}

// WKTServices is the fallback SpatialServices. It validates the outline of
// well-known text and keeps the text as given.
type WKTServices struct{}

var wktTags = []string{
	"GEOMETRYCOLLECTION",
	"MULTILINESTRING",
	"MULTIPOLYGON",
	"MULTIPOINT",
	"LINESTRING",
	"POLYGON",
	"POINT",
}

// GeographyFromText implements SpatialServices. A zero srid selects DefaultGeographySRID.
func (WKTServices) GeographyFromText(wkt string, srid int) (Geography, error) {
	text, err := normalizeWKT(wkt)
	if err != nil {
		return Geography{}, err
	}
	if srid == 0 {
		srid = DefaultGeographySRID
	}
	return Geography{SRID: srid, WKT: text}, nil
}

// GeometryFromText implements SpatialServices.
func (WKTServices) GeometryFromText(wkt string, srid int) (Geometry, error) {
	text, err := normalizeWKT(wkt)
	if err != nil {
		return Geometry{}, err
	}
	return Geometry{SRID: srid, WKT: text}, nil
}

// AsText implements SpatialServices.
func (WKTServices) AsText(v any) (string, error) {
	switch v := v.(type) {
	case Geography:
		return v.WKT, nil
	case *Geography:
		return v.WKT, nil
	case Geometry:
		return v.WKT, nil
	case *Geometry:
		return v.WKT, nil
	default:
		return "", fmt.Errorf("provider: %T is not a spatial value", v)
	}
}

func normalizeWKT(wkt string) (string, error) {
	text := strings.TrimSpace(wkt)
	upper := strings.ToUpper(text)
	tag := ""
	for _, t := range wktTags {
		if strings.HasPrefix(upper, t) {
			tag = t
			break
		}
	}
	if tag == "" {
		return "", fmt.Errorf("provider: invalid well-known text %q: unknown geometry type", wkt)
	}
	body := strings.TrimSpace(text[len(tag):])
	if strings.EqualFold(body, "EMPTY") {
		return tag + " EMPTY", nil
	}
	depth := 0
	for _, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "", fmt.Errorf("provider: invalid well-known text %q: unbalanced parentheses", wkt)
			}
		}
	}
	if depth != 0 || !strings.HasPrefix(body, "(") {
		return "", fmt.Errorf("provider: invalid well-known text %q: unbalanced parentheses", wkt)
	}
	return tag + " " + body, nil
}

var _ SpatialServices = WKTServices{}
