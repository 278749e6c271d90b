package adminarea

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
)

// countyRow matches the attribute table of the Census TIGER/Line county shapefile.
type countyRow struct {
	geom.Polygon
	GeoID    string `shp:"GEOID"`
	Name     string `shp:"NAME"`
	NameLSAD string `shp:"NAMELSAD"`
}

// Load reads boundaries from a shapefile (.shp) or a GeoJSON FeatureCollection
// (.json, .geojson). codeField and nameField name the GeoJSON properties to
// read; shapefiles always use the TIGER GEOID and NAMELSAD columns.
func Load(path, codeField, nameField string) ([]Boundary, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path)
	case ".json", ".geojson":
		return LoadGeoJSON(path, codeField, nameField)
	default:
		return nil, fmt.Errorf("load boundaries: unsupported file type %q", filepath.Ext(path))
	}
}

// LoadShapefile reads a TIGER/Line county shapefile.
func LoadShapefile(path string) ([]Boundary, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer d.Close()

	out := make([]Boundary, 0, d.AttributeCount())
	for {
		var row countyRow
		if more := d.DecodeRow(&row); !more {
			break
		}
		area := geometry.FromCtessum(row.Polygon)
		if len(area) == 0 || row.GeoID == "" {
			continue
		}
		name := row.NameLSAD
		if name == "" {
			name = row.Name
		}
		out = append(out, Boundary{Code: strings.TrimSpace(row.GeoID), Name: strings.TrimSpace(name), Area: area})
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("decode shapefile: %w", err)
	}
	return out, nil
}

// LoadGeoJSON reads polygonal features from a FeatureCollection file.
// Features without a code or without polygonal geometry are skipped.
func LoadGeoJSON(path, codeField, nameField string) ([]Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundaries: %w", err)
	}
	return ParseGeoJSON(data, codeField, nameField)
}

// ParseGeoJSON is LoadGeoJSON for in-memory data.
func ParseGeoJSON(data []byte, codeField, nameField string) ([]Boundary, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse boundaries: %w", err)
	}

	out := make([]Boundary, 0, len(fc.Features))
	for _, f := range fc.Features {
		code := propertyString(f.Properties, codeField)
		if code == "" || f.Geometry == nil {
			continue
		}
		polys := geometry.Polygons(f.Geometry)
		if len(polys) == 0 {
			continue
		}
		out = append(out, Boundary{
			Code: code,
			Name: propertyString(f.Properties, nameField),
			Area: orb.MultiPolygon(polys),
		})
	}
	return out, nil
}

func propertyString(props geojson.Properties, key string) string {
	switch v := props[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
