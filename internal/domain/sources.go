package domain

import (
	"context"

	"github.com/paulmach/orb"
)

// GeometryStore registers incident geometries under stable content keys.
type GeometryStore interface {
	// Register parses GeoJSON text, normalizes it, and returns its key.
	Register(raw []byte) (string, error)

	// RegisterGeometry stores an already-built geometry and returns its key.
	RegisterGeometry(g orb.Geometry) (string, error)

	// Get returns the normalized geometry for key.
	Get(key string) (orb.Geometry, bool)
}

// AdminResolver finds the administrative areas a geometry overlaps.
type AdminResolver interface {
	Resolve(g orb.Geometry) []AdminArea
}

// AreaNamer turns an administrative code into a display name.
type AreaNamer interface {
	AreaName(ctx context.Context, code string) (string, error)
}

// PopulationEstimator estimates how many people live inside a geometry.
type PopulationEstimator interface {
	Estimate(ctx context.Context, g orb.Geometry) (PopulationEstimate, error)
}

// VulnerabilityIndex summarizes social vulnerability over a geometry.
type VulnerabilityIndex interface {
	Aggregate(ctx context.Context, g orb.Geometry) (VulnerabilityResult, error)
}

// FacilityLocator finds critical facilities near a geometry.
type FacilityLocator interface {
	FindNearby(ctx context.Context, g orb.Geometry) ([]FacilityRecord, error)
}
