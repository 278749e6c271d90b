package geometry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

// KeyPrefix starts every registry key.
const KeyPrefix = "geom:"

// keyHexChars is the number of hex digits of the SHA-256 kept in a key (64 bits).
const keyHexChars = 16

// Registry is a content-addressed, process-lifetime store of normalized
// geometries. It is safe for concurrent use; registering the same content
// twice returns the same key and keeps a single entry.
type Registry struct {
	entries sync.Map // key -> registryEntry
	size    atomic.Int64
}

type registryEntry struct {
	geometry  orb.Geometry
	canonical []byte
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register normalizes GeoJSON text and stores it. Invalid or empty input
// fails with domain.ErrInvalidGeometry.
func (r *Registry) Register(raw []byte) (string, error) {
	g, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	return r.store(g)
}

// RegisterGeometry normalizes and stores an in-memory geometry.
func (r *Registry) RegisterGeometry(g orb.Geometry) (string, error) {
	if g == nil {
		return "", fmt.Errorf("%w: nil geometry", domain.ErrInvalidGeometry)
	}
	norm, err := NormalizeGeometry(orb.Clone(g))
	if err != nil {
		return "", err
	}
	return r.store(norm)
}

// Get returns a copy of the normalized geometry stored under key.
func (r *Registry) Get(key string) (orb.Geometry, bool) {
	v, ok := r.entries.Load(key)
	if !ok {
		return nil, false
	}
	return orb.Clone(v.(registryEntry).geometry), true
}

// GeoJSON returns the geometry under key wrapped in a GeoJSON Feature.
func (r *Registry) GeoJSON(key string) ([]byte, bool) {
	v, ok := r.entries.Load(key)
	if !ok {
		return nil, false
	}
	canonical := v.(registryEntry).canonical
	out := make([]byte, 0, len(canonical)+48)
	out = append(out, `{"type":"Feature","geometry":`...)
	out = append(out, canonical...)
	out = append(out, `,"properties":{}}`...)
	return out, true
}

// Len returns the number of distinct geometries stored.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

func (r *Registry) store(g orb.Geometry) (string, error) {
	canonical, err := Canonical(g)
	if err != nil {
		return "", err
	}
	key := Key(canonical)
	if _, loaded := r.entries.LoadOrStore(key, registryEntry{geometry: g, canonical: canonical}); !loaded {
		r.size.Add(1)
	}
	return key, nil
}

// Canonical serializes g to deterministic GeoJSON geometry text.
func Canonical(g orb.Geometry) ([]byte, error) {
	data, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: serialize: %v", domain.ErrInvalidGeometry, err)
	}
	return data, nil
}

// Key derives the registry key for canonical geometry text.
func Key(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return KeyPrefix + hex.EncodeToString(sum[:])[:keyHexChars]
}
