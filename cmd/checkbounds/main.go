// Command checkbounds validates an administrative boundary dataset before it
// is deployed as ADMIN_BOUNDARY_PATH. It loads the dataset the way the service
// does, checks each boundary's geometry, verifies codes are unique, and
// confirms every boundary resolves to itself through the spatial index.
//
// Usage:
//
//	go run ./cmd/checkbounds -path data/tl_2023_us_county.shp
//	go run ./cmd/checkbounds -path counties.geojson -code-field GEOID -name-field NAME
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/incident-enrichment-service/internal/adminarea"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
)

// maxListedErrors caps the detail printed per failed phase.
const maxListedErrors = 25

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	path := flag.String("path", "", "boundary dataset (.shp, .json, .geojson)")
	codeField := flag.String("code-field", "GEOID", "GeoJSON property holding the area code")
	nameField := flag.String("name-field", "NAME", "GeoJSON property holding the area name")
	codeLen := flag.Int("code-length", 0, "required code length (0 to skip)")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*path, *codeField, *nameField, *codeLen))
}

func run(path, codeField, nameField string, codeLen int) int {
	fmt.Println("=== Admin Boundary Validation ===")
	fmt.Println()

	boundaries, err := adminarea.Load(path, codeField, nameField)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	fmt.Printf("Loaded %d boundaries from %s\n", len(boundaries), path)

	phases := []*phase{
		checkLoaded(boundaries),
		checkGeometry(boundaries),
		checkCodes(boundaries, codeLen),
		checkSelfResolution(boundaries),
	}
	return report(phases)
}

func report(phases []*phase) int {
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-32s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxListedErrors {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxListedErrors)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func checkLoaded(boundaries []adminarea.Boundary) *phase {
	p := &phase{name: "Dataset loads"}
	if len(boundaries) == 0 {
		p.errorf("no boundaries with a code and polygonal geometry")
	}
	return p
}

// checkGeometry verifies rings are closed, non-degenerate and within
// WGS84 bounds, and that every boundary normalizes into the registry.
func checkGeometry(boundaries []adminarea.Boundary) *phase {
	p := &phase{name: "Geometry sanity"}
	world := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	reg := geometry.NewRegistry()

	for _, b := range boundaries {
		for i, poly := range b.Area {
			for j, ring := range poly {
				if len(ring) < 4 {
					p.errorf("%s: polygon %d ring %d has %d positions", b.Code, i, j, len(ring))
					continue
				}
				if !ring.Closed() {
					p.errorf("%s: polygon %d ring %d is not closed", b.Code, i, j)
				}
			}
		}
		if planar.Area(b.Area) <= 0 {
			p.errorf("%s: zero area", b.Code)
		}
		if bound := b.Area.Bound(); !world.Contains(bound.Min) || !world.Contains(bound.Max) {
			p.errorf("%s: bounds %v outside WGS84 range", b.Code, bound)
		}
		if _, err := reg.RegisterGeometry(b.Area); err != nil {
			p.errorf("%s: %v", b.Code, err)
		}
	}
	return p
}

func checkCodes(boundaries []adminarea.Boundary, codeLen int) *phase {
	p := &phase{name: "Unique codes"}
	seen := make(map[string]int, len(boundaries))
	for i, b := range boundaries {
		if first, dup := seen[b.Code]; dup {
			p.errorf("%s: duplicate of record %d at record %d", b.Code, first, i)
			continue
		}
		seen[b.Code] = i
		if codeLen > 0 && len(b.Code) != codeLen {
			p.errorf("%s: expected %d characters", b.Code, codeLen)
		}
		if b.Name == "" {
			p.errorf("%s: missing name", b.Code)
		}
	}
	return p
}

// checkSelfResolution resolves each boundary's own area and expects its code
// among the results.
func checkSelfResolution(boundaries []adminarea.Boundary) *phase {
	p := &phase{name: "Self resolution"}
	resolver := adminarea.NewResolver(boundaries)
	for _, b := range boundaries {
		areas := resolver.Resolve(b.Area)
		if !slices.ContainsFunc(areas, func(a domain.AdminArea) bool { return a.Code == b.Code }) {
			p.errorf("%s: not returned when resolving its own area (%d results)", b.Code, len(areas))
		}
	}
	return p
}
