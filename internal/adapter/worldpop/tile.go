package worldpop

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
)

// tiles clips p to a grid of cellDeg squares anchored at multiples of
// cellDeg and returns the non-empty pieces.
func tiles(p orb.Polygon, cellDeg float64, decimals int) []orb.Polygon {
	b := p.Bound()
	startX := math.Floor(b.Min.X()/cellDeg) * cellDeg
	startY := math.Floor(b.Min.Y()/cellDeg) * cellDeg

	var out []orb.Polygon
	for i := 0; startX+float64(i)*cellDeg < b.Max.X(); i++ {
		x := startX + float64(i)*cellDeg
		for j := 0; startY+float64(j)*cellDeg < b.Max.Y(); j++ {
			y := startY + float64(j)*cellDeg
			cell := orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x + cellDeg, y + cellDeg}}

			piece := clip.Polygon(cell, p.Clone())
			if len(piece) == 0 || len(piece[0]) < 4 {
				continue
			}
			piece = geometry.RoundPolygon(piece, decimals)
			if math.Abs(planar.Area(piece)) == 0 {
				continue
			}
			out = append(out, piece)
		}
	}
	return out
}

type tileResult struct {
	value float64
	ok    bool
}

// tilePass requests every tile of p at cellDeg in parallel and sums the
// answers. Tiles that cannot be made to fit, or whose request fails, are
// skipped. A 414 on any tile abandons the pass, as does a pass in which no
// tile succeeded.
func (e *Estimator) tilePass(ctx context.Context, p orb.Polygon, cellDeg float64) (float64, outcome, error) {
	pieces := tiles(p, cellDeg, e.roundDecimals)
	if len(pieces) == 0 {
		return 0, outcomeError, fmt.Errorf("no tiles at %g degrees", cellDeg)
	}

	results := make([]tileResult, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, piece := range pieces {
		g.Go(func() error {
			u, ok := e.fitTile(piece)
			if !ok {
				e.logger.Debug("tile skipped, cannot fit url", "cell_deg", cellDeg, "coords", geometry.CountCoords(piece))
				return nil
			}
			v, o, err := e.fetch(gctx, u)
			switch o {
			case outcomeOK:
				results[i] = tileResult{value: v, ok: true}
			case outcomeRejected:
				return err
			default:
				e.logger.Debug("tile request failed", "cell_deg", cellDeg, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrURITooLong) {
			return 0, outcomeRejected, err
		}
		return 0, outcomeError, err
	}
	if err := ctx.Err(); err != nil {
		return 0, outcomeError, err
	}

	var sum float64
	succeeded := 0
	for _, r := range results {
		if r.ok {
			sum += r.value
			succeeded++
		}
	}
	if succeeded == 0 {
		return 0, outcomeError, fmt.Errorf("%w: no tile succeeded at %g degrees", domain.ErrSourceUnavailable, cellDeg)
	}
	e.logger.Debug("tile pass complete", "cell_deg", cellDeg, "tiles", len(pieces), "succeeded", succeeded)
	return sum, outcomeOK, nil
}

// fitTile returns a request URL for piece under the length ceiling. Large
// pieces are first simplified towards the coordinate target; a piece that
// still does not fit goes through the force-fit tolerances.
func (e *Estimator) fitTile(piece orb.Polygon) (string, bool) {
	candidate := piece
	if geometry.CountCoords(candidate) > e.targetMaxCoords {
		for _, tol := range e.ladder.simplify {
			s, err := geometry.Simplify(candidate, tol)
			if err != nil {
				continue
			}
			s = geometry.RoundPolygon(s, e.roundDecimals)
			if geometry.CountCoords(s) <= e.targetMaxCoords {
				candidate = s
				break
			}
		}
	}
	if u, err := e.buildURL(candidate); err == nil && e.fits(u) {
		return u, true
	}

	for _, tol := range e.forceFit {
		s, err := geometry.ForceSimplify(piece, tol)
		if err != nil {
			continue
		}
		s = geometry.RoundPolygon(s, e.roundDecimals)
		if u, err := e.buildURL(s); err == nil && e.fits(u) {
			return u, true
		}
	}
	return "", false
}
