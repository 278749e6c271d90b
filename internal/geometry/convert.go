package geometry

import (
	"sort"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ToCtessum converts an orb polygon to ctessum's open-ring form.
func ToCtessum(p orb.Polygon) geom.Polygon {
	out := make(geom.Polygon, 0, len(p))
	for _, ring := range p {
		n := len(ring)
		if n > 1 && ring[0] == ring[n-1] {
			n--
		}
		path := make(geom.Path, n)
		for i := 0; i < n; i++ {
			path[i] = geom.Point{X: ring[i][0], Y: ring[i][1]}
		}
		out = append(out, path)
	}
	return out
}

// closeRing converts a ctessum path to a closed orb ring.
func closeRing(path geom.Path) orb.Ring {
	ring := make(orb.Ring, 0, len(path)+1)
	for _, pt := range path {
		ring = append(ring, orb.Point{pt.X, pt.Y})
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// FromCtessum regroups the flat ring list of a ctessum polygonal result into
// orb polygons. Rings at even containment depth are shells; rings at odd
// depth are holes of the smallest shell enclosing them.
func FromCtessum(g geom.Polygonal) orb.MultiPolygon {
	var rings []orb.Ring
	for _, poly := range g.Polygons() {
		for _, path := range poly {
			r := closeRing(path)
			if len(r) >= 4 {
				rings = append(rings, r)
			}
		}
	}
	return groupRings(rings)
}

type ringInfo struct {
	ring  orb.Ring
	area  float64
	depth int
	shell int
}

func groupRings(rings []orb.Ring) orb.MultiPolygon {
	infos := make([]ringInfo, len(rings))
	for i, r := range rings {
		infos[i] = ringInfo{ring: r, area: absArea(r), shell: -1}
	}
	// Largest first so a ring's enclosing candidates are already placed.
	sort.SliceStable(infos, func(a, b int) bool { return infos[a].area > infos[b].area })

	for i := range infos {
		probe := infos[i].ring[0]
		parent := -1
		for j := 0; j < i; j++ {
			if infos[j].area <= infos[i].area {
				continue
			}
			if planar.RingContains(infos[j].ring, probe) {
				infos[i].depth++
				if parent == -1 || infos[j].area < infos[parent].area {
					parent = j
				}
			}
		}
		if infos[i].depth%2 == 1 && parent >= 0 {
			infos[i].shell = parent
		}
	}

	var out orb.MultiPolygon
	index := make(map[int]int, len(infos))
	for i, info := range infos {
		if info.depth%2 == 0 {
			index[i] = len(out)
			out = append(out, orb.Polygon{info.ring})
		}
	}
	for _, info := range infos {
		if info.depth%2 == 1 {
			if pos, ok := index[info.shell]; ok {
				out[pos] = append(out[pos], info.ring)
			}
		}
	}
	return out
}

func absArea(r orb.Ring) float64 {
	a := planar.Area(r)
	if a < 0 {
		return -a
	}
	return a
}
