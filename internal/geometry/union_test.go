package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnion(t *testing.T) {
	a := orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}
	b := orb.Polygon{{{1, 1}, {3, 1}, {3, 3}, {1, 3}, {1, 1}}}
	c := orb.Polygon{{{1.5, 1.5}, {2.5, 1.5}, {2.5, 2.5}, {1.5, 2.5}, {1.5, 1.5}}}

	t.Run("empty", func(t *testing.T) {
		mp, err := Union(nil)
		require.NoError(t, err)
		assert.Nil(t, mp)
	})

	t.Run("single passes through", func(t *testing.T) {
		mp, err := Union([]orb.Polygon{a})
		require.NoError(t, err)
		assert.Equal(t, orb.MultiPolygon{a}, mp)
	})

	t.Run("overlap dissolved", func(t *testing.T) {
		mp, err := Union([]orb.Polygon{a, b, c})
		require.NoError(t, err)
		require.Len(t, mp, 1)
		assert.InDelta(t, 7.0, planar.Area(mp), 1e-9)
		for _, ring := range mp[0] {
			assert.Equal(t, ring[0], ring[len(ring)-1])
		}
	})
}
