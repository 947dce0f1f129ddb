package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceCoincidentPoints(t *testing.T) {
	p := Point{Latitude: 29.916, Longitude: 78.133}
	assert.InDelta(t, 0, Distance(p, p), 1e-9)
}

func TestDistanceSymmetry(t *testing.T) {
	a := Point{Latitude: 29.916, Longitude: 78.133}
	b := Point{Latitude: 28.613, Longitude: 77.209}
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
}

func TestDistanceKnownValues(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Point
		meters float64
		delta  float64
	}{
		{
			name:   "one degree of longitude at equator",
			a:      Point{0, 0},
			b:      Point{0, 1},
			meters: 111195,
			delta:  100,
		},
		{
			name:   "roughly 99m east at equator",
			a:      Point{0, 0},
			b:      Point{0, 0.00089},
			meters: 99,
			delta:  1,
		},
		{
			name:   "roughly 222m east at equator",
			a:      Point{0, 0},
			b:      Point{0, 0.002},
			meters: 222,
			delta:  1,
		},
		{
			name:   "antipodal points are half the circumference",
			a:      Point{0, 0},
			b:      Point{0, 180},
			meters: 20015086,
			delta:  1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			require.InDelta(t, tt.meters, got, tt.delta)
		})
	}
}
