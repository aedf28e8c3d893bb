package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoxIOU(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
	require.InDelta(t, 25.0/175.0, a.IOU(b), 1e-6)
	require.Equal(t, float32(0), a.IOU(Box{X1: 10, Y1: 0, X2: 20, Y2: 10}))
}

func TestBoxClipAndRect(t *testing.T) {
	b := Box{X1: -5.5, Y1: 3.9, X2: 120.2, Y2: 50.7}
	c := b.Clip(100, 40)
	require.Equal(t, Box{X1: 0, Y1: 3.9, X2: 100, Y2: 40}, c)

	r := Box{X1: 10.9, Y1: 20.1, X2: 30.99, Y2: 40.5}.Rect()
	require.Equal(t, Rect{X: 10, Y: 20, Width: 20, Height: 20}, r)
	require.Equal(t, 30, r.X2())
	require.Equal(t, 40, r.Y2())
}
