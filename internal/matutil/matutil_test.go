package matutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func TestMakeIteratorIsZeroCopy(t *testing.T) {
	backing := []float32{1, 2, 3, 4, 5, 6}
	it := MakeIterator(backing, 2, 3)
	defer ReturnIterator(2, 3, it)

	assert.Equal(t, []float32{1, 2, 3}, it[0])
	it[1][2] = 60
	assert.Equal(t, float32(60), backing[5], "rows alias the backing")
}

func TestHeatmapLevels(t *testing.T) {
	wt := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{-1, 0, 0, 1}))
	img, min, max := Heatmap(wt, 2)

	assert.Equal(t, float32(-1), min)
	assert.Equal(t, float32(1), max)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(127), img.GrayAt(2, 0).Y)
	assert.Equal(t, uint8(127), img.GrayAt(0, 2).Y)
	assert.Equal(t, uint8(255), img.GrayAt(2, 2).Y)

	// zoom blocks are uniform
	assert.Equal(t, uint8(0), img.GrayAt(1, 1).Y)
	assert.Equal(t, uint8(255), img.GrayAt(3, 3).Y)
}

func TestHeatmapFlatMatrix(t *testing.T) {
	wt := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{2, 2, 2}))
	img, min, max := Heatmap(wt, 1)
	assert.Equal(t, float32(2), min)
	assert.Equal(t, float32(2), max)
	for x := 0; x < 3; x++ {
		assert.Equal(t, uint8(127), img.GrayAt(x, 0).Y)
	}
}
