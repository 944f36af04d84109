// Package matutil holds small matrix utilities shared by the weight
// renderers.
package matutil

import (
	"image"
	"reflect"
	"sync"
	"unsafe"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

var iterPool = make(map[int]map[int]*sync.Pool)

func borrowIterator(m, n int) [][]float32 {
	if d, ok := iterPool[m]; ok {
		if d2, ok := d[n]; ok {
			return d2.Get().([][]float32)
		}
	}
	retVal := make([][]float32, m)
	for i := range retVal {
		retVal[i] = make([]float32, n)
	}
	return retVal
}

// ReturnIterator gives an iterator back to the pool.
func ReturnIterator(m, n int, it [][]float32) {
	if d, ok := iterPool[m]; ok {
		if _, ok := d[n]; ok {
			iterPool[m][n].Put(it)
		} else {
			iterPool[m][n] = &sync.Pool{
				New: func() interface{} {
					retVal := make([][]float32, m)
					for i := range retVal {
						retVal[i] = make([]float32, n)
					}
					return retVal
				},
			}
			iterPool[m][n].Put(it)
		}
	} else {
		iterPool[m] = make(map[int]*sync.Pool)
		iterPool[m][n] = &sync.Pool{
			New: func() interface{} {
				retVal := make([][]float32, m)
				for i := range retVal {
					retVal[i] = make([]float32, n)
				}
				return retVal
			},
		}
		iterPool[m][n].Put(it)
	}
}

// MakeIterator makes a generic iterator of a matrix backing
func MakeIterator(backing []float32, m, n int) (retVal [][]float32) {
	retVal = borrowIterator(m, n)
	for i := range retVal {
		start := i * n
		hdr := (*reflect.SliceHeader)(unsafe.Pointer(&retVal[i]))
		hdr.Data = uintptr(unsafe.Pointer(&backing[start]))
		hdr.Len = n
		hdr.Cap = n
	}
	return retVal
}

// Heatmap renders a weight matrix as a grayscale image, one zoom×zoom block
// per weight. Black is the most negative weight of the matrix, white the most
// positive; an all-equal matrix comes out mid-gray. The value range is
// returned for captioning.
func Heatmap(wt *tensor.Dense, zoom int) (img *image.Gray, min, max float32) {
	if zoom < 1 {
		zoom = 1
	}
	rows, cols := wt.Shape()[0], wt.Shape()[1]
	mat := MakeIterator(wt.Data().([]float32), rows, cols)
	defer ReturnIterator(rows, cols, mat)

	min, max = math32.Inf(1), math32.Inf(-1)
	for _, row := range mat {
		for _, x := range row {
			if x < min {
				min = x
			}
			if x > max {
				max = x
			}
		}
	}
	span := max - min
	img = image.NewGray(image.Rect(0, 0, cols*zoom, rows*zoom))
	for i, row := range mat {
		for j, x := range row {
			var level uint8 = 127
			if span > 0 {
				level = uint8(255 * (x - min) / span)
			}
			for dy := 0; dy < zoom; dy++ {
				o := (i*zoom+dy)*img.Stride + j*zoom
				for dx := 0; dx < zoom; dx++ {
					img.Pix[o+dx] = level
				}
			}
		}
	}
	return img, min, max
}
