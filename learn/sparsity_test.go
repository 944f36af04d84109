package learn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/cloud"
)

type testSink map[*cloud.Dense]*tensor.Dense

func (s testSink) Accumulator(c *cloud.Dense) *tensor.Dense { return s[c] }

func meansChunk(t *testing.T, name string, stripes int, means []float32) *chunk.Chunk {
	t.Helper()
	size := len(means) / stripes
	c, err := chunk.New(name, chunk.Sigmoid, size, chunk.WithMaxStripes(stripes))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.SetStripeCount(stripes); err != nil {
		t.Fatalf("%+v", err)
	}
	copy(c.MeansData(), means)
	return c
}

func sinkFor(d *cloud.Dense) testSink {
	shape := d.Weights().Shape()
	return testSink{d: tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float32))}
}

func TestSparsityNormalEstimator(t *testing.T) {
	v := meansChunk(t, "v", 1, []float32{0.75, 0.25})
	h := meansChunk(t, "h", 1, []float32{1.0, 0.5})
	d, err := cloud.NewDense("v:h", v, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	r := &Regularizer{Cloud: d, Chunk: v, Target: 0.25, Cost: 0.5, Damping: 0.5}
	if err := r.Update(); err != nil {
		t.Fatalf("%+v", err)
	}
	// dev = (0.5, 0), half-weighted: avg = 0.5·devᵀ·h

	copy(v.MeansData(), []float32{0.25, 1.25})
	copy(h.MeansData(), []float32{0.5, 1.0})
	if err := r.Update(); err != nil {
		t.Fatalf("%+v", err)
	}
	// dev = (0, 1): avg = 0.5·avg₁ + 0.5·devᵀ·h

	sink := sinkFor(d)
	if err := r.Flush(2, 3, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	// cost·multiplier·batchSize = 0.5·2·3 = 3
	want := []float32{
		3 * 0.125, 3 * 0.0625,
		3 * 0.25, 3 * 0.5,
	}
	assert.Equal(t, want, sink[d].Data().([]float32))
}

func TestSparsityNormalEstimatorOnB(t *testing.T) {
	v := meansChunk(t, "v", 1, []float32{1, 0})
	h := meansChunk(t, "h", 1, []float32{0.75, 0.25})
	d, err := cloud.NewDense("v:h", v, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	r := &Regularizer{Cloud: d, Chunk: h, Target: 0.5, Cost: 1}
	if err := r.Update(); err != nil {
		t.Fatalf("%+v", err)
	}
	sink := sinkFor(d)
	if err := r.Flush(1, 1, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	// regularizing the B end keeps the accumulator oriented A×B:
	// vᵀ·(h − 0.5)
	want := []float32{
		0.25, -0.25,
		0, 0,
	}
	assert.Equal(t, want, sink[d].Data().([]float32))
}

func TestSparsityCheatingEstimator(t *testing.T) {
	v := meansChunk(t, "v", 2, []float32{
		0.75, 0.25,
		0.25, 0.75,
	})
	h := meansChunk(t, "h", 2, []float32{
		1, 0,
		0, 1,
	})
	d, err := cloud.NewDense("v:h", v, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	r := &Regularizer{Cloud: d, Chunk: v, Target: 0.25, Cost: 1, Damping: 0.5, Cheating: true}
	if err := r.Update(); err != nil {
		t.Fatalf("%+v", err)
	}
	// per-unit damped averages over 2 stripes: dev = 0.25·0.5 = 0.125 per
	// visible unit, other = 0.25 per hidden unit; flush is their outer
	// product
	sink := sinkFor(d)
	if err := r.Flush(4, 1, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	want := []float32{
		0.125, 0.125,
		0.125, 0.125,
	}
	assert.Equal(t, want, sink[d].Data().([]float32))
}

func TestSparsityCheatingEstimatorOnB(t *testing.T) {
	v := meansChunk(t, "v", 1, []float32{1, 0.5})
	h := meansChunk(t, "h", 1, []float32{0.75, 0.25})
	d, err := cloud.NewDense("v:h", v, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	r := &Regularizer{Cloud: d, Chunk: h, Target: 0.25, Cost: 1, Cheating: true}
	if err := r.Update(); err != nil {
		t.Fatalf("%+v", err)
	}
	sink := sinkFor(d)
	if err := r.Flush(1, 1, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	// rows follow A even when the regularized chunk is B:
	// otherAvg ⊗ devAvg = (1, 0.5)ᵀ·(0.5, 0)
	want := []float32{
		0.5, 0,
		0.25, 0,
	}
	assert.Equal(t, want, sink[d].Data().([]float32))
}

func TestSparsityFrozenCloudSkipped(t *testing.T) {
	v := meansChunk(t, "v", 1, []float32{1, 0})
	h := meansChunk(t, "h", 1, []float32{0.75, 0.25})
	d, err := cloud.NewDense("v:h", v, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	r := &Regularizer{Cloud: d, Chunk: h, Target: 0.5, Cost: 1}
	if err := r.Update(); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.NoError(t, r.Flush(1, 1, testSink{}))
}

func TestSparsityChunkMustBeAnEnd(t *testing.T) {
	v := meansChunk(t, "v", 1, []float32{1, 0})
	h := meansChunk(t, "h", 1, []float32{0.5, 0.5})
	other := meansChunk(t, "other", 1, []float32{0, 0})
	d, err := cloud.NewDense("v:h", v, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	r := &Regularizer{Cloud: d, Chunk: other, Target: 0.5, Cost: 1}
	assert.Error(t, r.Update())
}

func TestCDWithSparsity(t *testing.T) {
	m := rbm(t, 2, 3, 1)
	l, err := NewCD(m)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	l.HiddenSampling = NoSampling

	hc, err := m.ChunkByName("h")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	d := m.WeightClouds()[0]
	l.Sparsity = []*Regularizer{{Cloud: d, Chunk: hc, Target: 0.1, Cost: 1}}

	sink := NewGradientSink(m)
	batch := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 0}))
	if err := l.Accumulate(batch, 1, sink); err != nil {
		t.Fatalf("%+v", err)
	}

	// CD statistics (−0.25/+0.25 at zero weights) plus the sparsity term
	// vᵀ·(0.5 − 0.1) on the active visible row
	acc := sink.Accumulator(d).Data().([]float32)
	want := []float32{
		0.15, 0.15, 0.15,
		0.25, 0.25, 0.25,
	}
	for i := range want {
		assert.InDelta(t, want[i], acc[i], 1e-6, "entry %d", i)
	}
}
