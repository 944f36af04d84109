package cloud

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/boltzmann/chunk"
)

// Factored is a low-rank decomposed cloud. The effective weight matrix is
// the product of two dense sub-clouds routed through a synthetic bottleneck
// chunk of the configured rank. The bottleneck's nodes buffer doubles as
// scratch for activation and statistics and is zeroed before use.
type Factored struct {
	name       string
	a, b       *chunk.Chunk
	bottleneck *chunk.Chunk
	f1         *Dense // a → bottleneck
	f2         *Dense // bottleneck → b

	scale [2]float32
	cache [2]actCache
}

// NewFactored connects a and b through a rank-wide bottleneck. Self-loops
// are not supported for factored clouds.
func NewFactored(name string, a, b *chunk.Chunk, rank int, opts ...DenseOption) (*Factored, error) {
	if a == b {
		return nil, errors.Errorf("cloud %q: factored self-loop is not implemented", name)
	}
	if rank < 1 {
		return nil, errors.Errorf("cloud %q: rank must be at least 1, got %d", name, rank)
	}
	maxStripes := a.MaxStripes()
	if b.MaxStripes() > maxStripes {
		maxStripes = b.MaxStripes()
	}
	bn, err := chunk.New(name+".bottleneck", chunk.Conditioning, rank, chunk.WithMaxStripes(maxStripes))
	if err != nil {
		return nil, err
	}
	f := &Factored{
		name:       name,
		a:          a,
		b:          b,
		bottleneck: bn,
		scale:      [2]float32{1, 1},
	}
	if f.f1, err = NewDense(name+".a", a, bn); err != nil {
		return nil, err
	}
	if f.f2, err = NewDense(name+".b", bn, b); err != nil {
		return nil, err
	}
	// scale options apply to the composite, not the halves
	probe := &Dense{scale: [2]float32{1, 1}}
	for _, opt := range opts {
		opt(probe)
	}
	f.scale = probe.scale
	return f, nil
}

// NewFactoredWith builds a factored cloud around existing (shared) half
// weight matrices. The rank is taken from the bottleneck dimension of w1.
func NewFactoredWith(name string, a, b *chunk.Chunk, w1, w2 *tensor.Dense, opts ...DenseOption) (*Factored, error) {
	f, err := NewFactored(name, a, b, w1.Shape()[1], opts...)
	if err != nil {
		return nil, err
	}
	if f.f1, err = NewDense(name+".a", a, f.bottleneck, WithWeights(w1)); err != nil {
		return nil, err
	}
	if f.f2, err = NewDense(name+".b", f.bottleneck, b, WithWeights(w2)); err != nil {
		return nil, err
	}
	return f, nil
}

// Scales returns the composite per-direction scale coefficients.
func (f *Factored) Scales() (towardB, towardA float32) { return f.scale[TowardB], f.scale[TowardA] }

func (f *Factored) Name() string    { return f.name }
func (f *Factored) A() *chunk.Chunk { return f.a }
func (f *Factored) B() *chunk.Chunk { return f.b }

// Bottleneck exposes the synthetic rank chunk.
func (f *Factored) Bottleneck() *chunk.Chunk { return f.bottleneck }

// Halves returns the two dense sub-clouds (a→bottleneck, bottleneck→b).
func (f *Factored) Halves() (*Dense, *Dense) { return f.f1, f.f2 }

// Rank returns the bottleneck width.
func (f *Factored) Rank() int { return f.bottleneck.Size() }

func (f *Factored) src(dir Direction) *chunk.Chunk {
	if dir == TowardB {
		return f.a
	}
	return f.b
}

func (f *Factored) dst(dir Direction) *chunk.Chunk {
	if dir == TowardB {
		return f.b
	}
	return f.a
}

// scratch sizes the bottleneck buffer for stripes and zeroes it.
func (f *Factored) scratch(stripes int) (*tensor.Dense, error) {
	if f.bottleneck.MaxStripes() < stripes {
		if err := f.bottleneck.Resize(f.bottleneck.Size(), stripes); err != nil {
			return nil, err
		}
	}
	if err := f.bottleneck.SetStripeCount(stripes); err != nil {
		return nil, err
	}
	f.bottleneck.Fill(0, true)
	return f.bottleneck.Nodes(), nil
}

// Activate routes the activation through the bottleneck:
// toward B it is (src·A)·B, toward A it is (src·Bᵀ)·Aᵀ.
func (f *Factored) Activate(dir Direction, src, dst *tensor.Dense) error {
	srcChunk := f.src(dir)
	stripes := dst.Shape()[0]
	width := f.dst(dir).Size()
	c := &f.cache[dir]
	if !c.fresh(srcChunk, stripes, width) {
		bn, err := f.scratch(stripes)
		if err != nil {
			return errors.Wrapf(err, "cloud %q", f.name)
		}
		buf := c.prep(stripes, width)
		first, second := f.f1, f.f2
		if dir == TowardA {
			first, second = f.f2, f.f1
		}
		if err := first.apply(dir, src, bn); err != nil {
			c.valid = false
			return err
		}
		if err := second.apply(dir, bn, buf); err != nil {
			c.valid = false
			return err
		}
		if s := f.scale[dir]; s != 1 {
			vecf32.Scale(buf.Data().([]float32), s)
		}
		c.valid = true
		c.version = srcChunk.Version()
	}
	vecf32.Add(dst.Data().([]float32), c.buf.Data().([]float32))
	return nil
}

// WeightClouds implements Cloud: the two halves carry the actual weights.
func (f *Factored) WeightClouds(dst []*Dense) []*Dense {
	return append(dst, f.f1, f.f2)
}

// AccumulateStatistics chains the outer-product statistic through the
// bottleneck: the gradient for the first half is v1ᵀ·(v2·Bᵀ), for the second
// half (v1·A)ᵀ·v2.
func (f *Factored) AccumulateStatistics(v1, v2 *tensor.Dense, multiplier float32, importances []float32, sink Sink) error {
	stripes := v1.Shape()[0]
	if acc := sink.Accumulator(f.f1); acc != nil {
		bn, err := f.scratch(stripes)
		if err != nil {
			return errors.Wrapf(err, "cloud %q", f.name)
		}
		if err := f.f2.apply(TowardA, v2, bn); err != nil {
			return err
		}
		if err := f.f1.accumulate(v1, bn, multiplier, importances, acc); err != nil {
			return err
		}
	}
	if acc := sink.Accumulator(f.f2); acc != nil {
		bn, err := f.scratch(stripes)
		if err != nil {
			return errors.Wrapf(err, "cloud %q", f.name)
		}
		if err := f.f1.apply(TowardB, v1, bn); err != nil {
			return err
		}
		if err := f.f2.accumulate(bn, v2, multiplier, importances, acc); err != nil {
			return err
		}
	}
	return nil
}
