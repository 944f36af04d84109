// Package cloud implements weighted connections ("clouds") between chunks.
// A cloud activates additively: contributions are added into the destination
// buffer so that multiple incoming clouds compose. Activation products are
// memoized per direction, keyed by the source chunk's version stamp, which
// makes repeated propagation during mean-field settling cheap.
package cloud

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/boltzmann/chunk"
)

// Direction selects which end of a cloud receives the activation.
type Direction int

const (
	// TowardB activates from chunk A into chunk B.
	TowardB Direction = iota
	// TowardA activates from chunk B into chunk A.
	TowardA
)

func (d Direction) String() string {
	if d == TowardB {
		return "a→b"
	}
	return "b→a"
}

// Sink hands out additive gradient accumulators, keyed by dense cloud. A nil
// accumulator means the cloud's weights are frozen and statistics for it are
// skipped. Factored clouds query the sink once per sub-cloud.
type Sink interface {
	Accumulator(c *Dense) *tensor.Dense
}

// Cloud is a weighted connection between two chunks.
type Cloud interface {
	Name() string
	A() *chunk.Chunk
	B() *chunk.Chunk

	// Activate adds the scaled weighted contribution of src (the values at
	// the end opposite to dir's destination, shaped stripes×srcSize) into
	// dst (stripes×dstSize).
	Activate(dir Direction, src, dst *tensor.Dense) error

	// AccumulateStatistics adds multiplier·v1ᵀ·v2 (v1 at the A end, v2 at
	// the B end, optionally row-scaled by per-stripe importances) into the
	// accumulators provided by sink.
	AccumulateStatistics(v1, v2 *tensor.Dense, multiplier float32, importances []float32, sink Sink) error

	// WeightClouds appends the dense clouds owning actual weight matrices,
	// in persistence order.
	WeightClouds(dst []*Dense) []*Dense
}

// actCache memoizes one direction's activation product.
type actCache struct {
	valid   bool
	version uint64
	buf     *tensor.Dense
}

func (c *actCache) fresh(src *chunk.Chunk, stripes, width int) bool {
	return c.valid && c.version == src.Version() &&
		c.buf != nil && c.buf.Shape()[0] == stripes && c.buf.Shape()[1] == width
}

func (c *actCache) prep(stripes, width int) *tensor.Dense {
	if c.buf == nil || c.buf.Shape()[0] != stripes || c.buf.Shape()[1] != width {
		c.buf = tensor.New(tensor.WithShape(stripes, width), tensor.Of(tensor.Float32))
	}
	return c.buf
}

// Dense is a fully connected cloud owning a (sizeA × sizeB) weight matrix.
type Dense struct {
	name string
	a, b *chunk.Chunk
	w    *tensor.Dense

	// scale[TowardB] multiplies activations arriving at B, scale[TowardA]
	// those arriving at A.
	scale [2]float32

	cache [2]actCache

	statsScratch *tensor.Dense
	impScratch   *tensor.Dense
}

// DenseOption configures a dense cloud.
type DenseOption func(*Dense)

// WithScales sets the per-direction activation scale coefficients.
func WithScales(towardB, towardA float32) DenseOption {
	return func(d *Dense) { d.scale[TowardB] = towardB; d.scale[TowardA] = towardA }
}

// WithWeights makes the cloud use (and share) an existing weight matrix.
func WithWeights(w *tensor.Dense) DenseOption {
	return func(d *Dense) { d.w = w }
}

// NewDense connects a and b with a zero-initialized weight matrix, unless
// one is supplied with WithWeights.
func NewDense(name string, a, b *chunk.Chunk, opts ...DenseOption) (*Dense, error) {
	d := &Dense{
		name:  name,
		a:     a,
		b:     b,
		scale: [2]float32{1, 1},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.w == nil {
		d.w = tensor.New(tensor.WithShape(a.Size(), b.Size()), tensor.Of(tensor.Float32))
	}
	if s := d.w.Shape(); s[0] != a.Size() || s[1] != b.Size() {
		return nil, errors.Errorf("cloud %q: weights shaped %v, want (%d, %d)", name, s, a.Size(), b.Size())
	}
	return d, nil
}

func (d *Dense) Name() string    { return d.name }
func (d *Dense) A() *chunk.Chunk { return d.a }
func (d *Dense) B() *chunk.Chunk { return d.b }

// Weights exposes the raw weight matrix. Persistent chains share it.
func (d *Dense) Weights() *tensor.Dense { return d.w }

// Scales returns the per-direction activation scale coefficients.
func (d *Dense) Scales() (towardB, towardA float32) { return d.scale[TowardB], d.scale[TowardA] }

// SelfLoop reports whether both ends are the same chunk.
func (d *Dense) SelfLoop() bool { return d.a == d.b }

func (d *Dense) src(dir Direction) *chunk.Chunk {
	if dir == TowardB {
		return d.a
	}
	return d.b
}

func (d *Dense) dst(dir Direction) *chunk.Chunk {
	if dir == TowardB {
		return d.b
	}
	return d.a
}

// zeroDiagonal enforces W_ii = 0 on self-loop clouds.
func (d *Dense) zeroDiagonal() {
	n := d.b.Size()
	data := d.w.Data().([]float32)
	for i := 0; i < d.a.Size() && i < n; i++ {
		data[i*n+i] = 0
	}
}

// apply overwrites out with the scaled activation product, bypassing the
// cache. src is shaped (stripes, srcSize), out (stripes, dstSize).
func (d *Dense) apply(dir Direction, src, out *tensor.Dense) error {
	if d.SelfLoop() {
		d.zeroDiagonal()
	}
	w := d.w
	if dir == TowardA {
		wt, err := tensor.Transpose(d.w)
		if err != nil {
			return errors.Wrapf(err, "cloud %q: transpose", d.name)
		}
		w = wt.(*tensor.Dense)
	}
	if _, err := tensor.MatMul(src, w, tensor.WithReuse(out)); err != nil {
		return errors.Wrapf(err, "cloud %q: activate %v", d.name, dir)
	}
	if s := d.scale[dir]; s != 1 {
		vecf32.Scale(out.Data().([]float32), s)
	}
	return nil
}

// Activate adds the (possibly cached) activation product into dst.
func (d *Dense) Activate(dir Direction, src, dst *tensor.Dense) error {
	srcChunk := d.src(dir)
	stripes := dst.Shape()[0]
	width := d.dst(dir).Size()
	c := &d.cache[dir]
	if !c.fresh(srcChunk, stripes, width) {
		buf := c.prep(stripes, width)
		if err := d.apply(dir, src, buf); err != nil {
			c.valid = false
			return err
		}
		c.valid = true
		c.version = srcChunk.Version()
	}
	vecf32.Add(dst.Data().([]float32), c.buf.Data().([]float32))
	return nil
}

// WeightClouds implements Cloud.
func (d *Dense) WeightClouds(dst []*Dense) []*Dense { return append(dst, d) }

// AccumulateStatistics adds multiplier·v1ᵀ·v2 into the sink's accumulator
// for this cloud, if any.
func (d *Dense) AccumulateStatistics(v1, v2 *tensor.Dense, multiplier float32, importances []float32, sink Sink) error {
	acc := sink.Accumulator(d)
	if acc == nil {
		return nil
	}
	return d.accumulate(v1, v2, multiplier, importances, acc)
}

func (d *Dense) accumulate(v1, v2 *tensor.Dense, multiplier float32, importances []float32, acc *tensor.Dense) error {
	if importances != nil {
		v1 = d.scaleRows(v1, importances)
	}
	v1t, err := tensor.Transpose(v1)
	if err != nil {
		return errors.Wrapf(err, "cloud %q: transpose statistics", d.name)
	}
	rows, cols := v1.Shape()[1], v2.Shape()[1]
	if d.statsScratch == nil || d.statsScratch.Shape()[0] != rows || d.statsScratch.Shape()[1] != cols {
		d.statsScratch = tensor.New(tensor.WithShape(rows, cols), tensor.Of(tensor.Float32))
	}
	if _, err := tensor.MatMul(v1t, v2, tensor.WithReuse(d.statsScratch)); err != nil {
		return errors.Wrapf(err, "cloud %q: statistics product", d.name)
	}
	data := d.statsScratch.Data().([]float32)
	if multiplier != 1 {
		vecf32.Scale(data, multiplier)
	}
	vecf32.Add(acc.Data().([]float32), data)
	return nil
}

// scaleRows returns a scratch copy of v with row s multiplied by imp[s].
func (d *Dense) scaleRows(v *tensor.Dense, imp []float32) *tensor.Dense {
	stripes, width := v.Shape()[0], v.Shape()[1]
	if d.impScratch == nil || d.impScratch.Shape()[0] != stripes || d.impScratch.Shape()[1] != width {
		d.impScratch = tensor.New(tensor.WithShape(stripes, width), tensor.Of(tensor.Float32))
	}
	src := v.Data().([]float32)
	out := d.impScratch.Data().([]float32)
	copy(out, src)
	for s := 0; s < stripes; s++ {
		vecf32.Scale(out[s*width:(s+1)*width], imp[s])
	}
	return d.impScratch
}
