// Package chunk implements typed banks of scalar units ("chunks"). A chunk
// owns four parallel value buffers of shape (stripes, size): the current
// nodes, the previous snapshot (oldNodes), the last computed distribution
// means, and the externally clamped inputs. Stripes are the batch dimension.
package chunk

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Chunk is a bank of units sharing one activation/sampling rule.
type Chunk struct {
	name string
	kind Kind
	size int

	maxStripes int
	stripes    int

	nodes    *buffer
	oldNodes *buffer
	means    *buffer
	inputs   *buffer // nil for conditioning chunks

	// version is bumped whenever the content of nodes changes. Cloud
	// activation caches compare against it.
	version uint64

	// normalized-group parameters (Normalized, Softmax, ConstrainedPoisson)
	groupSize int
	scale     float32

	defaultValue float32 // Constant chunks refill with this

	// indicesPresent restricts operations to a sparse set of units. It is
	// mutually exclusive with multi-stripe batching.
	indicesPresent []int

	// temporal state
	source  *Chunk
	held    []float32
	hasHeld bool
}

// buffer is one owned value plane. The backing array is sized for
// maxStripes; the view exposes only the active stripes.
type buffer struct {
	backing []float32
	view    *tensor.Dense
}

func newBuffer(size, maxStripes, stripes int) *buffer {
	b := &buffer{backing: make([]float32, maxStripes*size)}
	b.reshape(size, stripes)
	return b
}

func (b *buffer) reshape(size, stripes int) {
	b.view = tensor.New(tensor.WithShape(stripes, size), tensor.WithBacking(b.backing[:stripes*size]))
}

func (b *buffer) data() []float32 { return b.view.Data().([]float32) }

// Option configures a chunk at construction.
type Option func(*Chunk)

// WithMaxStripes sets the maximum batch width. Defaults to 1.
func WithMaxStripes(n int) Option { return func(c *Chunk) { c.maxStripes = n } }

// WithGroupSize sets the group width of a normalized chunk.
func WithGroupSize(n int) Option { return func(c *Chunk) { c.groupSize = n } }

// WithScale sets the normalization scale of a normalized chunk. Defaults to 1.
func WithScale(s float32) Option { return func(c *Chunk) { c.scale = s } }

// WithDefaultValue sets the fill value of a Constant chunk.
func WithDefaultValue(v float32) Option { return func(c *Chunk) { c.defaultValue = v } }

// WithSource sets the chunk whose means a Temporal chunk remembers.
func WithSource(src *Chunk) Option { return func(c *Chunk) { c.source = src } }

// New creates a chunk of the given kind and size.
func New(name string, kind Kind, size int, opts ...Option) (*Chunk, error) {
	if size <= 0 {
		return nil, errors.Errorf("chunk %q: size must be positive, got %d", name, size)
	}
	c := &Chunk{
		name:       name,
		kind:       kind,
		size:       size,
		maxStripes: 1,
		stripes:    1,
		groupSize:  size,
		scale:      1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxStripes < 1 {
		return nil, errors.Errorf("chunk %q: max stripes must be at least 1, got %d", name, c.maxStripes)
	}
	if kind.normalized() && (c.groupSize <= 0 || size%c.groupSize != 0) {
		return nil, errors.Errorf("chunk %q: group size %d does not divide size %d", name, c.groupSize, size)
	}
	if kind == Temporal {
		if c.source == nil {
			return nil, errors.Errorf("chunk %q: temporal chunk needs a source", name)
		}
		if c.source.size != size {
			return nil, errors.Errorf("chunk %q: temporal source %q has size %d, want %d", name, c.source.name, c.source.size, size)
		}
	}
	c.alloc()
	return c, nil
}

func (c *Chunk) alloc() {
	c.nodes = newBuffer(c.size, c.maxStripes, c.stripes)
	c.oldNodes = newBuffer(c.size, c.maxStripes, c.stripes)
	c.means = newBuffer(c.size, c.maxStripes, c.stripes)
	if !c.kind.IsConditioning() {
		c.inputs = newBuffer(c.size, c.maxStripes, c.stripes)
	}
	if c.kind == Temporal {
		c.held = make([]float32, c.maxStripes*c.size)
		c.hasHeld = false
	}
	if c.kind == Constant {
		c.Fill(c.defaultValue, true)
	}
}

func (c *Chunk) Name() string          { return c.name }
func (c *Chunk) Kind() Kind            { return c.kind }
func (c *Chunk) Size() int             { return c.size }
func (c *Chunk) Stripes() int          { return c.stripes }
func (c *Chunk) MaxStripes() int       { return c.maxStripes }
func (c *Chunk) GroupSize() int        { return c.groupSize }
func (c *Chunk) Scale() float32        { return c.scale }
func (c *Chunk) DefaultValue() float32 { return c.defaultValue }

// Version returns the current version stamp of the nodes buffer.
func (c *Chunk) Version() uint64 { return c.version }

// BumpVersion opens a new version epoch, invalidating any cached cloud
// activation sourced from this chunk.
func (c *Chunk) BumpVersion() { c.version++ }

// Nodes returns the current activation/sample buffer, shaped (stripes, size).
func (c *Chunk) Nodes() *tensor.Dense { return c.nodes.view }

// OldNodes returns the previous snapshot buffer.
func (c *Chunk) OldNodes() *tensor.Dense { return c.oldNodes.view }

// Means returns the last computed distribution means.
func (c *Chunk) Means() *tensor.Dense { return c.means.view }

// Inputs returns the clamped-input mirror, or nil for conditioning chunks.
func (c *Chunk) Inputs() *tensor.Dense {
	if c.inputs == nil {
		return nil
	}
	return c.inputs.view
}

// NodesData exposes the raw nodes values of the active stripes.
func (c *Chunk) NodesData() []float32 { return c.nodes.data() }

// OldNodesData exposes the raw previous-snapshot values.
func (c *Chunk) OldNodesData() []float32 { return c.oldNodes.data() }

// MeansData exposes the raw means values.
func (c *Chunk) MeansData() []float32 { return c.means.data() }

// InputsData exposes the raw clamped inputs, or nil for conditioning chunks.
func (c *Chunk) InputsData() []float32 {
	if c.inputs == nil {
		return nil
	}
	return c.inputs.data()
}

// SetIndicesPresent restricts the chunk to a sparse set of active units.
// Sparse activity and multi-stripe batching are mutually exclusive.
func (c *Chunk) SetIndicesPresent(indices []int) error {
	if len(indices) > 1 && c.stripes > 1 {
		return errors.Errorf("chunk %q: indices-present with %d indices cannot be combined with %d stripes", c.name, len(indices), c.stripes)
	}
	for _, i := range indices {
		if i < 0 || i >= c.size {
			return errors.Errorf("chunk %q: index %d out of range [0, %d)", c.name, i, c.size)
		}
	}
	c.indicesPresent = indices
	return nil
}

// IndicesPresent returns the sparse active-index list, or nil.
func (c *Chunk) IndicesPresent() []int { return c.indicesPresent }

// Resize reallocates the value buffers. Content is preserved only when both
// dimensions are unchanged; otherwise the buffers are reinitialized (Constant
// chunks refill their default value).
func (c *Chunk) Resize(size, maxStripes int) error {
	if size == c.size && maxStripes == c.maxStripes {
		return nil
	}
	if len(c.indicesPresent) > 1 && c.stripes > 1 {
		return errors.Errorf("chunk %q: cannot resize with indices-present and multiple stripes", c.name)
	}
	if size <= 0 || maxStripes < 1 {
		return errors.Errorf("chunk %q: invalid resize to (%d, %d)", c.name, size, maxStripes)
	}
	c.size = size
	c.maxStripes = maxStripes
	if c.stripes > maxStripes {
		c.stripes = maxStripes
	}
	if c.kind.normalized() && size%c.groupSize != 0 {
		c.groupSize = size
	}
	c.alloc()
	c.BumpVersion()
	return nil
}

// SetStripeCount reshapes the buffer views to n active stripes.
func (c *Chunk) SetStripeCount(n int) error {
	if n < 1 || n > c.maxStripes {
		return errors.Errorf("chunk %q: stripe count %d out of range [1, %d]", c.name, n, c.maxStripes)
	}
	if len(c.indicesPresent) > 1 && n > 1 {
		return errors.Errorf("chunk %q: indices-present forbids %d stripes", c.name, n)
	}
	if n == c.stripes {
		return nil
	}
	c.stripes = n
	c.nodes.reshape(c.size, n)
	c.oldNodes.reshape(c.size, n)
	c.means.reshape(c.size, n)
	if c.inputs != nil {
		c.inputs.reshape(c.size, n)
	}
	c.BumpVersion()
	return nil
}

// Fill writes v into the nodes buffer. When all is false and an
// indices-present list is set, only the present indices are written.
func (c *Chunk) Fill(v float32, all bool) {
	data := c.nodes.data()
	if !all && len(c.indicesPresent) > 0 {
		for s := 0; s < c.stripes; s++ {
			row := data[s*c.size : (s+1)*c.size]
			for _, i := range c.indicesPresent {
				row[i] = v
			}
		}
	} else {
		for i := range data {
			data[i] = v
		}
	}
	c.BumpVersion()
}

// Swap exchanges the nodes and oldNodes buffers. No values are copied; this
// is the double-buffer flip that realizes synchronous update semantics.
func (c *Chunk) Swap() {
	c.nodes, c.oldNodes = c.oldNodes, c.nodes
}

// SnapshotMeans copies the current nodes into the means buffer.
func (c *Chunk) SnapshotMeans() {
	copy(c.means.data(), c.nodes.data())
}

// Clamp writes externally supplied values into nodes (and the inputs mirror
// for non-conditioning chunks) and refreshes the means snapshot.
func (c *Chunk) Clamp(values []float32) error {
	data := c.nodes.data()
	if len(values) != len(data) {
		return errors.Errorf("chunk %q: clamp with %d values, want %d", c.name, len(values), len(data))
	}
	copy(data, values)
	if c.inputs != nil {
		copy(c.inputs.data(), values)
	}
	c.SnapshotMeans()
	c.BumpVersion()
	return nil
}

func (c *Chunk) String() string {
	return fmt.Sprintf("%s %s(%d×%d)", c.name, c.kind, c.stripes, c.size)
}
