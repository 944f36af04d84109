package chunk

import (
	"github.com/chewxy/math32"
	rng "github.com/leesper/go_rng"
	"gorgonia.org/vecf32"
)

// Kind tags the activation/sampling rule of a chunk. The hierarchy of the
// usual formulation (normalized → exp-normalized → softmax) is flattened to
// one tag plus the shared group-size and scale parameters.
type Kind int

const (
	// Conditioning chunks are clamped externally and never updated by the
	// model. Mean computation and sampling are no-ops.
	Conditioning Kind = iota
	// Constant is a conditioning chunk holding a fixed default value.
	Constant
	// Sigmoid units are binary with a logistic mean and Bernoulli samples.
	Sigmoid
	// Gaussian units have an identity mean and unit-variance additive noise.
	Gaussian
	// ReLU units clip both mean and sample at zero.
	ReLU
	// Normalized units scale linearly to a fixed sum within each group.
	Normalized
	// Softmax units exp-normalize within each group and sample one-hot.
	Softmax
	// ConstrainedPoisson units exp-normalize within each group and draw
	// Poisson samples at the resulting rates.
	ConstrainedPoisson
	// Temporal is a conditioning chunk that replays a source chunk's means
	// with a one-step delay.
	Temporal
)

func (k Kind) String() string {
	switch k {
	case Conditioning:
		return "conditioning"
	case Constant:
		return "constant"
	case Sigmoid:
		return "sigmoid"
	case Gaussian:
		return "gaussian"
	case ReLU:
		return "relu"
	case Normalized:
		return "normalized"
	case Softmax:
		return "softmax"
	case ConstrainedPoisson:
		return "constrained-poisson"
	case Temporal:
		return "temporal"
	}
	return "unknown"
}

// IsConditioning reports whether chunks of this kind are externally clamped
// and never updated by propagation or sampling.
func (k Kind) IsConditioning() bool {
	return k == Conditioning || k == Constant || k == Temporal
}

func (k Kind) normalized() bool {
	return k == Normalized || k == Softmax || k == ConstrainedPoisson
}

// RNG bundles the distribution generators used for sampling.
type RNG struct {
	uniform  *rng.UniformGenerator
	gaussian *rng.GaussianGenerator
	poisson  *rng.PoissonGenerator
}

// NewRNG creates a deterministic sampling source from seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		uniform:  rng.NewUniformGenerator(seed),
		gaussian: rng.NewGaussianGenerator(seed + 1),
		poisson:  rng.NewPoissonGenerator(seed + 2),
	}
}

// ComputeMean maps the raw activation accumulated in nodes to the
// distribution mean of the chunk's kind, in place, then snapshots the result
// into the means buffer. Conditioning chunks are left untouched.
func (c *Chunk) ComputeMean() {
	if c.kind.IsConditioning() {
		return
	}
	data := c.nodes.data()
	switch c.kind {
	case Sigmoid:
		for i, x := range data {
			data[i] = 1 / (1 + math32.Exp(-x))
		}
	case Gaussian:
		// identity
	case ReLU:
		for i, x := range data {
			if x < 0 {
				data[i] = 0
			}
		}
	case Normalized:
		c.eachGroup(data, c.normalizeLinear)
	case Softmax, ConstrainedPoisson:
		c.eachGroup(data, c.normalizeExp)
	}
	c.SnapshotMeans()
	c.BumpVersion()
}

func (c *Chunk) eachGroup(data []float32, f func(group []float32)) {
	for at := 0; at < len(data); at += c.groupSize {
		f(data[at : at+c.groupSize])
	}
}

func (c *Chunk) normalizeLinear(group []float32) {
	sum := vecf32.Sum(group)
	if sum != 0 {
		vecf32.Scale(group, c.scale/sum)
	}
}

// normalizeExp is the numerically stable softmax-style normalization: the
// per-group maximum is subtracted before exponentiating.
func (c *Chunk) normalizeExp(group []float32) {
	max := group[0]
	for _, x := range group[1:] {
		if x > max {
			max = x
		}
	}
	var sum float32
	for i, x := range group {
		e := math32.Exp(x - max)
		group[i] = e
		sum += e
	}
	vecf32.Scale(group, c.scale/sum)
}

// Sample draws one sample per unit from the chunk's distribution, using the
// current nodes (normally the just-computed means) as parameters, in place.
// Conditioning and plain normalized chunks are left untouched.
func (c *Chunk) Sample(r *RNG) {
	if c.kind.IsConditioning() || c.kind == Normalized {
		return
	}
	data := c.nodes.data()
	switch c.kind {
	case Sigmoid:
		for i, p := range data {
			if r.uniform.Float32() < p {
				data[i] = 1
			} else {
				data[i] = 0
			}
		}
	case Gaussian:
		for i := range data {
			data[i] += float32(r.gaussian.Gaussian(0, 1))
		}
	case ReLU:
		for i, x := range data {
			x += float32(r.gaussian.Gaussian(0, 1))
			if x < 0 {
				x = 0
			}
			data[i] = x
		}
	case Softmax:
		c.eachGroup(data, func(group []float32) { c.sampleOneHot(group, r) })
	case ConstrainedPoisson:
		for i, rate := range data {
			if rate < 0 {
				rate = 0
			}
			data[i] = float32(r.poisson.Poisson(float64(rate)))
		}
	}
	c.BumpVersion()
}

// sampleOneHot draws a categorical sample by a cumulative-threshold scan:
// exactly one unit ends up at the group scale, the rest at zero.
func (c *Chunk) sampleOneHot(group []float32, r *RNG) {
	u := r.uniform.Float32() * c.scale
	chosen := len(group) - 1
	var cum float32
	for i, p := range group {
		cum += p
		if u < cum {
			chosen = i
			break
		}
	}
	for i := range group {
		group[i] = 0
	}
	group[chosen] = c.scale
}
