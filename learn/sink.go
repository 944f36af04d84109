package learn

import (
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/cloud"
	"github.com/gorgonia/boltzmann/machine"
)

// GradientSink is the standard gradient accumulator: one additive buffer per
// dense weight cloud. Freezing a cloud removes its buffer, which makes every
// learner skip statistics for it.
type GradientSink struct {
	order []*cloud.Dense
	accs  map[*cloud.Dense]*tensor.Dense
}

// NewGradientSink allocates zeroed accumulators for every weight cloud of m.
func NewGradientSink(m *machine.Machine) *GradientSink {
	s := &GradientSink{accs: make(map[*cloud.Dense]*tensor.Dense)}
	for _, d := range m.WeightClouds() {
		shape := d.Weights().Shape()
		s.order = append(s.order, d)
		s.accs[d] = tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float32))
	}
	return s
}

// Accumulator implements cloud.Sink.
func (s *GradientSink) Accumulator(c *cloud.Dense) *tensor.Dense { return s.accs[c] }

// Freeze drops c's accumulator so its weights stop learning.
func (s *GradientSink) Freeze(c *cloud.Dense) { delete(s.accs, c) }

// Reset zeroes all accumulators. Called after every optimizer step.
func (s *GradientSink) Reset() {
	for _, acc := range s.accs {
		data := acc.Data().([]float32)
		for i := range data {
			data[i] = 0
		}
	}
}

// Clouds returns the weight clouds with live accumulators, in cloud-list
// order.
func (s *GradientSink) Clouds() []*cloud.Dense {
	out := make([]*cloud.Dense, 0, len(s.order))
	for _, d := range s.order {
		if _, ok := s.accs[d]; ok {
			out = append(out, d)
		}
	}
	return out
}
