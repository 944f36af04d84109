// Package learn implements gradient-statistics accumulation for Boltzmann
// machines: contrastive divergence (CD), persistent contrastive divergence
// (PCD) and sparsity regularization. Learners produce outer-product
// statistics into externally supplied accumulators; stepping the weights is
// the optimizer's business (see Step).
package learn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/cloud"
	"github.com/gorgonia/boltzmann/machine"
)

// Mode controls how much sampling a learner does on one partition.
type Mode int

const (
	// NoSampling propagates mean values only.
	NoSampling Mode = iota
	// HalfHearted samples for the Gibbs chain transitions but statistics
	// are taken from means.
	HalfHearted
	// FullSampling samples for transitions and statistics both.
	FullSampling
)

// Learner is the shared contract: clamp a batch, run a positive and a
// negative phase, and accumulate negative−positive statistics (scaled by
// multiplier) into the sink.
type Learner interface {
	Accumulate(batch *tensor.Dense, multiplier float32, sink cloud.Sink) error
	Machine() *machine.Machine
}

// accumulateAll adds multiplier·v1ᵀ·v2 statistics for every cloud of m,
// using the current nodes at both ends.
func accumulateAll(m *machine.Machine, multiplier float32, sink cloud.Sink) error {
	for _, cl := range m.Clouds() {
		if err := cl.AccumulateStatistics(cl.A().Nodes(), cl.B().Nodes(), multiplier, nil, sink); err != nil {
			return err
		}
	}
	return nil
}

// noCost is embedded by the learners: this model family supports gradient
// statistics only, not cost-function values.
type noCost struct{}

// Cost is not implemented for Boltzmann machine learners.
func (noCost) Cost() (float32, error) {
	return 0, errors.New("cost value is not implemented for boltzmann machine learners; only gradients are available")
}
