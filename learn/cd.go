package learn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/cloud"
	"github.com/gorgonia/boltzmann/machine"
)

// CD is the single-chain contrastive divergence learner. It requires an
// RBM-shaped machine: no visible-visible or hidden-hidden clouds.
type CD struct {
	noCost
	m *machine.Machine

	// HiddenSampling defaults to HalfHearted, VisibleSampling to
	// NoSampling, the usual CD-k setup.
	HiddenSampling  Mode
	VisibleSampling Mode

	// GibbsSteps is k in CD-k. Defaults to 1.
	GibbsSteps int

	// Sparsity regularizers updated each positive phase and flushed once
	// per batch.
	Sparsity []*Regularizer
}

// NewCD builds a CD learner over m.
func NewCD(m *machine.Machine) (*CD, error) {
	if m.HasVisibleToVisible() || m.HasHiddenToHidden() {
		return nil, errors.Errorf("cd: machine has lateral clouds; contrastive divergence needs an RBM")
	}
	return &CD{
		m:              m,
		HiddenSampling: HalfHearted,
		GibbsSteps:     1,
	}, nil
}

func (l *CD) Machine() *machine.Machine { return l.m }

func (l *CD) steps() int {
	if l.GibbsSteps < 1 {
		return 1
	}
	return l.GibbsSteps
}

// Accumulate clamps batch, runs the positive phase against the data-driven
// hidden state (statistics scaled by −multiplier), then k Gibbs steps and
// the negative phase against the reconstruction (scaled by +multiplier).
func (l *CD) Accumulate(batch *tensor.Dense, multiplier float32, sink cloud.Sink) error {
	m := l.m
	if err := m.SetInput(batch); err != nil {
		return err
	}

	// positive phase
	if err := m.SetHiddenMean(); err != nil {
		return err
	}
	m.Remember()
	for _, r := range l.Sparsity {
		if err := r.Update(); err != nil {
			return err
		}
	}
	if l.HiddenSampling == FullSampling {
		m.SampleHidden()
	}
	if err := accumulateAll(m, -multiplier, sink); err != nil {
		return err
	}

	// negative phase
	for i := 0; i < l.steps(); i++ {
		if l.HiddenSampling != NoSampling {
			m.SampleHidden()
		}
		if err := m.SetVisibleMean(); err != nil {
			return err
		}
		if l.VisibleSampling == FullSampling {
			m.SampleVisible()
		}
		if err := m.SetHiddenMean(); err != nil {
			return err
		}
	}
	if l.HiddenSampling == FullSampling {
		m.SampleHidden()
	}
	if err := accumulateAll(m, multiplier, sink); err != nil {
		return err
	}

	batchSize := batch.Shape()[0]
	for _, r := range l.Sparsity {
		if err := r.Flush(multiplier, batchSize, sink); err != nil {
			return err
		}
	}
	return nil
}
