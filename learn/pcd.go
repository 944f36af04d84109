package learn

import (
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/cloud"
	"github.com/gorgonia/boltzmann/machine"
)

// PCD is the persistent contrastive divergence learner. The positive phase
// runs against the trainee machine; the negative phase runs entirely on an
// independent persistent-chain copy that shares the trainee's weights but
// owns its state, and is never reset across calls.
type PCD struct {
	noCost
	m     *machine.Machine
	chain *machine.Machine

	HiddenSampling  Mode
	VisibleSampling Mode

	// GibbsSteps per Accumulate call on the persistent chain. Defaults
	// to 1.
	GibbsSteps int

	Sparsity []*Regularizer
}

// NewPCD builds a PCD learner over m with chains persistent Gibbs chains.
// Self-loop clouds are rejected.
func NewPCD(m *machine.Machine, chains int, seed int64) (*PCD, error) {
	chain, err := m.CloneForPersistentChain(chains, seed)
	if err != nil {
		return nil, err
	}
	return &PCD{
		m:               m,
		chain:           chain,
		HiddenSampling:  HalfHearted,
		VisibleSampling: HalfHearted,
		GibbsSteps:      1,
	}, nil
}

func (l *PCD) Machine() *machine.Machine { return l.m }

// Chain exposes the persistent-chain machine.
func (l *PCD) Chain() *machine.Machine { return l.chain }

// NegativeMultiplier is the scale applied to persistent-chain statistics:
// multiplier·batchSize/chainCount, normalizing the two phases' weights
// despite their different population sizes.
func (l *PCD) NegativeMultiplier(multiplier float32, batchSize int) float32 {
	chains := l.chain.Visible()[0].Stripes()
	return multiplier * float32(batchSize) / float32(chains)
}

func (l *PCD) steps() int {
	if l.GibbsSteps < 1 {
		return 1
	}
	return l.GibbsSteps
}

// Accumulate runs the positive phase on the trainee and advances the
// persistent chain for the negative phase.
func (l *PCD) Accumulate(batch *tensor.Dense, multiplier float32, sink cloud.Sink) error {
	m := l.m
	if err := m.SetInput(batch); err != nil {
		return err
	}
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

	// negative phase on the persistent chain
	c := l.chain
	for i := 0; i < l.steps(); i++ {
		if err := c.SetHiddenMean(); err != nil {
			return err
		}
		if l.HiddenSampling != NoSampling {
			c.SampleHidden()
		}
		if err := c.SetVisibleMean(); err != nil {
			return err
		}
		if l.VisibleSampling != NoSampling {
			c.SampleVisible()
		}
	}
	if err := c.SetHiddenMean(); err != nil {
		return err
	}
	if l.HiddenSampling == FullSampling {
		c.SampleHidden()
	}

	batchSize := batch.Shape()[0]
	if err := accumulateAll(c, l.NegativeMultiplier(multiplier, batchSize), sink); err != nil {
		return err
	}
	for _, r := range l.Sparsity {
		if err := r.Flush(multiplier, batchSize, sink); err != nil {
			return err
		}
	}
	return nil
}
