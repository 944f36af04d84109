package machine

import (
	"github.com/pkg/errors"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/cloud"
)

// CloneForPersistentChain builds an independent copy of the machine for use
// as a persistent Gibbs chain: every chunk gets fresh state buffers sized
// for chains stripes, while every cloud shares its weight storage with the
// original by reference. Self-loop clouds are not supported.
func (m *Machine) CloneForPersistentChain(chains int, seed int64) (*Machine, error) {
	if chains < 1 {
		return nil, errors.Errorf("persistent chain: chain count must be at least 1, got %d", chains)
	}
	for _, cl := range m.clouds {
		if cl.A() == cl.B() {
			return nil, errors.Errorf("persistent chain: self-loop cloud %q is not supported", cl.Name())
		}
	}

	clones := make(map[*chunk.Chunk]*chunk.Chunk, len(m.chunks))
	cloneChunk := func(c *chunk.Chunk) error {
		opts := []chunk.Option{
			chunk.WithMaxStripes(chains),
			chunk.WithGroupSize(c.GroupSize()),
			chunk.WithScale(c.Scale()),
			chunk.WithDefaultValue(c.DefaultValue()),
		}
		if c.Kind() == chunk.Temporal {
			opts = append(opts, chunk.WithSource(clones[c.Source()]))
		}
		cc, err := chunk.New(c.Name(), c.Kind(), c.Size(), opts...)
		if err != nil {
			return err
		}
		if err := cc.SetStripeCount(chains); err != nil {
			return err
		}
		clones[c] = cc
		return nil
	}
	// temporal chunks go last so their sources are already cloned
	for _, c := range m.chunks {
		if c.Kind() == chunk.Temporal {
			continue
		}
		if err := cloneChunk(c); err != nil {
			return nil, err
		}
	}
	for _, c := range m.chunks {
		if c.Kind() != chunk.Temporal {
			continue
		}
		if err := cloneChunk(c); err != nil {
			return nil, err
		}
	}

	c2 := &Machine{
		chunksByName: make(map[string]*chunk.Chunk),
		cloudsByName: make(map[string]cloud.Cloud),
		isVisible:    make(map[*chunk.Chunk]bool),
		rng:          chunk.NewRNG(seed),

		hasVisibleToVisible: m.hasVisibleToVisible,
		hasHiddenToHidden:   m.hasHiddenToHidden,
	}
	for _, c := range m.chunks {
		cc := clones[c]
		c2.chunks = append(c2.chunks, cc)
		c2.chunksByName[cc.Name()] = cc
		if m.isVisible[c] {
			c2.visible = append(c2.visible, cc)
			c2.isVisible[cc] = true
		} else {
			c2.hidden = append(c2.hidden, cc)
		}
	}

	for _, cl := range m.clouds {
		a, b := clones[cl.A()], clones[cl.B()]
		var (
			copied cloud.Cloud
			err    error
		)
		switch orig := cl.(type) {
		case *cloud.Dense:
			sb, sa := orig.Scales()
			copied, err = cloud.NewDense(orig.Name(), a, b, cloud.WithWeights(orig.Weights()), cloud.WithScales(sb, sa))
		case *cloud.Factored:
			f1, f2 := orig.Halves()
			sb, sa := orig.Scales()
			copied, err = cloud.NewFactoredWith(orig.Name(), a, b, f1.Weights(), f2.Weights(), cloud.WithScales(sb, sa))
		default:
			err = errors.Errorf("persistent chain: cloud %q has unknown type %T", cl.Name(), cl)
		}
		if err != nil {
			return nil, err
		}
		c2.clouds = append(c2.clouds, copied)
		c2.cloudsByName[copied.Name()] = copied
	}
	return c2, nil
}
