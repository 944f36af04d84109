package machine

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/cloud"
)

// hijackMeansToActivation is the core propagate-and-reduce step: zero the
// non-conditioning targets, add every touching cloud's contribution from the
// other end (reading old nodes, so every target sees only the pre-update
// snapshot of its neighbours), then reduce raw activations to means.
func (m *Machine) hijackMeansToActivation(targets []*chunk.Chunk, clouds []cloud.Cloud, doubled map[*chunk.Chunk]bool) error {
	in := make(map[*chunk.Chunk]bool, len(targets))
	for _, c := range targets {
		if c.Kind().IsConditioning() {
			continue
		}
		in[c] = true
		c.Fill(0, true)
	}
	for _, cl := range clouds {
		if in[cl.B()] {
			if err := cl.Activate(cloud.TowardB, cl.A().OldNodes(), cl.B().Nodes()); err != nil {
				return err
			}
		}
		if in[cl.A()] && cl.A() != cl.B() {
			if err := cl.Activate(cloud.TowardA, cl.B().OldNodes(), cl.A().Nodes()); err != nil {
				return err
			}
		}
	}
	for _, c := range targets {
		if !in[c] {
			continue
		}
		if doubled[c] {
			data := c.NodesData()
			for i := range data {
				data[i] *= 2
			}
		}
		c.ComputeMean()
	}
	return nil
}

// setMean computes the means of targets synchronously: the whole network is
// double-buffer flipped so that propagation reads the common pre-update
// snapshot, then every chunk not updated is flipped back.
func (m *Machine) setMean(targets []*chunk.Chunk, clouds []cloud.Cloud, doubled map[*chunk.Chunk]bool) error {
	for _, c := range m.chunks {
		c.Swap()
	}
	err := m.hijackMeansToActivation(targets, clouds, doubled)
	in := make(map[*chunk.Chunk]bool, len(targets))
	for _, c := range targets {
		if !c.Kind().IsConditioning() {
			in[c] = true
		}
	}
	for _, c := range m.chunks {
		if !in[c] {
			c.Swap()
		}
	}
	return err
}

// SetMean runs a synchronous mean update on an arbitrary target set.
func (m *Machine) SetMean(targets []*chunk.Chunk) error {
	return m.setMean(targets, m.clouds, nil)
}

// SetVisibleMean computes the visible means from the hidden state. It opens
// a new version epoch over the hidden chunks, so cached activations sourced
// from them are refreshed exactly once per call.
func (m *Machine) SetVisibleMean() error {
	m.openEpoch(m.hidden)
	return m.setMean(m.visible, m.clouds, nil)
}

// SetHiddenMean computes the hidden means from the visible state, opening a
// new version epoch over the visible chunks.
func (m *Machine) SetHiddenMean() error {
	m.openEpoch(m.visible)
	return m.setMean(m.hidden, m.clouds, nil)
}

func (m *Machine) openEpoch(set []*chunk.Chunk) {
	for _, c := range set {
		c.BumpVersion()
	}
}

// SampleVisible draws samples in every non-conditioning visible chunk, using
// the just-computed means as distribution parameters.
func (m *Machine) SampleVisible() { m.sampleSet(m.visible) }

// SampleHidden draws samples in every non-conditioning hidden chunk.
func (m *Machine) SampleHidden() { m.sampleSet(m.hidden) }

func (m *Machine) sampleSet(set []*chunk.Chunk) {
	for _, c := range set {
		c.Sample(m.rng)
	}
}

// SetInput clamps a batch of samples onto the visible chunks. The stripe
// count of every chunk is sized to the batch length; temporal chunks restore
// their remembered value instead of consuming input columns; all other
// visible chunks consume batch columns in declaration order. Clamped values
// are mirrored into the inputs buffers and the means snapshots refreshed.
func (m *Machine) SetInput(batch *tensor.Dense) error {
	shape := batch.Shape()
	if len(shape) != 2 {
		return errors.Errorf("set input: batch must be a matrix, got shape %v", shape)
	}
	stripes, width := shape[0], shape[1]

	var want int
	for _, c := range m.visible {
		if c.Kind() != chunk.Temporal {
			want += c.Size()
		}
	}
	if width != want {
		return errors.Errorf("set input: batch width %d, want %d", width, want)
	}
	for _, c := range m.chunks {
		if c.MaxStripes() < stripes {
			if err := c.Resize(c.Size(), stripes); err != nil {
				return err
			}
		}
		if err := c.SetStripeCount(stripes); err != nil {
			return err
		}
	}

	data := batch.Data().([]float32)
	col := 0
	for _, c := range m.visible {
		if c.Kind() == chunk.Temporal {
			c.RestoreRemembered()
			continue
		}
		vals := make([]float32, stripes*c.Size())
		for s := 0; s < stripes; s++ {
			copy(vals[s*c.Size():(s+1)*c.Size()], data[s*width+col:s*width+col+c.Size()])
		}
		if err := c.Clamp(vals); err != nil {
			return err
		}
		col += c.Size()
	}
	return nil
}

// Remember lets every temporal chunk capture its source's current means.
func (m *Machine) Remember() {
	for _, c := range m.chunks {
		c.Remember()
	}
}

// ReconstructionError returns the summed squared difference between the
// clamped inputs and the current nodes over all non-conditioning visible
// chunks, along with the number of contributing elements.
func (m *Machine) ReconstructionError() (sse float32, count int) {
	for _, c := range m.visible {
		if c.Kind().IsConditioning() {
			continue
		}
		nodes, inputs := c.NodesData(), c.InputsData()
		for i := range nodes {
			d := nodes[i] - inputs[i]
			sse += d * d
		}
		count += len(nodes)
	}
	return sse, count
}

// MeanNodeChange reports the mean absolute difference between nodes and the
// previous snapshot over the given chunks.
func (m *Machine) MeanNodeChange(targets []*chunk.Chunk) float32 {
	var sum float32
	var n int
	for _, c := range targets {
		nodes, old := c.NodesData(), c.OldNodesData()
		for i := range nodes {
			sum += math32.Abs(nodes[i] - old[i])
		}
		n += len(nodes)
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}
