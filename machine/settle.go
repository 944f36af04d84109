package machine

import (
	"github.com/gorgonia/boltzmann/chunk"
)

// Supervisor steers mean-field settling. After every iteration it is asked
// for a damping factor; ok=false stops the loop. A damping factor k in (0,1)
// blends the fresh means with the previous snapshot as (1−k)·new + k·old.
type Supervisor interface {
	Supervise(targets []*chunk.Chunk, m *Machine, iteration int) (damping float32, ok bool)
}

// DefaultSupervisor runs undamped for UndampedIterations, then damped at a
// fixed factor for DampedIterations, and stops early as soon as the mean
// absolute node change of the targets drops below Tolerance. The tolerance
// check takes priority and runs every iteration.
type DefaultSupervisor struct {
	UndampedIterations int
	DampedIterations   int
	Damping            float32
	Tolerance          float32
}

// Supervise implements Supervisor. iteration is zero-based and counts
// completed sweeps.
func (s *DefaultSupervisor) Supervise(targets []*chunk.Chunk, m *Machine, iteration int) (float32, bool) {
	if s.Tolerance > 0 && m.MeanNodeChange(targets) < s.Tolerance {
		return 0, false
	}
	done := iteration + 1
	switch {
	case done >= s.UndampedIterations+s.DampedIterations:
		return 0, false
	case done >= s.UndampedIterations:
		return s.Damping, true
	}
	return 0, true
}

// Settle iterates synchronous mean updates on targets until the supervisor
// stops it. Each iteration updates every target individually, in order, so
// intra-set dependencies are respected. Afterwards all targets' means are
// snapshotted.
func (m *Machine) Settle(targets []*chunk.Chunk, sup Supervisor) error {
	single := make([]*chunk.Chunk, 1)
	for iteration := 0; ; iteration++ {
		for _, g := range targets {
			single[0] = g
			if err := m.setMean(single, m.clouds, nil); err != nil {
				return err
			}
		}
		k, ok := sup.Supervise(targets, m, iteration)
		if !ok {
			break
		}
		if k > 0 && k < 1 {
			for _, g := range targets {
				blend(g, k)
			}
		}
	}
	for _, g := range targets {
		if !g.Kind().IsConditioning() {
			g.SnapshotMeans()
		}
	}
	return nil
}

// blend damps g's fresh values toward the previous snapshot.
func blend(g *chunk.Chunk, k float32) {
	nodes, old := g.NodesData(), g.OldNodesData()
	for i := range nodes {
		nodes[i] = (1-k)*nodes[i] + k*old[i]
	}
	g.BumpVersion()
}

// SettleVisible settles the visible partition. It is a no-op unless some
// cloud connects two visible chunks.
func (m *Machine) SettleVisible(sup Supervisor) error {
	if !m.hasVisibleToVisible {
		return nil
	}
	m.openEpoch(m.hidden)
	return m.Settle(m.nonConditioning(m.visible), sup)
}

// SettleHidden settles the hidden partition. It is a no-op unless some
// cloud connects two hidden chunks.
func (m *Machine) SettleHidden(sup Supervisor) error {
	if !m.hasHiddenToHidden {
		return nil
	}
	m.openEpoch(m.visible)
	return m.Settle(m.nonConditioning(m.hidden), sup)
}

func (m *Machine) nonConditioning(set []*chunk.Chunk) []*chunk.Chunk {
	out := make([]*chunk.Chunk, 0, len(set))
	for _, c := range set {
		if !c.Kind().IsConditioning() {
			out = append(out, c)
		}
	}
	return out
}
