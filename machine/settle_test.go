package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/chunk"
)

// lateralBM builds a machine with a visible-visible edge so that visible
// settling actually runs.
func lateralBM(t *testing.T) *Machine {
	t.Helper()
	v1 := sigmoidChunk(t, "v1", 2)
	v2 := sigmoidChunk(t, "v2", 2)
	h := sigmoidChunk(t, "h", 2)
	m, err := New(Config{
		Visible: []*chunk.Chunk{v1, v2},
		Hidden:  []*chunk.Chunk{h},
		Clouds:  []CloudSpec{{From: "v1", To: "v2", Class: DenseWeights}},
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return m
}

type countingSupervisor struct {
	inner  Supervisor
	sweeps int
}

func (s *countingSupervisor) Supervise(targets []*chunk.Chunk, m *Machine, iteration int) (float32, bool) {
	s.sweeps++
	return s.inner.Supervise(targets, m, iteration)
}

func TestSettleStopsAtIterationBudget(t *testing.T) {
	m := lateralBM(t)
	// nonzero weights keep the state moving so the tolerance never fires
	for _, d := range m.WeightClouds() {
		data := d.Weights().Data().([]float32)
		for i := range data {
			data[i] = 3
		}
	}
	in := tensor.New(tensor.WithShape(1, 4), tensor.WithBacking([]float32{1, 0, 1, 0}))
	if err := m.SetInput(in); err != nil {
		t.Fatalf("%+v", err)
	}

	sup := &countingSupervisor{inner: &DefaultSupervisor{
		UndampedIterations: 3,
		DampedIterations:   2,
		Damping:            0.5,
	}}
	if err := m.SettleVisible(sup); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, 5, sup.sweeps, "settling must terminate within N1+N2 iterations")
}

func TestSettleStopsEarlyOnConvergence(t *testing.T) {
	m := lateralBM(t)
	// zero weights: after one sweep every unit sits at 0.5 and stays there
	in := tensor.New(tensor.WithShape(1, 4), tensor.WithBacking([]float32{1, 0, 1, 0}))
	if err := m.SetInput(in); err != nil {
		t.Fatalf("%+v", err)
	}

	sup := &countingSupervisor{inner: &DefaultSupervisor{
		UndampedIterations: 100,
		DampedIterations:   100,
		Damping:            0.3,
		Tolerance:          1e-6,
	}}
	if err := m.SettleVisible(sup); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Less(t, sup.sweeps, 10, "convergence threshold must stop settling early")

	v1, _ := m.ChunkByName("v1")
	assert.Equal(t, []float32{0.5, 0.5}, v1.NodesData())
	assert.Equal(t, v1.NodesData(), v1.MeansData(), "means snapshotted after settling")
}

func TestSettleSkippedWithoutLateralEdges(t *testing.T) {
	m := smallRBM(t)
	sup := &countingSupervisor{inner: &DefaultSupervisor{UndampedIterations: 5}}
	if err := m.SettleVisible(sup); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.SettleHidden(sup); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Zero(t, sup.sweeps, "RBMs have no lateral edges, settling is trivial")
}

func TestDampingBlendsTowardPrevious(t *testing.T) {
	c := sigmoidChunk(t, "c", 2)
	copy(c.NodesData(), []float32{0.5, 0.5})
	copy(c.OldNodesData(), []float32{1, 0})

	blend(c, 0.4)
	assert.InDelta(t, 0.6*0.5+0.4*1, c.NodesData()[0], 1e-6)
	assert.InDelta(t, 0.6*0.5+0.4*0, c.NodesData()[1], 1e-6)
}
