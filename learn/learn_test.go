package learn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/machine"
)

func rbm(t *testing.T, visible, hidden int, maxStripes int) *machine.Machine {
	t.Helper()
	v, err := chunk.New("v", chunk.Sigmoid, visible, chunk.WithMaxStripes(maxStripes))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	h, err := chunk.New("h", chunk.Sigmoid, hidden, chunk.WithMaxStripes(maxStripes))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m, err := machine.New(machine.Config{Visible: []*chunk.Chunk{v}, Hidden: []*chunk.Chunk{h}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return m
}

func TestCDRejectsLateralClouds(t *testing.T) {
	v1, _ := chunk.New("v1", chunk.Sigmoid, 2)
	v2, _ := chunk.New("v2", chunk.Sigmoid, 2)
	h, _ := chunk.New("h", chunk.Sigmoid, 2)
	m, err := machine.New(machine.Config{
		Visible: []*chunk.Chunk{v1, v2},
		Hidden:  []*chunk.Chunk{h},
		Clouds:  []machine.CloudSpec{{From: "v1", To: "v2", Class: machine.DenseWeights}},
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	_, err = NewCD(m)
	assert.Error(t, err)
}

func TestCDZeroWeightStatistics(t *testing.T) {
	m := rbm(t, 2, 3, 1)
	l, err := NewCD(m)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	l.HiddenSampling = NoSampling

	sink := NewGradientSink(m)
	batch := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 0}))
	if err := l.Accumulate(batch, 1, sink); err != nil {
		t.Fatalf("%+v", err)
	}

	// positive: v=(1,0), h=0.5 ⇒ −v1ᵀ·v2; negative: v=h=0.5 ⇒ +0.25
	acc := sink.Accumulator(m.WeightClouds()[0]).Data().([]float32)
	want := []float32{
		-0.25, -0.25, -0.25,
		0.25, 0.25, 0.25,
	}
	assert.Equal(t, want, acc)
}

func TestCDCostUnimplemented(t *testing.T) {
	m := rbm(t, 2, 2, 1)
	l, err := NewCD(m)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	_, err = l.Cost()
	assert.Error(t, err)
}

func TestPCDNegativeMultiplier(t *testing.T) {
	m := rbm(t, 2, 2, 2)
	l, err := NewPCD(m, 4, 99)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, float32(3*2)/4, l.NegativeMultiplier(3, 2))
}

// TestPCDPhaseNormalization exploits that with zero weights and all-ones
// input the accumulated statistic is −0.25·batchSize·multiplier per entry,
// independent of the chain count: the batchSize/chainCount scaling must
// cancel the chain population exactly.
func TestPCDPhaseNormalization(t *testing.T) {
	for _, chains := range []int{1, 3, 5} {
		m := rbm(t, 2, 2, 2)
		l, err := NewPCD(m, chains, 7)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		l.HiddenSampling = NoSampling
		l.VisibleSampling = NoSampling

		sink := NewGradientSink(m)
		batch := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, 1, 1, 1}))
		if err := l.Accumulate(batch, 2, sink); err != nil {
			t.Fatalf("%+v", err)
		}
		acc := sink.Accumulator(m.WeightClouds()[0]).Data().([]float32)
		for i, got := range acc {
			assert.InDelta(t, -1.0, got, 1e-6, "chains=%d entry %d", chains, i)
		}
	}
}

func TestPCDChainSharesWeightsOwnsState(t *testing.T) {
	m := rbm(t, 2, 2, 1)
	l, err := NewPCD(m, 3, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	tw := m.WeightClouds()[0].Weights()
	cw := l.Chain().WeightClouds()[0].Weights()
	tw.Data().([]float32)[0] = 42
	assert.Equal(t, float32(42), cw.Data().([]float32)[0], "weights are shared by reference")

	tv, _ := m.ChunkByName("v")
	cv, _ := l.Chain().ChunkByName("v")
	assert.Equal(t, 3, cv.Stripes(), "chain sized to chain count")
	tv.Fill(1, true)
	for _, x := range cv.NodesData() {
		assert.Zero(t, x, "chain state is independent")
	}
}

func TestPCDChainPersistsAcrossCalls(t *testing.T) {
	m := rbm(t, 2, 2, 2)
	l, err := NewPCD(m, 2, 5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	l.HiddenSampling = NoSampling
	l.VisibleSampling = NoSampling

	sink := NewGradientSink(m)
	batch := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, 0, 0, 1}))
	if err := l.Accumulate(batch, 1, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	cv, _ := l.Chain().ChunkByName("v")
	after := append([]float32(nil), cv.NodesData()...)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, after, "chain advanced to the zero-weight fixed point")

	if err := l.Accumulate(batch, 1, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, after, cv.NodesData(), "no reset between calls")
}

func TestPCDRejectsSelfLoops(t *testing.T) {
	v, _ := chunk.New("v", chunk.Sigmoid, 3)
	h, _ := chunk.New("h", chunk.Sigmoid, 2)
	m, err := machine.New(machine.Config{
		Visible: []*chunk.Chunk{v},
		Hidden:  []*chunk.Chunk{h},
		Clouds:  []machine.CloudSpec{{From: "v", To: "v", Class: machine.DenseWeights}},
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	_, err = NewPCD(m, 2, 0)
	assert.Error(t, err)
}

func TestFreezeSkipsAccumulation(t *testing.T) {
	m := rbm(t, 2, 2, 1)
	l, err := NewCD(m)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	l.HiddenSampling = NoSampling

	sink := NewGradientSink(m)
	frozen := m.WeightClouds()[0]
	sink.Freeze(frozen)

	batch := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{1, 0}))
	if err := l.Accumulate(batch, 1, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Nil(t, sink.Accumulator(frozen))
	assert.Empty(t, sink.Clouds())
}

func TestVanillaSolverStep(t *testing.T) {
	m := rbm(t, 2, 2, 1)
	l, err := NewCD(m)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sink := NewGradientSink(m)
	d := m.WeightClouds()[0]
	copy(sink.Accumulator(d).Data().([]float32), []float32{1, 2, 3, 4})

	solver := G.NewVanillaSolver(G.WithLearnRate(0.5))
	if err := Step(solver, l, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []float32{-0.5, -1, -1.5, -2}, d.Weights().Data().([]float32))

	for _, g := range sink.Accumulator(d).Data().([]float32) {
		assert.Zero(t, g, "accumulators reset after step")
	}
}
