package boltzmann

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/learn"
	"github.com/gorgonia/boltzmann/machine"
)

func testLearner(t *testing.T) *learn.CD {
	t.Helper()
	v, err := chunk.New("v", chunk.Sigmoid, 2, chunk.WithMaxStripes(2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	h, err := chunk.New("h", chunk.Sigmoid, 3, chunk.WithMaxStripes(2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m, err := machine.New(machine.Config{Visible: []*chunk.Chunk{v}, Hidden: []*chunk.Chunk{h}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cd, err := learn.NewCD(m)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cd.HiddenSampling = learn.NoSampling
	return cd
}

func TestConfigValidity(t *testing.T) {
	assert.True(t, DefaultConf().IsValid())

	conf := DefaultConf()
	conf.BatchSize = 0
	assert.False(t, conf.IsValid())

	conf = DefaultConf()
	conf.Solver = nil
	assert.False(t, conf.IsValid())
}

func TestLearnMovesWeights(t *testing.T) {
	cd := testLearner(t)
	conf := DefaultConf()
	conf.BatchSize = 2
	conf.Epochs = 3
	conf.Solver = G.NewVanillaSolver(G.WithLearnRate(0.5))
	tr := New(cd, conf)

	var monitored int
	tr.Handle(func(epoch, batch int, m *machine.Machine) { monitored++ })

	data := tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{
		1, 0,
		1, 0,
		0, 1,
		0, 1,
	}))
	if err := tr.Learn(data); err != nil {
		t.Fatalf("%+v", err)
	}

	var moved bool
	for _, x := range cd.Machine().WeightClouds()[0].Weights().Data().([]float32) {
		if x != 0 {
			moved = true
		}
	}
	assert.True(t, moved, "weights should move off the zero init")
	assert.Equal(t, 3*2, monitored, "monitor fires once per batch")
	assert.Equal(t, []int{0, 1, 2}, tr.Epochs)
	assert.Len(t, tr.RMSE, 3)
}

func TestLearnBatchSizeOne(t *testing.T) {
	cd := testLearner(t)
	conf := DefaultConf()
	conf.BatchSize = 1
	conf.Epochs = 2
	tr := New(cd, conf)

	data := tensor.New(tensor.WithShape(3, 2), tensor.WithBacking([]float32{
		1, 0,
		0, 1,
		1, 1,
	}))
	if err := tr.Learn(data); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Len(t, tr.RMSE, 2)
}

func TestLearnRejectsBadData(t *testing.T) {
	cd := testLearner(t)
	tr := New(cd, DefaultConf())

	vec := tensor.New(tensor.WithShape(4), tensor.Of(tensor.Float32))
	assert.Error(t, tr.Learn(vec))

	short := tensor.New(tensor.WithShape(2, 2), tensor.Of(tensor.Float32))
	assert.Error(t, tr.Learn(short), "2 rows cannot fill a batch of 10")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cd := testLearner(t)
	tr := New(cd, DefaultConf())

	w := cd.Machine().WeightClouds()[0].Weights().Data().([]float32)
	for i := range w {
		w[i] = float32(i) + 0.5
	}
	filename := filepath.Join(t.TempDir(), "rbm.model")
	if err := tr.Save(filename); err != nil {
		t.Fatalf("%+v", err)
	}

	for i := range w {
		w[i] = 0
	}
	if err := tr.Load(filename); err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range w {
		assert.Equal(t, float32(i)+0.5, w[i])
	}
}

func TestStatisticsDump(t *testing.T) {
	s := makeStatistics()
	s.update(0, 0.75)
	s.update(1, 0.5)

	filename := filepath.Join(t.TempDir(), "stats.csv")
	if err := s.Dump(filename); err != nil {
		t.Fatalf("%+v", err)
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, "epoch,rmse\n0,0.75000\n1,0.50000\n", string(raw))
}
