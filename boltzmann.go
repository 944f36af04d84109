package boltzmann

import (
	"bytes"
	"encoding/gob"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann/learn"
	"github.com/gorgonia/boltzmann/machine"
)

// Monitor is called after every batch, once the gradients for it have been
// accumulated but before the solver steps the weights.
type Monitor func(epoch, batch int, m *machine.Machine)

// Config configures a Trainer.
type Config struct {
	BatchSize  int
	Epochs     int
	Multiplier float32 // scale on every accumulated statistic

	Solver G.Solver
}

// DefaultConf returns a training configuration with a vanilla solver.
func DefaultConf() Config {
	return Config{
		BatchSize:  10,
		Epochs:     1,
		Multiplier: 1,
		Solver:     G.NewVanillaSolver(G.WithLearnRate(0.1)),
	}
}

// IsValid reports whether the config can drive a training run.
func (conf Config) IsValid() bool {
	return conf.BatchSize > 0 &&
		conf.Epochs > 0 &&
		conf.Multiplier > 0 &&
		conf.Solver != nil
}

// Trainer is the top level structure and the entry point of the API. It wraps
// a learner, a gradient sink and a solver into an epoch/batch loop.
type Trainer struct {
	// state
	Statistics
	learner learn.Learner
	sink    *learn.GradientSink

	// config
	conf    Config
	monitor Monitor

	r      *rand.Rand
	buf    bytes.Buffer
	logger *log.Logger
}

// New builds a Trainer around a learner. It takes a configuration for the
// batch loop and the solver.
func New(l learn.Learner, conf Config) *Trainer {
	if !conf.IsValid() {
		panic("conf is not valid. Unable to proceed")
	}
	t := &Trainer{
		Statistics: makeStatistics(),
		learner:    l,
		sink:       learn.NewGradientSink(l.Machine()),
		conf:       conf,
		r:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	t.logger = log.New(&t.buf, "", log.Ltime)
	return t
}

// Sink exposes the gradient sink, so callers can freeze clouds before
// training starts.
func (t *Trainer) Sink() *learn.GradientSink { return t.sink }

// Handle registers a monitor callback.
func (t *Trainer) Handle(fn Monitor) { t.monitor = fn }

// Learn trains for the configured number of epochs. data holds one training
// case per row; the trailing rows that do not fill a batch are dropped. Batch
// order is reshuffled every epoch.
func (t *Trainer) Learn(data *tensor.Dense) error {
	shape := data.Shape()
	if len(shape) != 2 {
		return errors.Errorf("learn: data must be a matrix, got shape %v", shape)
	}
	batches := shape[0] / t.conf.BatchSize
	if batches == 0 {
		return errors.Errorf("learn: %d rows cannot fill a batch of %d", shape[0], t.conf.BatchSize)
	}

	order := make([]int, batches)
	for i := range order {
		order[i] = i
	}

	m := t.learner.Machine()
	for epoch := 0; epoch < t.conf.Epochs; epoch++ {
		t.buf.Reset()
		t.logger.Printf("Epoch %d", epoch)
		t.logger.SetPrefix("\t")

		t.shuffle(order)
		var sse float32
		var n int
		for i, b := range order {
			var s slicer
			batch := s.Slice(data, sli(b*t.conf.BatchSize, (b+1)*t.conf.BatchSize))
			if s.err != nil {
				return s.err
			}
			// a size-1 row range collapses to a vector
			if batch.Dims() == 1 {
				if err := batch.Reshape(1, shape[1]); err != nil {
					return errors.Wrap(err, "reshape batch")
				}
			}
			if err := t.learner.Accumulate(batch, t.conf.Multiplier, t.sink); err != nil {
				return errors.WithMessagef(err, "epoch %d batch %d", epoch, b)
			}
			e, c := m.ReconstructionError()
			sse += e
			n += c
			if t.monitor != nil {
				t.monitor(epoch, i, m)
			}
			if err := learn.Step(t.conf.Solver, t.learner, t.sink); err != nil {
				return errors.WithMessagef(err, "epoch %d batch %d", epoch, b)
			}
		}
		t.logger.SetPrefix("")

		rmse := math32.Sqrt(sse / float32(n))
		t.update(epoch, rmse)
		log.Printf("Epoch %d: reconstruction RMSE %.5f", epoch, rmse)
	}
	return nil
}

func (t *Trainer) shuffle(order []int) {
	for i := range order {
		j := t.r.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
}

// savedModel is the gob envelope around the flat weight stream.
type savedModel struct {
	Weights []byte
}

// Save writes the learner's weights into filename.
func (t *Trainer) Save(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0544)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := t.learner.Machine().WriteWeights(&buf); err != nil {
		return err
	}
	enc := gob.NewEncoder(f)
	return enc.Encode(savedModel{Weights: buf.Bytes()})
}

// Load restores previously saved weights into the learner's machine.
func (t *Trainer) Load(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	var saved savedModel
	dec := gob.NewDecoder(f)
	if err = dec.Decode(&saved); err != nil {
		return errors.WithStack(err)
	}
	if err = t.learner.Machine().ReadWeights(bytes.NewReader(saved.Weights)); err != nil {
		return err
	}
	if pcd, ok := t.learner.(*learn.PCD); ok {
		pcd.Chain().NewEpoch()
	}
	return nil
}
