package learn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/cloud"
)

// Regularizer drives the activation of one chunk toward a target level by
// contributing an extra gradient term on one cloud. Two estimators exist:
// the normal one tracks a damped running average of the full per-pair
// co-activation between the chunk's deviation from target and the
// neighbour's means; the cheating one tracks each side's mean independently,
// which is cheaper but biased when co-activation is anti-correlated with
// marginal activation.
type Regularizer struct {
	Cloud  *cloud.Dense
	Chunk  *chunk.Chunk // must be one end of Cloud
	Target float32
	Cost   float32

	// Damping is the weight of the old running average, in [0,1).
	Damping float32

	// Cheating selects the independent-averages estimator.
	Cheating bool

	products *tensor.Dense // normal estimator state
	devAvg   []float32     // cheating: damped average deviation of Chunk
	otherAvg []float32     // cheating: damped average means of the other end
	devBuf   *tensor.Dense
	prodBuf  *tensor.Dense
}

func (r *Regularizer) other() (*chunk.Chunk, error) {
	switch r.Chunk {
	case r.Cloud.A():
		return r.Cloud.B(), nil
	case r.Cloud.B():
		return r.Cloud.A(), nil
	}
	return nil, errors.Errorf("sparsity: chunk %q is not an end of cloud %q", r.Chunk.Name(), r.Cloud.Name())
}

// Update folds the current batch's means into the running averages. Called
// once per positive phase, after the chunk's means are fresh.
func (r *Regularizer) Update() error {
	other, err := r.other()
	if err != nil {
		return err
	}
	stripes := r.Chunk.Stripes()
	if r.Cheating {
		r.updateCheating(other, stripes)
		return nil
	}
	return r.updateNormal(other, stripes)
}

// deviations fills a scratch matrix with means − target.
func (r *Regularizer) deviations(stripes int) *tensor.Dense {
	size := r.Chunk.Size()
	if r.devBuf == nil || r.devBuf.Shape()[0] != stripes {
		r.devBuf = tensor.New(tensor.WithShape(stripes, size), tensor.Of(tensor.Float32))
	}
	dev := r.devBuf.Data().([]float32)
	copy(dev, r.Chunk.MeansData())
	for i := range dev {
		dev[i] -= r.Target
	}
	return r.devBuf
}

func (r *Regularizer) updateNormal(other *chunk.Chunk, stripes int) error {
	v1, v2 := r.deviations(stripes), other.Means()
	if r.Chunk == r.Cloud.B() {
		v1, v2 = v2, v1
	}
	rows, cols := r.Cloud.A().Size(), r.Cloud.B().Size()
	if r.products == nil {
		r.products = tensor.New(tensor.WithShape(rows, cols), tensor.Of(tensor.Float32))
	}
	if r.prodBuf == nil {
		r.prodBuf = tensor.New(tensor.WithShape(rows, cols), tensor.Of(tensor.Float32))
	}
	v1t, err := tensor.Transpose(v1)
	if err != nil {
		return errors.Wrap(err, "sparsity: transpose")
	}
	if _, err := tensor.MatMul(v1t, v2, tensor.WithReuse(r.prodBuf)); err != nil {
		return errors.Wrap(err, "sparsity: co-activation product")
	}
	cur := r.prodBuf.Data().([]float32)
	vecf32.Scale(cur, (1-r.Damping)/float32(stripes))
	avg := r.products.Data().([]float32)
	vecf32.Scale(avg, r.Damping)
	vecf32.Add(avg, cur)
	return nil
}

func (r *Regularizer) updateCheating(other *chunk.Chunk, stripes int) {
	if r.devAvg == nil {
		r.devAvg = make([]float32, r.Chunk.Size())
		r.otherAvg = make([]float32, other.Size())
	}
	fold := func(avg []float32, data []float32, target float32) {
		size := len(avg)
		vecf32.Scale(avg, r.Damping)
		w := (1 - r.Damping) / float32(stripes)
		for s := 0; s < stripes; s++ {
			row := data[s*size : (s+1)*size]
			for i, x := range row {
				avg[i] += w * (x - target)
			}
		}
	}
	fold(r.devAvg, r.Chunk.MeansData(), r.Target)
	fold(r.otherAvg, other.MeansData(), 0)
}

// Flush adds the accumulated sparsity gradient, scaled by
// cost·multiplier·batchSize, into the sink's accumulator for the cloud.
func (r *Regularizer) Flush(multiplier float32, batchSize int, sink cloud.Sink) error {
	acc := sink.Accumulator(r.Cloud)
	if acc == nil {
		return nil
	}
	scale := r.Cost * multiplier * float32(batchSize)
	data := acc.Data().([]float32)
	if r.Cheating {
		if r.devAvg == nil {
			return nil
		}
		self, o := r.devAvg, r.otherAvg
		rowSide, colSide := self, o
		if r.Chunk == r.Cloud.B() {
			rowSide, colSide = o, self
		}
		cols := len(colSide)
		for i, a := range rowSide {
			for j, b := range colSide {
				data[i*cols+j] += scale * a * b
			}
		}
		return nil
	}
	if r.products == nil {
		return nil
	}
	avg := r.products.Data().([]float32)
	for i, p := range avg {
		data[i] += scale * p
	}
	return nil
}
