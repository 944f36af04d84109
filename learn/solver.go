package learn

import (
	G "gorgonia.org/gorgonia"

	"github.com/pkg/errors"
)

// valueGrad pairs a cloud's weight matrix with its accumulated gradient so
// that gorgonia's solvers can step it.
type valueGrad struct {
	s *GradientSink
	i int
}

func (v valueGrad) Value() G.Value {
	return v.s.Clouds()[v.i].Weights()
}

func (v valueGrad) Grad() (G.Value, error) {
	d := v.s.Clouds()[v.i]
	return v.s.Accumulator(d), nil
}

// ValueGrads adapts the sink's live accumulators to gorgonia's solver
// interface, in cloud-list order.
func (s *GradientSink) ValueGrads() []G.ValueGrad {
	clouds := s.Clouds()
	out := make([]G.ValueGrad, len(clouds))
	for i := range clouds {
		out[i] = valueGrad{s: s, i: i}
	}
	return out
}

// Step applies the accumulated gradients to the weights with the given
// solver, then resets the accumulators and opens a new cache epoch on the
// learner's machine (and persistent chain, if any).
func Step(solver G.Solver, l Learner, s *GradientSink) error {
	if err := solver.Step(s.ValueGrads()); err != nil {
		return errors.Wrap(err, "solver step")
	}
	s.Reset()
	l.Machine().NewEpoch()
	if pcd, ok := l.(*PCD); ok {
		pcd.Chain().NewEpoch()
	}
	return nil
}
