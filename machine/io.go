package machine

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// WriteWeights writes every dense weight matrix as a flat little-endian
// float32 stream, in cloud-list order. Factored clouds contribute their two
// halves. No other state is persisted.
func (m *Machine) WriteWeights(w io.Writer) error {
	for _, d := range m.WeightClouds() {
		if err := binary.Write(w, binary.LittleEndian, d.Weights().Data().([]float32)); err != nil {
			return errors.Wrapf(err, "writing weights of cloud %q", d.Name())
		}
	}
	return nil
}

// ReadWeights fills every dense weight matrix from a flat stream written by
// WriteWeights against an identically shaped machine.
func (m *Machine) ReadWeights(r io.Reader) error {
	for _, d := range m.WeightClouds() {
		if err := binary.Read(r, binary.LittleEndian, d.Weights().Data().([]float32)); err != nil {
			return errors.Wrapf(err, "reading weights of cloud %q", d.Name())
		}
	}
	m.NewEpoch()
	return nil
}
