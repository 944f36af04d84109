package machine

import (
	"github.com/pkg/errors"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/cloud"
)

// DBM is a Boltzmann machine whose chunks are partitioned into an ordered
// list of layers, with clouds allowed only between adjacent layers. The
// layering admits single-pass approximate inference (UpPass/DownPass).
type DBM struct {
	*Machine
	layers  [][]*chunk.Chunk
	layerOf map[*chunk.Chunk]int

	// between[i] holds the clouds connecting layers i and i+1 — layer i's
	// upward clouds.
	between [][]cloud.Cloud
}

// DBMConfig describes a deep Boltzmann machine. Layers must partition all
// chunks. Visible defaults to the bottom layer. When no cloud specs are
// given, every pair of chunks in adjacent layers is connected with a dense
// cloud unless both ends are conditioning.
type DBMConfig struct {
	Layers  [][]*chunk.Chunk
	Visible []*chunk.Chunk
	Clouds  []CloudSpec
	Seed    int64
}

// NewDBM resolves conf, validating the layer structure.
func NewDBM(conf DBMConfig) (*DBM, error) {
	if len(conf.Layers) < 2 {
		return nil, errors.Errorf("dbm: need at least 2 layers, got %d", len(conf.Layers))
	}
	visible := conf.Visible
	if visible == nil {
		visible = conf.Layers[0]
	}
	isVisible := make(map[*chunk.Chunk]bool)
	for _, c := range visible {
		isVisible[c] = true
	}
	var hidden []*chunk.Chunk
	layerOf := make(map[*chunk.Chunk]int)
	for i, layer := range conf.Layers {
		for _, c := range layer {
			if _, ok := layerOf[c]; ok {
				return nil, errors.Errorf("dbm: chunk %q appears in more than one layer", c.Name())
			}
			layerOf[c] = i
			if !isVisible[c] {
				hidden = append(hidden, c)
			}
		}
	}

	specs := conf.Clouds
	if len(specs) == 0 {
		for i := 0; i < len(conf.Layers)-1; i++ {
			for _, lo := range conf.Layers[i] {
				for _, hi := range conf.Layers[i+1] {
					if lo.Kind().IsConditioning() && hi.Kind().IsConditioning() {
						continue
					}
					specs = append(specs, CloudSpec{From: lo.Name(), To: hi.Name(), Class: DenseWeights})
				}
			}
		}
	}

	m, err := New(Config{
		Visible:    visible,
		Hidden:     hidden,
		Clouds:     specs,
		Seed:       conf.Seed,
		NoDefaults: true,
	})
	if err != nil {
		return nil, err
	}

	d := &DBM{
		Machine: m,
		layers:  conf.Layers,
		layerOf: layerOf,
		between: make([][]cloud.Cloud, len(conf.Layers)-1),
	}
	for _, cl := range m.Clouds() {
		la, lb := layerOf[cl.A()], layerOf[cl.B()]
		lo := la
		if lb < lo {
			lo = lb
		}
		if la-lb != 1 && lb-la != 1 {
			return nil, errors.Errorf("dbm: cloud %q spans layers %d and %d, which are not adjacent", cl.Name(), la, lb)
		}
		d.between[lo] = append(d.between[lo], cl)
	}
	return d, nil
}

// Layers returns the ordered layer partition.
func (d *DBM) Layers() [][]*chunk.Chunk { return d.layers }

// UpwardClouds returns the clouds connecting layer i to layer i+1.
func (d *DBM) UpwardClouds(i int) []cloud.Cloud { return d.between[i] }

// UpPass performs single-sweep bottom-up inference: for every adjacent layer
// pair the lower layer's snapshot is propagated into the non-visible,
// non-conditioning chunks of the upper layer. A target that also receives
// clouds from the layer above gets its accumulated activation doubled before
// the mean is computed, compensating for the missing top-down term.
func (d *DBM) UpPass() error {
	for i := 0; i < len(d.layers)-1; i++ {
		var targets []*chunk.Chunk
		for _, c := range d.layers[i+1] {
			if d.IsVisible(c) || c.Kind().IsConditioning() {
				continue
			}
			targets = append(targets, c)
		}
		if len(targets) == 0 {
			continue
		}
		doubled := d.connectedAbove(i + 1)
		if err := d.setMean(targets, d.between[i], doubled); err != nil {
			return err
		}
	}
	return nil
}

// DownPass is the mirror of UpPass: top-to-bottom, propagating each layer
// into the non-conditioning chunks of the layer below, doubling targets that
// also receive clouds from the layer below them.
func (d *DBM) DownPass() error {
	for i := len(d.layers) - 1; i >= 1; i-- {
		var targets []*chunk.Chunk
		for _, c := range d.layers[i-1] {
			if c.Kind().IsConditioning() {
				continue
			}
			targets = append(targets, c)
		}
		if len(targets) == 0 {
			continue
		}
		doubled := d.connectedBelow(i - 1)
		if err := d.setMean(targets, d.between[i-1], doubled); err != nil {
			return err
		}
	}
	return nil
}

// connectedAbove collects the chunks of layer i that have clouds reaching
// into layer i+1.
func (d *DBM) connectedAbove(i int) map[*chunk.Chunk]bool {
	if i >= len(d.between) {
		return nil
	}
	out := make(map[*chunk.Chunk]bool)
	for _, cl := range d.between[i] {
		if d.layerOf[cl.A()] == i {
			out[cl.A()] = true
		}
		if d.layerOf[cl.B()] == i {
			out[cl.B()] = true
		}
	}
	return out
}

// connectedBelow collects the chunks of layer i that have clouds reaching
// into layer i-1.
func (d *DBM) connectedBelow(i int) map[*chunk.Chunk]bool {
	if i == 0 {
		return nil
	}
	out := make(map[*chunk.Chunk]bool)
	for _, cl := range d.between[i-1] {
		if d.layerOf[cl.A()] == i {
			out[cl.A()] = true
		}
		if d.layerOf[cl.B()] == i {
			out[cl.B()] = true
		}
	}
	return out
}
