// Package machine assembles chunks and clouds into Boltzmann machines and
// runs activation propagation, sampling and mean-field settling over them.
package machine

import (
	"github.com/pkg/errors"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/cloud"
)

// WeightClass tags the weight parameterization requested for a cloud spec.
type WeightClass int

const (
	// DenseWeights requests a full weight matrix.
	DenseWeights WeightClass = iota
	// FactoredWeights requests a low-rank factored cloud.
	FactoredWeights
	// NoWeights removes a default edge.
	NoWeights
)

// CloudSpec is the typed edge specification resolved once at construction.
// From and To name the endpoint chunks. A spec whose endpoint pair matches a
// default visible×hidden edge overrides it; Class NoWeights removes it.
type CloudSpec struct {
	Name     string // optional; defaults to "from:to"
	From, To string
	Class    WeightClass
	Rank     int // factored clouds only

	// scale coefficients per direction; zero means 1
	ScaleToB, ScaleToA float32
}

func (s CloudSpec) name() string {
	if s.Name != "" {
		return s.Name
	}
	return s.From + ":" + s.To
}

func (s CloudSpec) scales() (float32, float32) {
	sb, sa := s.ScaleToB, s.ScaleToA
	if sb == 0 {
		sb = 1
	}
	if sa == 0 {
		sa = 1
	}
	return sb, sa
}

// Config describes a Boltzmann machine. Every visible×hidden pair gets a
// default dense cloud unless both ends are conditioning chunks; Clouds
// overrides or extends the defaults.
type Config struct {
	Visible []*chunk.Chunk
	Hidden  []*chunk.Chunk
	Clouds  []CloudSpec
	Seed    int64

	// NoDefaults suppresses the default visible×hidden edges; only the
	// explicit Clouds are built. DBMs use this.
	NoDefaults bool
}

// Machine is a graph of chunks connected by clouds, partitioned into
// visible and hidden sets.
type Machine struct {
	visible []*chunk.Chunk
	hidden  []*chunk.Chunk
	chunks  []*chunk.Chunk
	clouds  []cloud.Cloud

	chunksByName map[string]*chunk.Chunk
	cloudsByName map[string]cloud.Cloud
	isVisible    map[*chunk.Chunk]bool

	hasVisibleToVisible bool
	hasHiddenToHidden   bool

	rng *chunk.RNG
}

// New resolves conf into a machine. Unresolvable or duplicate names are
// fatal configuration errors.
func New(conf Config) (*Machine, error) {
	m := &Machine{
		visible:      conf.Visible,
		hidden:       conf.Hidden,
		chunksByName: make(map[string]*chunk.Chunk),
		cloudsByName: make(map[string]cloud.Cloud),
		isVisible:    make(map[*chunk.Chunk]bool),
		rng:          chunk.NewRNG(conf.Seed),
	}
	for _, c := range conf.Visible {
		m.isVisible[c] = true
	}
	m.chunks = append(append([]*chunk.Chunk{}, conf.Visible...), conf.Hidden...)
	for _, c := range m.chunks {
		if _, ok := m.chunksByName[c.Name()]; ok {
			return nil, errors.Errorf("duplicate chunk name %q", c.Name())
		}
		m.chunksByName[c.Name()] = c
	}

	specs, err := m.mergeSpecs(conf.Clouds, conf.NoDefaults)
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		cl, err := m.build(spec)
		if err != nil {
			return nil, err
		}
		if _, ok := m.cloudsByName[cl.Name()]; ok {
			return nil, errors.Errorf("duplicate cloud name %q", cl.Name())
		}
		m.cloudsByName[cl.Name()] = cl
		m.clouds = append(m.clouds, cl)

		av, bv := m.isVisible[cl.A()], m.isVisible[cl.B()]
		if av && bv {
			m.hasVisibleToVisible = true
		}
		if !av && !bv {
			m.hasHiddenToHidden = true
		}
	}
	return m, nil
}

// mergeSpecs resolves the default visible×hidden edges against explicit
// specs. Explicit specs match defaults by endpoint-name pair, in either
// order.
func (m *Machine) mergeSpecs(explicit []CloudSpec, noDefaults bool) ([]CloudSpec, error) {
	type key struct{ a, b string }
	norm := func(a, b string) key {
		if a > b {
			a, b = b, a
		}
		return key{a, b}
	}

	var specs []CloudSpec
	index := make(map[key]int)
	if !noDefaults {
		for _, v := range m.visible {
			for _, h := range m.hidden {
				if v.Kind().IsConditioning() && h.Kind().IsConditioning() {
					continue
				}
				index[norm(v.Name(), h.Name())] = len(specs)
				specs = append(specs, CloudSpec{From: v.Name(), To: h.Name(), Class: DenseWeights})
			}
		}
	}
	removed := make(map[int]bool)
	for _, spec := range explicit {
		if _, err := m.resolve(spec.From); err != nil {
			return nil, err
		}
		if _, err := m.resolve(spec.To); err != nil {
			return nil, err
		}
		k := norm(spec.From, spec.To)
		if at, ok := index[k]; ok {
			if spec.Class == NoWeights {
				removed[at] = true
				continue
			}
			specs[at] = spec
			continue
		}
		if spec.Class == NoWeights {
			continue
		}
		index[k] = len(specs)
		specs = append(specs, spec)
	}
	out := specs[:0]
	for i, s := range specs {
		if !removed[i] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Machine) resolve(name string) (*chunk.Chunk, error) {
	c, ok := m.chunksByName[name]
	if !ok {
		return nil, errors.Errorf("unresolvable chunk name %q", name)
	}
	return c, nil
}

func (m *Machine) build(spec CloudSpec) (cloud.Cloud, error) {
	a, err := m.resolve(spec.From)
	if err != nil {
		return nil, err
	}
	b, err := m.resolve(spec.To)
	if err != nil {
		return nil, err
	}
	sb, sa := spec.scales()
	switch spec.Class {
	case DenseWeights:
		return cloud.NewDense(spec.name(), a, b, cloud.WithScales(sb, sa))
	case FactoredWeights:
		rank := spec.Rank
		if rank == 0 {
			rank = a.Size()
			if b.Size() < rank {
				rank = b.Size()
			}
		}
		return cloud.NewFactored(spec.name(), a, b, rank, cloud.WithScales(sb, sa))
	}
	return nil, errors.Errorf("cloud %q: weight class %d cannot be built", spec.name(), spec.Class)
}

func (m *Machine) Visible() []*chunk.Chunk { return m.visible }
func (m *Machine) Hidden() []*chunk.Chunk  { return m.hidden }
func (m *Machine) Chunks() []*chunk.Chunk  { return m.chunks }
func (m *Machine) Clouds() []cloud.Cloud   { return m.clouds }

// HasVisibleToVisible reports whether any cloud connects two visible chunks.
func (m *Machine) HasVisibleToVisible() bool { return m.hasVisibleToVisible }

// HasHiddenToHidden reports whether any cloud connects two hidden chunks.
func (m *Machine) HasHiddenToHidden() bool { return m.hasHiddenToHidden }

// ChunkByName returns the named chunk, or an error.
func (m *Machine) ChunkByName(name string) (*chunk.Chunk, error) { return m.resolve(name) }

// CloudByName returns the named cloud, or an error.
func (m *Machine) CloudByName(name string) (cloud.Cloud, error) {
	c, ok := m.cloudsByName[name]
	if !ok {
		return nil, errors.Errorf("unresolvable cloud name %q", name)
	}
	return c, nil
}

// IsVisible reports whether c belongs to the visible partition.
func (m *Machine) IsVisible(c *chunk.Chunk) bool { return m.isVisible[c] }

// WeightClouds lists the dense clouds carrying actual weight matrices in
// cloud-list order, recursing into factored clouds.
func (m *Machine) WeightClouds() []*cloud.Dense {
	var out []*cloud.Dense
	for _, cl := range m.clouds {
		out = cl.WeightClouds(out)
	}
	return out
}

// NewEpoch opens a new version epoch on every chunk, invalidating all cloud
// activation caches. Called after external weight mutation.
func (m *Machine) NewEpoch() {
	for _, c := range m.chunks {
		c.BumpVersion()
	}
}

// RNG exposes the machine's sampling source.
func (m *Machine) RNG() *chunk.RNG { return m.rng }
