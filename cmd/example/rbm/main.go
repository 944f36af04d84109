// Command rbm trains a restricted Boltzmann machine on bars-and-stripes
// patterns. It is the smallest end-to-end example of the training loop, and
// doubles as a demo for the weight visualizations.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/boltzmann"
	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/encoding/dot"
	gifenc "github.com/gorgonia/boltzmann/encoding/gif"
	mjpegenc "github.com/gorgonia/boltzmann/encoding/mjpeg"
	"github.com/gorgonia/boltzmann/learn"
	"github.com/gorgonia/boltzmann/machine"
)

var (
	side       = flag.Int("side", 4, "side of the square bars-and-stripes patterns")
	hidden     = flag.Int("hidden", 24, "hidden units")
	cases      = flag.Int("cases", 512, "training cases to generate")
	epochs     = flag.Int("epochs", 50, "training epochs")
	batchSize  = flag.Int("batch", 8, "batch size")
	rate       = flag.Float64("rate", 0.1, "learning rate")
	persistent = flag.Bool("persistent", false, "use PCD instead of CD")
	chains     = flag.Int("chains", 32, "persistent chains (PCD only)")
	seed       = flag.Int64("seed", 1337, "rng seed")
	saveFile   = flag.String("save", "rbm.model", "weight file to write when done")
	statsFile  = flag.String("stats", "", "CSV file for per-epoch statistics")
	dotFile    = flag.String("dot", "", "write the machine topology as DOT and exit")
	gifFile    = flag.String("gif", "", "record the first cloud's weights as an animated gif")
	listen     = flag.String("listen", "", "serve a live MJPEG weight monitor on this address")
)

// barsAndStripes draws n patterns on a side×side grid: a coin flip picks rows
// or columns, then every line is on or off independently.
func barsAndStripes(side, n int, r *rand.Rand) *tensor.Dense {
	backing := make([]float32, n*side*side)
	for p := 0; p < n; p++ {
		grid := backing[p*side*side : (p+1)*side*side]
		rows := r.Intn(2) == 0
		for line := 0; line < side; line++ {
			if r.Intn(2) == 0 {
				continue
			}
			for k := 0; k < side; k++ {
				if rows {
					grid[line*side+k] = 1
				} else {
					grid[k*side+line] = 1
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(n, side*side), tensor.WithBacking(backing))
}

func main() {
	flag.Parse()

	v, err := chunk.New("visible", chunk.Sigmoid, *side**side, chunk.WithMaxStripes(*batchSize))
	if err != nil {
		log.Fatalf("%+v", err)
	}
	h, err := chunk.New("hidden", chunk.Sigmoid, *hidden, chunk.WithMaxStripes(*batchSize))
	if err != nil {
		log.Fatalf("%+v", err)
	}
	m, err := machine.New(machine.Config{
		Visible: []*chunk.Chunk{v},
		Hidden:  []*chunk.Chunk{h},
		Seed:    *seed,
	})
	if err != nil {
		log.Fatalf("%+v", err)
	}

	if *dotFile != "" {
		if err := os.WriteFile(*dotFile, []byte(dot.Marshal(m)), 0644); err != nil {
			log.Fatalf("%+v", err)
		}
		return
	}

	var learner learn.Learner
	if *persistent {
		pcd, err := learn.NewPCD(m, *chains, *seed)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		learner = pcd
	} else {
		cd, err := learn.NewCD(m)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		learner = cd
	}

	conf := boltzmann.DefaultConf()
	conf.BatchSize = *batchSize
	conf.Epochs = *epochs
	conf.Solver = G.NewVanillaSolver(G.WithLearnRate(*rate))
	t := boltzmann.New(learner, conf)

	var gifOut *gifenc.Encoder
	if *gifFile != "" {
		f, err := os.OpenFile(*gifFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		defer f.Close()
		gifOut = gifenc.NewEncoder(1024, 768)
		gifOut.Writer = f
	}
	var live *mjpegenc.Encoder
	if *listen != "" {
		live = mjpegenc.NewEncoder(768, 1024)
		http.Handle("/weights", live)
		go func() {
			if err := http.ListenAndServe(*listen, nil); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}
	t.Handle(func(epoch, batch int, m *machine.Machine) {
		first := m.WeightClouds()[0]
		if gifOut != nil && batch == 0 {
			if err := gifOut.Encode(epoch, first); err != nil {
				log.Printf("gif: %v", err)
			}
		}
		if live != nil {
			if err := live.Encode(epoch, first); err != nil {
				log.Printf("monitor: %v", err)
			}
		}
	})

	data := barsAndStripes(*side, *cases, rand.New(rand.NewSource(*seed)))
	start := time.Now()
	if err := t.Learn(data); err != nil {
		log.Fatalf("%+v", err)
	}
	log.Printf("trained %d epochs in %v", *epochs, time.Since(start))

	if gifOut != nil {
		if err := gifOut.Flush(); err != nil {
			log.Fatalf("%+v", err)
		}
	}
	if *statsFile != "" {
		if err := t.Dump(*statsFile); err != nil {
			log.Fatalf("%+v", err)
		}
	}
	if err := t.Save(*saveFile); err != nil {
		log.Fatalf("%+v", err)
	}
}
