// Package dot renders a machine's topology as graphviz DOT, for eyeballing
// cloud specs before committing to a long training run.
package dot

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"

	"github.com/gorgonia/boltzmann/chunk"
	"github.com/gorgonia/boltzmann/cloud"
	"github.com/gorgonia/boltzmann/machine"
)

type chunkInfo struct {
	*chunk.Chunk
	visible bool
}

func (c *chunkInfo) Partition() string {
	if c.visible {
		return "visible"
	}
	return "hidden"
}

// Marshal renders m as a directed DOT graph: one node per chunk, one edge per
// cloud. Factored clouds show up as two edges through their bottleneck.
func Marshal(m *machine.Machine) string {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		panic(err)
	}
	g.SetDir(true)

	var buf bytes.Buffer
	addChunk := func(c *chunk.Chunk, visible bool) {
		tmpl.Execute(&buf, &chunkInfo{Chunk: c, visible: visible})
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		g.AddNode("G", fmt.Sprintf("%q", c.Name()), attrs)
		buf.Reset()
	}
	for _, c := range m.Chunks() {
		addChunk(c, m.IsVisible(c))
	}

	for _, cl := range m.Clouds() {
		attrs := map[string]string{
			"label": fmt.Sprintf("%q", cl.Name()),
			"dir":   "both",
		}
		if f, ok := cl.(*cloud.Factored); ok {
			addChunk(f.Bottleneck(), false)
			bn := fmt.Sprintf("%q", f.Bottleneck().Name())
			g.AddEdge(fmt.Sprintf("%q", f.A().Name()), bn, true, attrs)
			g.AddEdge(bn, fmt.Sprintf("%q", f.B().Name()), true, attrs)
			continue
		}
		g.AddEdge(fmt.Sprintf("%q", cl.A().Name()), fmt.Sprintf("%q", cl.B().Name()), true, attrs)
	}
	return g.String()
}

const tmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD>Chunk</TD><TD>{{.Name}}</TD></TR>
<TR><TD>Kind</TD><TD>{{.Kind}}</TD></TR>
<TR><TD>Partition</TD><TD>{{.Partition}}</TD></TR>
<TR><TD>Size</TD><TD>{{.Size}}</TD></TR>
<TR><TD>Stripes</TD><TD>{{.Stripes}}</TD></TR>
</TABLE>
>
`

var tmpl *template.Template

func init() {
	tmpl = template.Must(template.New("chunk").Parse(tmplRaw))
}
