package mjpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log"
	"math"
	"net/http"

	"github.com/golang/freetype/truetype"
	"github.com/mattn/go-mjpeg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"

	"github.com/gorgonia/boltzmann/cloud"
	"github.com/gorgonia/boltzmann/internal/matutil"
)

var regular *truetype.Font

const (
	dpi             = 144.0
	fontsize        = 12.0
	lineheight      = 1.2
	dummyLongString = `Epoch 100000, Cloud: vis:hid, [-10.00000, +10.00000]`
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

var globPalette = make(color.Palette, 256)

func init() {
	for i := range globPalette {
		globPalette[i] = color.Gray{uint8(i)}
	}
}

// Encoder streams the weights of one cloud as an MJPEG heatmap, so a
// training run can be watched live in a browser.
type Encoder struct {
	H, W int
	font.Drawer

	stream *mjpeg.Stream
	face   font.Face

	maxH, maxW  int // maxHeight and maxWidth
	padH, padW  int // padding so everything don't start at the topleft
	zoom        int
	initialized bool
}

func (e *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.stream.ServeHTTP(w, r)
}

// NewEncoder with height and width
func NewEncoder(h, w int) *Encoder {
	return &Encoder{
		H:    -1,
		W:    -1,
		maxH: h,
		maxW: w,
		padH: 10,
		padW: 10,

		stream: mjpeg.NewStream(),
		Drawer: font.Drawer{
			Src: image.Black,
		},
	}
}

// Encode pushes a frame with the cloud's current weights.
func (enc *Encoder) Encode(epoch int, d *cloud.Dense) error {
	wt := d.Weights()
	rows, cols := wt.Shape()[0], wt.Shape()[1]

	if !enc.initialized {
		// lazy init of specifications
		enc.face = truetype.NewFace(regular, &truetype.Options{
			Size:    fontsize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
		enc.Drawer.Src = image.Black
		enc.Drawer.Face = enc.face

		maxW := font.MeasureString(enc.Face, dummyLongString).Ceil()
		dy := int(math.Ceil(fontsize * lineheight * dpi / 72))
		enc.zoom = maxW / cols
		if enc.zoom < 1 {
			enc.zoom = 1
		}
		w := maxInt(maxW, cols*enc.zoom) + 2*enc.padW
		h := 2*dy + rows*enc.zoom + 2*enc.padH

		w = minInt(w, enc.maxW)
		h = minInt(h, enc.maxH)

		if w == enc.maxW {
			enc.padW = 0
		}
		if h == enc.maxH {
			enc.padH = 0
		}

		enc.H = h
		enc.W = w
		enc.initialized = true
	}

	heat, min, max := matutil.Heatmap(wt, enc.zoom)

	bg := image.White
	im := image.NewPaletted(image.Rect(0, 0, enc.W, enc.H), globPalette)
	draw.Draw(im, im.Bounds(), bg, image.ZP, draw.Src)
	dy := int(math.Ceil(fontsize * lineheight * dpi / 72))
	y := enc.padH + dy

	enc.Dst = im
	enc.Dot = fixed.P(0+enc.padW, y)
	enc.DrawString(fmt.Sprintf("Epoch %d, Cloud: %s, [%+.5f, %+.5f]", epoch, d.Name(), min, max))
	y += dy

	r := heat.Bounds().Add(image.Pt(enc.padW, y))
	draw.Draw(im, r.Intersect(im.Bounds()), heat, image.ZP, draw.Src)

	var b bytes.Buffer
	if err := jpeg.Encode(&b, im, nil); err != nil {
		log.Println(err)
		return err
	}
	if err := enc.stream.Update(b.Bytes()); err != nil {
		log.Println(err)
		return err
	}
	return nil
}

func (enc *Encoder) Flush() error { return nil }
