// Package display draws the signal head on a framebuffer screen.
package display

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"semafor/runconfig"
	"semafor/sequencer"
)

// Canvas size the head is drawn at before scaling to the screen.
const (
	canvasWidth  = 240
	canvasHeight = 400
)

// dimLevel is how bright an unlit lens is drawn.
const dimLevel = 0.12

// State is what the screen shows.
type State struct {
	Phase     sequencer.Phase
	Red       float64
	Yellow    float64
	Green     float64
	Blue      float64
	Running   bool
	Night     bool
	Gate      float64
	GateKnown bool
}

// StateFor derives the lamp levels shown for a phase.
func StateFor(p sequencer.Phase, snap runconfig.Snapshot) State {
	level := 1.0
	if snap.NightMode {
		level = 0.2
	}
	st := State{Phase: p, Running: snap.Running, Night: snap.NightMode}
	switch p {
	case sequencer.RedBlink:
		st.Red = level
	case sequencer.YellowHold:
		st.Yellow = level
	case sequencer.GreenBlinkWithTone:
		st.Green = level
	}
	if snap.NightMode {
		st.Blue = 1
	}
	return st
}

// Renderer draws States into an RGBA image.
type Renderer struct {
	dc   *gg.Context
	img  *image.RGBA
	font string
}

// NewRenderer creates a renderer. font may be empty for the built-in face.
func NewRenderer(font string) *Renderer {
	img := image.NewRGBA(image.Rect(0, 0, canvasWidth, canvasHeight))
	r := &Renderer{dc: gg.NewContextForRGBA(img), img: img, font: font}
	if font != "" {
		if err := r.dc.LoadFontFace(font, 20); err != nil {
			log.WithField("component", "display").Warnf("Failed to load font: %v", err)
		}
	}
	return r
}

// lensY holds the lens centres, top to bottom.
var lensY = [3]float64{80, 170, 260}

const lensRadius = 38

// Draw renders st and returns the canvas. The image is reused by the next
// call.
func (r *Renderer) Draw(st State) *image.RGBA {
	dc := r.dc
	dc.SetRGB(0.05, 0.05, 0.05)
	dc.Clear()

	// housing
	dc.SetRGB(0.15, 0.15, 0.15)
	dc.DrawRoundedRectangle(canvasWidth/2-60, 25, 120, 290, 18)
	dc.Fill()

	lens := func(y float64, level float64, cr, cg, cb float64) {
		if level < dimLevel {
			level = dimLevel
		}
		dc.SetRGB(cr*level, cg*level, cb*level)
		dc.DrawCircle(canvasWidth/2, y, lensRadius)
		dc.Fill()
	}
	lens(lensY[0], st.Red, 1, 0, 0)
	lens(lensY[1], st.Yellow, 1, 0.8, 0)
	lens(lensY[2], st.Green, 0, 1, 0.2)

	if st.Blue > 0 {
		dc.SetRGB(0, 0.3*st.Blue, st.Blue)
		dc.DrawCircle(canvasWidth-25, 40, 12)
		dc.Fill()
	}

	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(st.Phase.String(), canvasWidth/2, 340, 0.5, 0.5)
	gateText := "gate ?"
	if st.GateKnown {
		gateText = fmt.Sprintf("gate %.1f%%", st.Gate)
	}
	if !st.Running {
		gateText += "  stopped"
	}
	dc.DrawStringAnchored(gateText, canvasWidth/2, 370, 0.5, 0.5)

	return r.img
}

// Scale fits src into a width x height image.
func Scale(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// ToRGB565 packs img into little-endian RGB565 rows of stride bytes, the
// layout of a 16 bpp framebuffer.
func ToRGB565(img *image.RGBA, stride int) []byte {
	b := img.Bounds()
	out := make([]byte, b.Dy()*stride)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			idx := y*stride + x*2
			if idx+1 >= len(out) {
				continue
			}
			binary.LittleEndian.PutUint16(out[idx:], rgb565(c))
		}
	}
	return out
}

func rgb565(c color.RGBA) uint16 {
	return uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
}
