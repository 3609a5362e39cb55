package display

import (
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semafor/runconfig"
	"semafor/sequencer"
)

func TestStateFor(t *testing.T) {
	st := StateFor(sequencer.RedBlink, runconfig.Snapshot{Running: true})
	assert.Equal(t, 1.0, st.Red)
	assert.Zero(t, st.Green)
	assert.Zero(t, st.Blue)

	st = StateFor(sequencer.GreenBlinkWithTone, runconfig.Snapshot{Running: true, NightMode: true})
	assert.Equal(t, 0.2, st.Green)
	assert.Equal(t, 1.0, st.Blue)

	st = StateFor(sequencer.GateClosing, runconfig.Snapshot{Running: true})
	assert.Zero(t, st.Red+st.Yellow+st.Green)
}

func TestRenderer_LitLens(t *testing.T) {
	r := NewRenderer("")
	img := r.Draw(State{Phase: sequencer.RedBlink, Red: 1})

	red := img.RGBAAt(canvasWidth/2, int(lensY[0]))
	green := img.RGBAAt(canvasWidth/2, int(lensY[2]))
	assert.Greater(t, red.R, uint8(200))
	assert.Less(t, green.G, uint8(60), "unlit lens is dim")

	img = r.Draw(State{Phase: sequencer.GreenBlinkWithTone, Green: 1})
	assert.Less(t, img.RGBAAt(canvasWidth/2, int(lensY[0])).R, uint8(60))
	assert.Greater(t, img.RGBAAt(canvasWidth/2, int(lensY[2])).G, uint8(200))
}

func TestScale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	dst := Scale(src, 40, 20)
	assert.Equal(t, image.Rect(0, 0, 40, 20), dst.Bounds())
	assert.GreaterOrEqual(t, dst.RGBAAt(20, 10).R, uint8(250))
}

func TestToRGB565(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(1, 0, color.RGBA{B: 255, A: 255})
	img.SetRGBA(0, 1, color.RGBA{G: 255, A: 255})

	// stride wider than the row, as framebuffers pad lines
	out := ToRGB565(img, 6)
	require.Len(t, out, 12)
	assert.Equal(t, []byte{0x00, 0xF8, 0x1F, 0x00, 0, 0}, out[:6])
	assert.Equal(t, []byte{0xE0, 0x07}, out[6:8])
}

type fakeSink struct {
	mu     sync.Mutex
	blits  int
	closed bool
}

func (f *fakeSink) Size() (int, int) { return 120, 200 }

func (f *fakeSink) Blit(img *image.RGBA) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blits++
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestDisplay_ShowSkipsRepeats(t *testing.T) {
	sink := &fakeSink{}
	d := NewWithSink(sink, "")

	st := State{Phase: sequencer.YellowHold, Yellow: 1, Running: true}
	d.Show(st)
	d.Show(st)
	assert.Equal(t, 1, sink.blits)

	st.GateKnown = true
	st.Gate = 5
	d.Show(st)
	assert.Equal(t, 2, sink.blits)

	require.NoError(t, d.Release())
	assert.True(t, sink.closed)
	assert.Equal(t, 3, sink.blits, "release blanks the screen")
}

func TestDisplay_Disabled(t *testing.T) {
	d, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, d)
	d.Show(State{})
	assert.NoError(t, d.Release())
}

func TestNew_WithoutScreenSupport(t *testing.T) {
	if ScreenSupported() {
		t.Skip("screen support compiled in")
	}
	_, err := New(Config{Enabled: true})
	assert.ErrorIs(t, err, ErrScreenNotCompiled)
}
