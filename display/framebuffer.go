//go:build screen

package display

import (
	"fmt"
	"image"
	"os"

	"github.com/d21d3q/framebuffer"
	log "github.com/sirupsen/logrus"
)

// ScreenSupported returns whether screen support is compiled in.
func ScreenSupported() bool {
	return true
}

// Framebuffer is a 16 bpp Linux framebuffer.
type Framebuffer struct {
	dev             *framebuffer.FrameBuffer
	pixBuffer       []byte
	width           int
	height          int
	lineLengthBytes int
}

// OpenFramebuffer maps the framebuffer device.
func OpenFramebuffer(path string) (*Framebuffer, error) {
	dev, err := framebuffer.OpenFrameBuffer(path, os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer: %w", err)
	}

	varInfo, err := dev.VarScreenInfo()
	if err != nil {
		return nil, fmt.Errorf("get variable screen info: %w", err)
	}
	fixedInfo, err := dev.FixScreenInfo()
	if err != nil {
		return nil, fmt.Errorf("get fixed screen info: %w", err)
	}
	if varInfo.BitsPerPixel != 16 {
		return nil, fmt.Errorf("framebuffer is %d bpp, need 16", varInfo.BitsPerPixel)
	}

	pix, err := dev.Pixels()
	if err != nil {
		return nil, fmt.Errorf("get pixel data: %w", err)
	}

	fb := &Framebuffer{
		dev:             dev,
		pixBuffer:       pix,
		width:           int(varInfo.XRes),
		height:          int(varInfo.YRes),
		lineLengthBytes: int(fixedInfo.LineLength),
	}
	log.WithField("component", "display").Infof("Framebuffer %dx%d, stride %d bytes",
		fb.width, fb.height, fb.lineLengthBytes)
	return fb, nil
}

// Size implements Sink.Size.
func (f *Framebuffer) Size() (int, int) {
	return f.width, f.height
}

// Blit implements Sink.Blit.
func (f *Framebuffer) Blit(img *image.RGBA) error {
	copy(f.pixBuffer, ToRGB565(img, f.lineLengthBytes))
	return nil
}

// Close implements Sink.Close.
func (f *Framebuffer) Close() error {
	return f.dev.Close()
}
