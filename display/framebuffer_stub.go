//go:build !screen

package display

import "image"

// ScreenSupported returns whether screen support is compiled in.
func ScreenSupported() bool {
	return false
}

// Framebuffer is a stub when screen support is not compiled in.
type Framebuffer struct{}

// OpenFramebuffer returns an error when screen support is not compiled in.
func OpenFramebuffer(path string) (*Framebuffer, error) {
	return nil, ErrScreenNotCompiled
}

func (f *Framebuffer) Size() (int, int)           { return 0, 0 }
func (f *Framebuffer) Blit(img *image.RGBA) error { return ErrScreenNotCompiled }
func (f *Framebuffer) Close() error               { return nil }
