// Copyright 2026 The Ember Authors. All rights reserved.

// Package texture builds renderer-facing textures from
// decoded asset data, using the upload engine to populate
// GPU images.
package texture

import (
	"errors"
	"image"

	"github.com/embergfx/ember/driver"
	"github.com/embergfx/ember/engine"
	xdraw "golang.org/x/image/draw"
)

const texPrefix = "texture: "

// Texture pairs an image view with the sampler used to
// read it.
// Target is non-zero when the texture was produced by
// rendering into a render target rather than loaded from
// asset data.
type Texture struct {
	View    driver.ImageView
	Sampler driver.Sampler
	Target  engine.ID
}

// TexParam describes the source of a 2D texture.
// Format is the layout of the pixel data handed to New;
// 3-byte formats are expanded to their 4-byte counterpart
// on the GPU.
type TexParam struct {
	Format driver.PixelFmt
	Width  int
	Height int
}

// storageFormat returns the image format that backs a
// texture sourced from f data, and whether f is a valid
// texture source at all.
func storageFormat(f driver.PixelFmt) (driver.PixelFmt, bool) {
	switch f {
	case driver.RGB8un:
		return driver.RGBA8un, true
	case driver.RGB8sRGB:
		return driver.RGBA8sRGB, true
	case driver.RGBA8un, driver.RGBA8sRGB, driver.BGRA8un, driver.RG8un, driver.R8un,
		driver.RGBA16f, driver.RG16f, driver.R16f, driver.RGBA32f, driver.RG32f, driver.R32f:
		return f, true
	}
	return f, false
}

// New creates a 2D texture from raw pixel data.
// The upload is queued; the texture is ready for sampling
// after the next Graphics.FlushUploads.
func New(g *engine.Graphics, param *TexParam, spln *driver.Sampling, data []byte) (t *Texture, err error) {
	limits := g.Limits()
	var reason string
	switch {
	case param == nil:
		reason = "nil param"
	case param.Width < 1, param.Height < 1:
		reason = "invalid size"
	case param.Width > limits.MaxImage2D, param.Height > limits.MaxImage2D:
		reason = "size too big"
	case len(data) < param.Format.Size()*param.Width*param.Height:
		reason = "not enough pixel data"
	default:
		goto validParam
	}
	err = errors.New(texPrefix + reason)
	return
validParam:
	pf, ok := storageFormat(param.Format)
	if !ok {
		err = errors.New(texPrefix + "format not usable as texture source")
		return
	}
	img, err := g.CreateImageStatic(engine.ImageInfo{
		PixelFmt: pf,
		Size:     driver.Dim3D{Width: param.Width, Height: param.Height, Depth: 1},
		Usage:    driver.UShaderSample,
	}, driver.LShaderRead, driver.AShaderRead, param.Format, data)
	if err != nil {
		return
	}
	view, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
	if err != nil {
		img.Destroy()
		return
	}
	if spln == nil {
		spln = &driver.Sampling{
			Min:      driver.FLinear,
			Mag:      driver.FLinear,
			Mipmap:   driver.FNoMipmap,
			MaxAniso: 1,
		}
	}
	splr, err := g.GPU().NewSampler(spln)
	if err != nil {
		view.Destroy()
		img.Destroy()
		return
	}
	t = &Texture{View: view, Sampler: splr}
	return
}

// FromImage creates a 2D texture from a decoded image.
// *image.NRGBA values with a tight stride are uploaded
// directly; anything else is converted on the CPU first.
// srgb selects gamma-encoded storage, which is what most
// color assets want.
func FromImage(g *engine.Graphics, m image.Image, srgb bool) (*Texture, error) {
	if m == nil {
		return nil, errors.New(texPrefix + "nil image")
	}
	b := m.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, errors.New(texPrefix + "empty image")
	}
	var pix []byte
	if n, ok := m.(*image.NRGBA); ok && n.Stride == 4*b.Dx() {
		pix = n.Pix
	} else {
		n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(n, n.Bounds(), m, b.Min, xdraw.Src)
		pix = n.Pix
	}
	pf := driver.RGBA8un
	if srgb {
		pf = driver.RGBA8sRGB
	}
	return New(g, &TexParam{Format: pf, Width: b.Dx(), Height: b.Dy()}, nil, pix)
}

// NewDummy creates the 1x1 opaque white texture that
// render nodes keep resident so missing assets degrade to
// a visible placeholder instead of a crash.
func NewDummy(g *engine.Graphics) (*Texture, error) {
	return New(g, &TexParam{
		Format: driver.RGBA8un,
		Width:  1,
		Height: 1,
	}, nil, []byte{255, 255, 255, 255})
}

// Free invalidates t and destroys the driver resources.
// The caller must ensure the GPU is done with them (e.g.,
// by closing the Graphics first or tracking frame fences).
func (t *Texture) Free() {
	if t.View != nil {
		img := t.View.Image()
		t.View.Destroy()
		img.Destroy()
	}
	if t.Sampler != nil {
		t.Sampler.Destroy()
	}
	*t = Texture{}
}
