// Copyright 2026 The Ember Authors. All rights reserved.

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embergfx/ember/driver"
	"github.com/embergfx/ember/internal/mockgpu"
)

// seq returns n bytes of deterministic test data.
func seq(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 1)
	}
	return p
}

// fullRegion describes an upload covering the first level
// of a w by h image, handed off for shader sampling.
func fullRegion(w, h int, src, dst driver.PixelFmt) ImageRegion {
	return ImageRegion{
		Size:         driver.Dim3D{Width: w, Height: h},
		LayoutBefore: driver.LUndefined,
		LayoutAfter:  driver.LShaderRead,
		AccessAfter:  driver.AShaderRead,
		SrcFmt:       src,
		DstFmt:       dst,
	}
}

func TestConvertible(t *testing.T) {
	assert.True(t, convertible(driver.RGBA8un, driver.RGBA8un))
	assert.True(t, convertible(driver.RGB8un, driver.RGBA8un))
	assert.True(t, convertible(driver.RGB8sRGB, driver.RGBA8sRGB))
	assert.False(t, convertible(driver.RGB8un, driver.RGBA8sRGB))
	assert.False(t, convertible(driver.RGB8sRGB, driver.RGBA8un))
	assert.False(t, convertible(driver.RGBA8un, driver.RGB8un))
}

func TestUploadBufferEmpty(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	dst, err := gpu.NewBuffer(16, false, driver.UCopyDst)
	require.NoError(t, err)
	defer dst.Destroy()

	base := gpu.Counts()
	require.NoError(t, g.UploadBuffer(dst, 0, nil))
	require.NoError(t, g.FlushUploads())
	n := gpu.Counts()
	assert.Equal(t, base.Buffers, n.Buffers)
	assert.Zero(t, n.Commits)
}

func TestUploadBuffer(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	dst, err := gpu.NewBuffer(32, false, driver.UCopyDst|driver.UShaderRead)
	require.NoError(t, err)

	// 24 bytes at offset 8 ends exactly at the buffer's
	// capacity; copying the staging buffer's rounded-up
	// size instead of the payload size would overrun.
	data := seq(24)
	require.NoError(t, g.UploadBuffer(dst, 8, data))
	require.NoError(t, g.FlushUploads())

	assert.Equal(t, data, dst.(*mockgpu.Buffer).Data()[8:32])
	n := gpu.Counts()
	assert.Equal(t, 1, n.Commits)
	assert.Equal(t, 1, n.CopyBuffer)
	assert.Equal(t, 2, n.Barrier)

	g.Close()
	assert.Equal(t, 1, gpu.Counts().BufsLive)
	dst.Destroy()
	assert.Zero(t, gpu.Counts().BufsLive)
}

func TestUploadBufferBatch(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	dst, err := gpu.NewBuffer(64, false, driver.UCopyDst)
	require.NoError(t, err)
	defer dst.Destroy()

	data := seq(64)
	for off := int64(0); off < 64; off += 16 {
		require.NoError(t, g.UploadBuffer(dst, off, data[off:off+16]))
	}
	require.NoError(t, g.FlushUploads())

	assert.Equal(t, data, dst.(*mockgpu.Buffer).Data())
	n := gpu.Counts()
	assert.Equal(t, 1, n.Commits)
	assert.Equal(t, 4, n.CopyBuffer)
	// One barrier into the copy scope and one out,
	// regardless of the number of uploads.
	assert.Equal(t, 2, n.Barrier)

	// The queue drained; a second flush has nothing to do.
	require.NoError(t, g.FlushUploads())
	assert.Equal(t, 1, gpu.Counts().Commits)
}

func TestUploadImage(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 4, Height: 4, Depth: 1},
		1, 1, 1, driver.UCopyDst|driver.UShaderSample)
	require.NoError(t, err)
	defer img.Destroy()

	data := seq(4 * 4 * 4)
	region := fullRegion(4, 4, driver.RGBA8un, driver.RGBA8un)
	require.NoError(t, g.UploadImage(img, &region, data))
	require.NoError(t, g.FlushUploads())

	m := img.(*mockgpu.Image)
	assert.Equal(t, data, m.Data(0, 0))
	assert.Equal(t, driver.LShaderRead, m.Layout(0, 0))
	n := gpu.Counts()
	assert.Equal(t, 1, n.CopyBufToImg)
	assert.Equal(t, 2, n.Transition)
	assert.Zero(t, n.Dispatch)
}

func TestUploadImageStrided(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 4, Height: 4, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()

	// A 2x2 window at (1, 1), read from rows of 3 pixels.
	region := fullRegion(2, 2, driver.RGBA8un, driver.RGBA8un)
	region.Off = driver.Off3D{X: 1, Y: 1}
	region.RowLength = 3
	data := seq(4 * 3 * 2)
	require.NoError(t, g.UploadImage(img, &region, data))
	require.NoError(t, g.FlushUploads())

	d := img.(*mockgpu.Image).Data(0, 0)
	for y := 0; y < 2; y++ {
		src := data[12*y : 12*y+8]
		off := 4 * ((1+y)*4 + 1)
		assert.Equal(t, src, d[off:off+8], "row %d", y)
	}
	// Texels outside the window stay untouched.
	assert.Equal(t, make([]byte, 4*4), d[:16])
}

func TestUploadImageBatch(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()

	data := seq(2 * 2 * 4)
	var imgs []driver.Image
	for i := 0; i < 3; i++ {
		img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
			1, 1, 1, driver.UCopyDst)
		require.NoError(t, err)
		defer img.Destroy()
		imgs = append(imgs, img)
		region := fullRegion(2, 2, driver.RGBA8un, driver.RGBA8un)
		require.NoError(t, g.UploadImage(img, &region, data))
	}
	require.NoError(t, g.FlushUploads())

	for i, img := range imgs {
		assert.Equal(t, data, img.(*mockgpu.Image).Data(0, 0), "image %d", i)
	}
	n := gpu.Counts()
	assert.Equal(t, 1, n.Commits)
	assert.Equal(t, 3, n.CopyBufToImg)
	// Layout changes are batched: a single transition
	// command into the copy layout and a single one out.
	assert.Equal(t, 2, n.Transition)
}

func TestUploadImageTranscode(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
		1, 1, 1, driver.UCopyDst|driver.UShaderSample)
	require.NoError(t, err)
	defer img.Destroy()

	data := []byte{
		255, 0, 0,
		0, 255, 0,
		0, 0, 255,
		255, 255, 255,
	}
	region := fullRegion(2, 2, driver.RGB8un, driver.RGBA8un)
	require.NoError(t, g.UploadImage(img, &region, data))
	require.NoError(t, g.FlushUploads())

	want := []byte{
		255, 0, 0, 255,
		0, 255, 0, 255,
		0, 0, 255, 255,
		255, 255, 255, 255,
	}
	m := img.(*mockgpu.Image)
	assert.Equal(t, want, m.Data(0, 0))
	assert.Equal(t, driver.LShaderRead, m.Layout(0, 0))
	n := gpu.Counts()
	assert.Equal(t, 1, n.Dispatch)
	assert.Equal(t, 1, n.CopyImage)
	assert.Zero(t, n.CopyBufToImg)
}

func TestUploadImageTranscodeSubregion(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8sRGB, driver.Dim3D{Width: 4, Height: 4, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()

	region := fullRegion(2, 2, driver.RGB8sRGB, driver.RGBA8sRGB)
	region.Off = driver.Off3D{X: 2, Y: 1}
	data := seq(3 * 2 * 2)
	require.NoError(t, g.UploadImage(img, &region, data))
	require.NoError(t, g.FlushUploads())

	d := img.(*mockgpu.Image).Data(0, 0)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			s := data[3*(2*y+x):]
			off := 4 * ((1+y)*4 + 2 + x)
			assert.Equal(t, []byte{s[0], s[1], s[2], 255}, d[off:off+4], "texel (%d, %d)", x, y)
		}
	}
}

func TestUploadImageBadConversion(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()

	pairs := [][2]driver.PixelFmt{
		{driver.RGB8un, driver.RGBA8sRGB},
		{driver.RGB8sRGB, driver.RGBA8un},
		{driver.RGB8un, driver.BGRA8un},
		{driver.RGBA8un, driver.RGB8un},
		{driver.R8un, driver.RGBA8un},
	}
	for _, p := range pairs {
		region := fullRegion(2, 2, p[0], p[1])
		err := g.UploadImage(img, &region, seq(64))
		var ce *ConversionError
		require.ErrorAs(t, err, &ce, "%s to %s", p[0], p[1])
		assert.Equal(t, p[0], ce.From)
		assert.Equal(t, p[1], ce.To)
		assert.Contains(t, err.Error(), p[0].String())
	}
	// Nothing was enqueued and no staging was allocated.
	assert.Zero(t, gpu.Counts().Buffers)
	require.NoError(t, g.FlushUploads())
	assert.Zero(t, gpu.Counts().Commits)
}

func TestUploadImageBadRegion(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()

	// A stride cannot be combined with a conversion.
	region := fullRegion(2, 2, driver.RGB8un, driver.RGBA8un)
	region.RowLength = 4
	err = g.UploadImage(img, &region, seq(64))
	assert.ErrorIs(t, err, ErrStridedSource)

	// Neither can multiple layers.
	region = fullRegion(2, 2, driver.RGB8un, driver.RGBA8un)
	region.Layers = 2
	err = g.UploadImage(img, &region, seq(64))
	assert.ErrorContains(t, err, "layered")

	// A row length matching the region width is packed.
	region = fullRegion(2, 2, driver.RGB8un, driver.RGBA8un)
	region.RowLength = 2
	require.NoError(t, g.UploadImage(img, &region, seq(12)))

	region = fullRegion(2, 2, driver.RGBA8un, driver.RGBA8un)
	err = g.UploadImage(img, &region, seq(15))
	assert.ErrorContains(t, err, "payload")

	region = fullRegion(2, 2, driver.RGBA8un, driver.RGBA8un)
	region.LayoutAfter = driver.LUndefined
	err = g.UploadImage(img, &region, seq(16))
	assert.ErrorContains(t, err, "layout")

	region = fullRegion(0, 2, driver.RGBA8un, driver.RGBA8un)
	err = g.UploadImage(img, &region, seq(16))
	assert.ErrorContains(t, err, "size")

	g.DropUploads()
}

func TestUploadBufferWithInline(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	dst, err := gpu.NewBuffer(16, false, driver.UCopyDst)
	require.NoError(t, err)
	defer dst.Destroy()
	cb, err := gpu.NewCmdBuffer()
	require.NoError(t, err)
	defer cb.Destroy()

	data := seq(8)
	base := gpu.Counts()
	require.NoError(t, cb.Begin())
	require.NoError(t, g.UploadBufferWith(dst, 4, data, cb))
	require.NoError(t, cb.End())

	n := gpu.Counts()
	assert.Equal(t, 1, n.Update)
	assert.Equal(t, 1, n.Barrier)
	// Small payloads are embedded in the command stream.
	assert.Equal(t, base.Buffers, n.Buffers)

	done := make(chan *driver.WorkItem, 1)
	require.NoError(t, gpu.Commit(&driver.WorkItem{Work: []driver.CmdBuffer{cb}}, done))
	wk := <-done
	require.NoError(t, wk.Err)
	assert.Equal(t, data, dst.(*mockgpu.Buffer).Data()[4:12])
}

func TestUploadBufferWithInlineAlignment(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	dst, err := gpu.NewBuffer(16, false, driver.UCopyDst)
	require.NoError(t, err)
	defer dst.Destroy()
	cb, err := gpu.NewCmdBuffer()
	require.NoError(t, err)
	defer cb.Destroy()

	require.NoError(t, cb.Begin())
	assert.Panics(t, func() { g.UploadBufferWith(dst, 0, seq(6), cb) })
	require.NoError(t, cb.End())
}

func TestUploadBufferWithStaged(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	dst, err := gpu.NewBuffer(driver.UpdateLimit+16, false, driver.UCopyDst)
	require.NoError(t, err)
	cb, err := gpu.NewCmdBuffer()
	require.NoError(t, err)

	base := gpu.Counts()
	require.NoError(t, cb.Begin())

	// A payload of exactly the inline limit is embedded.
	require.NoError(t, g.UploadBufferWith(dst, 0, seq(driver.UpdateLimit), cb))
	n := gpu.Counts()
	assert.Equal(t, 1, n.Update)
	assert.Equal(t, base.Buffers, n.Buffers)

	// A larger payload goes through staging.
	data := seq(driver.UpdateLimit + 16)
	require.NoError(t, g.UploadBufferWith(dst, 0, data, cb))
	require.NoError(t, cb.End())

	n = gpu.Counts()
	assert.Equal(t, 1, n.Update)
	assert.Equal(t, 1, n.CopyBuffer)
	assert.Equal(t, base.Buffers+1, n.Buffers)

	done := make(chan *driver.WorkItem, 1)
	require.NoError(t, gpu.Commit(&driver.WorkItem{Work: []driver.CmdBuffer{cb}}, done))
	require.NoError(t, (<-done).Err)
	assert.Equal(t, data, dst.(*mockgpu.Buffer).Data())

	// The staging buffer retires with the context since no
	// batch was flushed after the direct upload.
	cb.Destroy()
	g.Close()
	assert.Equal(t, 1, gpu.Counts().BufsLive)
	dst.Destroy()
	assert.Zero(t, gpu.Counts().BufsLive)
}

func TestUploadImageWith(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()
	cb, err := gpu.NewCmdBuffer()
	require.NoError(t, err)
	defer cb.Destroy()

	data := []byte{
		10, 20, 30,
		40, 50, 60,
		70, 80, 90,
		100, 110, 120,
	}
	region := fullRegion(2, 2, driver.RGB8un, driver.RGBA8un)
	require.NoError(t, cb.Begin())
	require.NoError(t, g.UploadImageWith(img, &region, data, cb))
	require.NoError(t, cb.End())

	done := make(chan *driver.WorkItem, 1)
	require.NoError(t, gpu.Commit(&driver.WorkItem{Work: []driver.CmdBuffer{cb}}, done))
	require.NoError(t, (<-done).Err)

	want := []byte{
		10, 20, 30, 255,
		40, 50, 60, 255,
		70, 80, 90, 255,
		100, 110, 120, 255,
	}
	m := img.(*mockgpu.Image)
	assert.Equal(t, want, m.Data(0, 0))
	assert.Equal(t, driver.LShaderRead, m.Layout(0, 0))
}

func TestFlushFailureKeepsBacklog(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()

	data := seq(3 * 2 * 2)
	region := fullRegion(2, 2, driver.RGB8un, driver.RGBA8un)
	require.NoError(t, g.UploadImage(img, &region, data))

	// The transcode's intermediate image cannot be
	// created; nothing may be submitted and the backlog
	// must survive for a retry.
	gpu.FailNewImage = driver.ErrNoDeviceMemory
	err = g.FlushUploads()
	require.ErrorIs(t, err, driver.ErrNoDeviceMemory)
	assert.True(t, driver.IsMemory(err))
	assert.Zero(t, gpu.Counts().Commits)
	assert.Len(t, g.imgUploads, 1)

	gpu.FailNewImage = nil
	require.NoError(t, g.FlushUploads())
	assert.Equal(t, 1, gpu.Counts().Commits)
	d := img.(*mockgpu.Image).Data(0, 0)
	assert.Equal(t, data[:3], d[:3])
	assert.EqualValues(t, 255, d[3])
}

func TestCommitFailureReleasesFlushResources(t *testing.T) {
	g, gpu := newTestGraphics(t, &Config{MaxTranscode: 1})
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()

	data := seq(3 * 2 * 2)
	region := fullRegion(2, 2, driver.RGB8un, driver.RGBA8un)
	require.NoError(t, g.UploadImage(img, &region, data))
	live := gpu.Counts()

	// Submission itself fails after everything recorded
	// fine. The backlog must survive, and the transcode
	// intermediate and descriptor copy of the dead flush
	// must be given back right away.
	gpu.FailCommit = driver.ErrFatal
	err = g.FlushUploads()
	require.ErrorIs(t, err, driver.ErrFatal)
	n := gpu.Counts()
	assert.Zero(t, n.Commits)
	assert.Len(t, g.imgUploads, 1)
	assert.Equal(t, live.ImgsLive, n.ImgsLive)
	assert.Equal(t, live.BufsLive, n.BufsLive)

	// With a single descriptor copy, the retry can only
	// succeed if the failed flush released its reservation.
	gpu.FailCommit = nil
	require.NoError(t, g.FlushUploads())
	assert.Equal(t, 1, gpu.Counts().Commits)
	d := img.(*mockgpu.Image).Data(0, 0)
	assert.Equal(t, data[:3], d[:3])
	assert.EqualValues(t, 255, d[3])
}

func TestTranscodeExhaustion(t *testing.T) {
	g, gpu := newTestGraphics(t, &Config{MaxTranscode: 1})
	defer g.Close()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()

	data := seq(3 * 2 * 2)
	for i := 0; i < 2; i++ {
		region := fullRegion(2, 2, driver.RGB8un, driver.RGBA8un)
		require.NoError(t, g.UploadImage(img, &region, data))
	}
	err = g.FlushUploads()
	require.ErrorIs(t, err, driver.ErrNoDeviceMemory)
	assert.Zero(t, gpu.Counts().Commits)
	assert.Len(t, g.imgUploads, 2)
	g.DropUploads()
}

func TestDropUploads(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()
	dst, err := gpu.NewBuffer(16, false, driver.UCopyDst)
	require.NoError(t, err)
	defer dst.Destroy()
	img, err := gpu.NewImage(driver.RGBA8un, driver.Dim3D{Width: 2, Height: 2, Depth: 1},
		1, 1, 1, driver.UCopyDst)
	require.NoError(t, err)
	defer img.Destroy()

	base := gpu.Counts().BufsLive
	require.NoError(t, g.UploadBuffer(dst, 0, seq(16)))
	region := fullRegion(2, 2, driver.RGBA8un, driver.RGBA8un)
	require.NoError(t, g.UploadImage(img, &region, seq(16)))
	assert.Equal(t, base+2, gpu.Counts().BufsLive)

	g.DropUploads()
	assert.Equal(t, base, gpu.Counts().BufsLive)
	require.NoError(t, g.FlushUploads())
	assert.Zero(t, gpu.Counts().Commits)
}

func TestCreateBufferStatic(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()

	data := seq(48)
	buf, err := g.CreateBufferStatic(driver.UShaderRead, data)
	require.NoError(t, err)
	defer buf.Destroy()
	require.NoError(t, g.FlushUploads())

	b := buf.(*mockgpu.Buffer)
	assert.False(t, b.Visible())
	assert.Equal(t, data, b.Data())

	gpu.FailNewBuffer = driver.ErrNoDeviceMemory
	_, err = g.CreateBufferStatic(driver.UShaderRead, data)
	assert.ErrorIs(t, err, driver.ErrNoDeviceMemory)
	gpu.FailNewBuffer = nil
}

func TestCreateImageStatic(t *testing.T) {
	g, gpu := newTestGraphics(t, nil)
	defer g.Close()

	data := []byte{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
		10, 11, 12,
	}
	img, err := g.CreateImageStatic(ImageInfo{
		PixelFmt: driver.RGBA8un,
		Size:     driver.Dim3D{Width: 2, Height: 2},
		Usage:    driver.UShaderSample,
	}, driver.LShaderRead, driver.AShaderRead, driver.RGB8un, data)
	require.NoError(t, err)
	defer img.Destroy()
	require.NoError(t, g.FlushUploads())

	want := []byte{
		1, 2, 3, 255,
		4, 5, 6, 255,
		7, 8, 9, 255,
		10, 11, 12, 255,
	}
	m := img.(*mockgpu.Image)
	assert.Equal(t, want, m.Data(0, 0))
	assert.Equal(t, driver.LShaderRead, m.Layout(0, 0))

	// Rejections surface before the image leaks.
	live := gpu.Counts().BufsLive
	_, err = g.CreateImageStatic(ImageInfo{
		PixelFmt: driver.BGRA8un,
		Size:     driver.Dim3D{Width: 2, Height: 2},
	}, driver.LShaderRead, driver.AShaderRead, driver.RGB8un, data)
	var ce *ConversionError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, live, gpu.Counts().BufsLive)
}
