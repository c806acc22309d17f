// Copyright 2026 The Ember Authors. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/embergfx/ember/driver"
)

const uploadPrefix = "upload: "

// ErrStridedSource means that an image upload combined a
// row-length/image-height stride with a format conversion.
// The transcode pass reads tightly packed sources only;
// strided sources are valid for same-format copies.
var ErrStridedSource = errors.New(uploadPrefix + "transcode requires a tightly packed source")

// ConversionError means that an image upload paired a
// source format with a destination format outside the
// supported conversion set.
type ConversionError struct {
	From, To driver.PixelFmt
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf(uploadPrefix+"unsupported format conversion: %s to %s", e.From, e.To)
}

// convertible returns whether a (src, dst) format pair is
// valid for an image upload: either identical, or one of
// the supported 3-byte to 4-byte expansions.
func convertible(src, dst driver.PixelFmt) bool {
	switch {
	case src == dst:
		return true
	case src == driver.RGB8un && dst == driver.RGBA8un:
		return true
	case src == driver.RGB8sRGB && dst == driver.RGBA8sRGB:
		return true
	}
	return false
}

// bufferUpload is a pending buffer write.
// It is created at enqueue time, consumed exactly once by
// FlushUploads and then discarded.
type bufferUpload struct {
	staging driver.Buffer
	dst     driver.Buffer
	off     int64
	// size is the payload length; the staging buffer's
	// capacity may be larger due to alignment rounding.
	size   int64
	oldAcc driver.Access
	newAcc driver.Access
}

// imageUpload is a pending image write.
type imageUpload struct {
	staging driver.Buffer
	img     driver.Image
	region  ImageRegion
}

// ImageRegion describes the destination of an image upload
// and the synchronization metadata it carries.
type ImageRegion struct {
	Layer  int
	Layers int // zero means 1
	Level  int
	Off    driver.Off3D
	Size   driver.Dim3D

	// LayoutBefore is the layout the destination is in
	// when the upload executes. driver.LUndefined means
	// the image has no defined prior contents (first
	// write after creation).
	LayoutBefore driver.Layout
	// LayoutAfter is the layout consumers expect.
	LayoutAfter driver.Layout

	// Access scopes of the prior and subsequent
	// consumers of the destination.
	AccessBefore driver.Access
	AccessAfter  driver.Access

	// SrcFmt is the pixel layout of the CPU data;
	// DstFmt is the destination image's format.
	// They must satisfy convertible.
	SrcFmt driver.PixelFmt
	DstFmt driver.PixelFmt

	// RowLength/ImgHeight describe strided source data,
	// in pixels. Zero means tightly packed.
	RowLength int
	ImgHeight int
}

// strided returns whether the source data has explicit
// row/slice strides.
func (r *ImageRegion) strided() bool {
	return r.RowLength != 0 && r.RowLength != r.Size.Width ||
		r.ImgHeight != 0 && r.ImgHeight != r.Size.Height
}

// dataSize returns the number of source bytes the region
// consumes.
func (r *ImageRegion) dataSize() int {
	w, h := r.RowLength, r.ImgHeight
	if w == 0 {
		w = r.Size.Width
	}
	if h == 0 {
		h = r.Size.Height
	}
	d := r.Size.Depth
	if d == 0 {
		d = 1
	}
	nl := r.Layers
	if nl == 0 {
		nl = 1
	}
	return r.SrcFmt.Size() * w * h * d * nl
}

// validate checks r against the supported conversion set
// and the provided payload.
func (r *ImageRegion) validate(data []byte) error {
	var reason string
	switch {
	case r.Size.Width < 1, r.Size.Height < 1:
		reason = "invalid region size"
	case r.Layer < 0, r.Layers < 0, r.Level < 0:
		reason = "invalid subresource"
	case r.LayoutAfter == driver.LUndefined:
		reason = "undefined destination layout"
	case len(data) < r.dataSize():
		reason = "payload shorter than region"
	default:
		if !convertible(r.SrcFmt, r.DstFmt) {
			return &ConversionError{r.SrcFmt, r.DstFmt}
		}
		if r.SrcFmt != r.DstFmt {
			if r.strided() {
				return ErrStridedSource
			}
			if r.Layers > 1 {
				return errors.New(uploadPrefix + "layered transcode not supported")
			}
		}
		return nil
	}
	return errors.New(uploadPrefix + reason)
}

// UploadBuffer schedules a copy of data into dst at off.
// No GPU work happens until FlushUploads; the data is
// captured in a staging buffer immediately, so the caller
// may reuse data once UploadBuffer returns.
// Empty data is a no-op.
func (g *Graphics) UploadBuffer(dst driver.Buffer, off int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	staging, err := g.newStaging(data, driver.UCopySrc)
	if err != nil {
		return err
	}
	g.bufUploads = append(g.bufUploads, bufferUpload{
		staging: staging,
		dst:     dst,
		off:     off,
		size:    int64(len(data)),
		oldAcc:  driver.AAll,
		newAcc:  driver.AAll,
	})
	return nil
}

// UploadImage schedules a write of data into a region of
// img. No GPU work happens until FlushUploads.
// If the region's source and destination formats differ,
// the flush converts the data on the GPU (see convertible
// for the supported pairs).
// Empty data is a no-op.
func (g *Graphics) UploadImage(img driver.Image, region *ImageRegion, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := region.validate(data); err != nil {
		return err
	}
	usg := driver.Usage(driver.UCopySrc)
	if region.SrcFmt != region.DstFmt {
		// The transcoder reads the staging buffer
		// through a texel view.
		usg = driver.UTexelData
	}
	staging, err := g.newStaging(data, usg)
	if err != nil {
		return err
	}
	r := *region
	if r.Layers == 0 {
		r.Layers = 1
	}
	if r.Size.Depth == 0 {
		r.Size.Depth = 1
	}
	g.imgUploads = append(g.imgUploads, imageUpload{staging, img, r})
	return nil
}

// UploadBufferWith records an immediate copy of data into
// dst at off, using the caller's command buffer.
// Payloads no larger than driver.UpdateLimit are embedded
// in the command stream and must be a multiple of 4 bytes
// in size; larger payloads go through a staging buffer.
// Empty data is a no-op.
func (g *Graphics) UploadBufferWith(dst driver.Buffer, off int64, data []byte, cb driver.CmdBuffer) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) <= driver.UpdateLimit {
		if len(data)%4 != 0 {
			panic("UploadBufferWith: inline payload not a multiple of 4 bytes")
		}
		cb.Update(dst, off, data)
	} else {
		staging, err := g.newStaging(data, driver.UCopySrc)
		if err != nil {
			return err
		}
		cb.CopyBuffer(&driver.BufferCopy{
			From:  staging,
			To:    dst,
			ToOff: off,
			Size:  int64(len(data)),
		})
		g.pendRetire = append(g.pendRetire, staging)
	}
	cb.Barrier([]driver.Barrier{{
		SyncBefore:   driver.SCopy,
		SyncAfter:    driver.SAll,
		AccessBefore: driver.ACopyWrite,
		AccessAfter:  driver.AAll,
	}})
	return nil
}

// UploadImageWith records an immediate write of data into
// a region of img, using the caller's command buffer.
// Layout transitions and barriers are recorded inline.
// Empty data is a no-op.
func (g *Graphics) UploadImageWith(img driver.Image, region *ImageRegion, data []byte, cb driver.CmdBuffer) error {
	if len(data) == 0 {
		return nil
	}
	if err := region.validate(data); err != nil {
		return err
	}
	usg := driver.Usage(driver.UCopySrc)
	if region.SrcFmt != region.DstFmt {
		usg = driver.UTexelData
	}
	staging, err := g.newStaging(data, usg)
	if err != nil {
		return err
	}
	r := *region
	if r.Layers == 0 {
		r.Layers = 1
	}
	if r.Size.Depth == 0 {
		r.Size.Depth = 1
	}
	u := &imageUpload{staging, img, r}

	cb.Transition([]driver.Transition{u.enterTransition()})
	retire, cpy, err := g.recordImageWrite(cb, u)
	if err != nil {
		staging.Destroy()
		return err
	}
	cb.Transition([]driver.Transition{u.exitTransition()})

	g.pendRetire = append(g.pendRetire, staging)
	g.pendRetire = append(g.pendRetire, retire...)
	if cpy >= 0 {
		g.pendCopies = append(g.pendCopies, cpy)
	}
	return nil
}

// enterTransition builds the transition that moves the
// upload's destination into the copy-destination layout.
func (u *imageUpload) enterTransition() driver.Transition {
	return driver.Transition{
		Barrier: driver.Barrier{
			SyncBefore:   driver.SNone,
			SyncAfter:    driver.SCopy,
			AccessBefore: u.region.AccessBefore,
			AccessAfter:  driver.ACopyWrite,
		},
		LayoutBefore: u.region.LayoutBefore,
		LayoutAfter:  driver.LCopyDst,
		Img:          u.img,
		Layer:        u.region.Layer,
		Layers:       u.region.Layers,
		Level:        u.region.Level,
		Levels:       1,
	}
}

// exitTransition builds the transition that hands the
// upload's destination to its consumers.
func (u *imageUpload) exitTransition() driver.Transition {
	return driver.Transition{
		Barrier: driver.Barrier{
			SyncBefore:   driver.SCopy,
			SyncAfter:    driver.SAll,
			AccessBefore: driver.ACopyWrite,
			AccessAfter:  u.region.AccessAfter,
		},
		LayoutBefore: driver.LCopyDst,
		LayoutAfter:  u.region.LayoutAfter,
		Img:          u.img,
		Layer:        u.region.Layer,
		Layers:       u.region.Layers,
		Level:        u.region.Level,
		Levels:       1,
	}
}

// recordImageWrite records the copy or transcode that
// writes u's staging data into its destination region.
// The destination must already be in driver.LCopyDst.
// It returns any per-call resources to retire with the
// enclosing batch, and the transcoder descriptor copy to
// release (-1 if the direct copy path was taken).
func (g *Graphics) recordImageWrite(cb driver.CmdBuffer, u *imageUpload) (retire []driver.Destroyer, cpy int, err error) {
	if u.region.SrcFmt == u.region.DstFmt {
		cb.CopyBufToImg(&driver.BufImgCopy{
			Buf:     u.staging,
			RowStrd: u.region.RowLength,
			SlcStrd: u.region.ImgHeight,
			Img:     u.img,
			ImgOff:  u.region.Off,
			Layer:   u.region.Layer,
			Level:   u.region.Level,
			Size:    u.region.Size,
			Layers:  u.region.Layers,
		})
		return nil, -1, nil
	}
	return g.conv.transcode(cb, u)
}

// FlushUploads drains the pending upload queues into one
// command buffer, bracketed by the barriers that make the
// writes race-free with prior consumers and visible to
// subsequent ones, and submits it.
// It returns once the commands are recorded and submitted,
// not once they complete; completion ordering relative to
// later submissions follows queue submission order.
// On failure nothing is submitted and the queues keep
// their backlog, so the caller may retry on a later frame
// or discard explicitly with DropUploads.
func (g *Graphics) FlushUploads() error {
	if len(g.bufUploads) == 0 && len(g.imgUploads) == 0 {
		return nil
	}

	b := <-g.batches
	abort := func() {
		for _, x := range b.retire {
			x.Destroy()
		}
		b.retire = b.retire[:0]
		for _, cpy := range b.convCopies {
			g.conv.releaseCopy(cpy)
		}
		b.convCopies = b.convCopies[:0]
		g.batches <- b
	}

	if err := b.cb.Begin(); err != nil {
		abort()
		return err
	}

	if len(g.bufUploads) > 0 {
		var oldAcc, newAcc driver.Access
		for i := range g.bufUploads {
			oldAcc |= g.bufUploads[i].oldAcc
			newAcc |= g.bufUploads[i].newAcc
		}
		b.cb.Barrier([]driver.Barrier{{
			SyncBefore:   driver.SAll,
			SyncAfter:    driver.SCopy,
			AccessBefore: oldAcc,
			AccessAfter:  driver.ACopyWrite,
		}})
		for i := range g.bufUploads {
			u := &g.bufUploads[i]
			b.cb.CopyBuffer(&driver.BufferCopy{
				From:  u.staging,
				To:    u.dst,
				ToOff: u.off,
				Size:  u.size,
			})
		}
		b.cb.Barrier([]driver.Barrier{{
			SyncBefore:   driver.SCopy,
			SyncAfter:    driver.SAll,
			AccessBefore: driver.ACopyWrite,
			AccessAfter:  newAcc,
		}})
	}

	if len(g.imgUploads) > 0 {
		// One batched transition into LCopyDst and one
		// batched transition out, regardless of how many
		// uploads are queued.
		xs := make([]driver.Transition, len(g.imgUploads))
		for i := range g.imgUploads {
			xs[i] = g.imgUploads[i].enterTransition()
		}
		b.cb.Transition(xs)

		for i := range g.imgUploads {
			retire, cpy, err := g.recordImageWrite(b.cb, &g.imgUploads[i])
			if err != nil {
				// Nothing gets submitted; the queues
				// keep the backlog.
				b.cb.Reset()
				abort()
				return err
			}
			b.retire = append(b.retire, retire...)
			if cpy >= 0 {
				b.convCopies = append(b.convCopies, cpy)
			}
		}

		for i := range g.imgUploads {
			xs[i] = g.imgUploads[i].exitTransition()
		}
		b.cb.Transition(xs)
	}

	if err := b.cb.End(); err != nil {
		abort()
		return err
	}

	// From here on the batch owns every transient
	// resource of this flush. Entries recorded so far are
	// flush-local (transcode intermediates and views); the
	// staging buffers appended next stay referenced by the
	// queue entries as well.
	nlocal := len(b.retire)
	ncopy := len(b.convCopies)
	for i := range g.bufUploads {
		b.retire = append(b.retire, g.bufUploads[i].staging)
	}
	for i := range g.imgUploads {
		b.retire = append(b.retire, g.imgUploads[i].staging)
	}
	npend := len(b.retire)
	b.retire = append(b.retire, g.pendRetire...)
	b.convCopies = append(b.convCopies, g.pendCopies...)

	if err := g.gpu.Commit(b.wk, g.done); err != nil {
		b.cb.Reset()
		// Nothing was submitted. The staging buffers are
		// still referenced by the queued uploads and the
		// direct-path resources stay pending, but a retry
		// records fresh intermediates and reserves fresh
		// descriptor copies, so this flush's must be given
		// back here.
		for _, x := range b.retire[:nlocal] {
			x.Destroy()
		}
		b.retire = b.retire[:0]
		for _, cpy := range b.convCopies[:ncopy] {
			g.conv.releaseCopy(cpy)
		}
		b.convCopies = b.convCopies[:0]
		g.batches <- b
		return err
	}

	slog.Debug("uploads flushed",
		"buffers", len(g.bufUploads),
		"images", len(g.imgUploads),
		"retired", npend)
	g.bufUploads = g.bufUploads[:0]
	g.imgUploads = g.imgUploads[:0]
	g.pendRetire = g.pendRetire[:0]
	g.pendCopies = g.pendCopies[:0]
	return nil
}

// DropUploads discards the pending upload backlog without
// submitting it, destroying the staging buffers.
// It is the explicit alternative to retrying FlushUploads
// after a failure.
func (g *Graphics) DropUploads() {
	for i := range g.bufUploads {
		g.bufUploads[i].staging.Destroy()
	}
	for i := range g.imgUploads {
		g.imgUploads[i].staging.Destroy()
	}
	g.bufUploads = g.bufUploads[:0]
	g.imgUploads = g.imgUploads[:0]
}

// CreateBufferStatic creates a device-local buffer of the
// given usage, pre-populated with data through the upload
// queue. The buffer is ready for use by any command
// recorded after the next FlushUploads.
func (g *Graphics) CreateBufferStatic(usg driver.Usage, data []byte) (driver.Buffer, error) {
	buf, err := g.gpu.NewBuffer(int64(len(data)), false, usg|driver.UCopyDst)
	if err != nil {
		return nil, err
	}
	if err := g.UploadBuffer(buf, 0, data); err != nil {
		buf.Destroy()
		return nil, err
	}
	return buf, nil
}

// ImageInfo describes an image to create through
// CreateImageStatic.
type ImageInfo struct {
	PixelFmt driver.PixelFmt
	Size     driver.Dim3D
	Layers   int
	Levels   int
	Samples  int
	Usage    driver.Usage
}

// CreateImageStatic creates an image and schedules an
// upload of data into its first mip level, transitioning
// it to layout for consumers with the given access scope.
// srcFmt describes the pixel layout of data; if it differs
// from info.PixelFmt the flush transcodes on the GPU.
// The image is ready for use by any command recorded after
// the next FlushUploads.
func (g *Graphics) CreateImageStatic(info ImageInfo, layout driver.Layout, access driver.Access, srcFmt driver.PixelFmt, data []byte) (driver.Image, error) {
	if info.Layers == 0 {
		info.Layers = 1
	}
	if info.Levels == 0 {
		info.Levels = 1
	}
	if info.Samples == 0 {
		info.Samples = 1
	}
	usg := info.Usage | driver.UCopyDst
	img, err := g.gpu.NewImage(info.PixelFmt, info.Size, info.Layers, info.Levels, info.Samples, usg)
	if err != nil {
		return nil, err
	}
	err = g.UploadImage(img, &ImageRegion{
		Layers:       info.Layers,
		Size:         info.Size,
		LayoutBefore: driver.LUndefined,
		LayoutAfter:  layout,
		AccessAfter:  access,
		SrcFmt:       srcFmt,
		DstFmt:       info.PixelFmt,
	}, data)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}
