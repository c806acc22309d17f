// Copyright 2026 The Ember Authors. All rights reserved.

package engine

import (
	_ "embed"
	"sync"

	"github.com/embergfx/ember/driver"
	"github.com/embergfx/ember/internal/bitvec"
)

// Bindings of the transcode descriptor heap.
const (
	convSrcNr = 0 // texel buffer over the staging data
	convDstNr = 1 // storage image, one texel per group
)

// Source of the 3-byte to 4-byte expansion pass.
// The backend's NewShaderCode decides how to consume it.
//
//go:embed shader/rgb2rgba.comp
var rgb2rgbaComp []byte

// transcoder owns the compute pipeline that expands packed
// 3-byte pixel data into a 4-byte image, for destinations
// whose backing format has no 3-byte variant.
// The pipeline, descriptor heap and table are created once
// per Graphics; each transcode call takes one descriptor
// heap copy and one intermediate image, scoped to the call
// and retired with the batch that recorded it.
type transcoder struct {
	gpu  driver.GPU
	shd  driver.ShaderCode
	heap driver.DescHeap
	desc driver.DescTable
	pl   driver.Pipeline

	// Heap copies are recycled across calls; bits set in
	// free mark copies still owned by in-flight batches.
	// The batch reaper releases copies concurrently with
	// new flushes, hence the lock.
	mu   sync.Mutex
	free bitvec.V[uint32]
}

// newTranscoder creates the transcode pipeline with room
// for maxCopies concurrent invocations.
func newTranscoder(gpu driver.GPU, maxCopies int) (*transcoder, error) {
	shd, err := gpu.NewShaderCode(rgb2rgbaComp)
	if err != nil {
		return nil, err
	}
	heap, err := gpu.NewDescHeap([]driver.Descriptor{
		{Type: driver.DTexelBuffer, Stages: driver.SCompute, Nr: convSrcNr, Len: 1},
		{Type: driver.DImage, Stages: driver.SCompute, Nr: convDstNr, Len: 1},
	})
	if err != nil {
		shd.Destroy()
		return nil, err
	}
	desc, err := gpu.NewDescTable([]driver.DescHeap{heap})
	if err != nil {
		heap.Destroy()
		shd.Destroy()
		return nil, err
	}
	pl, err := gpu.NewPipeline(&driver.CompState{
		Func: driver.ShaderFunc{Code: shd, Name: "main"},
		Desc: desc,
	})
	if err != nil {
		desc.Destroy()
		heap.Destroy()
		shd.Destroy()
		return nil, err
	}
	if err := heap.New(maxCopies); err != nil {
		pl.Destroy()
		desc.Destroy()
		heap.Destroy()
		shd.Destroy()
		return nil, err
	}
	t := &transcoder{gpu: gpu, shd: shd, heap: heap, desc: desc, pl: pl}
	// The vector is rounded up to whole words; mark the
	// excess bits as unavailable.
	t.free.Grow((maxCopies + 31) / 32)
	for i := maxCopies; i < t.free.Len(); i++ {
		t.free.Set(i)
	}
	return t, nil
}

// reserveCopy takes a free descriptor heap copy.
// Growing the heap would invalidate copies referenced by
// in-flight batches, so exhaustion is reported as a memory
// error instead.
func (t *transcoder) reserveCopy() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.free.Search()
	if !ok {
		return -1, driver.ErrNoDeviceMemory
	}
	t.free.Set(idx)
	return idx, nil
}

// releaseCopy returns a descriptor heap copy to the pool.
func (t *transcoder) releaseCopy(cpy int) {
	t.mu.Lock()
	t.free.Unset(cpy)
	t.mu.Unlock()
}

// transcode records the conversion of u's staging data
// into its destination region: an intermediate 4-byte
// storage image is written by one compute invocation per
// destination texel and then copied into the destination,
// which must already be in driver.LCopyDst.
// It returns the per-call resources to retire with the
// enclosing batch and the descriptor copy to release.
//
// Only 2D regions are supported; a depth extent or slice
// offset is a caller contract violation.
func (t *transcoder) transcode(cb driver.CmdBuffer, u *imageUpload) (retire []driver.Destroyer, cpy int, err error) {
	r := &u.region
	if r.Size.Depth != 1 || r.Off.Z != 0 {
		panic("transcode: 3D image regions not implemented")
	}

	// The intermediate is always unsigned-normalized;
	// for sRGB pairs the encoding is carried unchanged
	// through the raw image-to-image copy.
	mid, err := t.gpu.NewImage(driver.RGBA8un,
		driver.Dim3D{Width: r.Size.Width, Height: r.Size.Height, Depth: 1},
		1, 1, 1, driver.UShaderWrite|driver.UCopySrc)
	if err != nil {
		return nil, -1, err
	}
	view, err := mid.NewView(driver.IView2D, 0, 1, 0, 1)
	if err != nil {
		mid.Destroy()
		return nil, -1, err
	}
	cpy, err = t.reserveCopy()
	if err != nil {
		view.Destroy()
		mid.Destroy()
		return nil, -1, err
	}

	n := int64(r.SrcFmt.Size() * r.Size.Width * r.Size.Height)
	t.heap.SetTexelBuffer(cpy, convSrcNr, 0, driver.R8un,
		[]driver.Buffer{u.staging}, []int64{0}, []int64{n})
	t.heap.SetImage(cpy, convDstNr, 0, []driver.ImageView{view})

	cb.Transition([]driver.Transition{{
		Barrier: driver.Barrier{
			SyncBefore:   driver.SNone,
			SyncAfter:    driver.SComputeShading,
			AccessBefore: driver.ANone,
			AccessAfter:  driver.AShaderWrite,
		},
		LayoutBefore: driver.LUndefined,
		LayoutAfter:  driver.LCommon,
		Img:          mid,
		Layers:       1,
		Levels:       1,
	}})

	cb.SetPipeline(t.pl)
	cb.SetDescTableComp(t.desc, 0, []int{cpy})
	cb.Dispatch(r.Size.Width, r.Size.Height, r.Size.Depth)

	cb.Transition([]driver.Transition{{
		Barrier: driver.Barrier{
			SyncBefore:   driver.SComputeShading,
			SyncAfter:    driver.SCopy,
			AccessBefore: driver.AShaderWrite,
			AccessAfter:  driver.ACopyRead,
		},
		LayoutBefore: driver.LCommon,
		LayoutAfter:  driver.LCopySrc,
		Img:          mid,
		Layers:       1,
		Levels:       1,
	}})

	cb.CopyImage(&driver.ImageCopy{
		From:    mid,
		To:      u.img,
		ToOff:   r.Off,
		ToLayer: r.Layer,
		ToLevel: r.Level,
		Size:    r.Size,
		Layers:  1,
	})

	return []driver.Destroyer{view, mid}, cpy, nil
}

// destroy frees the transcoder's driver resources.
func (t *transcoder) destroy() {
	t.pl.Destroy()
	t.desc.Destroy()
	t.heap.Destroy()
	t.shd.Destroy()
	*t = transcoder{}
}
