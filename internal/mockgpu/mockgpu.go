// Copyright 2026 The Ember Authors. All rights reserved.

// Package mockgpu implements the driver contract in
// software, for testing the upload engine without real
// hardware.
// Copy, update and dispatch commands execute on the CPU
// when committed, image layouts are tracked and checked
// against recorded transitions, and every command and
// allocation is counted so tests can assert on barrier
// bracketing and staging behavior.
package mockgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/embergfx/ember/driver"
)

// Counts holds per-GPU command and allocation counters.
// Command counters increment at record time; allocation
// counters at creation time.
type Counts struct {
	Buffers    int
	BufsLive   int
	Images     int
	ImgsLive   int
	Views      int
	Samplers   int
	CmdBuffers int
	DescHeaps  int
	Pipelines  int
	Commits    int

	CopyBuffer   int
	CopyImage    int
	CopyBufToImg int
	CopyImgToBuf int
	Update       int
	Fill         int
	Barrier      int
	Transition   int
	Dispatch     int
}

// GPU is a software driver.GPU.
type GPU struct {
	mu sync.Mutex
	n  Counts

	// Error injection: when non-nil, the corresponding
	// method fails with the given error. A failed Commit
	// executes nothing.
	FailNewBuffer error
	FailNewImage  error
	FailCommit    error
}

// New creates a mock GPU.
func New() *GPU { return &GPU{} }

// Counts returns a snapshot of the GPU's counters.
func (g *GPU) Counts() Counts {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func (g *GPU) count(f func(*Counts)) {
	g.mu.Lock()
	f(&g.n)
	g.mu.Unlock()
}

// Driver returns the registered mock driver.
func (g *GPU) Driver() driver.Driver { return &mockDrv }

func (g *GPU) Commit(wk *driver.WorkItem, ch chan<- *driver.WorkItem) error {
	if g.FailCommit != nil {
		return g.FailCommit
	}
	g.count(func(n *Counts) { n.Commits++ })
	var err error
	for _, cb := range wk.Work {
		c := cb.(*CmdBuffer)
		if c.recording || !c.ended {
			panic("mockgpu: Commit of command buffer not ended")
		}
	}
	// Execution is synchronous: by the time Commit
	// returns, every recorded command has run.
	for _, cb := range wk.Work {
		c := cb.(*CmdBuffer)
		for _, cmd := range c.cmds {
			if err = cmd(); err != nil {
				break
			}
		}
		c.cmds = nil
		c.ended = false
		if err != nil {
			break
		}
	}
	wk.Err = err
	ch <- wk
	return nil
}

func (g *GPU) NewCmdBuffer() (driver.CmdBuffer, error) {
	g.count(func(n *Counts) { n.CmdBuffers++ })
	return &CmdBuffer{gpu: g}, nil
}

func (g *GPU) NewShaderCode(data []byte) (driver.ShaderCode, error) {
	return &shaderCode{data: data}, nil
}

func (g *GPU) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) {
	g.count(func(n *Counts) { n.DescHeaps++ })
	h := &DescHeap{ds: make([]driver.Descriptor, len(ds))}
	copy(h.ds, ds)
	return h, nil
}

func (g *GPU) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	t := &DescTable{heaps: make([]*DescHeap, len(dh))}
	for i := range dh {
		t.heaps[i] = dh[i].(*DescHeap)
	}
	return t, nil
}

func (g *GPU) NewPipeline(state *driver.CompState) (driver.Pipeline, error) {
	g.count(func(n *Counts) { n.Pipelines++ })
	return &Pipeline{state: *state}, nil
}

func (g *GPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if g.FailNewBuffer != nil {
		return nil, g.FailNewBuffer
	}
	if size <= 0 {
		panic("mockgpu: NewBuffer with size <= 0")
	}
	g.count(func(n *Counts) { n.Buffers++; n.BufsLive++ })
	return &Buffer{gpu: g, b: make([]byte, size), visible: visible, usg: usg}, nil
}

func (g *GPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	if g.FailNewImage != nil {
		return nil, g.FailNewImage
	}
	switch pf {
	case driver.RGB8un, driver.RGB8sRGB:
		panic("mockgpu: NewImage with 3-byte format")
	}
	if size.Depth == 0 {
		size.Depth = 1
	}
	g.count(func(n *Counts) { n.Images++; n.ImgsLive++ })
	m := &Image{
		gpu:    g,
		pf:     pf,
		size:   size,
		layers: layers,
		levels: levels,
		usg:    usg,
		data:   make([][]byte, layers*levels),
		layout: make([]driver.Layout, layers*levels),
	}
	for i := range m.data {
		m.data[i] = make([]byte, pf.Size()*size.Width*size.Height*size.Depth)
	}
	return m, nil
}

func (g *GPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) {
	g.count(func(n *Counts) { n.Samplers++ })
	return &Sampler{spln: *spln}, nil
}

func (g *GPU) Limits() driver.Limits {
	return driver.Limits{
		MaxImage1D:      16384,
		MaxImage2D:      16384,
		MaxImage3D:      2048,
		MaxLayers:       2048,
		MaxDescHeaps:    4,
		MaxDBuffer:      8,
		MaxDImage:       8,
		MaxDTexelBuffer: 8,
		MaxTexelElems:   1 << 27,
		MaxDispatch:     [3]int{65535, 65535, 65535},
	}
}

// Buffer is a host slice behind the driver.Buffer
// interface.
type Buffer struct {
	gpu     *GPU
	b       []byte
	visible bool
	usg     driver.Usage
	dead    bool
}

func (b *Buffer) Destroy() {
	if b.dead {
		panic("mockgpu: Buffer destroyed twice")
	}
	b.dead = true
	b.gpu.count(func(n *Counts) { n.BufsLive-- })
}

func (b *Buffer) Visible() bool { return b.visible }

func (b *Buffer) Bytes() []byte {
	if !b.visible {
		return nil
	}
	return b.b
}

func (b *Buffer) Cap() int64 { return int64(len(b.b)) }

// Data returns the buffer's storage regardless of
// visibility. Mock-only accessor for test readback.
func (b *Buffer) Data() []byte { return b.b }

func (b *Buffer) use() {
	if b.dead {
		panic("mockgpu: use of destroyed Buffer")
	}
}

// Image is a set of per-subresource pixel slices behind
// the driver.Image interface.
// The layout of each layer/level is tracked and verified
// against recorded transitions and copies.
type Image struct {
	gpu    *GPU
	pf     driver.PixelFmt
	size   driver.Dim3D
	layers int
	levels int
	usg    driver.Usage
	data   [][]byte
	layout []driver.Layout
	dead   bool
}

func (m *Image) Destroy() {
	if m.dead {
		panic("mockgpu: Image destroyed twice")
	}
	m.dead = true
	m.gpu.count(func(n *Counts) { n.ImgsLive-- })
}

func (m *Image) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	if layer < 0 || layers < 1 || layer+layers > m.layers || level < 0 || levels < 1 || level+levels > m.levels {
		panic("mockgpu: NewView subresource out of bounds")
	}
	m.gpu.count(func(n *Counts) { n.Views++ })
	return &ImageView{img: m, layer: layer, layers: layers, level: level, levels: levels}, nil
}

func (m *Image) sub(layer, level int) int { return layer*m.levels + level }

// Data returns the pixel storage of a subresource.
// Mock-only accessor for test readback.
func (m *Image) Data(layer, level int) []byte { return m.data[m.sub(layer, level)] }

// Format returns the image's pixel format.
// Mock-only accessor.
func (m *Image) Format() driver.PixelFmt { return m.pf }

// Layout returns the tracked layout of a subresource.
// Mock-only accessor.
func (m *Image) Layout(layer, level int) driver.Layout { return m.layout[m.sub(layer, level)] }

func (m *Image) use() {
	if m.dead {
		panic("mockgpu: use of destroyed Image")
	}
}

// requireLayout checks that a subresource range is in the
// given layout.
func (m *Image) requireLayout(layer, layers, level, levels int, want driver.Layout, op string) error {
	for i := layer; i < layer+layers; i++ {
		for j := level; j < level+levels; j++ {
			if got := m.layout[m.sub(i, j)]; got != want {
				return fmt.Errorf("mockgpu: %s: layer %d level %d in layout %d, want %d", op, i, j, got, want)
			}
		}
	}
	return nil
}

// ImageView refers to a subresource range of an Image.
type ImageView struct {
	img    *Image
	layer  int
	layers int
	level  int
	levels int
	dead   bool
}

func (v *ImageView) Destroy() {
	if v.dead {
		panic("mockgpu: ImageView destroyed twice")
	}
	v.dead = true
}

func (v *ImageView) Image() driver.Image { return v.img }

// Sampler holds the sampling state it was created with.
type Sampler struct {
	spln driver.Sampling
	dead bool
}

func (s *Sampler) Destroy() { s.dead = true }

type shaderCode struct{ data []byte }

func (*shaderCode) Destroy() {}

// Pipeline holds a compute state.
type Pipeline struct{ state driver.CompState }

func (*Pipeline) Destroy() {}

// binding is one bound resource of a descriptor copy.
type binding struct {
	buf  *Buffer
	off  int64
	size int64
	pf   driver.PixelFmt
	view *ImageView
}

// DescHeap stores descriptor bindings per heap copy.
type DescHeap struct {
	ds     []driver.Descriptor
	copies []map[int]binding
}

func (h *DescHeap) Destroy() {}

func (h *DescHeap) New(n int) error {
	if n == len(h.copies) {
		return nil
	}
	h.copies = make([]map[int]binding, n)
	for i := range h.copies {
		h.copies[i] = make(map[int]binding)
	}
	return nil
}

func (h *DescHeap) Count() int { return len(h.copies) }

func (h *DescHeap) desc(nr int) *driver.Descriptor {
	for i := range h.ds {
		if h.ds[i].Nr == nr {
			return &h.ds[i]
		}
	}
	panic("mockgpu: no such descriptor")
}

func (h *DescHeap) SetBuffer(cpy, nr, start int, buf []driver.Buffer, off, size []int64) {
	d := h.desc(nr)
	if d.Type != driver.DBuffer && d.Type != driver.DConstant {
		panic("mockgpu: SetBuffer on wrong descriptor type")
	}
	h.copies[cpy][nr] = binding{buf: buf[0].(*Buffer), off: off[0], size: size[0]}
}

func (h *DescHeap) SetTexelBuffer(cpy, nr, start int, pf driver.PixelFmt, buf []driver.Buffer, off, size []int64) {
	if h.desc(nr).Type != driver.DTexelBuffer {
		panic("mockgpu: SetTexelBuffer on wrong descriptor type")
	}
	b := buf[0].(*Buffer)
	if b.usg&driver.UTexelData == 0 {
		panic("mockgpu: SetTexelBuffer on buffer without UTexelData usage")
	}
	h.copies[cpy][nr] = binding{buf: b, off: off[0], size: size[0], pf: pf}
}

func (h *DescHeap) SetImage(cpy, nr, start int, iv []driver.ImageView) {
	d := h.desc(nr)
	if d.Type != driver.DImage && d.Type != driver.DTexture {
		panic("mockgpu: SetImage on wrong descriptor type")
	}
	h.copies[cpy][nr] = binding{view: iv[0].(*ImageView)}
}

func (h *DescHeap) SetSampler(cpy, nr, start int, splr []driver.Sampler) {
	if h.desc(nr).Type != driver.DSampler {
		panic("mockgpu: SetSampler on wrong descriptor type")
	}
}

// DescTable groups descriptor heaps.
type DescTable struct{ heaps []*DescHeap }

func (*DescTable) Destroy() {}

var errUnbound = errors.New("mockgpu: dispatch with unbound pipeline or descriptors")
