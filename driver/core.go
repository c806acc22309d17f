// Copyright 2026 The Ember Authors. All rights reserved.

package driver

// GPU is the device-level interface of a driver.
// It creates every other resource type and executes
// committed command buffers. The upload engine holds one
// GPU for its whole lifetime, obtained from Driver.Open.
type GPU interface {
	// Driver returns the Driver that opened the GPU.
	Driver() Driver

	// Commit commits a work item to the GPU for execution.
	// It returns as soon as the commands are handed to the
	// GPU's queue; when all of wk's command buffers complete
	// execution, wk is sent to ch with wk.Err describing the
	// outcome. Command buffers in wk.Work cannot be used for
	// recording until then.
	// Work items committed through a given GPU execute in
	// submission order.
	Commit(wk *WorkItem, ch chan<- *WorkItem) error

	// NewCmdBuffer creates a command buffer.
	NewCmdBuffer() (CmdBuffer, error)

	// NewShaderCode creates shader code from data, whose
	// format the backend decides.
	NewShaderCode(data []byte) (ShaderCode, error)

	// NewDescHeap creates a descriptor heap holding the
	// given descriptors.
	NewDescHeap(ds []Descriptor) (DescHeap, error)

	// NewDescTable creates a descriptor table binding the
	// given heaps, in order.
	NewDescTable(dh []DescHeap) (DescTable, error)

	// NewPipeline creates a compute pipeline.
	NewPipeline(state *CompState) (Pipeline, error)

	// NewBuffer creates a buffer of the given size.
	// Visible buffers are mapped for direct CPU access
	// through Buffer.Bytes; non-visible buffers live in
	// device-local memory and are reached with copies.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)

	// NewImage creates an image.
	// pf must be a format images support (see PixelFmt).
	NewImage(pf PixelFmt, size Dim3D, layers, levels, samples int, usg Usage) (Image, error)

	// NewSampler creates a sampler with the given state.
	NewSampler(spln *Sampling) (Sampler, error)

	// Limits returns the device's limits. The value is
	// fixed for as long as the GPU stays open.
	Limits() Limits
}

// WorkItem bundles command buffers for a Commit call.
// The Custom field is ignored by the driver; client code
// may use it to associate resources with the execution of
// the work (e.g., staging buffers to retire).
type WorkItem struct {
	Work   []CmdBuffer
	Err    error
	Custom any
}

// Destroyer is implemented by every driver resource.
// Driver resources hold device memory outside the GC's
// reach; the owner must call Destroy when done with them,
// and only once the GPU no longer references them.
type Destroyer interface {
	Destroy()
}

// UpdateLimit is the maximum number of bytes that a single
// CmdBuffer.Update call accepts.
// Larger writes must go through a staging buffer.
const UpdateLimit = 16384

// CmdBuffer records copy, compute and synchronization
// commands for later execution on the GPU.
// A recording starts with Begin and finishes with End;
// an ended command buffer is handed to GPU.Commit, after
// which it may be recorded anew.
type CmdBuffer interface {
	Destroyer

	// Begin starts a new recording.
	// It must precede any command, and must be called
	// again after the command buffer executes or is
	// reset.
	Begin() error

	// IsRecording returns whether a recording is open,
	// that is, Begin was called and neither End nor
	// Reset has been called since.
	IsRecording() bool

	// SetPipeline sets the compute pipeline that
	// subsequent dispatches use.
	SetPipeline(pl Pipeline)

	// SetDescTableComp binds heap copies of a descriptor
	// table, starting at the given heap index, for
	// subsequent dispatches.
	SetDescTableComp(table DescTable, start int, heapCopy []int)

	// Dispatch launches compute thread groups.
	Dispatch(grpCountX, grpCountY, grpCountZ int)

	// CopyBuffer copies a byte range between buffers.
	CopyBuffer(param *BufferCopy)

	// CopyImage copies a region between images.
	CopyImage(param *ImageCopy)

	// CopyBufToImg copies buffer data into an image
	// region.
	CopyBufToImg(param *BufImgCopy)

	// CopyImgToBuf copies an image region into a buffer.
	CopyImgToBuf(param *BufImgCopy)

	// Update writes data inline into a buffer, embedding
	// the payload in the command buffer itself.
	// len(data) must be a multiple of 4, no greater than
	// UpdateLimit, and off must be aligned to 4 bytes.
	Update(buf Buffer, off int64, data []byte)

	// Fill fills a buffer range with copies of a byte value.
	// Both off and size must be multiples of 4 bytes.
	Fill(buf Buffer, off int64, value byte, size int64)

	// Barrier records a set of global memory barriers.
	Barrier(b []Barrier)

	// Transition records a set of image layout
	// transitions, each with its own barrier.
	Transition(t []Transition)

	// End closes the recording and makes the command
	// buffer ready for GPU.Commit.
	// A new recording cannot start until the command
	// buffer executes or is reset.
	// On failure the command buffer is left reset.
	End() error

	// Reset discards every recorded command.
	Reset() error
}

// BufferCopy describes a buffer-to-buffer copy: Size
// bytes from From at FromOff into To at ToOff.
type BufferCopy struct {
	From    Buffer
	FromOff int64
	To      Buffer
	ToOff   int64
	Size    int64
}

// ImageCopy describes an image-to-image copy of a Size
// region between matching subresources.
// The source must be in LCopySrc and the destination in
// LCopyDst when the command executes.
type ImageCopy struct {
	From      Image
	FromOff   Off3D
	FromLayer int
	FromLevel int
	To        Image
	ToOff     Off3D
	ToLayer   int
	ToLevel   int
	Size      Dim3D
	Layers    int
}

// BufImgCopy describes a copy between a buffer and an
// image region, in either direction.
type BufImgCopy struct {
	Buf    Buffer
	BufOff int64
	// RowStrd and SlcStrd specify the addressing of image
	// data in the buffer, in pixels. Zero values mean
	// tightly packed rows/slices.
	RowStrd int
	SlcStrd int
	Img     Image
	ImgOff  Off3D
	Layer   int
	Level   int
	Size    Dim3D
	Layers  int
}

// Sync is a mask of pipeline stages, used to scope the
// two halves of a barrier.
type Sync int

// Synchronization scopes.
const (
	SVertexInput Sync = 1 << iota
	SVertexShading
	SFragmentShading
	SComputeShading
	SColorOutput
	SDSOutput
	SDraw
	SCopy
	SAll
	SNone Sync = 0
)

// Access is a mask of memory access kinds, used to scope
// the visibility side of a barrier.
type Access int

// Memory access scopes.
const (
	AVertexBufRead Access = 1 << iota
	AIndexBufRead
	AConstantRead
	AColorRead
	AColorWrite
	ADSRead
	ADSWrite
	ACopyRead
	ACopyWrite
	AShaderRead
	AShaderWrite
	AAnyRead
	AAnyWrite
	ANone Access = 0
)

// AAll is the union of every access scope.
const AAll = AAnyRead | AAnyWrite

// Layout describes how image memory is arranged for a
// class of accesses. Commands require specific layouts,
// established with CmdBuffer.Transition.
type Layout int

// Image layouts.
// LUndefined as a source layout means the image contents
// need not be preserved by a transition.
const (
	LUndefined Layout = iota
	LCommon
	LColorTarget
	LDSTarget
	LDSRead
	LCopySrc
	LCopyDst
	LShaderRead
	LShaderStore
)

// Barrier orders commands recorded before it against
// commands recorded after it: the Before scopes must
// complete, and their writes become visible, before the
// After scopes proceed.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// Transition is a Barrier that additionally moves a
// range of image subresources between layouts.
type Transition struct {
	Barrier

	LayoutBefore Layout
	LayoutAfter  Layout
	Img          Image
	Layer        int
	Layers       int
	Level        int
	Levels       int
}

// ShaderCode holds a compiled (or backend-compilable)
// shader for use in pipeline creation.
type ShaderCode interface {
	Destroyer
}

// ShaderFunc names an entry point within a ShaderCode.
type ShaderFunc struct {
	Code ShaderCode
	Name string
}

// Stage is a mask of programmable shader stages.
type Stage int

// Stages.
const (
	SVertex Stage = 1 << iota
	SFragment
	SCompute
)

// DescType selects what kind of resource a descriptor
// refers to.
type DescType int

// Descriptor types.
const (
	// Read/write buffer.
	DBuffer DescType = iota
	// Read/write image.
	DImage
	// Constant buffer.
	DConstant
	// Formatted texel buffer.
	// Shaders read it as a 1D sequence of texels whose
	// element format is set by DescHeap.SetTexelBuffer.
	DTexelBuffer
	// Sampled texture.
	DTexture
	// Texture sampler.
	DSampler
)

// Descriptor declares one shader-visible binding: its
// type, the stages that read it, its binding number and
// its array length.
type Descriptor struct {
	Type   DescType
	Stages Stage
	Nr     int
	Len    int
}

// DescHeap stores copies of a fixed descriptor set, so
// concurrent pipeline invocations can each bind their own
// resources without rewriting a shared set.
type DescHeap interface {
	Destroyer

	// New allocates storage for n copies of every
	// descriptor in the heap.
	// Unless n equals the current Count, in which case
	// the call is a no-op, all existing copies become
	// invalid. New(0) releases the storage.
	New(n int) error

	// SetBuffer writes buffer ranges into descriptor nr
	// of copy cpy, starting at array element start.
	// The descriptor must be a DBuffer or DConstant.
	SetBuffer(cpy, nr, start int, buf []Buffer, off, size []int64)

	// SetTexelBuffer writes buffer ranges into descriptor
	// nr of copy cpy, to be read as sequences of pf
	// texels.
	// The descriptor must be a DTexelBuffer.
	SetTexelBuffer(cpy, nr, start int, pf PixelFmt, buf []Buffer, off, size []int64)

	// SetImage writes image views into descriptor nr of
	// copy cpy, starting at array element start.
	// The descriptor must be a DImage or DTexture.
	SetImage(cpy, nr, start int, iv []ImageView)

	// SetSampler writes samplers into descriptor nr of
	// copy cpy, starting at array element start.
	// The descriptor must be a DSampler.
	SetSampler(cpy, nr, start int, splr []Sampler)

	// Count returns the number of copies the last New
	// call allocated.
	Count() int
}

// DescTable fixes the ordered set of descriptor heaps a
// pipeline's shaders can reach.
type DescTable interface {
	Destroyer
}

// CompState is the creation state of a compute pipeline:
// one compute entry point plus the descriptor table its
// shader binds.
type CompState struct {
	Func ShaderFunc
	Desc DescTable
}

// Pipeline is a baked, executable GPU pipeline.
type Pipeline interface {
	Destroyer
}

// Usage is a mask declaring, at creation time, every way a
// resource may be used.
type Usage int

// Usage flags for Buffer and Image.
const (
	// Shaders may read the resource.
	UShaderRead Usage = 1 << iota
	// Shaders may write the resource.
	UShaderWrite
	// The buffer may back constant data for shaders.
	// Buffer only.
	UShaderConst
	// The buffer may be read as a texel buffer.
	// Buffer only.
	UTexelData
	// Shaders may sample the image.
	// Image only.
	UShaderSample
	// Copy commands may read from the resource.
	UCopySrc
	// Copy commands may write to the resource.
	UCopyDst
	// The image may serve as a render target.
	// Image only.
	URenderTarget
	// All of the above.
	UGeneric Usage = 1<<iota - 1
)

// Buffer is a fixed-size linear GPU allocation. Buffers
// never grow; outgrowing one means creating a larger buffer
// and copying the contents over.
type Buffer interface {
	Destroyer

	// Visible reports whether the CPU can address the
	// buffer's memory directly.
	Visible() bool

	// Bytes exposes the buffer's memory as a slice of
	// length Cap, or nil when the buffer is not host
	// visible. The slice stays valid until Destroy.
	Bytes() []byte

	// Cap is the buffer's capacity in bytes. It never
	// changes and may exceed the size asked for at
	// creation.
	Cap() int64
}

// PixelFmt identifies the memory layout of a single pixel.
type PixelFmt int

// Pixel formats.
// The RGB8* formats are packed 3-byte layouts. They are
// valid as copy/texel-buffer sources only; images cannot
// be created with them.
const (
	// Color, 8-bit channels.
	RGBA8un PixelFmt = iota
	RGBA8sRGB
	BGRA8un
	RGB8un
	RGB8sRGB
	RG8un
	R8un
	// Color, 16-bit channels.
	RGBA16f
	RG16f
	R16f
	// Color, 32-bit channels.
	RGBA32f
	RG32f
	R32f
	// Depth/Stencil.
	D16un
	D32f
	D24unS8ui
)

// Size returns the number of bytes per f pixel.
func (f PixelFmt) Size() int {
	switch f {
	case R8un:
		return 1
	case RG8un, R16f, D16un:
		return 2
	case RGB8un, RGB8sRGB:
		return 3
	case RGBA8un, RGBA8sRGB, BGRA8un, RG16f, R32f, D32f, D24unS8ui:
		return 4
	case RGBA16f, RG32f:
		return 8
	case RGBA32f:
		return 16
	}
	panic("undefined PixelFmt")
}

// String returns the name of the format constant.
func (f PixelFmt) String() string {
	switch f {
	case RGBA8un:
		return "RGBA8un"
	case RGBA8sRGB:
		return "RGBA8sRGB"
	case BGRA8un:
		return "BGRA8un"
	case RGB8un:
		return "RGB8un"
	case RGB8sRGB:
		return "RGB8sRGB"
	case RG8un:
		return "RG8un"
	case R8un:
		return "R8un"
	case RGBA16f:
		return "RGBA16f"
	case RG16f:
		return "RG16f"
	case R16f:
		return "R16f"
	case RGBA32f:
		return "RGBA32f"
	case RG32f:
		return "RG32f"
	case R32f:
		return "R32f"
	case D16un:
		return "D16un"
	case D32f:
		return "D32f"
	case D24unS8ui:
		return "D24unS8ui"
	}
	return "PixelFmt(?)"
}

// IsSRGB returns whether f is gamma encoded.
func (f PixelFmt) IsSRGB() bool {
	return f == RGBA8sRGB || f == RGB8sRGB
}

// Dim3D is a size in up to three dimensions.
type Dim3D struct {
	Width, Height, Depth int
}

// Off3D is an offset in up to three dimensions.
type Off3D struct {
	X, Y, Z int
}

// Image is a GPU texture resource. Image memory is never
// host visible; getting CPU data into an image goes through
// a staging buffer and a copy command.
type Image interface {
	Destroyer

	// NewView creates a view over a range of the image's
	// layers and mip levels.
	// Every view must be destroyed before the image that
	// backs it.
	NewView(typ ViewType, layer, layers, level, levels int) (ImageView, error)
}

// ViewType selects the dimensionality under which a view
// presents its image to shaders.
type ViewType int

// View types.
const (
	IView1D ViewType = iota
	IView2D
	IView3D
	IViewCube
	IView2DArray
)

// ImageView is a typed window into an Image, covering some
// range of its layers and levels.
type ImageView interface {
	Destroyer

	// Image returns the image the view was created from.
	Image() Image
}

// Filter selects how a sampler interpolates between texels
// or mip levels.
type Filter int

// Filters.
const (
	FNearest Filter = iota
	FLinear
	// FNoMipmap pins sampling to mip level 0.
	// Valid only as a sampler's mip filter.
	FNoMipmap
)

// AddrMode selects how a sampler resolves coordinates that
// fall outside the image.
type AddrMode int

// Address modes.
const (
	AWrap AddrMode = iota
	AMirror
	AClamp
)

// Sampler is an immutable image sampling configuration that
// shaders bind through a descriptor heap.
type Sampler interface {
	Destroyer
}

// Sampling is the creation state of a Sampler.
type Sampling struct {
	Min      Filter
	Mag      Filter
	Mipmap   Filter
	AddrU    AddrMode
	AddrV    AddrMode
	AddrW    AddrMode
	MaxAniso int
	MinLOD   float32
	MaxLOD   float32
}

// Limits reports what a particular driver and device can
// handle. Callers must not exceed these bounds.
type Limits struct {
	// Largest width of a 1D image.
	MaxImage1D int
	// Largest width/height of a 2D image.
	MaxImage2D int
	// Largest width/height/depth of a 3D image.
	MaxImage3D int
	// Most layers an image may have.
	MaxLayers int

	// Most descriptor heaps a table may hold.
	MaxDescHeaps int
	// Most buffer descriptors across a table.
	MaxDBuffer int
	// Most image descriptors across a table.
	MaxDImage int
	// Most texel buffer descriptors across a table.
	MaxDTexelBuffer int
	// Longest texel buffer range, in texels.
	MaxTexelElems int

	// Largest per-dimension group count in a dispatch.
	MaxDispatch [3]int
}
