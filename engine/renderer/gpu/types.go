package gpu

import "fmt"

type Format uint8

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatRGBA8UnormSRGB
	FormatBGRA8Unorm
	FormatBGRA8UnormSRGB
	FormatD32Float
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "RGBA8_UNORM"
	case FormatRGBA8UnormSRGB:
		return "RGBA8_UNORM_SRGB"
	case FormatBGRA8Unorm:
		return "BGRA8_UNORM"
	case FormatBGRA8UnormSRGB:
		return "BGRA8_UNORM_SRGB"
	case FormatD32Float:
		return "D32_FLOAT"
	default:
		return "UNKNOWN"
	}
}

// BytesPerPixel returns the texel size of color and depth formats.
func (f Format) BytesPerPixel() uint32 {
	if f == FormatUnknown {
		return 0
	}
	return 4
}

// ResourceState is the access state a texture is in between barriers.
type ResourceState uint8

const (
	StateUndefined ResourceState = iota
	StateCopyDest
	StateShaderResource
	StateRenderTarget
	StateDepthWrite
	StatePresent
)

func (s ResourceState) String() string {
	switch s {
	case StateUndefined:
		return "Undefined"
	case StateCopyDest:
		return "CopyDest"
	case StateShaderResource:
		return "ShaderResource"
	case StateRenderTarget:
		return "RenderTarget"
	case StateDepthWrite:
		return "DepthWrite"
	case StatePresent:
		return "Present"
	default:
		return fmt.Sprintf("ResourceState(%d)", uint8(s))
	}
}

// HeapType selects where a buffer lives. Upload buffers are CPU-writable and
// may be mapped; default buffers are GPU-local and filled by copies.
type HeapType uint8

const (
	HeapDefault HeapType = iota
	HeapUpload
)

type BufferUsage uint8

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type BufferDesc struct {
	Name  string
	Size  uint64
	Heap  HeapType
	Usage BufferUsage
}

type TextureUsage uint8

const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageTransferDst
	TextureUsageRenderTarget
	TextureUsageDepthStencil
)

type TextureDesc struct {
	Name         string
	Width        uint32
	Height       uint32
	Format       Format
	Usage        TextureUsage
	InitialState ResourceState
}

type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      Format
	// VSync false requests a tearing-capable present mode when the device has one.
	VSync bool
}

type PipelineDesc struct {
	Name          string
	VertexSPIRV   []uint32
	FragmentSPIRV []uint32
	ColorFormat   Format
	DepthFormat   Format
}

// Features reports the capabilities the renderer adapts to.
type Features struct {
	DeviceName string
	// Tearing is true when presentation without vsync is available.
	Tearing bool
	// MaxDescriptors caps the bindless table for each view kind.
	MaxDescriptors uint32
}
