package gpu

import "context"

type Buffer interface {
	Size() uint64
	// Map returns persistently mapped memory. Only upload-heap buffers map.
	Map() ([]byte, error)
	Release()
}

type Texture interface {
	Width() uint32
	Height() uint32
	Format() Format
	Release()
}

/**
 * @brief The shader-visible descriptor table. Every slot index addresses one
 * view; the allocator in the renderer decides which slots are in use.
 */
type DescriptorHeap interface {
	Capacity() uint32
	WriteTextureView(index uint32, tex Texture)
	WriteConstantView(index uint32, buf Buffer)
	WriteStructuredView(index uint32, buf Buffer, stride uint32)
	Clear(index uint32)
	Release()
}

/**
 * @brief A monotonically increasing GPU timeline value. Queue.Signal sets it
 * once preceding work completes; Wait blocks the CPU until it is reached.
 */
type Fence interface {
	CompletedValue() uint64
	Wait(ctx context.Context, value uint64) error
	Release()
}

type CommandAllocator interface {
	// Reset recycles the allocator memory. The GPU must be done with it.
	Reset() error
	Release()
}

/**
 * @brief Records GPU commands. Lists are created closed and must be Reset
 * against an allocator before recording.
 */
type CommandList interface {
	Reset(alloc CommandAllocator) error
	Close() error

	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset uint64, size uint64)
	CopyBufferToTexture(dst Texture, src Buffer, srcOffset uint64, rowPitch uint32)
	Barrier(tex Texture, before, after ResourceState)

	BeginRenderPass(color, depth Texture, clearColor [4]float32, clearDepth float32)
	EndRenderPass()
	SetPipeline(p Pipeline)
	SetDescriptorHeap(h DescriptorHeap)
	// SetViewport also sets the scissor rectangle to the same extent.
	SetViewport(width, height uint32)
	// SetDrawParams selects the descriptor slot of the constant buffer the
	// next draw reads its parameters from.
	SetDrawParams(index uint32)
	DrawMeshlets(meshletCount, instanceCount uint32)

	Release()
}

type Queue interface {
	Submit(lists ...CommandList) error
	Signal(fence Fence, value uint64) error
}

type SwapChain interface {
	// CurrentBackBufferIndex returns the buffer the next frame renders to.
	CurrentBackBufferIndex() (uint32, error)
	BackBuffer(index uint32) Texture
	BufferCount() uint32
	Size() (uint32, uint32)
	Tearing() bool
	Present() error
	// Resize requires the queue to be idle and every back buffer reference
	// obtained before the call to be dropped.
	Resize(width, height uint32) error
	Release()
}

type Pipeline interface {
	Release()
}

/**
 * @brief A single GPU with one graphics queue. Every object it creates must be
 * released before Release is called on the device.
 */
type Device interface {
	Features() Features
	Queue() Queue

	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateTexture(desc TextureDesc) (Texture, error)
	CreateDescriptorHeap(capacity uint32) (DescriptorHeap, error)
	CreateFence(initial uint64) (Fence, error)
	CreateCommandAllocator() (CommandAllocator, error)
	CreateCommandList(alloc CommandAllocator) (CommandList, error)
	CreateSwapChain(desc SwapChainDesc) (SwapChain, error)
	CreatePipeline(desc PipelineDesc) (Pipeline, error)

	WaitIdle() error
	Release()
}
