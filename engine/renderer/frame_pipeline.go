package renderer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/math"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

const (
	BackBufferFormat = gpu.FormatRGBA8Unorm
	DepthFormat      = gpu.FormatD32Float
)

type FramePipelineOptions struct {
	Width              uint32
	Height             uint32
	SwapChainBuffers   uint32
	MaxGpuQueuedFrames uint32
	VSync              bool
	ClearColor         [4]float32

	Pipeline gpu.Pipeline
	Heap     gpu.DescriptorHeap
}

type frameSlot struct {
	alloc gpu.CommandAllocator
	list  gpu.CommandList
}

// Frame is one frame between BeginFrame and EndFrame.
type Frame struct {
	Number     uint64
	Slot       uint32
	BackBuffer uint32
	list       gpu.CommandList
}

/**
 * @brief Paces CPU recording against GPU execution. Each frame signals the
 * frame fence with the next value; before a slot is recorded again the CPU
 * waits until no more than MaxGpuQueuedFrames frames are still queued.
 */
type FramePipeline struct {
	device gpu.Device
	queue  gpu.Queue
	opts   FramePipelineOptions

	swapChain   gpu.SwapChain
	backBuffers []gpu.Texture
	presented   []bool
	depth       gpu.Texture

	slots []frameSlot

	fence         gpu.Fence
	fenceValue    uint64
	framesStarted uint64
}

func NewFramePipeline(device gpu.Device, opts FramePipelineOptions) (*FramePipeline, error) {
	if opts.MaxGpuQueuedFrames == 0 {
		opts.MaxGpuQueuedFrames = 1
	}
	p := &FramePipeline{
		device: device,
		queue:  device.Queue(),
		opts:   opts,
	}

	var err error
	p.swapChain, err = device.CreateSwapChain(gpu.SwapChainDesc{
		Width:       opts.Width,
		Height:      opts.Height,
		BufferCount: opts.SwapChainBuffers,
		Format:      BackBufferFormat,
		VSync:       opts.VSync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create swap chain: %w", err)
	}
	if p.swapChain.Tearing() {
		core.LogInfo("presentation with tearing enabled")
	}
	p.acquireBackBuffers()

	if err := p.createDepthBuffer(); err != nil {
		p.Destroy()
		return nil, err
	}

	p.slots = make([]frameSlot, opts.MaxGpuQueuedFrames+1)
	for i := range p.slots {
		if p.slots[i].alloc, err = device.CreateCommandAllocator(); err != nil {
			p.Destroy()
			return nil, fmt.Errorf("failed to create command allocator %d: %w", i, err)
		}
		if p.slots[i].list, err = device.CreateCommandList(p.slots[i].alloc); err != nil {
			p.Destroy()
			return nil, fmt.Errorf("failed to create command list %d: %w", i, err)
		}
	}

	if p.fence, err = device.CreateFence(0); err != nil {
		p.Destroy()
		return nil, fmt.Errorf("failed to create frame fence: %w", err)
	}
	return p, nil
}

func (p *FramePipeline) acquireBackBuffers() {
	n := p.swapChain.BufferCount()
	p.backBuffers = make([]gpu.Texture, n)
	p.presented = make([]bool, n)
	for i := uint32(0); i < n; i++ {
		p.backBuffers[i] = p.swapChain.BackBuffer(i)
	}
}

func (p *FramePipeline) releaseBackBuffers() {
	for _, b := range p.backBuffers {
		b.Release()
	}
	p.backBuffers = nil
}

func (p *FramePipeline) createDepthBuffer() error {
	w, h := p.swapChain.Size()
	depth, err := p.device.CreateTexture(gpu.TextureDesc{
		Name:         "depth buffer",
		Width:        w,
		Height:       h,
		Format:       DepthFormat,
		Usage:        gpu.TextureUsageDepthStencil,
		InitialState: gpu.StateDepthWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to create depth buffer: %w", err)
	}
	p.depth = depth
	return nil
}

func (p *FramePipeline) maxFramesInFlight() uint64 {
	return uint64(len(p.slots))
}

// BeginFrame waits until the next slot is free and opens its command list.
func (p *FramePipeline) BeginFrame(ctx context.Context) (*Frame, error) {
	slot := uint32(p.framesStarted % p.maxFramesInFlight())

	if err := p.fence.Wait(ctx, math.SatSub(p.fenceValue, uint64(p.opts.MaxGpuQueuedFrames))); err != nil {
		return nil, fmt.Errorf("failed to wait for frame fence: %w", err)
	}

	backBuffer, err := p.swapChain.CurrentBackBufferIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire back buffer: %w", err)
	}

	s := &p.slots[slot]
	if err := s.alloc.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset command allocator %d: %w", slot, err)
	}
	if err := s.list.Reset(s.alloc); err != nil {
		return nil, fmt.Errorf("failed to reset command list %d: %w", slot, err)
	}
	return &Frame{
		Number:     p.framesStarted,
		Slot:       slot,
		BackBuffer: backBuffer,
		list:       s.list,
	}, nil
}

// RecordFrame clears the back buffer and draws every mesh with the given
// camera matrix.
func (p *FramePipeline) RecordFrame(frame *Frame, viewProj math.Mat4, meshes []GpuMesh) error {
	l := frame.list
	bb := p.backBuffers[frame.BackBuffer]

	before := gpu.StatePresent
	if !p.presented[frame.BackBuffer] {
		before = gpu.StateUndefined
	}
	l.Barrier(bb, before, gpu.StateRenderTarget)

	l.BeginRenderPass(bb, p.depth, p.opts.ClearColor, 1.0)
	l.SetPipeline(p.opts.Pipeline)
	l.SetDescriptorHeap(p.opts.Heap)
	l.SetViewport(bb.Width(), bb.Height())

	for i := range meshes {
		m := &meshes[i]
		if m.MeshletCount == 0 || m.InstanceCount == 0 {
			continue
		}
		params := m.drawParams(viewProj.Data)
		if _, err := binary.Encode(m.drawMapped[frame.Slot], binary.LittleEndian, &params); err != nil {
			return fmt.Errorf("failed to write draw parameters of mesh %d: %w", i, err)
		}
		l.SetDrawParams(m.DrawParams[frame.Slot].Slot)
		l.DrawMeshlets(m.MeshletCount, m.InstanceCount)
	}

	l.EndRenderPass()
	l.Barrier(bb, gpu.StateRenderTarget, gpu.StatePresent)
	return nil
}

// EndFrame submits the frame, presents it and signals the next fence value.
// The fence is signaled even when presentation fails so the timeline stays
// consistent with the submitted work.
func (p *FramePipeline) EndFrame(ctx context.Context, frame *Frame) error {
	if err := frame.list.Close(); err != nil {
		return fmt.Errorf("failed to close command list %d: %w", frame.Slot, err)
	}
	if err := p.queue.Submit(frame.list); err != nil {
		return fmt.Errorf("failed to submit command list %d: %w", frame.Slot, err)
	}

	presentErr := p.swapChain.Present()
	p.presented[frame.BackBuffer] = true

	p.fenceValue++
	if err := p.queue.Signal(p.fence, p.fenceValue); err != nil {
		return fmt.Errorf("failed to signal frame fence: %w", err)
	}
	p.framesStarted++

	if presentErr != nil {
		if errors.Is(presentErr, core.ErrSwapchainOutOfDate) {
			return presentErr
		}
		return fmt.Errorf("%w: %w", core.ErrPresentFailed, presentErr)
	}
	return nil
}

// WaitIdle blocks until the GPU finished every submitted frame.
func (p *FramePipeline) WaitIdle(ctx context.Context) error {
	p.fenceValue++
	if err := p.queue.Signal(p.fence, p.fenceValue); err != nil {
		return fmt.Errorf("failed to signal frame fence: %w", err)
	}
	if err := p.fence.Wait(ctx, p.fenceValue); err != nil {
		return fmt.Errorf("failed to wait for frame fence: %w", err)
	}
	return nil
}

// Resize recreates the size-dependent resources. A zero-sized request, as
// sent for a minimized window, is ignored.
func (p *FramePipeline) Resize(ctx context.Context, width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	if err := p.WaitIdle(ctx); err != nil {
		return err
	}

	p.depth.Release()
	p.depth = nil
	p.releaseBackBuffers()

	if err := p.swapChain.Resize(width, height); err != nil {
		return fmt.Errorf("failed to resize swap chain to %dx%d: %w", width, height, err)
	}
	p.acquireBackBuffers()
	if err := p.createDepthBuffer(); err != nil {
		return err
	}
	core.LogDebug("render targets resized to %dx%d", width, height)
	return nil
}

func (p *FramePipeline) Size() (uint32, uint32) {
	return p.swapChain.Size()
}

func (p *FramePipeline) FenceValue() uint64 { return p.fenceValue }

// SetClearColor takes effect from the next recorded frame.
func (p *FramePipeline) SetClearColor(c [4]float32) { p.opts.ClearColor = c }

func (p *FramePipeline) CompletedValue() uint64 { return p.fence.CompletedValue() }

// FrameIndex is the number of frames started so far.
func (p *FramePipeline) FrameIndex() uint64 { return p.framesStarted }

func (p *FramePipeline) Tearing() bool { return p.swapChain.Tearing() }

// Destroy releases every object. The GPU must be idle.
func (p *FramePipeline) Destroy() {
	if p.fence != nil {
		p.fence.Release()
		p.fence = nil
	}
	for i := range p.slots {
		if p.slots[i].list != nil {
			p.slots[i].list.Release()
		}
		if p.slots[i].alloc != nil {
			p.slots[i].alloc.Release()
		}
	}
	p.slots = nil
	if p.depth != nil {
		p.depth.Release()
		p.depth = nil
	}
	if p.swapChain != nil {
		p.releaseBackBuffers()
		p.swapChain.Release()
		p.swapChain = nil
	}
}
