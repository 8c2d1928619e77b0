package renderer

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/pensieve/engine/config"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/math"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

// Camera supplies the view-projection matrix for a viewport aspect ratio.
type Camera interface {
	ViewProjection(aspect float32) math.Mat4
}

type Options struct {
	Width              uint32
	Height             uint32
	DescriptorCapacity uint32
	MaxGpuQueuedFrames uint32
	SwapChainBuffers   uint32
	ClearColor         [4]float32
	VSync              bool

	VertexSPIRV   []uint32
	FragmentSPIRV []uint32
}

// OptionsFromConfig fills Options from the renderer section of cfg for a
// window of width x height.
func OptionsFromConfig(cfg *config.Config, width, height uint32) Options {
	return Options{
		Width:              width,
		Height:             height,
		DescriptorCapacity: cfg.Renderer.DescriptorCapacity,
		MaxGpuQueuedFrames: cfg.Renderer.MaxGpuQueuedFrames,
		SwapChainBuffers:   cfg.Renderer.SwapChainBuffers,
		ClearColor:         cfg.Renderer.ClearColor,
		VSync:              cfg.Renderer.VSync,
	}
}

type retiredScene struct {
	scene      *GpuScene
	fenceValue uint64
}

type Stats struct {
	Frames             uint64
	FenceValue         uint64
	CompletedValue     uint64
	DescriptorsInUse   uint32
	DescriptorCapacity uint32
	PendingFrees       int
	Tearing            bool
}

/**
 * @brief Owns the descriptor table, the meshlet pipeline and the frame
 * pipeline, and builds scenes against them. All methods must be called from
 * the goroutine that drives the frame loop.
 */
type Renderer struct {
	device      gpu.Device
	heap        gpu.DescriptorHeap
	descriptors *DescriptorAllocator
	pipeline    gpu.Pipeline
	frames      *FramePipeline
	builder     *SceneBuilder

	retired []retiredScene
}

func Create(device gpu.Device, opts Options) (*Renderer, error) {
	if opts.DescriptorCapacity == 0 {
		opts.DescriptorCapacity = config.DefaultDescriptorCapacity
	}
	if opts.MaxGpuQueuedFrames == 0 {
		opts.MaxGpuQueuedFrames = 1
	}
	if opts.SwapChainBuffers == 0 {
		opts.SwapChainBuffers = 2
	}

	features := device.Features()
	capacity := opts.DescriptorCapacity
	if features.MaxDescriptors < capacity {
		core.LogWarn("%s supports %d descriptors, %d requested", features.DeviceName, features.MaxDescriptors, capacity)
		capacity = features.MaxDescriptors
	}

	r := &Renderer{device: device}

	var err error
	if r.heap, err = device.CreateDescriptorHeap(capacity); err != nil {
		return nil, fmt.Errorf("failed to create descriptor heap: %w", err)
	}
	r.descriptors = NewDescriptorAllocator(capacity)

	r.pipeline, err = device.CreatePipeline(gpu.PipelineDesc{
		Name:          "meshlet",
		VertexSPIRV:   opts.VertexSPIRV,
		FragmentSPIRV: opts.FragmentSPIRV,
		ColorFormat:   BackBufferFormat,
		DepthFormat:   DepthFormat,
	})
	if err != nil {
		r.Destroy()
		return nil, fmt.Errorf("failed to create meshlet pipeline: %w", err)
	}

	r.frames, err = NewFramePipeline(device, FramePipelineOptions{
		Width:              opts.Width,
		Height:             opts.Height,
		SwapChainBuffers:   opts.SwapChainBuffers,
		MaxGpuQueuedFrames: opts.MaxGpuQueuedFrames,
		VSync:              opts.VSync,
		ClearColor:         opts.ClearColor,
		Pipeline:           r.pipeline,
		Heap:               r.heap,
	})
	if err != nil {
		r.Destroy()
		return nil, err
	}

	r.builder = NewSceneBuilder(device, r.heap, r.descriptors, opts.MaxGpuQueuedFrames+1)
	core.LogInfo("renderer created on %s: %d descriptors, %d frames in flight", features.DeviceName, capacity, opts.MaxGpuQueuedFrames+1)
	return r, nil
}

func (r *Renderer) BuildScene(ctx context.Context, data *scene.SceneData) (*GpuScene, error) {
	s, err := r.builder.Build(ctx, data)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ReplaceScene builds data and retires old once every frame that may still
// read it has completed. On failure old stays valid and is returned.
func (r *Renderer) ReplaceScene(ctx context.Context, old *GpuScene, data *scene.SceneData) (*GpuScene, error) {
	s, err := r.builder.Build(ctx, data)
	if err != nil {
		return old, err
	}
	if old != nil {
		fence := r.frames.FenceValue()
		old.retire(fence)
		r.retired = append(r.retired, retiredScene{scene: old, fenceValue: fence})
		core.LogDebug("scene %s retired until frame fence %d", old.ID, fence)
	}
	return s, nil
}

// DrawFrame renders one frame of s, which may be nil to only clear. An out
// of date swap chain is recreated and the frame is skipped.
func (r *Renderer) DrawFrame(ctx context.Context, s *GpuScene, camera Camera) error {
	frame, err := r.frames.BeginFrame(ctx)
	if err != nil {
		if errors.Is(err, core.ErrSwapchainOutOfDate) {
			return r.recreateSwapChain(ctx)
		}
		return err
	}
	r.collect()

	w, h := r.frames.Size()
	viewProj := camera.ViewProjection(float32(w) / float32(h))

	var meshes []GpuMesh
	if s != nil {
		meshes = s.Meshes
	}
	if err := r.frames.RecordFrame(frame, viewProj, meshes); err != nil {
		return err
	}
	if err := r.frames.EndFrame(ctx, frame); err != nil {
		if errors.Is(err, core.ErrSwapchainOutOfDate) {
			return r.recreateSwapChain(ctx)
		}
		return err
	}
	return nil
}

func (r *Renderer) recreateSwapChain(ctx context.Context) error {
	w, h := r.frames.Size()
	core.LogDebug("swap chain out of date, recreating at %dx%d", w, h)
	return r.frames.Resize(ctx, w, h)
}

// Resize waits for the GPU to go idle and recreates the render targets.
func (r *Renderer) Resize(ctx context.Context, width, height uint32) error {
	if err := r.frames.Resize(ctx, width, height); err != nil {
		return err
	}
	r.collect()
	return nil
}

// Idle blocks until the GPU has finished all submitted frames.
func (r *Renderer) Idle(ctx context.Context) error {
	if err := r.frames.WaitIdle(ctx); err != nil {
		return err
	}
	r.collect()
	return nil
}

// collect releases retired scenes and descriptor slots the GPU is done with.
func (r *Renderer) collect() {
	completed := r.frames.CompletedValue()
	kept := r.retired[:0]
	for _, rs := range r.retired {
		if rs.fenceValue <= completed {
			rs.scene.releaseResources()
			continue
		}
		kept = append(kept, rs)
	}
	r.retired = kept
	r.descriptors.Collect(completed)
}

func (r *Renderer) SetClearColor(c [4]float32) { r.frames.SetClearColor(c) }

func (r *Renderer) Stats() Stats {
	return Stats{
		Frames:             r.frames.FrameIndex(),
		FenceValue:         r.frames.FenceValue(),
		CompletedValue:     r.frames.CompletedValue(),
		DescriptorsInUse:   r.descriptors.InUse(),
		DescriptorCapacity: r.descriptors.Capacity(),
		PendingFrees:       r.descriptors.PendingFrees(),
		Tearing:            r.frames.Tearing(),
	}
}

// Destroy idles the GPU and releases everything the renderer owns. Scenes
// built by the renderer must be destroyed first.
func (r *Renderer) Destroy() {
	if r.frames != nil {
		if err := r.Idle(context.Background()); err != nil {
			core.LogError("failed to idle the GPU before shutdown: %s", err)
		}
		for _, rs := range r.retired {
			rs.scene.releaseResources()
		}
		r.retired = nil
		r.frames.Destroy()
		r.frames = nil
	}
	if r.pipeline != nil {
		r.pipeline.Release()
		r.pipeline = nil
	}
	if r.heap != nil {
		r.heap.Release()
		r.heap = nil
	}
}
