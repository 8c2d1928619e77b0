package renderer

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

/**
 * @brief Moves CPU bytes into GPU-local resources through one persistently
 * mapped staging buffer. Every upload blocks until the GPU finished the copy,
 * so at most one transfer is in flight and the staging memory can be reused
 * by the next call.
 */
type Uploader struct {
	device gpu.Device

	staging  gpu.Buffer
	mapped   []byte
	capacity uint64

	alloc gpu.CommandAllocator
	list  gpu.CommandList

	fence      gpu.Fence
	fenceValue uint64
}

func NewUploader(device gpu.Device, capacity uint64) (*Uploader, error) {
	u := &Uploader{device: device, capacity: capacity}

	var err error
	u.staging, err = device.CreateBuffer(gpu.BufferDesc{
		Name:  "staging",
		Size:  capacity,
		Heap:  gpu.HeapUpload,
		Usage: gpu.BufferUsageTransferSrc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upload buffer: %w", err)
	}
	if u.mapped, err = u.staging.Map(); err != nil {
		u.Destroy()
		return nil, fmt.Errorf("failed to map upload buffer: %w", err)
	}
	if u.alloc, err = device.CreateCommandAllocator(); err != nil {
		u.Destroy()
		return nil, fmt.Errorf("failed to create upload command allocator: %w", err)
	}
	if u.list, err = device.CreateCommandList(u.alloc); err != nil {
		u.Destroy()
		return nil, fmt.Errorf("failed to create upload command list: %w", err)
	}
	if u.fence, err = device.CreateFence(0); err != nil {
		u.Destroy()
		return nil, fmt.Errorf("failed to create upload fence: %w", err)
	}
	return u, nil
}

func (u *Uploader) Capacity() uint64 { return u.capacity }

func (u *Uploader) UploadToBuffer(ctx context.Context, data []byte, dst gpu.Buffer) error {
	if err := u.begin(data); err != nil {
		return err
	}
	u.list.CopyBuffer(dst, 0, u.staging, 0, uint64(len(data)))
	return u.submit(ctx)
}

// UploadToTexture copies data into dst, which must be in CopyDest, and
// transitions it to ShaderResource as part of the same submission.
func (u *Uploader) UploadToTexture(ctx context.Context, data []byte, rowPitch uint32, dst gpu.Texture) error {
	if err := u.begin(data); err != nil {
		return err
	}
	u.list.CopyBufferToTexture(dst, u.staging, 0, rowPitch)
	u.list.Barrier(dst, gpu.StateCopyDest, gpu.StateShaderResource)
	return u.submit(ctx)
}

func (u *Uploader) begin(data []byte) error {
	if uint64(len(data)) > u.capacity {
		return fmt.Errorf("%d bytes into %d byte staging buffer: %w", len(data), u.capacity, core.ErrStagingOverflow)
	}
	copy(u.mapped, data)
	if err := u.alloc.Reset(); err != nil {
		return fmt.Errorf("failed to reset upload command allocator: %w", err)
	}
	if err := u.list.Reset(u.alloc); err != nil {
		return fmt.Errorf("failed to reset upload command list: %w", err)
	}
	return nil
}

func (u *Uploader) submit(ctx context.Context) error {
	if err := u.list.Close(); err != nil {
		return fmt.Errorf("failed to close upload command list: %w", err)
	}
	queue := u.device.Queue()
	if err := queue.Submit(u.list); err != nil {
		return fmt.Errorf("failed to submit upload: %w", err)
	}
	u.fenceValue++
	if err := queue.Signal(u.fence, u.fenceValue); err != nil {
		return fmt.Errorf("failed to signal upload fence: %w", err)
	}
	if err := u.fence.Wait(ctx, u.fenceValue); err != nil {
		return fmt.Errorf("failed to wait for upload fence: %w", err)
	}
	return nil
}

func (u *Uploader) Destroy() {
	if u.fence != nil {
		u.fence.Release()
		u.fence = nil
	}
	if u.list != nil {
		u.list.Release()
		u.list = nil
	}
	if u.alloc != nil {
		u.alloc.Release()
		u.alloc = nil
	}
	if u.staging != nil {
		u.staging.Release()
		u.staging = nil
		u.mapped = nil
	}
}
