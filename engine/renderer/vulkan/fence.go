package vulkan

import (
	"context"
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

// waitSlice bounds each blocking wait so a cancelled context is noticed.
const waitSlice = uint64(50 * time.Millisecond)

type fenceSignal struct {
	handle vk.Fence
	value  uint64
}

/**
 * @brief A timeline built from binary fences. Every Signal submits an empty
 * batch carrying a fresh Vulkan fence; the timeline value is the largest
 * value whose fence has signaled. Queue order makes the signals complete in
 * the order they were issued.
 */
type Fence struct {
	device    *Device
	completed uint64
	signaled  uint64
	pending   []fenceSignal
}

func (d *Device) CreateFence(initial uint64) (gpu.Fence, error) {
	return &Fence{device: d, completed: initial, signaled: initial}, nil
}

// poll retires the signals the GPU has reached.
func (f *Fence) poll() error {
	for len(f.pending) > 0 {
		head := f.pending[0]
		res := vk.GetFenceStatus(f.device.handle, head.handle)
		if res == vk.NotReady {
			return nil
		}
		if res != vk.Success {
			return resultError("vkGetFenceStatus", res)
		}
		f.completed = max(f.completed, head.value)
		f.device.recycleFence(head.handle)
		f.pending = f.pending[1:]
	}
	return nil
}

func (f *Fence) CompletedValue() uint64 {
	_ = f.poll()
	return f.completed
}

func (f *Fence) Wait(ctx context.Context, value uint64) error {
	for {
		if err := f.poll(); err != nil {
			return err
		}
		if f.completed >= value {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		target := -1
		for i, s := range f.pending {
			if s.value >= value {
				target = i
				break
			}
		}
		if target < 0 {
			return fmt.Errorf("fence value %d is never signaled, last signal is %d", value, f.signaled)
		}

		res := vk.WaitForFences(f.device.handle, 1, []vk.Fence{f.pending[target].handle}, vk.True, waitSlice)
		if res != vk.Success && res != vk.Timeout {
			return resultError("vkWaitForFences", res)
		}
	}
}

// Release drops the pending signals. The GPU must be idle.
func (f *Fence) Release() {
	for _, s := range f.pending {
		f.device.recycleFence(s.handle)
	}
	f.pending = nil
}

func (d *Device) acquireFence() (vk.Fence, error) {
	var fence vk.Fence
	err := d.locks.SafeCall(SynchronizationManagement, func() error {
		if n := len(d.fencePool); n > 0 {
			fence = d.fencePool[n-1]
			d.fencePool = d.fencePool[:n-1]
			return nil
		}
		createInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
		return resultError("vkCreateFence", vk.CreateFence(d.handle, &createInfo, nil, &fence))
	})
	return fence, err
}

func (d *Device) recycleFence(fence vk.Fence) {
	_ = d.locks.SafeCall(SynchronizationManagement, func() error {
		if res := vk.ResetFences(d.handle, 1, []vk.Fence{fence}); res != vk.Success {
			vk.DestroyFence(d.handle, fence, nil)
			return nil
		}
		d.fencePool = append(d.fencePool, fence)
		return nil
	})
}

type Queue struct {
	device *Device
	handle vk.Queue
}

// Submit executes lists in order. The first submission after a swap chain
// image was acquired waits for the image and signals its render semaphore.
func (q *Queue) Submit(lists ...gpu.CommandList) error {
	d := q.device
	handles := make([]vk.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		cl := l.(*CommandList)
		if cl.open {
			return fmt.Errorf("command list submitted while open")
		}
		handles = append(handles, cl.handle)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(handles)),
		PCommandBuffers:    handles,
	}
	if d.acquireWait != vk.NullSemaphore {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{d.acquireWait}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{d.renderSignal}
	}

	return d.locks.SafeCall(QueueManagement, func() error {
		res := vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence)
		if res != vk.Success {
			return resultError("vkQueueSubmit", res)
		}
		d.acquireWait = vk.NullSemaphore
		d.renderSignal = vk.NullSemaphore
		return nil
	})
}

// Signal sets fence to value once all work submitted so far has completed.
func (q *Queue) Signal(fence gpu.Fence, value uint64) error {
	f := fence.(*Fence)
	if value <= f.signaled {
		return fmt.Errorf("fence signaled with %d after %d", value, f.signaled)
	}
	handle, err := q.device.acquireFence()
	if err != nil {
		return err
	}
	err = q.device.locks.SafeCall(QueueManagement, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(q.handle, 0, nil, handle))
	})
	if err != nil {
		q.device.recycleFence(handle)
		return err
	}
	f.signaled = value
	f.pending = append(f.pending, fenceSignal{handle: handle, value: value})
	return nil
}
