package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

// pushConstantSize holds the draw parameter slot.
const pushConstantSize = 4

// A command allocator is a command pool; resetting it recycles every
// command buffer allocated from it.
type CommandAllocator struct {
	device *Device
	pool   vk.CommandPool
}

func (d *Device) CreateCommandAllocator() (gpu.CommandAllocator, error) {
	a := &CommandAllocator{device: d}
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	if res := vk.CreateCommandPool(d.handle, &poolCreateInfo, nil, &a.pool); res != vk.Success {
		return nil, resultError("vkCreateCommandPool", res)
	}
	return a, nil
}

func (a *CommandAllocator) Reset() error {
	return resultError("vkResetCommandPool", vk.ResetCommandPool(a.device.handle, a.pool, 0))
}

func (a *CommandAllocator) Release() {
	if a.pool != nil {
		vk.DestroyCommandPool(a.device.handle, a.pool, nil)
		a.pool = nil
	}
}

/**
 * @brief A primary command buffer bound to the allocator it was created
 * from. Recording errors are kept and reported by Close.
 */
type CommandList struct {
	device *Device
	alloc  *CommandAllocator
	handle vk.CommandBuffer

	open     bool
	pipeline *Pipeline
	err      error
}

func (d *Device) CreateCommandList(alloc gpu.CommandAllocator) (gpu.CommandList, error) {
	a := alloc.(*CommandAllocator)
	handle, err := allocateCommandBuffer(d, a.pool)
	if err != nil {
		return nil, err
	}
	return &CommandList{device: d, alloc: a, handle: handle}, nil
}

func allocateCommandBuffer(d *Device, pool vk.CommandPool) (vk.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(d.handle, &allocateInfo, handles); res != vk.Success {
		return nil, resultError("vkAllocateCommandBuffers", res)
	}
	return handles[0], nil
}

func beginCommandBuffer(cb vk.CommandBuffer) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(cb, &beginInfo))
}

func (l *CommandList) Reset(alloc gpu.CommandAllocator) error {
	if alloc.(*CommandAllocator) != l.alloc {
		return errors.New("command list reset against an allocator it was not created from")
	}
	if l.open {
		return errors.New("command list reset while open")
	}
	if err := beginCommandBuffer(l.handle); err != nil {
		return err
	}
	l.open = true
	l.pipeline = nil
	l.err = nil
	return nil
}

func (l *CommandList) Close() error {
	if !l.open {
		return errors.New("command list closed twice")
	}
	l.open = false
	if res := vk.EndCommandBuffer(l.handle); res != vk.Success {
		return resultError("vkEndCommandBuffer", res)
	}
	return l.err
}

func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *CommandList) CopyBuffer(dst gpu.Buffer, dstOffset uint64, src gpu.Buffer, srcOffset uint64, size uint64) {
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(l.handle, src.(*Buffer).handle, dst.(*Buffer).handle, 1, []vk.BufferCopy{region})
}

func (l *CommandList) CopyBufferToTexture(dst gpu.Texture, src gpu.Buffer, srcOffset uint64, rowPitch uint32) {
	t := dst.(*Texture)
	region := vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(srcOffset),
		BufferRowLength:   rowPitch / t.format.BytesPerPixel(),
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(t.aspect),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{
			Width:  t.width,
			Height: t.height,
			Depth:  1,
		},
	}
	vk.CmdCopyBufferToImage(l.handle, src.(*Buffer).handle, t.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

func (l *CommandList) Barrier(tex gpu.Texture, before, after gpu.ResourceState) {
	recordBarrier(l.handle, tex.(*Texture), before, after)
}

type stateAccess struct {
	layout vk.ImageLayout
	access vk.AccessFlagBits
	stages vk.PipelineStageFlagBits
}

func accessFor(s gpu.ResourceState) stateAccess {
	switch s {
	case gpu.StateCopyDest:
		return stateAccess{vk.ImageLayoutTransferDstOptimal, vk.AccessTransferWriteBit, vk.PipelineStageTransferBit}
	case gpu.StateShaderResource:
		return stateAccess{vk.ImageLayoutShaderReadOnlyOptimal, vk.AccessShaderReadBit,
			vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit}
	case gpu.StateRenderTarget:
		return stateAccess{vk.ImageLayoutColorAttachmentOptimal,
			vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit,
			vk.PipelineStageColorAttachmentOutputBit}
	case gpu.StateDepthWrite:
		return stateAccess{vk.ImageLayoutDepthStencilAttachmentOptimal,
			vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit,
			vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit}
	case gpu.StatePresent:
		return stateAccess{vk.ImageLayoutPresentSrc, 0, vk.PipelineStageBottomOfPipeBit}
	default:
		return stateAccess{vk.ImageLayoutUndefined, 0, vk.PipelineStageTopOfPipeBit}
	}
}

func recordBarrier(cb vk.CommandBuffer, t *Texture, before, after gpu.ResourceState) {
	src, dst := accessFor(before), accessFor(after)
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(src.access),
		DstAccessMask:       vk.AccessFlags(dst.access),
		OldLayout:           src.layout,
		NewLayout:           dst.layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               t.image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(t.aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(src.stages), vk.PipelineStageFlags(dst.stages), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (l *CommandList) BeginRenderPass(color, depth gpu.Texture, clearColor [4]float32, clearDepth float32) {
	c, z := color.(*Texture), depth.(*Texture)
	renderPass, err := l.device.mainRenderPass()
	if err != nil {
		l.fail(err)
		return
	}
	framebuffer, err := l.device.framebuffers.get(renderPass, c, z)
	if err != nil {
		l.fail(err)
		return
	}
	beginRenderPass(l.handle, renderPass, framebuffer, c.width, c.height, clearColor, clearDepth)
}

func (l *CommandList) EndRenderPass() {
	vk.CmdEndRenderPass(l.handle)
}

func (l *CommandList) SetPipeline(p gpu.Pipeline) {
	l.pipeline = p.(*Pipeline)
	vk.CmdBindPipeline(l.handle, vk.PipelineBindPointGraphics, l.pipeline.handle)
}

func (l *CommandList) SetDescriptorHeap(h gpu.DescriptorHeap) {
	if l.pipeline == nil {
		l.fail(errors.New("descriptor heap bound before a pipeline"))
		return
	}
	heap := h.(*DescriptorHeap)
	vk.CmdBindDescriptorSets(l.handle, vk.PipelineBindPointGraphics, l.pipeline.layout,
		0, 1, []vk.DescriptorSet{heap.set}, 0, nil)
}

func (l *CommandList) SetViewport(width, height uint32) {
	viewport := vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(width),
		Height:   float32(height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: width, Height: height},
	}
	vk.CmdSetViewport(l.handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(l.handle, 0, 1, []vk.Rect2D{scissor})
}

func (l *CommandList) SetDrawParams(index uint32) {
	if l.pipeline == nil {
		l.fail(errors.New("draw parameters set before a pipeline"))
		return
	}
	stages := vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
	vk.CmdPushConstants(l.handle, l.pipeline.layout, stages, 0, pushConstantSize, unsafe.Pointer(&index))
}

// DrawMeshlets pulls vertices in the shader: one instance per meshlet and
// scene instance, each emitting room for the largest meshlet. Primitives
// past a meshlet's count collapse to degenerate triangles.
func (l *CommandList) DrawMeshlets(meshletCount, instanceCount uint32) {
	vk.CmdDraw(l.handle, scene.MaxMeshletPrimitives*3, meshletCount*instanceCount, 0, 0)
}

func (l *CommandList) Release() {
	if l.handle != nil {
		vk.FreeCommandBuffers(l.device.handle, l.alloc.pool, 1, []vk.CommandBuffer{l.handle})
		l.handle = nil
	}
}

// immediate records fn into a one-time command buffer, submits it and waits
// for the queue to drain.
func (d *Device) immediate(fn func(cb vk.CommandBuffer)) error {
	cb, err := allocateCommandBuffer(d, d.setupPool)
	if err != nil {
		return err
	}
	defer vk.FreeCommandBuffers(d.handle, d.setupPool, 1, []vk.CommandBuffer{cb})

	if err := beginCommandBuffer(cb); err != nil {
		return err
	}
	fn(cb)
	if res := vk.EndCommandBuffer(cb); res != vk.Success {
		return resultError("vkEndCommandBuffer", res)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb},
	}
	return d.locks.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(d.queue.handle, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
			return resultError("vkQueueSubmit", res)
		}
		if res := vk.QueueWaitIdle(d.queue.handle); res != vk.Success {
			return fmt.Errorf("failed to wait for setup commands: %w", resultError("vkQueueWaitIdle", res))
		}
		return nil
	})
}
