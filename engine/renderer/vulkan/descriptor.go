package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

const (
	bufferBinding  = 0
	textureBinding = 1
)

/**
 * @brief The bindless table: one descriptor set with an array of storage
 * buffers at binding 0 and an array of combined image samplers at binding 1,
 * both indexed by the same slot. Unused slots point at a dummy buffer and a
 * dummy texture so every element of both arrays stays valid.
 *
 * Vulkan 1.0 forbids updating a set that pending command buffers use, so
 * slots may only be written while no recorded frame is in flight. Scene
 * builds satisfy this because every upload waits for the queue to drain.
 */
type DescriptorHeap struct {
	device   *Device
	capacity uint32

	layout  vk.DescriptorSetLayout
	pool    vk.DescriptorPool
	set     vk.DescriptorSet
	sampler vk.Sampler

	dummyBuffer  *Buffer
	dummyTexture *Texture
}

func (d *Device) CreateDescriptorHeap(capacity uint32) (_ gpu.DescriptorHeap, err error) {
	if d.heap != nil {
		return nil, fmt.Errorf("device already has a descriptor heap")
	}
	if limit := d.Features().MaxDescriptors; capacity > limit {
		return nil, fmt.Errorf("descriptor heap of %d exceeds the device limit of %d: %w", capacity, limit, core.ErrDeviceUnsupported)
	}
	h := &DescriptorHeap{device: d, capacity: capacity}
	defer func() {
		if err != nil {
			h.Release()
		}
	}()

	stages := vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         bufferBinding,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: capacity,
			StageFlags:      stages,
		},
		{
			Binding:         textureBinding,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: capacity,
			StageFlags:      stages,
		},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(d.handle, &layoutInfo, nil, &h.layout); res != vk.Success {
		return nil, resultError("vkCreateDescriptorSetLayout", res)
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: capacity},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: capacity},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(d.handle, &poolInfo, nil, &h.pool); res != vk.Success {
		return nil, resultError("vkCreateDescriptorPool", res)
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     h.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{h.layout},
	}
	if res := vk.AllocateDescriptorSets(d.handle, &allocInfo, &h.set); res != vk.Success {
		return nil, resultError("vkAllocateDescriptorSets", res)
	}

	if err := h.createSampler(); err != nil {
		return nil, err
	}
	if err := h.createDummies(); err != nil {
		return nil, err
	}
	h.fill()

	d.heap = h
	core.LogDebug("bindless descriptor set created with %d slots", capacity)
	return h, nil
}

func (h *DescriptorHeap) createSampler() error {
	d := h.device
	samplerInfo := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.FilterLinear,
		MinFilter:        vk.FilterLinear,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: vk.False,
		MaxAnisotropy:    1.0,
		CompareEnable:    vk.False,
		CompareOp:        vk.CompareOpAlways,
		MinLod:           0.0,
		MaxLod:           0.0,
		BorderColor:      vk.BorderColorIntOpaqueBlack,
	}
	if d.anisotropy {
		samplerInfo.AnisotropyEnable = vk.True
		samplerInfo.MaxAnisotropy = min(16.0, d.limits.MaxSamplerAnisotropy)
	}
	if res := vk.CreateSampler(d.handle, &samplerInfo, nil, &h.sampler); res != vk.Success {
		return resultError("vkCreateSampler", res)
	}
	return nil
}

func (h *DescriptorHeap) createDummies() error {
	buf, err := h.device.CreateBuffer(gpu.BufferDesc{
		Name:  "dummy descriptor buffer",
		Size:  256,
		Heap:  gpu.HeapDefault,
		Usage: gpu.BufferUsageStorage,
	})
	if err != nil {
		return err
	}
	h.dummyBuffer = buf.(*Buffer)

	tex, err := h.device.CreateTexture(gpu.TextureDesc{
		Name:         "dummy descriptor texture",
		Width:        1,
		Height:       1,
		Format:       gpu.FormatRGBA8Unorm,
		Usage:        gpu.TextureUsageSampled,
		InitialState: gpu.StateShaderResource,
	})
	if err != nil {
		return err
	}
	h.dummyTexture = tex.(*Texture)
	return nil
}

// fill points every slot at the dummies.
func (h *DescriptorHeap) fill() {
	buffers := make([]vk.DescriptorBufferInfo, h.capacity)
	images := make([]vk.DescriptorImageInfo, h.capacity)
	for i := range buffers {
		buffers[i] = h.dummyBufferInfo()
		images[i] = h.imageInfo(h.dummyTexture)
	}
	h.update(
		vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          h.set,
			DstBinding:      bufferBinding,
			DescriptorCount: h.capacity,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo:     buffers,
		},
		vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          h.set,
			DstBinding:      textureBinding,
			DescriptorCount: h.capacity,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo:      images,
		},
	)
}

func (h *DescriptorHeap) dummyBufferInfo() vk.DescriptorBufferInfo {
	return vk.DescriptorBufferInfo{Buffer: h.dummyBuffer.handle, Offset: 0, Range: vk.DeviceSize(vk.WholeSize)}
}

func (h *DescriptorHeap) imageInfo(t *Texture) vk.DescriptorImageInfo {
	return vk.DescriptorImageInfo{
		Sampler:     h.sampler,
		ImageView:   t.view,
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
}

func (h *DescriptorHeap) update(writes ...vk.WriteDescriptorSet) {
	_ = h.device.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(h.device.handle, uint32(len(writes)), writes, 0, nil)
		return nil
	})
}

func (h *DescriptorHeap) checkIndex(index uint32) {
	if index >= h.capacity {
		panic(fmt.Sprintf("descriptor slot %d out of range [0, %d)", index, h.capacity))
	}
}

func (h *DescriptorHeap) Capacity() uint32 { return h.capacity }

func (h *DescriptorHeap) writeBuffer(index uint32, info vk.DescriptorBufferInfo) {
	h.checkIndex(index)
	h.update(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.set,
		DstBinding:      bufferBinding,
		DstArrayElement: index,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo:     []vk.DescriptorBufferInfo{info},
	})
}

func (h *DescriptorHeap) writeImage(index uint32, info vk.DescriptorImageInfo) {
	h.checkIndex(index)
	h.update(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.set,
		DstBinding:      textureBinding,
		DstArrayElement: index,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo:      []vk.DescriptorImageInfo{info},
	})
}

func (h *DescriptorHeap) WriteTextureView(index uint32, tex gpu.Texture) {
	h.writeImage(index, h.imageInfo(tex.(*Texture)))
}

func (h *DescriptorHeap) WriteConstantView(index uint32, buf gpu.Buffer) {
	b := buf.(*Buffer)
	h.writeBuffer(index, vk.DescriptorBufferInfo{Buffer: b.handle, Offset: 0, Range: vk.DeviceSize(vk.WholeSize)})
}

// WriteStructuredView binds the whole buffer; the element stride is declared
// by the shader's block layout.
func (h *DescriptorHeap) WriteStructuredView(index uint32, buf gpu.Buffer, stride uint32) {
	b := buf.(*Buffer)
	h.writeBuffer(index, vk.DescriptorBufferInfo{Buffer: b.handle, Offset: 0, Range: vk.DeviceSize(vk.WholeSize)})
}

func (h *DescriptorHeap) Clear(index uint32) {
	h.writeBuffer(index, h.dummyBufferInfo())
	h.writeImage(index, h.imageInfo(h.dummyTexture))
}

func (h *DescriptorHeap) Release() {
	d := h.device
	if h.dummyTexture != nil {
		h.dummyTexture.Release()
		h.dummyTexture = nil
	}
	if h.dummyBuffer != nil {
		h.dummyBuffer.Release()
		h.dummyBuffer = nil
	}
	if h.sampler != nil {
		vk.DestroySampler(d.handle, h.sampler, nil)
		h.sampler = nil
	}
	if h.pool != nil {
		vk.DestroyDescriptorPool(d.handle, h.pool, nil)
		h.pool = nil
	}
	if h.layout != nil {
		vk.DestroyDescriptorSetLayout(d.handle, h.layout, nil)
		h.layout = nil
	}
	if d.heap == h {
		d.heap = nil
	}
}
