package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

type Buffer struct {
	device *Device
	name   string
	handle vk.Buffer
	memory vk.DeviceMemory
	size   uint64
	heap   gpu.HeapType
	mapped []byte
}

func bufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	// Constant views are bound as storage buffers too, so both kinds share
	// the storage binding of the descriptor set.
	if u&(gpu.BufferUsageStorage|gpu.BufferUsageUniform) != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u&gpu.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u&gpu.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u&gpu.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (_ gpu.Buffer, err error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size", desc.Name)
	}
	b := &Buffer{
		device: d,
		name:   desc.Name,
		size:   desc.Size,
		heap:   desc.Heap,
	}
	defer func() {
		if err != nil {
			b.Release()
		}
	}()

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(d.handle, &createInfo, nil, &b.handle); res != vk.Success {
		return nil, resultError("vkCreateBuffer", res)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, b.handle, &reqs)
	reqs.Deref()

	flags := vk.MemoryPropertyDeviceLocalBit
	if desc.Heap == gpu.HeapUpload {
		flags = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	if b.memory, err = d.allocateMemory(reqs, flags); err != nil {
		return nil, fmt.Errorf("buffer %q: %w", desc.Name, err)
	}
	if res := vk.BindBufferMemory(d.handle, b.handle, b.memory, 0); res != vk.Success {
		return nil, resultError("vkBindBufferMemory", res)
	}

	if desc.Heap == gpu.HeapUpload {
		var data unsafe.Pointer
		if res := vk.MapMemory(d.handle, b.memory, 0, vk.DeviceSize(desc.Size), 0, &data); res != vk.Success {
			return nil, resultError("vkMapMemory", res)
		}
		b.mapped = unsafe.Slice((*byte)(data), desc.Size)
	}
	core.LogDebug("buffer %q created: %d bytes", desc.Name, desc.Size)
	return b, nil
}

func (b *Buffer) Size() uint64 { return b.size }

func (b *Buffer) Map() ([]byte, error) {
	if b.mapped == nil {
		return nil, fmt.Errorf("buffer %q is not in the upload heap", b.name)
	}
	return b.mapped, nil
}

func (b *Buffer) Release() {
	d := b.device
	if b.mapped != nil {
		vk.UnmapMemory(d.handle, b.memory)
		b.mapped = nil
	}
	if b.handle != nil {
		vk.DestroyBuffer(d.handle, b.handle, nil)
		b.handle = nil
	}
	if b.memory != nil {
		vk.FreeMemory(d.handle, b.memory, nil)
		b.memory = nil
	}
}
