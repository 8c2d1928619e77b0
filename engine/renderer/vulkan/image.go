package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

/**
 * @brief An image with its memory and a view over the whole image. Swap
 * chain images are wrapped without owning the image or its memory.
 */
type Texture struct {
	device *Device
	name   string
	image  vk.Image
	memory vk.DeviceMemory
	view   vk.ImageView
	width  uint32
	height uint32
	format gpu.Format
	aspect vk.ImageAspectFlagBits
	owned  bool
}

func vkFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatRGBA8UnormSRGB:
		return vk.FormatR8g8b8a8Srgb
	case gpu.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatBGRA8UnormSRGB:
		return vk.FormatB8g8r8a8Srgb
	case gpu.FormatD32Float:
		return vk.FormatD32Sfloat
	default:
		return vk.FormatUndefined
	}
}

func gpuFormat(f vk.Format) gpu.Format {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return gpu.FormatRGBA8Unorm
	case vk.FormatR8g8b8a8Srgb:
		return gpu.FormatRGBA8UnormSRGB
	case vk.FormatB8g8r8a8Unorm:
		return gpu.FormatBGRA8Unorm
	case vk.FormatB8g8r8a8Srgb:
		return gpu.FormatBGRA8UnormSRGB
	case vk.FormatD32Sfloat:
		return gpu.FormatD32Float
	default:
		return gpu.FormatUnknown
	}
}

func imageUsage(u gpu.TextureUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&gpu.TextureUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if u&gpu.TextureUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	if u&gpu.TextureUsageRenderTarget != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u&gpu.TextureUsageDepthStencil != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return vk.ImageUsageFlags(flags)
}

func (d *Device) CreateTexture(desc gpu.TextureDesc) (_ gpu.Texture, err error) {
	format := vkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("texture %q has unsupported format %s", desc.Name, desc.Format)
	}
	t := &Texture{
		device: d,
		name:   desc.Name,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		aspect: vk.ImageAspectColorBit,
		owned:  true,
	}
	if desc.Format == gpu.FormatD32Float {
		t.aspect = vk.ImageAspectDepthBit
	}
	defer func() {
		if err != nil {
			t.Release()
		}
	}()

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if res := vk.CreateImage(d.handle, &createInfo, nil, &t.image); res != vk.Success {
		return nil, resultError("vkCreateImage", res)
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, t.image, &reqs)
	reqs.Deref()
	if t.memory, err = d.allocateMemory(reqs, vk.MemoryPropertyDeviceLocalBit); err != nil {
		return nil, fmt.Errorf("texture %q: %w", desc.Name, err)
	}
	if res := vk.BindImageMemory(d.handle, t.image, t.memory, 0); res != vk.Success {
		return nil, resultError("vkBindImageMemory", res)
	}
	if t.view, err = d.createImageView(t.image, format, t.aspect); err != nil {
		return nil, err
	}

	if desc.InitialState != gpu.StateUndefined {
		err := d.immediate(func(cb vk.CommandBuffer) {
			recordBarrier(cb, t, gpu.StateUndefined, desc.InitialState)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to move texture %q to %s: %w", desc.Name, desc.InitialState, err)
		}
	}
	core.LogDebug("texture %q created: %dx%d %s", desc.Name, desc.Width, desc.Height, desc.Format)
	return t, nil
}

func (d *Device) createImageView(image vk.Image, format vk.Format, aspect vk.ImageAspectFlagBits) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspect),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.handle, &viewInfo, nil, &view); res != vk.Success {
		return nil, resultError("vkCreateImageView", res)
	}
	return view, nil
}

func (t *Texture) Width() uint32      { return t.width }
func (t *Texture) Height() uint32     { return t.height }
func (t *Texture) Format() gpu.Format { return t.format }

// Release drops every framebuffer built on the texture. Owned textures are
// destroyed; swap chain images stay with their swap chain.
func (t *Texture) Release() {
	d := t.device
	if t.view != nil {
		d.framebuffers.evict(t.view)
	}
	if !t.owned {
		return
	}
	if t.view != nil {
		vk.DestroyImageView(d.handle, t.view, nil)
		t.view = nil
	}
	if t.image != nil {
		vk.DestroyImage(d.handle, t.image, nil)
		t.image = nil
	}
	if t.memory != nil {
		vk.FreeMemory(d.handle, t.memory, nil)
		t.memory = nil
	}
}
