package vulkan

import (
	vk "github.com/goki/vulkan"
)

type framebufferKey struct {
	color vk.ImageView
	depth vk.ImageView
}

// framebufferCache keeps one framebuffer per pair of attachments. Entries
// are evicted when either attachment is released.
type framebufferCache struct {
	device  *Device
	entries map[framebufferKey]vk.Framebuffer
}

func newFramebufferCache(d *Device) *framebufferCache {
	return &framebufferCache{
		device:  d,
		entries: make(map[framebufferKey]vk.Framebuffer),
	}
}

func (c *framebufferCache) get(renderPass vk.RenderPass, color, depth *Texture) (vk.Framebuffer, error) {
	key := framebufferKey{color: color.view, depth: depth.view}
	if fb, ok := c.entries[key]; ok {
		return fb, nil
	}

	attachments := []vk.ImageView{color.view, depth.view}
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           color.width,
		Height:          color.height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if res := vk.CreateFramebuffer(c.device.handle, &createInfo, nil, &fb); res != vk.Success {
		return nil, resultError("vkCreateFramebuffer", res)
	}
	c.entries[key] = fb
	return fb, nil
}

func (c *framebufferCache) evict(view vk.ImageView) {
	for key, fb := range c.entries {
		if key.color == view || key.depth == view {
			vk.DestroyFramebuffer(c.device.handle, fb, nil)
			delete(c.entries, key)
		}
	}
}

func (c *framebufferCache) destroyAll() {
	for key, fb := range c.entries {
		vk.DestroyFramebuffer(c.device.handle, fb, nil)
		delete(c.entries, key)
	}
}
