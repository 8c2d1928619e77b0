package vulkan

import (
	"errors"
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

/**
 * @brief A swap chain on the device surface. Acquiring an image hands its
 * semaphores to the device so the next queue submission waits for the image
 * and signals the semaphore presentation waits on.
 */
type SwapChain struct {
	device      *Device
	desc        gpu.SwapChainDesc
	handle      vk.Swapchain
	presentMode vk.PresentMode
	extent      vk.Extent2D
	images      []*Texture

	// One acquire semaphore more than images so an acquire never reuses a
	// semaphore a pending acquire still signals.
	acquireSemaphores []vk.Semaphore
	renderSemaphores  []vk.Semaphore
	nextAcquire       int

	imageIndex uint32
	acquired   bool
}

func (d *Device) CreateSwapChain(desc gpu.SwapChainDesc) (gpu.SwapChain, error) {
	sc := &SwapChain{
		device:      d,
		desc:        desc,
		presentMode: d.choosePresentMode(desc.VSync),
	}
	if desc.Format != gpuFormat(d.surfaceFormat.Format) {
		core.LogDebug("swap chain uses the surface format %s instead of %s",
			VulkanFormatString(d.surfaceFormat.Format), desc.Format)
	}
	if err := sc.create(desc.Width, desc.Height); err != nil {
		sc.Release()
		return nil, err
	}
	return sc, nil
}

// choosePresentMode prefers immediate presentation, then mailbox, when vsync
// is off. FIFO is always available.
func (d *Device) choosePresentMode(vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	for _, mode := range []vk.PresentMode{vk.PresentModeImmediate, vk.PresentModeMailbox} {
		if d.supportsPresentMode(mode) {
			return mode
		}
	}
	return vk.PresentModeFifo
}

func (sc *SwapChain) create(width, height uint32) error {
	d := sc.device

	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(d.physicalDevice, d.surface, &caps); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceCapabilities", res)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return fmt.Errorf("surface has zero extent: %w", core.ErrSwapchainOutOfDate)
	}

	imageCount := max(sc.desc.BufferCount, caps.MinImageCount)
	if caps.MaxImageCount > 0 {
		imageCount = min(imageCount, caps.MaxImageCount)
	}

	old := sc.handle
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    imageCount,
		ImageFormat:      d.surfaceFormat.Format,
		ImageColorSpace:  d.surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      sc.presentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(d.handle, &swapchainCreateInfo, nil, &handle); res != vk.Success {
		return resultError("vkCreateSwapchain", res)
	}
	sc.destroyImages()
	if old != nil {
		vk.DestroySwapchain(d.handle, old, nil)
	}
	sc.handle = handle
	sc.extent = extent

	var count uint32
	if res := vk.GetSwapchainImages(d.handle, sc.handle, &count, nil); res != vk.Success {
		return resultError("vkGetSwapchainImages", res)
	}
	images := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(d.handle, sc.handle, &count, images); res != vk.Success {
		return resultError("vkGetSwapchainImages", res)
	}

	format := gpuFormat(d.surfaceFormat.Format)
	for i, image := range images {
		view, err := d.createImageView(image, d.surfaceFormat.Format, vk.ImageAspectColorBit)
		if err != nil {
			return err
		}
		sc.images = append(sc.images, &Texture{
			device: d,
			name:   fmt.Sprintf("back buffer %d", i),
			image:  image,
			view:   view,
			width:  extent.Width,
			height: extent.Height,
			format: format,
			aspect: vk.ImageAspectColorBit,
		})
	}

	if err := sc.createSemaphores(); err != nil {
		return err
	}
	sc.acquired = false

	core.LogInfo("swap chain created: %dx%d, %d images, %s", extent.Width, extent.Height, count, presentModeString(sc.presentMode))
	return nil
}

func (sc *SwapChain) createSemaphores() error {
	d := sc.device
	sc.destroySemaphores()
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	newSemaphore := func() (vk.Semaphore, error) {
		var s vk.Semaphore
		if res := vk.CreateSemaphore(d.handle, &semaphoreCreateInfo, nil, &s); res != vk.Success {
			return vk.NullSemaphore, resultError("vkCreateSemaphore", res)
		}
		return s, nil
	}
	for i := 0; i <= len(sc.images); i++ {
		s, err := newSemaphore()
		if err != nil {
			return err
		}
		sc.acquireSemaphores = append(sc.acquireSemaphores, s)
	}
	for range sc.images {
		s, err := newSemaphore()
		if err != nil {
			return err
		}
		sc.renderSemaphores = append(sc.renderSemaphores, s)
	}
	sc.nextAcquire = 0
	return nil
}

func (sc *SwapChain) destroySemaphores() {
	d := sc.device
	for _, s := range sc.acquireSemaphores {
		vk.DestroySemaphore(d.handle, s, nil)
	}
	for _, s := range sc.renderSemaphores {
		vk.DestroySemaphore(d.handle, s, nil)
	}
	sc.acquireSemaphores = nil
	sc.renderSemaphores = nil
}

// destroyImages destroys the views; the images belong to the swap chain.
func (sc *SwapChain) destroyImages() {
	d := sc.device
	for _, t := range sc.images {
		d.framebuffers.evict(t.view)
		vk.DestroyImageView(d.handle, t.view, nil)
	}
	sc.images = nil
}

// CurrentBackBufferIndex acquires the next image unless one is already
// acquired and not yet presented.
func (sc *SwapChain) CurrentBackBufferIndex() (uint32, error) {
	if sc.acquired {
		return sc.imageIndex, nil
	}
	d := sc.device
	semaphore := sc.acquireSemaphores[sc.nextAcquire]

	var index uint32
	res := vk.AcquireNextImage(d.handle, sc.handle, math.MaxUint64, semaphore, vk.NullFence, &index)
	if res != vk.Success && res != vk.Suboptimal {
		return 0, resultError("vkAcquireNextImageKHR", res)
	}
	sc.nextAcquire = (sc.nextAcquire + 1) % len(sc.acquireSemaphores)
	sc.imageIndex = index
	sc.acquired = true

	d.acquireWait = semaphore
	d.renderSignal = sc.renderSemaphores[index]
	return index, nil
}

func (sc *SwapChain) BackBuffer(index uint32) gpu.Texture { return sc.images[index] }

func (sc *SwapChain) BufferCount() uint32 { return uint32(len(sc.images)) }

func (sc *SwapChain) Size() (uint32, uint32) { return sc.extent.Width, sc.extent.Height }

func (sc *SwapChain) Tearing() bool { return sc.presentMode == vk.PresentModeImmediate }

// Present queues the acquired image. A suboptimal swap chain reports
// core.ErrSwapchainOutOfDate so it gets recreated.
func (sc *SwapChain) Present() error {
	if !sc.acquired {
		return errors.New("present without an acquired back buffer")
	}
	d := sc.device
	sc.acquired = false

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sc.renderSemaphores[sc.imageIndex]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{sc.imageIndex},
	}
	return d.locks.SafeCall(QueueManagement, func() error {
		res := vk.QueuePresent(d.queue.handle, &presentInfo)
		if res == vk.Suboptimal {
			return fmt.Errorf("vkQueuePresentKHR: %w", core.ErrSwapchainOutOfDate)
		}
		return resultError("vkQueuePresentKHR", res)
	})
}

func (sc *SwapChain) Resize(width, height uint32) error {
	d := sc.device
	if err := d.WaitIdle(); err != nil {
		return err
	}
	d.acquireWait = vk.NullSemaphore
	d.renderSignal = vk.NullSemaphore
	return sc.create(width, height)
}

func (sc *SwapChain) Release() {
	d := sc.device
	if d.handle != nil {
		vk.DeviceWaitIdle(d.handle)
	}
	sc.destroySemaphores()
	sc.destroyImages()
	if sc.handle != nil {
		vk.DestroySwapchain(d.handle, sc.handle, nil)
		sc.handle = nil
	}
}

func presentModeString(mode vk.PresentMode) string {
	switch mode {
	case vk.PresentModeImmediate:
		return "immediate"
	case vk.PresentModeMailbox:
		return "mailbox"
	case vk.PresentModeFifo:
		return "fifo"
	case vk.PresentModeFifoRelaxed:
		return "fifo relaxed"
	default:
		return fmt.Sprintf("present mode %d", int32(mode))
	}
}
