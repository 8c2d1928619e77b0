// Package vulkan implements gpu.Device on Vulkan 1.0. Resources are bound
// through one descriptor set holding every storage buffer and every sampled
// texture, and the draw parameter slot is passed as a push constant. The
// timeline fences the renderer relies on are emulated with binary fences
// signaled by empty queue submissions.
package vulkan

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

// maxBindlessDescriptors bounds the descriptor set so it stays cheap to
// allocate on drivers reporting effectively unlimited counts.
const maxBindlessDescriptors = 65536

// Window is the part of a platform window the device presents to.
// *glfw.Window satisfies it.
type Window interface {
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
}

type Options struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and routes its
	// reports to the engine log.
	Validation bool
	Window     Window
}

type Device struct {
	opts Options

	instance      vk.Instance
	debugCallback vk.DebugReportCallback
	surface       vk.Surface

	physicalDevice vk.PhysicalDevice
	properties     vk.PhysicalDeviceProperties
	limits         vk.PhysicalDeviceLimits
	anisotropy     bool
	memory         vk.PhysicalDeviceMemoryProperties
	queueFamily    uint32
	surfaceFormat  vk.SurfaceFormat
	presentModes   []vk.PresentMode

	handle    vk.Device
	queue     *Queue
	setupPool vk.CommandPool

	renderPass   vk.RenderPass
	framebuffers *framebufferCache
	heap         *DescriptorHeap

	// Recycled binary fences backing the emulated timelines.
	fencePool []vk.Fence

	// Semaphores the next submission waits on and signals, set when a swap
	// chain image is acquired.
	acquireWait  vk.Semaphore
	renderSignal vk.Semaphore

	locks *VulkanLockPool
}

// Open creates the instance, the window surface and a logical device on the
// most capable GPU that can present to it.
func Open(opts Options) (_ *Device, err error) {
	if opts.Window == nil {
		return nil, errors.New("vulkan device needs a window to present to")
	}
	if opts.ApplicationName == "" {
		opts.ApplicationName = "pensieve"
	}
	if err := loadVulkan(); err != nil {
		return nil, err
	}

	d := &Device{
		opts:  opts,
		locks: NewVulkanLockPool(),
	}
	d.framebuffers = newFramebufferCache(d)
	defer func() {
		if err != nil {
			d.Release()
		}
	}()

	if err := d.createInstance(); err != nil {
		return nil, err
	}
	if err := d.createSurface(); err != nil {
		return nil, err
	}
	if err := d.selectPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		return nil, err
	}

	core.LogInfo("Vulkan device ready on %s", d.Features().DeviceName)
	return d, nil
}

type physicalDeviceCandidate struct {
	handle       vk.PhysicalDevice
	properties   vk.PhysicalDeviceProperties
	features     vk.PhysicalDeviceFeatures
	queueFamily  uint32
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
	score        int
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(d.instance, &count, nil); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return fmt.Errorf("no Vulkan devices found: %w", core.ErrDeviceUnsupported)
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(d.instance, &count, devices); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}

	var best *physicalDeviceCandidate
	for _, pd := range devices {
		c, ok := d.evaluatePhysicalDevice(pd)
		if !ok {
			continue
		}
		if best == nil || c.score > best.score {
			best = c
		}
	}
	if best == nil {
		return fmt.Errorf("no device can render and present to the window: %w", core.ErrDeviceUnsupported)
	}

	d.physicalDevice = best.handle
	d.properties = best.properties
	d.limits = best.properties.Limits
	d.limits.Deref()
	d.anisotropy = best.features.SamplerAnisotropy == vk.True
	d.queueFamily = best.queueFamily
	d.presentModes = best.presentModes
	d.surfaceFormat = chooseSurfaceFormat(best.formats)

	vk.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &d.memory)
	d.memory.Deref()

	core.LogInfo("Selected device: '%s'.", vk.ToString(d.properties.DeviceName[:]))
	core.LogInfo("Vulkan API version: %d.%d.%d",
		vk.Version(d.properties.ApiVersion).Major(),
		vk.Version(d.properties.ApiVersion).Minor(),
		vk.Version(d.properties.ApiVersion).Patch())
	for i := uint32(0); i < d.memory.MemoryHeapCount; i++ {
		heap := d.memory.MemoryHeaps[i]
		heap.Deref()
		gib := float64(heap.Size) / 1024 / 1024 / 1024
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogDebug("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogDebug("Shared system memory: %.2f GiB", gib)
		}
	}
	return nil
}

// evaluatePhysicalDevice checks that pd has a queue family that both renders
// and presents, supports swap chains and can present to the surface.
func (d *Device) evaluatePhysicalDevice(pd vk.PhysicalDevice) (*physicalDeviceCandidate, bool) {
	c := &physicalDeviceCandidate{handle: pd}
	vk.GetPhysicalDeviceProperties(pd, &c.properties)
	c.properties.Deref()
	vk.GetPhysicalDeviceFeatures(pd, &c.features)
	c.features.Deref()
	name := vk.ToString(c.properties.DeviceName[:])

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)

	found := false
	for i := range families {
		families[i].Deref()
		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit == 0 {
			continue
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &supportsPresent); res != vk.Success {
			continue
		}
		if supportsPresent == vk.True {
			c.queueFamily = uint32(i)
			found = true
			break
		}
	}
	if !found {
		core.LogDebug("%s: no queue family renders and presents, skipping.", name)
		return nil, false
	}

	if !hasDeviceExtension(pd, vk.KhrSwapchainExtensionName) {
		core.LogDebug("%s: %s not supported, skipping.", name, vk.KhrSwapchainExtensionName)
		return nil, false
	}

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(pd, d.surface, &formatCount, nil)
	c.formats = make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(pd, d.surface, &formatCount, c.formats)
	for i := range c.formats {
		c.formats[i].Deref()
	}

	var modeCount uint32
	vk.GetPhysicalDeviceSurfacePresentModes(pd, d.surface, &modeCount, nil)
	c.presentModes = make([]vk.PresentMode, modeCount)
	vk.GetPhysicalDeviceSurfacePresentModes(pd, d.surface, &modeCount, c.presentModes)

	if len(c.formats) == 0 || len(c.presentModes) == 0 {
		core.LogDebug("%s: required swapchain support not present, skipping.", name)
		return nil, false
	}

	// Bindless slots are indexed with values that are uniform per draw.
	if c.features.ShaderStorageBufferArrayDynamicIndexing != vk.True ||
		c.features.ShaderSampledImageArrayDynamicIndexing != vk.True {
		core.LogDebug("%s: dynamic descriptor array indexing not supported, skipping.", name)
		return nil, false
	}

	switch c.properties.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		c.score = 3
	case vk.PhysicalDeviceTypeIntegratedGpu:
		c.score = 2
	case vk.PhysicalDeviceTypeVirtualGpu:
		c.score = 1
	}
	core.LogDebug("%s meets the requirements (score %d).", name, c.score)
	return c, true
}

func hasDeviceExtension(pd vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); res != vk.Success {
		return false
	}
	extensions := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, extensions); res != vk.Success {
		return false
	}
	for i := range extensions {
		extensions[i].Deref()
		if vk.ToString(extensions[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

// chooseSurfaceFormat prefers an 8-bit UNORM format in the sRGB color space.
func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if (f.Format == vk.FormatB8g8r8a8Unorm || f.Format == vk.FormatR8g8b8a8Unorm) &&
			f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	}
	return formats[0]
}

func (d *Device) createLogicalDevice() error {
	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		ShaderStorageBufferArrayDynamicIndexing: vk.True,
		ShaderSampledImageArrayDynamicIndexing:  vk.True,
	}
	if d.anisotropy {
		deviceFeatures.SamplerAnisotropy = vk.True
	}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if runtime.GOOS == "darwin" && hasDeviceExtension(d.physicalDevice, "VK_KHR_portability_subset") {
		core.LogDebug("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}
	if res := vk.CreateDevice(d.physicalDevice, &deviceCreateInfo, nil, &d.handle); res != vk.Success {
		return resultError("vkCreateDevice", res)
	}

	var queue vk.Queue
	vk.GetDeviceQueue(d.handle, d.queueFamily, 0, &queue)
	d.queue = &Queue{device: d, handle: queue}

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	if res := vk.CreateCommandPool(d.handle, &poolCreateInfo, nil, &d.setupPool); res != vk.Success {
		return resultError("vkCreateCommandPool", res)
	}
	core.LogDebug("Logical device created.")
	return nil
}

func (d *Device) Features() gpu.Features {
	l := d.limits
	limit := uint32(maxBindlessDescriptors)
	limit = min(limit,
		l.MaxPerStageDescriptorStorageBuffers,
		l.MaxDescriptorSetStorageBuffers,
		l.MaxPerStageDescriptorSampledImages,
		l.MaxDescriptorSetSampledImages,
		l.MaxPerStageDescriptorSamplers,
		l.MaxDescriptorSetSamplers,
		l.MaxPerStageResources/2,
	)
	return gpu.Features{
		DeviceName:     vk.ToString(d.properties.DeviceName[:]),
		Tearing:        d.supportsPresentMode(vk.PresentModeImmediate),
		MaxDescriptors: limit,
	}
}

func (d *Device) supportsPresentMode(mode vk.PresentMode) bool {
	for _, m := range d.presentModes {
		if m == mode {
			return true
		}
	}
	return false
}

func (d *Device) Queue() gpu.Queue {
	return d.queue
}

// findMemoryIndex returns a memory type allowed by typeFilter that has every
// property in flags.
func (d *Device) findMemoryIndex(typeFilter uint32, flags vk.MemoryPropertyFlagBits) (uint32, error) {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		memoryType := d.memory.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && vk.MemoryPropertyFlagBits(memoryType.PropertyFlags)&flags == flags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type with properties %#x", uint32(flags))
}

func (d *Device) allocateMemory(reqs vk.MemoryRequirements, flags vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	index, err := d.findMemoryIndex(reqs.MemoryTypeBits, flags)
	if err != nil {
		return nil, err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.handle, &allocInfo, nil, &memory); res != vk.Success {
		return nil, resultError("vkAllocateMemory", res)
	}
	return memory, nil
}

func (d *Device) WaitIdle() error {
	return d.locks.SafeCall(QueueManagement, func() error {
		return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(d.queue.handle))
	})
}

// Release destroys the device. Every object created from it must have been
// released already.
func (d *Device) Release() {
	if d.handle != nil {
		vk.DeviceWaitIdle(d.handle)

		d.framebuffers.destroyAll()
		if d.renderPass != nil {
			vk.DestroyRenderPass(d.handle, d.renderPass, nil)
			d.renderPass = nil
		}
		for _, f := range d.fencePool {
			vk.DestroyFence(d.handle, f, nil)
		}
		d.fencePool = nil
		if d.setupPool != nil {
			vk.DestroyCommandPool(d.handle, d.setupPool, nil)
			d.setupPool = nil
		}
		vk.DestroyDevice(d.handle, nil)
		d.handle = nil
		d.queue = nil
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
	core.LogDebug("Vulkan device released.")
}

var (
	_ gpu.Device           = (*Device)(nil)
	_ gpu.Buffer           = (*Buffer)(nil)
	_ gpu.Texture          = (*Texture)(nil)
	_ gpu.DescriptorHeap   = (*DescriptorHeap)(nil)
	_ gpu.Fence            = (*Fence)(nil)
	_ gpu.CommandAllocator = (*CommandAllocator)(nil)
	_ gpu.CommandList      = (*CommandList)(nil)
	_ gpu.Queue            = (*Queue)(nil)
	_ gpu.SwapChain        = (*SwapChain)(nil)
	_ gpu.Pipeline         = (*Pipeline)(nil)
)
