package vulkan

import "sync"

type LockGroup string

const (
	// QueueManagement guards the graphics queue: submissions, signals,
	// presentation and idle waits.
	QueueManagement LockGroup = "queue_management"
	// DescriptorManagement guards writes into the bindless descriptor set.
	DescriptorManagement LockGroup = "descriptor_management"
	// SynchronizationManagement guards the pool of recycled Vulkan fences.
	SynchronizationManagement LockGroup = "synchronization_management"
)

/**
 * @brief Serializes access to Vulkan objects that require external
 * synchronization. Each group gets its own mutex, created on first use.
 */
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	l, exists := vs.locks[group]
	if !exists {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	vs.mu.Unlock()

	l.Lock()
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	defer l.Unlock()
	return fn()
}
