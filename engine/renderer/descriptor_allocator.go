package renderer

import (
	"fmt"

	"github.com/spaghettifunk/pensieve/engine/containers"
	"github.com/spaghettifunk/pensieve/engine/core"
)

type deferredFree struct {
	index      uint32
	fenceValue uint64
}

/**
 * @brief Hands out slots of the shader-visible descriptor table.
 * Free slots live on a stack, so the most recently freed slot is reused first.
 */
type DescriptorAllocator struct {
	free     []uint32
	used     []uint64
	capacity uint32

	// deferred releases are ordered by fence value.
	deferred *containers.RingQueue[deferredFree]
}

func NewDescriptorAllocator(capacity uint32) *DescriptorAllocator {
	free := make([]uint32, capacity)
	// lowest index on top of the stack
	for i := range free {
		free[i] = capacity - 1 - uint32(i)
	}
	return &DescriptorAllocator{
		free:     free,
		used:     make([]uint64, (uint64(capacity)+63)/64),
		capacity: capacity,
		deferred: containers.NewGrowingRingQueue[deferredFree](64),
	}
}

// Allocate pops a free slot.
func (a *DescriptorAllocator) Allocate() (uint32, error) {
	n := len(a.free)
	if n == 0 {
		return 0, fmt.Errorf("all %d descriptors in use: %w", a.capacity, core.ErrDescriptorsExhausted)
	}
	idx := a.free[n-1]
	a.free = a.free[:n-1]
	a.used[idx/64] |= 1 << (idx % 64)
	return idx, nil
}

// Free returns a slot immediately. The GPU must no longer read through it.
func (a *DescriptorAllocator) Free(index uint32) {
	if !a.inUse(index) {
		panic(fmt.Sprintf("descriptor %d freed but not allocated (capacity %d)", index, a.capacity))
	}
	a.used[index/64] &^= 1 << (index % 64)
	a.free = append(a.free, index)
}

// DeferredFree releases index once the frame fence has completed fenceValue.
// Calls must use non-decreasing fence values.
func (a *DescriptorAllocator) DeferredFree(index uint32, fenceValue uint64) {
	if !a.inUse(index) {
		panic(fmt.Sprintf("descriptor %d scheduled for release but not allocated", index))
	}
	// a growing queue never reports full
	_ = a.deferred.Enqueue(deferredFree{index: index, fenceValue: fenceValue})
}

// Collect frees every deferred slot whose fence value has completed and
// returns how many were released.
func (a *DescriptorAllocator) Collect(completed uint64) int {
	n := 0
	for !a.deferred.IsEmpty() {
		next, _ := a.deferred.Peek()
		if next.fenceValue > completed {
			break
		}
		_, _ = a.deferred.Dequeue()
		a.Free(next.index)
		n++
	}
	return n
}

// PendingFrees is the number of slots waiting on the frame fence.
func (a *DescriptorAllocator) PendingFrees() int {
	return a.deferred.Len()
}

func (a *DescriptorAllocator) inUse(index uint32) bool {
	return index < a.capacity && a.used[index/64]&(1<<(index%64)) != 0
}

func (a *DescriptorAllocator) Available() uint32 { return uint32(len(a.free)) }

func (a *DescriptorAllocator) Capacity() uint32 { return a.capacity }

func (a *DescriptorAllocator) InUse() uint32 { return a.capacity - uint32(len(a.free)) }
