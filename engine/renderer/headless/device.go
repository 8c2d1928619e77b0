// Package headless implements gpu.Device in memory. Submitted work executes
// only when the CPU waits on a fence or the caller steps the simulated GPU,
// so every ordering between CPU and GPU is reproducible. Misuse that a real
// driver would turn into corruption is recorded as a violation instead.
package headless

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

// ErrInjected is returned by operations armed with FailAfter.
var ErrInjected = errors.New("injected failure")

type Options struct {
	Name           string
	Tearing        bool
	MaxDescriptors uint32
}

type Device struct {
	mu sync.Mutex

	opts  Options
	queue *Queue

	events     []Event
	violations []error

	failures map[string]int
	live     map[any]string
}

func New(opts Options) *Device {
	if opts.Name == "" {
		opts.Name = "headless"
	}
	if opts.MaxDescriptors == 0 {
		opts.MaxDescriptors = 1 << 20
	}
	d := &Device{
		opts:     opts,
		failures: make(map[string]int),
		live:     make(map[any]string),
	}
	d.queue = &Queue{device: d}
	return d
}

func (d *Device) Features() gpu.Features {
	return gpu.Features{
		DeviceName:     d.opts.Name,
		Tearing:        d.opts.Tearing,
		MaxDescriptors: d.opts.MaxDescriptors,
	}
}

func (d *Device) Queue() gpu.Queue {
	return d.queue
}

// FailAfter makes op fail once n further calls have succeeded. Valid ops
// are the Device method names plus "Submit" and "Present".
func (d *Device) FailAfter(op string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = n
}

func (d *Device) check(op string) error {
	n, ok := d.failures[op]
	if !ok {
		return nil
	}
	if n == 0 {
		delete(d.failures, op)
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	d.failures[op] = n - 1
	return nil
}

func (d *Device) track(obj any, name string) {
	d.live[obj] = name
}

func (d *Device) untrack(obj any) {
	if _, ok := d.live[obj]; !ok {
		d.violate("release of %T that is not alive", obj)
		return
	}
	delete(d.live, obj)
}

func (d *Device) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Errorf(format, args...))
}

func (d *Device) record(e Event) {
	d.events = append(d.events, e)
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("CreateBuffer"); err != nil {
		return nil, err
	}
	b := &Buffer{device: d, desc: desc, data: make([]byte, desc.Size)}
	d.track(b, "buffer "+desc.Name)
	return b, nil
}

func (d *Device) CreateTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("CreateTexture"); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("texture %s has zero size", desc.Name)
	}
	t := newTexture(d, desc)
	d.track(t, "texture "+desc.Name)
	return t, nil
}

func (d *Device) CreateDescriptorHeap(capacity uint32) (gpu.DescriptorHeap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("CreateDescriptorHeap"); err != nil {
		return nil, err
	}
	if capacity > d.opts.MaxDescriptors {
		return nil, fmt.Errorf("descriptor heap of %d exceeds device limit %d", capacity, d.opts.MaxDescriptors)
	}
	h := &DescriptorHeap{device: d, slots: make([]Slot, capacity)}
	d.track(h, "descriptor heap")
	return h, nil
}

func (d *Device) CreateFence(initial uint64) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("CreateFence"); err != nil {
		return nil, err
	}
	f := &Fence{device: d, completed: initial}
	d.track(f, "fence")
	return f, nil
}

func (d *Device) CreateCommandAllocator() (gpu.CommandAllocator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("CreateCommandAllocator"); err != nil {
		return nil, err
	}
	a := &CommandAllocator{device: d}
	d.track(a, "command allocator")
	return a, nil
}

func (d *Device) CreateCommandList(alloc gpu.CommandAllocator) (gpu.CommandList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("CreateCommandList"); err != nil {
		return nil, err
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return nil, fmt.Errorf("foreign command allocator %T", alloc)
	}
	l := &CommandList{device: d, alloc: a}
	d.track(l, "command list")
	return l, nil
}

func (d *Device) CreateSwapChain(desc gpu.SwapChainDesc) (gpu.SwapChain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("CreateSwapChain"); err != nil {
		return nil, err
	}
	if desc.BufferCount < 2 {
		return nil, fmt.Errorf("swap chain needs at least 2 buffers, got %d", desc.BufferCount)
	}
	s := &SwapChain{device: d, desc: desc, tearing: d.opts.Tearing && !desc.VSync}
	s.createBuffers()
	d.track(s, "swap chain")
	return s, nil
}

func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("CreatePipeline"); err != nil {
		return nil, err
	}
	p := &Pipeline{device: d, desc: desc}
	d.track(p, "pipeline "+desc.Name)
	return p, nil
}

// WaitIdle executes every pending GPU operation.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue.flush()
	return nil
}

func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue.flush()
	for _, name := range d.live {
		d.violate("%s still alive at device release", name)
	}
}

// Step executes the oldest pending GPU operation. It reports false when the
// queue is empty.
func (d *Device) Step() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.step()
}

// Pending returns the number of submitted operations the GPU has not run.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue.ops)
}

func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

func (d *Device) EventsOf(kind EventKind) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Event
	for _, e := range d.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (d *Device) ClearEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

// Violations returns every misuse detected so far.
func (d *Device) Violations() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.violations...)
}

// Live returns the names of objects created and not yet released.
func (d *Device) Live() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.live))
	for _, name := range d.live {
		out = append(out, name)
	}
	return out
}
