package headless

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

type Buffer struct {
	device   *Device
	desc     gpu.BufferDesc
	data     []byte
	released bool
}

func (b *Buffer) Size() uint64 { return b.desc.Size }

func (b *Buffer) Name() string { return b.desc.Name }

func (b *Buffer) Map() ([]byte, error) {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	if b.desc.Heap != gpu.HeapUpload {
		return nil, fmt.Errorf("buffer %s is not in the upload heap", b.desc.Name)
	}
	return b.data, nil
}

// Contents returns a copy of the bytes the simulated GPU holds.
func (b *Buffer) Contents() []byte {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) Release() {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	b.device.untrack(b)
	b.released = true
}

type Texture struct {
	device   *Device
	desc     gpu.TextureDesc
	state    gpu.ResourceState
	data     []byte
	released bool

	// Back buffers are owned by their swap chain; refs counts outstanding
	// BackBuffer references instead.
	swapChain *SwapChain
	refs      int
}

func newTexture(d *Device, desc gpu.TextureDesc) *Texture {
	size := uint64(desc.Width) * uint64(desc.Height) * uint64(desc.Format.BytesPerPixel())
	return &Texture{
		device: d,
		desc:   desc,
		state:  desc.InitialState,
		data:   make([]byte, size),
	}
}

func (t *Texture) Width() uint32      { return t.desc.Width }
func (t *Texture) Height() uint32     { return t.desc.Height }
func (t *Texture) Format() gpu.Format { return t.desc.Format }
func (t *Texture) Name() string       { return t.desc.Name }

func (t *Texture) State() gpu.ResourceState {
	t.device.mu.Lock()
	defer t.device.mu.Unlock()
	return t.state
}

func (t *Texture) Contents() []byte {
	t.device.mu.Lock()
	defer t.device.mu.Unlock()
	return append([]byte(nil), t.data...)
}

func (t *Texture) Release() {
	t.device.mu.Lock()
	defer t.device.mu.Unlock()
	if t.swapChain != nil {
		t.refs--
		if t.refs < 0 {
			t.device.violate("%s released more often than acquired", t.desc.Name)
		}
		t.device.record(Event{Kind: EventRelease, Name: t.desc.Name})
		return
	}
	t.device.untrack(t)
	t.released = true
}

type ViewKind uint8

const (
	ViewNone ViewKind = iota
	ViewTexture
	ViewConstant
	ViewStructured
)

type Slot struct {
	Kind   ViewKind
	Name   string
	Stride uint32

	buffer  *Buffer
	texture *Texture
}

type DescriptorHeap struct {
	device *Device
	slots  []Slot
}

func (h *DescriptorHeap) Capacity() uint32 { return uint32(len(h.slots)) }

func (h *DescriptorHeap) write(index uint32, s Slot) {
	h.device.mu.Lock()
	defer h.device.mu.Unlock()
	if int(index) >= len(h.slots) {
		h.device.violate("descriptor write at %d beyond capacity %d", index, len(h.slots))
		return
	}
	h.slots[index] = s
}

func (h *DescriptorHeap) WriteTextureView(index uint32, tex gpu.Texture) {
	t, ok := tex.(*Texture)
	if !ok {
		h.device.mu.Lock()
		h.device.violate("foreign texture %T in descriptor %d", tex, index)
		h.device.mu.Unlock()
		return
	}
	h.write(index, Slot{Kind: ViewTexture, Name: t.desc.Name, texture: t})
}

func (h *DescriptorHeap) WriteConstantView(index uint32, buf gpu.Buffer) {
	b, ok := buf.(*Buffer)
	if !ok {
		h.device.mu.Lock()
		h.device.violate("foreign buffer %T in descriptor %d", buf, index)
		h.device.mu.Unlock()
		return
	}
	h.write(index, Slot{Kind: ViewConstant, Name: b.desc.Name, buffer: b})
}

func (h *DescriptorHeap) WriteStructuredView(index uint32, buf gpu.Buffer, stride uint32) {
	b, ok := buf.(*Buffer)
	if !ok {
		h.device.mu.Lock()
		h.device.violate("foreign buffer %T in descriptor %d", buf, index)
		h.device.mu.Unlock()
		return
	}
	h.write(index, Slot{Kind: ViewStructured, Name: b.desc.Name, Stride: stride, buffer: b})
}

func (h *DescriptorHeap) Clear(index uint32) {
	h.write(index, Slot{})
}

// Slot returns the view bound at index.
func (h *DescriptorHeap) Slot(index uint32) Slot {
	h.device.mu.Lock()
	defer h.device.mu.Unlock()
	return h.slots[index]
}

// Bound returns the number of slots holding a view.
func (h *DescriptorHeap) Bound() int {
	h.device.mu.Lock()
	defer h.device.mu.Unlock()
	n := 0
	for _, s := range h.slots {
		if s.Kind != ViewNone {
			n++
		}
	}
	return n
}

func (h *DescriptorHeap) Release() {
	h.device.mu.Lock()
	defer h.device.mu.Unlock()
	h.device.untrack(h)
}

type Fence struct {
	device    *Device
	completed uint64
	signaled  uint64
}

func (f *Fence) CompletedValue() uint64 {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	return f.completed
}

// Wait runs the simulated GPU until the fence reaches value. Waiting for a
// value no queued signal will ever reach is reported as an error.
func (f *Fence) Wait(ctx context.Context, value uint64) error {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	f.device.record(Event{Kind: EventWait, Value: value})
	for f.completed < value {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !f.device.queue.step() {
			return fmt.Errorf("fence wait for %d can never complete, completed value is %d", value, f.completed)
		}
	}
	return nil
}

func (f *Fence) Release() {
	f.device.mu.Lock()
	defer f.device.mu.Unlock()
	f.device.untrack(f)
}

type CommandAllocator struct {
	device *Device
	// pending counts submitted lists recorded from this allocator that the
	// GPU has not executed yet.
	pending int
}

func (a *CommandAllocator) Reset() error {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	a.device.record(Event{Kind: EventAllocatorReset})
	if a.pending > 0 {
		a.device.violate("command allocator reset with %d submissions still executing", a.pending)
		return fmt.Errorf("command allocator is still in use by the GPU")
	}
	return nil
}

func (a *CommandAllocator) Release() {
	a.device.mu.Lock()
	defer a.device.mu.Unlock()
	if a.pending > 0 {
		a.device.violate("command allocator released with %d submissions still executing", a.pending)
	}
	a.device.untrack(a)
}

type Pipeline struct {
	device *Device
	desc   gpu.PipelineDesc
}

func (p *Pipeline) Release() {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	p.device.untrack(p)
}

type SwapChain struct {
	device   *Device
	desc     gpu.SwapChainDesc
	tearing  bool
	buffers  []*Texture
	current  uint32
	presents uint64
}

func (s *SwapChain) createBuffers() {
	s.buffers = make([]*Texture, s.desc.BufferCount)
	for i := range s.buffers {
		t := newTexture(s.device, gpu.TextureDesc{
			Name:         fmt.Sprintf("back buffer %d", i),
			Width:        s.desc.Width,
			Height:       s.desc.Height,
			Format:       s.desc.Format,
			Usage:        gpu.TextureUsageRenderTarget,
			InitialState: gpu.StateUndefined,
		})
		t.swapChain = s
		s.buffers[i] = t
	}
}

func (s *SwapChain) CurrentBackBufferIndex() (uint32, error) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.current, nil
}

func (s *SwapChain) BackBuffer(index uint32) gpu.Texture {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	t := s.buffers[index]
	t.refs++
	return t
}

func (s *SwapChain) BufferCount() uint32 { return s.desc.BufferCount }

func (s *SwapChain) Size() (uint32, uint32) {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.desc.Width, s.desc.Height
}

func (s *SwapChain) Tearing() bool { return s.tearing }

// Present queues the flip of the current back buffer behind all submitted work.
func (s *SwapChain) Present() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	if err := s.device.check("Present"); err != nil {
		return err
	}
	s.device.record(Event{Kind: EventPresent, A: s.current})
	s.device.queue.ops = append(s.device.queue.ops, op{kind: opPresent, texture: s.buffers[s.current]})
	s.current = (s.current + 1) % s.desc.BufferCount
	s.presents++
	return nil
}

func (s *SwapChain) Resize(width, height uint32) error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	if n := len(s.device.queue.ops); n > 0 {
		s.device.violate("swap chain resized with %d GPU operations pending", n)
	}
	for _, b := range s.buffers {
		if b.refs > 0 {
			s.device.violate("%s still referenced during resize", b.desc.Name)
		}
	}
	s.desc.Width, s.desc.Height = width, height
	s.createBuffers()
	s.current = 0
	s.device.record(Event{Kind: EventResize, A: width, B: height})
	return nil
}

func (s *SwapChain) Release() {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.device.untrack(s)
}
