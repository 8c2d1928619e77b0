package headless

import (
	"fmt"

	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

// execState is the GPU-side state while one command list executes.
type execState struct {
	inPass     bool
	pipeline   *Pipeline
	heap       *DescriptorHeap
	drawParams uint32
	hasParams  bool
}

type command func(d *Device, x *execState)

type CommandList struct {
	device *Device
	alloc  *CommandAllocator
	open   bool
	cmds   []command
}

func (l *CommandList) Reset(alloc gpu.CommandAllocator) error {
	l.device.mu.Lock()
	defer l.device.mu.Unlock()
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return fmt.Errorf("foreign command allocator %T", alloc)
	}
	if l.open {
		l.device.violate("reset of a command list that is still open")
	}
	l.alloc = a
	l.cmds = nil
	l.open = true
	return nil
}

func (l *CommandList) Close() error {
	l.device.mu.Lock()
	defer l.device.mu.Unlock()
	if !l.open {
		return fmt.Errorf("command list is already closed")
	}
	l.open = false
	return nil
}

func (l *CommandList) record(cmd command) {
	l.device.mu.Lock()
	defer l.device.mu.Unlock()
	if !l.open {
		l.device.violate("command recorded into a closed list")
		return
	}
	l.cmds = append(l.cmds, cmd)
}

func (l *CommandList) CopyBuffer(dst gpu.Buffer, dstOffset uint64, src gpu.Buffer, srcOffset uint64, size uint64) {
	db, dok := dst.(*Buffer)
	sb, sok := src.(*Buffer)
	l.record(func(d *Device, x *execState) {
		if !dok || !sok {
			d.violate("copy between foreign buffers %T and %T", dst, src)
			return
		}
		if db.released || sb.released {
			d.violate("copy %s -> %s uses a released buffer", sb.desc.Name, db.desc.Name)
			return
		}
		if srcOffset+size > uint64(len(sb.data)) || dstOffset+size > uint64(len(db.data)) {
			d.violate("copy of %d bytes %s -> %s is out of bounds", size, sb.desc.Name, db.desc.Name)
			return
		}
		copy(db.data[dstOffset:dstOffset+size], sb.data[srcOffset:srcOffset+size])
		d.record(Event{Kind: EventCopy, Name: db.desc.Name, A: uint32(size)})
	})
}

func (l *CommandList) CopyBufferToTexture(dst gpu.Texture, src gpu.Buffer, srcOffset uint64, rowPitch uint32) {
	t, tok := dst.(*Texture)
	sb, sok := src.(*Buffer)
	l.record(func(d *Device, x *execState) {
		if !tok || !sok {
			d.violate("texture copy with foreign objects %T and %T", dst, src)
			return
		}
		if t.released || sb.released {
			d.violate("texture copy into %s uses a released resource", t.desc.Name)
			return
		}
		if t.state != gpu.StateCopyDest {
			d.violate("texture copy into %s in state %s", t.desc.Name, t.state)
		}
		row := uint64(t.desc.Width) * uint64(t.desc.Format.BytesPerPixel())
		if uint64(rowPitch) < row {
			d.violate("row pitch %d is smaller than a %s row of %d bytes", rowPitch, t.desc.Name, row)
			return
		}
		if srcOffset+uint64(rowPitch)*uint64(t.desc.Height) > uint64(len(sb.data)) {
			d.violate("texture copy into %s reads past the staging buffer", t.desc.Name)
			return
		}
		for y := uint64(0); y < uint64(t.desc.Height); y++ {
			from := srcOffset + y*uint64(rowPitch)
			copy(t.data[y*row:(y+1)*row], sb.data[from:from+row])
		}
		d.record(Event{Kind: EventCopy, Name: t.desc.Name, A: uint32(row * uint64(t.desc.Height))})
	})
}

func (l *CommandList) Barrier(tex gpu.Texture, before, after gpu.ResourceState) {
	t, ok := tex.(*Texture)
	l.record(func(d *Device, x *execState) {
		if !ok {
			d.violate("barrier on foreign texture %T", tex)
			return
		}
		if before != gpu.StateUndefined && t.state != before {
			d.violate("barrier on %s expects %s but the texture is %s", t.desc.Name, before, t.state)
		}
		t.state = after
		d.record(Event{Kind: EventBarrier, Name: t.desc.Name, Before: before, After: after})
	})
}

func (l *CommandList) BeginRenderPass(color, depth gpu.Texture, clearColor [4]float32, clearDepth float32) {
	c, cok := color.(*Texture)
	z, _ := depth.(*Texture)
	l.record(func(d *Device, x *execState) {
		if !cok {
			d.violate("render pass on foreign texture %T", color)
			return
		}
		if x.inPass {
			d.violate("render pass begun inside another render pass")
		}
		if c.state != gpu.StateRenderTarget {
			d.violate("render pass on %s in state %s", c.desc.Name, c.state)
		}
		if z != nil && (z.released || z.state != gpu.StateDepthWrite) {
			d.violate("depth buffer %s unusable in render pass", z.desc.Name)
		}
		x.inPass = true
		d.record(Event{Kind: EventClear, Name: c.desc.Name, Color: clearColor})
	})
}

func (l *CommandList) EndRenderPass() {
	l.record(func(d *Device, x *execState) {
		if !x.inPass {
			d.violate("render pass ended without being begun")
		}
		x.inPass = false
	})
}

func (l *CommandList) SetPipeline(p gpu.Pipeline) {
	pp, _ := p.(*Pipeline)
	l.record(func(d *Device, x *execState) { x.pipeline = pp })
}

func (l *CommandList) SetDescriptorHeap(h gpu.DescriptorHeap) {
	hh, _ := h.(*DescriptorHeap)
	l.record(func(d *Device, x *execState) { x.heap = hh })
}

func (l *CommandList) SetViewport(width, height uint32) {
	l.record(func(d *Device, x *execState) {
		if width == 0 || height == 0 {
			d.violate("empty viewport %dx%d", width, height)
		}
	})
}

func (l *CommandList) SetDrawParams(index uint32) {
	l.record(func(d *Device, x *execState) {
		x.drawParams = index
		x.hasParams = true
	})
}

func (l *CommandList) DrawMeshlets(meshletCount, instanceCount uint32) {
	l.record(func(d *Device, x *execState) {
		if !x.inPass || x.pipeline == nil || x.heap == nil || !x.hasParams {
			d.violate("draw outside a fully bound render pass")
			return
		}
		if int(x.drawParams) >= len(x.heap.slots) {
			d.violate("draw parameters at %d beyond the descriptor heap", x.drawParams)
			return
		}
		slot := x.heap.slots[x.drawParams]
		if slot.Kind != ViewConstant || slot.buffer == nil || slot.buffer.released {
			d.violate("draw parameters at %d are not a live constant view", x.drawParams)
			return
		}
		d.record(Event{
			Kind:  EventDraw,
			Name:  slot.Name,
			Value: uint64(x.drawParams),
			A:     meshletCount,
			B:     instanceCount,
			Data:  append([]byte(nil), slot.buffer.data...),
		})
	})
}

func (l *CommandList) Release() {
	l.device.mu.Lock()
	defer l.device.mu.Unlock()
	l.device.untrack(l)
}

type opKind uint8

const (
	opExecute opKind = iota
	opSignal
	opPresent
)

type op struct {
	kind    opKind
	cmds    []command
	alloc   *CommandAllocator
	fence   *Fence
	value   uint64
	texture *Texture
}

// Queue is the single graphics queue. Operations run in submission order.
type Queue struct {
	device *Device
	ops    []op
}

func (q *Queue) Submit(lists ...gpu.CommandList) error {
	d := q.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check("Submit"); err != nil {
		return err
	}
	for _, cl := range lists {
		l, ok := cl.(*CommandList)
		if !ok {
			return fmt.Errorf("foreign command list %T", cl)
		}
		if l.open {
			d.violate("command list submitted while open")
			return fmt.Errorf("command list must be closed before submission")
		}
		l.alloc.pending++
		q.ops = append(q.ops, op{kind: opExecute, cmds: append([]command(nil), l.cmds...), alloc: l.alloc})
		d.record(Event{Kind: EventSubmit, A: uint32(len(l.cmds))})
	}
	return nil
}

func (q *Queue) Signal(fence gpu.Fence, value uint64) error {
	d := q.device
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("foreign fence %T", fence)
	}
	if value <= f.signaled {
		d.violate("fence signaled with %d after %d", value, f.signaled)
	}
	f.signaled = value
	q.ops = append(q.ops, op{kind: opSignal, fence: f, value: value})
	d.record(Event{Kind: EventSignal, Value: value})
	return nil
}

// step runs one operation. The device lock must be held.
func (q *Queue) step() bool {
	if len(q.ops) == 0 {
		return false
	}
	o := q.ops[0]
	q.ops = q.ops[1:]
	d := q.device

	switch o.kind {
	case opExecute:
		x := &execState{}
		for _, cmd := range o.cmds {
			cmd(d, x)
		}
		if x.inPass {
			d.violate("command list ended inside a render pass")
		}
		o.alloc.pending--
		d.record(Event{Kind: EventExecute, A: uint32(len(o.cmds))})
	case opSignal:
		o.fence.completed = o.value
		d.record(Event{Kind: EventComplete, Value: o.value})
	case opPresent:
		if o.texture.state != gpu.StatePresent {
			d.violate("%s presented in state %s", o.texture.desc.Name, o.texture.state)
		}
		d.record(Event{Kind: EventFlip, Name: o.texture.desc.Name})
	}
	return true
}

func (q *Queue) flush() {
	for q.step() {
	}
}
