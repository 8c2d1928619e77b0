package platform

import "sync/atomic"

// Offscreen stands in for a window when rendering to the headless device.
// It has a fixed size, never receives input and closes only on request.
type Offscreen struct {
	width   uint32
	height  uint32
	closing atomic.Bool
}

func NewOffscreen(width, height uint32) *Offscreen {
	return &Offscreen{width: width, height: height}
}

func (o *Offscreen) PollEvents()                {}
func (o *Offscreen) ShouldClose() bool          { return o.closing.Load() }
func (o *Offscreen) Close()                     { o.closing.Store(true) }
func (o *Offscreen) WasResized() bool           { return false }
func (o *Offscreen) Size() (uint32, uint32)     { return o.width, o.height }
func (o *Offscreen) IsLeftButtonDown() bool     { return false }
func (o *Offscreen) IsMiddleButtonDown() bool   { return false }
func (o *Offscreen) IsMouseHovered() bool       { return false }
func (o *Offscreen) MouseDelta() (int32, int32) { return 0, 0 }
func (o *Offscreen) MouseWheelDelta() int32     { return 0 }
func (o *Offscreen) Destroy()                   {}
