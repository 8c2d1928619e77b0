package platform

// Window is what the engine needs from the native window: lifetime
// signals, the client size and the mouse state of the last poll.
// Per-poll values (resized, mouse delta, wheel) reset on every PollEvents.
type Window interface {
	PollEvents()
	ShouldClose() bool
	// Close asks the window to report ShouldClose on the next poll.
	Close()
	WasResized() bool
	Size() (uint32, uint32)
	IsLeftButtonDown() bool
	IsMiddleButtonDown() bool
	IsMouseHovered() bool
	MouseDelta() (int32, int32)
	MouseWheelDelta() int32
	Destroy()
}
