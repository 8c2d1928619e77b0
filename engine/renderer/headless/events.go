package headless

import (
	"fmt"

	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

type EventKind string

const (
	// CPU side
	EventSubmit         EventKind = "submit"
	EventSignal         EventKind = "signal"
	EventWait           EventKind = "wait"
	EventPresent        EventKind = "present"
	EventResize         EventKind = "resize"
	EventAllocatorReset EventKind = "allocator-reset"
	EventRelease        EventKind = "release"

	// GPU side, recorded when the simulated GPU executes the work
	EventExecute  EventKind = "execute"
	EventComplete EventKind = "complete"
	EventCopy     EventKind = "copy"
	EventBarrier  EventKind = "barrier"
	EventClear    EventKind = "clear"
	EventDraw     EventKind = "draw"
	EventFlip     EventKind = "flip"
)

type Event struct {
	Kind  EventKind
	Name  string
	Value uint64
	// A and B carry counts: meshlets/instances for draws, width/height for
	// resizes, bytes for copies, the back buffer index for presents.
	A, B   uint32
	Before gpu.ResourceState
	After  gpu.ResourceState
	Color  [4]float32
	// Data holds a snapshot of the draw parameters a draw read.
	Data []byte
}

func (e Event) String() string {
	switch e.Kind {
	case EventBarrier:
		return fmt.Sprintf("%s %s %s->%s", e.Kind, e.Name, e.Before, e.After)
	case EventDraw:
		return fmt.Sprintf("%s params=%d meshlets=%d instances=%d", e.Kind, e.Value, e.A, e.B)
	default:
		return fmt.Sprintf("%s %s value=%d a=%d b=%d", e.Kind, e.Name, e.Value, e.A, e.B)
	}
}
