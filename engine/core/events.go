package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type EventCode uint16

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT EventCode = 0x01
	// Keyboard key pressed. Data: *KeyEvent
	EVENT_CODE_KEY_PRESSED EventCode = 0x02
	// Keyboard key released. Data: *KeyEvent
	EVENT_CODE_KEY_RELEASED EventCode = 0x03
	// Mouse button pressed. Data: *MouseEvent
	EVENT_CODE_BUTTON_PRESSED EventCode = 0x04
	// Mouse button released. Data: *MouseEvent
	EVENT_CODE_BUTTON_RELEASED EventCode = 0x05
	// Mouse moved. Data: *MouseEvent
	EVENT_CODE_MOUSE_MOVED EventCode = 0x06
	// Mouse wheel scrolled. Data: *MouseEvent
	EVENT_CODE_MOUSE_WHEEL EventCode = 0x07
	// Resized/resolution changed from the OS. Data: *SystemEvent
	EVENT_CODE_RESIZED EventCode = 0x08
	// The scene file on disk changed. Data: *SceneEvent
	EVENT_CODE_SCENE_CHANGED EventCode = 0x09

	MAX_EVENT_CODE EventCode = 0xFF
)

type EventContext struct {
	Type EventCode
	Data interface{}
}

type KeyEvent struct {
	KeyCode KeyCode
}

type MouseEvent struct {
	Button Button
	PosX   int32
	PosY   int32
	Scroll int32
}

type SystemEvent struct {
	WindowWidth  uint32
	WindowHeight uint32
}

type SceneEvent struct {
	Path string
}

// FnOnEvent should return true if the event was handled. Handled events
// are not passed on to any other listener.
type FnOnEvent func(context EventContext) bool

type registeredEvent struct {
	id       uint64
	callback FnOnEvent
}

type eventSystemState struct {
	registered map[EventCode][]registeredEvent
	nextID     uint64
}

var onceEvent sync.Once
var eventState *eventSystemState = nil

func EventSystemInitialize() bool {
	onceEvent.Do(func() {
		eventState = &eventSystemState{
			registered: make(map[EventCode][]registeredEvent),
		}
	})
	return eventState != nil
}

// EventSystemShutdown drops every listener. The system can be used again
// after another EventSystemInitialize.
func EventSystemShutdown() error {
	if eventState == nil {
		return nil
	}
	eventState.registered = make(map[EventCode][]registeredEvent)
	return nil
}

/**
 * Register to listen for when events are sent with the provided code.
 * Returns a registration id usable with EventUnregister, or 0 if the
 * system is not initialized.
 */
func EventRegister(code EventCode, onEvent FnOnEvent) uint64 {
	if eventState == nil || onEvent == nil {
		return 0
	}
	eventState.nextID++
	eventState.registered[code] = append(eventState.registered[code], registeredEvent{
		id:       eventState.nextID,
		callback: onEvent,
	})
	return eventState.nextID
}

func EventUnregister(code EventCode, id uint64) bool {
	if eventState == nil {
		return false
	}
	events := eventState.registered[code]
	for i := range events {
		if events[i].id == id {
			eventState.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. Listeners are called
 * synchronously, in registration order, on the calling goroutine.
 * Returns true if a listener handled the event.
 */
func EventFire(context EventContext) bool {
	if eventState == nil {
		return false
	}
	for _, e := range eventState.registered[context.Type] {
		if e.callback(context) {
			return true
		}
	}
	return false
}
