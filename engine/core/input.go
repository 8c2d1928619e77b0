package core

import "sync"

type Button uint16

const (
	BUTTON_LEFT Button = iota
	BUTTON_RIGHT
	BUTTON_MIDDLE
	BUTTON_MAX_BUTTONS
)

// Key code definitions. Only the keys the viewer reacts to are mapped.
type KeyCode uint16

const (
	KEY_ESCAPE KeyCode = 0x1B
	KEY_SPACE  KeyCode = 0x20
	KEY_F      KeyCode = 0x46
	KEY_R      KeyCode = 0x52
	KEYS_MAX_KEYS
)

// Mouse state structure
type MouseState struct {
	X       int32
	Y       int32
	Buttons [BUTTON_MAX_BUTTONS]bool
}

// Keyboard state structure
type KeyboardState struct {
	Keys [256]bool
}

// Input state structure that holds current and previous states for keyboard and mouse.
// Previous is snapshotted by InputUpdate, so deltas span one poll.
type InputState struct {
	KeyboardCurrent  KeyboardState
	KeyboardPrevious KeyboardState
	MouseCurrent     MouseState
	MousePrevious    MouseState
	Wheel            int32
	Hovered          bool
}

var onceInput sync.Once
var inputInitialized bool = false
var inputState *InputState = nil

func InputInitialize() error {
	onceInput.Do(func() {
		inputState = &InputState{}
	})
	inputInitialized = true
	LogDebug("Input subsystem initialized.")
	return nil
}

func InputShutdown() error {
	inputInitialized = false
	if inputState != nil {
		*inputState = InputState{}
	}
	return nil
}

// InputUpdate copies current states to previous states and clears the
// per-poll wheel accumulator.
func InputUpdate() {
	if !inputInitialized {
		return
	}
	inputState.KeyboardPrevious = inputState.KeyboardCurrent
	inputState.MousePrevious = inputState.MouseCurrent
	inputState.Wheel = 0
}

// keyboard input
func InputIsKeyDown(key KeyCode) bool {
	if !inputInitialized {
		return false
	}
	return inputState.KeyboardCurrent.Keys[key]
}

func InputWasKeyDown(key KeyCode) bool {
	if !inputInitialized {
		return false
	}
	return inputState.KeyboardPrevious.Keys[key]
}

func InputProcessKey(key KeyCode, pressed bool) {
	if !inputInitialized || int(key) >= len(inputState.KeyboardCurrent.Keys) {
		return
	}
	// Only handle this if the state actually changed.
	if inputState.KeyboardCurrent.Keys[key] != pressed {
		inputState.KeyboardCurrent.Keys[key] = pressed

		code := EVENT_CODE_KEY_RELEASED
		if pressed {
			code = EVENT_CODE_KEY_PRESSED
		}
		EventFire(EventContext{
			Type: code,
			Data: &KeyEvent{KeyCode: key},
		})
	}
}

// mouse input
func InputIsButtonDown(button Button) bool {
	if !inputInitialized {
		return false
	}
	return inputState.MouseCurrent.Buttons[button]
}

func InputGetMousePosition() (int32, int32) {
	if !inputInitialized {
		return 0, 0
	}
	return inputState.MouseCurrent.X, inputState.MouseCurrent.Y
}

// InputGetMouseDelta returns the cursor movement since the last InputUpdate.
func InputGetMouseDelta() (int32, int32) {
	if !inputInitialized {
		return 0, 0
	}
	return inputState.MouseCurrent.X - inputState.MousePrevious.X,
		inputState.MouseCurrent.Y - inputState.MousePrevious.Y
}

// InputGetMouseWheel returns the wheel notches accumulated since the last InputUpdate.
func InputGetMouseWheel() int32 {
	if !inputInitialized {
		return 0
	}
	return inputState.Wheel
}

func InputIsMouseHovered() bool {
	if !inputInitialized {
		return false
	}
	return inputState.Hovered
}

func InputProcessButton(button Button, pressed bool) {
	if !inputInitialized || button >= BUTTON_MAX_BUTTONS {
		return
	}
	if inputState.MouseCurrent.Buttons[button] != pressed {
		inputState.MouseCurrent.Buttons[button] = pressed

		code := EVENT_CODE_BUTTON_RELEASED
		if pressed {
			code = EVENT_CODE_BUTTON_PRESSED
		}
		EventFire(EventContext{
			Type: code,
			Data: &MouseEvent{Button: button},
		})
	}
}

func InputProcessMouseMove(x, y int32) {
	if !inputInitialized {
		return
	}
	if inputState.MouseCurrent.X != x || inputState.MouseCurrent.Y != y {
		inputState.MouseCurrent.X = x
		inputState.MouseCurrent.Y = y

		EventFire(EventContext{
			Type: EVENT_CODE_MOUSE_MOVED,
			Data: &MouseEvent{PosX: x, PosY: y},
		})
	}
}

func InputProcessMouseWheel(delta int32) {
	if !inputInitialized {
		return
	}
	inputState.Wheel += delta
	EventFire(EventContext{
		Type: EVENT_CODE_MOUSE_WHEEL,
		Data: &MouseEvent{Scroll: delta},
	})
}

// InputProcessHover records whether the cursor is inside a width x height client area.
func InputProcessHover(width, height uint32) {
	if !inputInitialized {
		return
	}
	x, y := inputState.MouseCurrent.X, inputState.MouseCurrent.Y
	inputState.Hovered = x >= 0 && y >= 0 && uint32(x) < width && uint32(y) < height
}
