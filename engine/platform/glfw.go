package platform

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/pensieve/engine/config"
	"github.com/spaghettifunk/pensieve/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

/**
 * @brief A GLFW window created without a client API so a Vulkan surface
 * can be attached to it. Callbacks feed the core input state and fire the
 * core resize and quit events.
 */
type GlfwWindow struct {
	handle *glfw.Window

	width   uint32
	height  uint32
	resized bool
	closing atomic.Bool
}

func NewGlfwWindow(cfg config.WindowConfig) (*GlfwWindow, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize glfw: %w", err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	handle, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	w := &GlfwWindow{handle: handle}
	fbWidth, fbHeight := handle.GetFramebufferSize()
	w.width, w.height = uint32(fbWidth), uint32(fbHeight)

	handle.SetKeyCallback(w.keyCallback)
	handle.SetMouseButtonCallback(w.mouseButtonCallback)
	handle.SetCursorPosCallback(w.cursorPosCallback)
	handle.SetCursorEnterCallback(w.cursorEnterCallback)
	handle.SetScrollCallback(w.scrollCallback)
	handle.SetFramebufferSizeCallback(w.framebufferSizeCallback)
	handle.SetCloseCallback(w.closeCallback)
	handle.SetPos(int(cfg.X), int(cfg.Y))
	handle.Show()

	core.LogDebug("window %q created: %dx%d framebuffer", cfg.Title, w.width, w.height)
	return w, nil
}

// Handle is the native window the Vulkan device creates its surface on.
func (w *GlfwWindow) Handle() *glfw.Window { return w.handle }

func (w *GlfwWindow) PollEvents() {
	w.resized = false
	core.InputUpdate()
	glfw.PollEvents()
}

func (w *GlfwWindow) ShouldClose() bool {
	return w.closing.Load() || w.handle.ShouldClose()
}

// Close may be called from any goroutine.
func (w *GlfwWindow) Close() {
	w.closing.Store(true)
}

func (w *GlfwWindow) WasResized() bool { return w.resized }

func (w *GlfwWindow) Size() (uint32, uint32) { return w.width, w.height }

func (w *GlfwWindow) IsLeftButtonDown() bool { return core.InputIsButtonDown(core.BUTTON_LEFT) }

func (w *GlfwWindow) IsMiddleButtonDown() bool { return core.InputIsButtonDown(core.BUTTON_MIDDLE) }

func (w *GlfwWindow) IsMouseHovered() bool { return core.InputIsMouseHovered() }

func (w *GlfwWindow) MouseDelta() (int32, int32) { return core.InputGetMouseDelta() }

func (w *GlfwWindow) MouseWheelDelta() int32 { return core.InputGetMouseWheel() }

func (w *GlfwWindow) Destroy() {
	if w.handle != nil {
		w.handle.Destroy()
		w.handle = nil
	}
	glfw.Terminate()
}

func (w *GlfwWindow) keyCallback(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	code, ok := mapKey(key)
	if !ok || action == glfw.Repeat {
		return
	}
	core.InputProcessKey(code, action == glfw.Press)
}

func (w *GlfwWindow) mouseButtonCallback(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
	b, ok := mapButton(button)
	if !ok {
		return
	}
	core.InputProcessButton(b, action == glfw.Press)
}

func (w *GlfwWindow) cursorPosCallback(win *glfw.Window, x, y float64) {
	core.InputProcessMouseMove(int32(x), int32(y))
	width, height := win.GetSize()
	core.InputProcessHover(uint32(width), uint32(height))
}

// Leaving the window reports an empty client area so nothing is hovered.
func (w *GlfwWindow) cursorEnterCallback(win *glfw.Window, entered bool) {
	if !entered {
		core.InputProcessHover(0, 0)
		return
	}
	width, height := win.GetSize()
	core.InputProcessHover(uint32(width), uint32(height))
}

func (w *GlfwWindow) scrollCallback(_ *glfw.Window, _, yoff float64) {
	core.InputProcessMouseWheel(int32(yoff))
}

func (w *GlfwWindow) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	w.width, w.height = uint32(width), uint32(height)
	w.resized = true
	core.EventFire(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		Data: &core.SystemEvent{WindowWidth: w.width, WindowHeight: w.height},
	})
}

func (w *GlfwWindow) closeCallback(_ *glfw.Window) {
	core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
}

func mapKey(key glfw.Key) (core.KeyCode, bool) {
	switch key {
	case glfw.KeyEscape:
		return core.KEY_ESCAPE, true
	case glfw.KeySpace:
		return core.KEY_SPACE, true
	case glfw.KeyF:
		return core.KEY_F, true
	case glfw.KeyR:
		return core.KEY_R, true
	}
	return 0, false
}

func mapButton(button glfw.MouseButton) (core.Button, bool) {
	switch button {
	case glfw.MouseButtonLeft:
		return core.BUTTON_LEFT, true
	case glfw.MouseButtonRight:
		return core.BUTTON_RIGHT, true
	case glfw.MouseButtonMiddle:
		return core.BUTTON_MIDDLE, true
	}
	return 0, false
}
