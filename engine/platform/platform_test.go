package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/pensieve/engine/core"
)

var (
	_ Window = (*GlfwWindow)(nil)
	_ Window = (*Offscreen)(nil)
)

func TestMapKey(t *testing.T) {
	tests := []struct {
		key  glfw.Key
		want core.KeyCode
		ok   bool
	}{
		{glfw.KeyEscape, core.KEY_ESCAPE, true},
		{glfw.KeySpace, core.KEY_SPACE, true},
		{glfw.KeyF, core.KEY_F, true},
		{glfw.KeyR, core.KEY_R, true},
		{glfw.KeyQ, 0, false},
	}
	for _, tt := range tests {
		got, ok := mapKey(tt.key)
		if got != tt.want || ok != tt.ok {
			t.Errorf("mapKey(%d) = %d, %v; want %d, %v", tt.key, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMapButton(t *testing.T) {
	tests := []struct {
		button glfw.MouseButton
		want   core.Button
		ok     bool
	}{
		{glfw.MouseButtonLeft, core.BUTTON_LEFT, true},
		{glfw.MouseButtonRight, core.BUTTON_RIGHT, true},
		{glfw.MouseButtonMiddle, core.BUTTON_MIDDLE, true},
		{glfw.MouseButton4, 0, false},
	}
	for _, tt := range tests {
		got, ok := mapButton(tt.button)
		if got != tt.want || ok != tt.ok {
			t.Errorf("mapButton(%d) = %d, %v; want %d, %v", tt.button, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOffscreen(t *testing.T) {
	o := NewOffscreen(640, 480)
	o.PollEvents()
	if w, h := o.Size(); w != 640 || h != 480 {
		t.Fatalf("size = %dx%d, want 640x480", w, h)
	}
	if o.ShouldClose() {
		t.Fatal("offscreen window closed before Close")
	}
	o.Close()
	if !o.ShouldClose() {
		t.Fatal("offscreen window still open after Close")
	}
}
