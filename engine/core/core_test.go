package core

import "testing"

func TestInputDeltaAndWheel(t *testing.T) {
	if err := InputInitialize(); err != nil {
		t.Fatal(err)
	}
	defer InputShutdown()

	InputProcessMouseMove(10, 10)
	InputUpdate()
	InputProcessMouseMove(15, 7)
	InputProcessMouseWheel(2)
	InputProcessMouseWheel(-1)

	dx, dy := InputGetMouseDelta()
	if dx != 5 || dy != -3 {
		t.Fatalf("delta = (%d, %d), want (5, -3)", dx, dy)
	}
	if w := InputGetMouseWheel(); w != 1 {
		t.Fatalf("wheel = %d, want 1", w)
	}

	InputUpdate()
	dx, dy = InputGetMouseDelta()
	if dx != 0 || dy != 0 || InputGetMouseWheel() != 0 {
		t.Fatal("deltas should reset on update")
	}
}

func TestInputHover(t *testing.T) {
	_ = InputInitialize()
	defer InputShutdown()

	tests := []struct {
		name    string
		x, y    int32
		hovered bool
	}{
		{"inside", 5, 5, true},
		{"origin", 0, 0, true},
		{"right edge", 100, 5, false},
		{"negative", -1, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InputProcessMouseMove(tt.x, tt.y)
			InputProcessHover(100, 50)
			if got := InputIsMouseHovered(); got != tt.hovered {
				t.Fatalf("hovered = %t, want %t", got, tt.hovered)
			}
		})
	}
}

func TestEventFireStopsWhenHandled(t *testing.T) {
	EventSystemInitialize()
	defer EventSystemShutdown()

	calls := 0
	EventRegister(EVENT_CODE_RESIZED, func(EventContext) bool {
		calls++
		return true
	})
	EventRegister(EVENT_CODE_RESIZED, func(EventContext) bool {
		calls++
		return false
	})

	handled := EventFire(EventContext{Type: EVENT_CODE_RESIZED, Data: &SystemEvent{WindowWidth: 1, WindowHeight: 1}})
	if !handled || calls != 1 {
		t.Fatalf("handled = %t calls = %d, want true and 1", handled, calls)
	}
}

func TestEventUnregister(t *testing.T) {
	EventSystemInitialize()
	defer EventSystemShutdown()

	calls := 0
	id := EventRegister(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool {
		calls++
		return false
	})
	if !EventUnregister(EVENT_CODE_APPLICATION_QUIT, id) {
		t.Fatal("unregister should succeed")
	}
	EventFire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT})
	if calls != 0 {
		t.Fatalf("calls = %d after unregister", calls)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	if ft := m.FrameTime(); ft < 9.99 || ft > 10.01 {
		t.Fatalf("frame time = %f, want 10ms", ft)
	}
	for i := 0; i < 100; i++ {
		m.Update(0.010)
	}
	if fps := m.FPS(); fps < 99 || fps > 101 {
		t.Fatalf("fps = %f, want ~100", fps)
	}
}

func TestParseLogLevel(t *testing.T) {
	if _, err := ParseLogLevel("debug"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseLogLevel("WARN"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
