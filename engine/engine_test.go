package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/pensieve/engine/config"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

func newHeadlessEngine(t *testing.T, frames uint64) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quad.pensieve")
	if err := scene.Save(path, scene.Quad()); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendHeadless
	cfg.Renderer.DescriptorCapacity = 64
	cfg.Window.Width, cfg.Window.Height = 64, 32

	app := NewApplicationConfig(cfg, "", path)
	app.FrameLimit = frames
	e, err := New(app, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		_ = e.Shutdown()
		t.Fatalf("initialize failed: %v", err)
	}
	return e
}

func TestNewRequiresScene(t *testing.T) {
	cfg := config.Default()
	if _, err := New(NewApplicationConfig(cfg, "", ""), cfg); err == nil {
		t.Fatal("expected an error without a scene path")
	}
}

func TestRunStopsAtFrameLimit(t *testing.T) {
	e := newHeadlessEngine(t, 4)
	if e.Stage() != EngineStageInitialized {
		t.Fatalf("stage = %d after initialize", e.Stage())
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if st := e.renderer.Stats(); st.Frames != 4 {
		t.Errorf("rendered %d frames, want 4", st.Frames)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if e.renderer != nil || e.device != nil {
		t.Error("shutdown left the renderer or device behind")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	e := newHeadlessEngine(t, 0)
	defer e.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("cancelled run returned %v", err)
	}
}

func TestQuitEventStopsLoop(t *testing.T) {
	e := newHeadlessEngine(t, 0)
	defer e.Shutdown()

	core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := e.renderer.Stats(); st.Frames != 0 {
		t.Errorf("rendered %d frames after quit", st.Frames)
	}
}

func TestReloadKeyRebuildsScene(t *testing.T) {
	e := newHeadlessEngine(t, 2)
	defer e.Shutdown()

	first := e.scene.ID
	changed := false
	id := core.EventRegister(core.EVENT_CODE_SCENE_CHANGED, func(core.EventContext) bool {
		changed = true
		return false
	})
	defer core.EventUnregister(core.EVENT_CODE_SCENE_CHANGED, id)

	core.InputProcessKey(core.KEY_R, true)
	// The reload runs on a worker and is applied between frames.
	deadline := time.Now().Add(5 * time.Second)
	for e.scene.ID == first {
		if time.Now().After(deadline) {
			t.Fatal("scene was not rebuilt")
		}
		e.applyReloads(context.Background())
		time.Sleep(time.Millisecond)
	}
	if !changed {
		t.Error("no scene changed event fired")
	}
}

func TestApplyConfigUpdatesLiveFields(t *testing.T) {
	e := newHeadlessEngine(t, 1)
	defer e.Shutdown()

	cfg := config.Default()
	cfg.Camera.Sensitivity = 0.5
	cfg.Log.Level = "warn"
	e.applyConfig(cfg)

	if e.camera.Sensitivity != 0.5 {
		t.Errorf("sensitivity = %g, want 0.5", e.camera.Sensitivity)
	}
	if core.GetLogLevel() != cfg.LogLevel() {
		t.Errorf("log level = %v, want %v", core.GetLogLevel(), cfg.LogLevel())
	}
	core.SetLogLevel(config.Default().LogLevel())
}
