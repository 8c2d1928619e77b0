package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/pensieve/engine/assets"
	"github.com/spaghettifunk/pensieve/engine/config"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/math"
	"github.com/spaghettifunk/pensieve/engine/platform"
	"github.com/spaghettifunk/pensieve/engine/renderer"
	"github.com/spaghettifunk/pensieve/engine/renderer/components"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
	"github.com/spaghettifunk/pensieve/engine/renderer/headless"
	"github.com/spaghettifunk/pensieve/engine/renderer/vulkan"
	"github.com/spaghettifunk/pensieve/engine/scene"
	"github.com/spaghettifunk/pensieve/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const (
	vertexShaderFile   = "meshlet.vert.spv"
	fragmentShaderFile = "meshlet.frag.spv"

	// How often frame metrics are logged.
	statsInterval = 5.0
	// Poll interval while the window is minimized.
	suspendedPoll = 50 * time.Millisecond
)

type Engine struct {
	currentStage Stage
	appConfig    *ApplicationConfig
	cfg          *config.Config

	isSuspended  bool
	reloadScene  bool
	reframeScene bool

	window   platform.Window
	device   gpu.Device
	renderer *renderer.Renderer

	scene       *renderer.GpuScene
	sceneID     uuid.UUID
	sceneBounds math.Extents3D
	hasBounds   bool
	camera      *components.Camera

	assetManager  *assets.AssetManager
	configWatcher *config.Watcher
	jobs          *systems.JobSystem
	events        map[core.EventCode]uint64

	clock     *core.Clock
	metrics   *core.Metrics
	lastStats float64
}

func New(app *ApplicationConfig, cfg *config.Config) (*Engine, error) {
	if app.ScenePath == "" {
		return nil, errors.New("no scene file given")
	}
	// One worker keeps scene loads off the frame loop and in request order.
	jobs, err := systems.NewJobSystem(1, 4)
	if err != nil {
		return nil, err
	}
	return &Engine{
		jobs:         jobs,
		currentStage: EngineStageUninitialized,
		appConfig:    app,
		cfg:          cfg,
		assetManager: assets.NewAssetManager(),
		events:       make(map[core.EventCode]uint64),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		camera: components.NewCamera(cfg.Camera.FovDegrees, cfg.Camera.Near, cfg.Camera.Far,
			cfg.Camera.Distance, cfg.Camera.Sensitivity),
	}, nil
}

// Initialize opens the window and the device, creates the renderer and
// uploads the scene. Anything created before a failure is released by
// Shutdown.
func (e *Engine) Initialize(ctx context.Context) error {
	e.currentStage = EngineStageInitializing
	core.SetLogLevel(e.appConfig.LogLevel)

	if err := core.InputInitialize(); err != nil {
		return err
	}
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}
	e.events[core.EVENT_CODE_APPLICATION_QUIT] = core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	e.events[core.EVENT_CODE_KEY_PRESSED] = core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	e.events[core.EVENT_CODE_RESIZED] = core.EventRegister(core.EVENT_CODE_RESIZED, e.onResized)

	if err := e.openDevice(); err != nil {
		return err
	}

	opts := renderer.OptionsFromConfig(e.cfg, e.appConfig.StartWidth, e.appConfig.StartHeight)
	opts.Width, opts.Height = e.window.Size()
	if e.cfg.Renderer.Backend == config.BackendVulkan {
		var err error
		dir := e.cfg.Renderer.ShaderDir
		if opts.VertexSPIRV, err = e.assetManager.LoadShader(filepath.Join(dir, vertexShaderFile)); err != nil {
			return fmt.Errorf("failed to load vertex shader: %w", err)
		}
		if opts.FragmentSPIRV, err = e.assetManager.LoadShader(filepath.Join(dir, fragmentShaderFile)); err != nil {
			return fmt.Errorf("failed to load fragment shader: %w", err)
		}
	}

	r, err := renderer.Create(e.device, opts)
	if err != nil {
		return err
	}
	e.renderer = r

	data, id, err := e.assetManager.LoadScene(e.appConfig.ScenePath)
	if err != nil {
		return err
	}
	if e.scene, err = e.renderer.BuildScene(ctx, data); err != nil {
		return err
	}
	e.sceneID = id
	e.setBounds(data)
	e.frameScene()

	if e.cfg.Assets.Watch {
		if err := e.assetManager.Watch(); err != nil {
			core.LogWarn("scene hot reload disabled: %s", err)
		}
	}
	if e.appConfig.ConfigPath != "" {
		if e.configWatcher, err = config.Watch(e.appConfig.ConfigPath); err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) openDevice() error {
	switch e.cfg.Renderer.Backend {
	case config.BackendHeadless:
		e.window = platform.NewOffscreen(e.appConfig.StartWidth, e.appConfig.StartHeight)
		e.device = headless.New(headless.Options{Name: e.appConfig.Name})
		return nil
	case config.BackendVulkan:
		w, err := platform.NewGlfwWindow(e.cfg.Window)
		if err != nil {
			return err
		}
		e.window = w
		d, err := vulkan.Open(vulkan.Options{
			ApplicationName: e.appConfig.Name,
			Validation:      e.cfg.Renderer.Validation,
			Window:          w.Handle(),
		})
		if err != nil {
			return err
		}
		e.device = d
		return nil
	default:
		return fmt.Errorf("unknown renderer backend %q", e.cfg.Renderer.Backend)
	}
}

func (e *Engine) setBounds(data *scene.SceneData) {
	e.sceneBounds, e.hasBounds = scene.Bounds(data)
}

func (e *Engine) frameScene() {
	if !e.hasBounds {
		return
	}
	e.camera.Frame(scene.Center(e.sceneBounds), scene.Radius(e.sceneBounds))
}

// Run renders frames until the window closes, ctx is cancelled or the frame
// limit is reached. Cancellation is a clean stop.
func (e *Engine) Run(ctx context.Context) error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	lastTime := e.clock.Elapsed()

	for !e.window.ShouldClose() {
		if ctx.Err() != nil {
			return nil
		}
		e.window.PollEvents()
		e.applyReloads(ctx)

		if e.isSuspended {
			time.Sleep(suspendedPoll)
			continue
		}
		if e.window.WasResized() {
			w, h := e.window.Size()
			if err := e.renderer.Resize(ctx, w, h); err != nil {
				return e.stopped(ctx, err)
			}
		}
		if e.reframeScene {
			e.reframeScene = false
			e.frameScene()
		}

		dx, dy := e.window.MouseDelta()
		e.camera.Update(components.CameraInput{
			DeltaX:     dx,
			DeltaY:     dy,
			Wheel:      e.window.MouseWheelDelta(),
			Hovered:    e.window.IsMouseHovered(),
			LeftDown:   e.window.IsLeftButtonDown(),
			MiddleDown: e.window.IsMiddleButtonDown(),
		})

		if err := e.renderer.DrawFrame(ctx, e.scene, e.camera); err != nil {
			return e.stopped(ctx, err)
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		e.metrics.Update(currentTime - lastTime)
		lastTime = currentTime
		if currentTime-e.lastStats >= statsInterval {
			e.lastStats = currentTime
			e.logStats()
		}

		if limit := e.appConfig.FrameLimit; limit > 0 && e.metrics.TotalFrames() >= limit {
			core.LogInfo("frame limit of %d reached", limit)
			return nil
		}
	}
	return nil
}

// stopped turns a frame error into the loop's result. A cancelled context
// only interrupted a wait.
func (e *Engine) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	core.LogError("frame %d failed: %s", e.metrics.TotalFrames(), err)
	return err
}

func (e *Engine) logStats() {
	fps, frameTime := e.metrics.Frame()
	st := e.renderer.Stats()
	core.LogDebug("%.0f fps, %.2f ms/frame, fence %d/%d, descriptors %d/%d, %d pending frees",
		fps, frameTime, st.CompletedValue, st.FenceValue, st.DescriptorsInUse, st.DescriptorCapacity, st.PendingFrees)
}

// applyReloads swaps in reloaded scenes and applies the live fields of a
// reloaded configuration. Both happen between frames.
func (e *Engine) applyReloads(ctx context.Context) {
	if e.reloadScene {
		e.reloadScene = false
		path := e.appConfig.ScenePath
		e.jobs.AddWorkNonBlocking(systems.JobTask{
			Name: "load " + path,
			OnStart: func() (any, error) {
				data, _, err := e.assetManager.LoadScene(path)
				return data, err
			},
			OnComplete: func(result any) { e.replaceScene(ctx, result.(*scene.SceneData)) },
		})
	}
	e.jobs.Update()

	select {
	case asset := <-e.assetManager.Reloads:
		if asset.ID == e.sceneID {
			e.replaceScene(ctx, asset.Data.(*scene.SceneData))
		}
	default:
	}

	if e.configWatcher == nil {
		return
	}
	select {
	case cfg := <-e.configWatcher.Configs:
		e.applyConfig(cfg)
	default:
	}
}

func (e *Engine) replaceScene(ctx context.Context, data *scene.SceneData) {
	s, err := e.renderer.ReplaceScene(ctx, e.scene, data)
	if err != nil {
		core.LogError("failed to rebuild scene, keeping the previous one: %s", err)
		return
	}
	e.scene = s
	e.setBounds(data)
	core.LogInfo("scene %s rebuilt with %d descriptors", s.ID, s.DescriptorCount())
	core.EventFire(core.EventContext{
		Type: core.EVENT_CODE_SCENE_CHANGED,
		Data: &core.SceneEvent{Path: e.appConfig.ScenePath},
	})
}

func (e *Engine) applyConfig(cfg *config.Config) {
	old := e.cfg
	e.cfg = cfg

	e.renderer.SetClearColor(cfg.Renderer.ClearColor)
	e.camera.Sensitivity = cfg.Camera.Sensitivity
	core.SetLogLevel(cfg.LogLevel())

	if cfg.Window != old.Window || cfg.Renderer.Backend != old.Renderer.Backend ||
		cfg.Renderer.DescriptorCapacity != old.Renderer.DescriptorCapacity ||
		cfg.Renderer.MaxGpuQueuedFrames != old.Renderer.MaxGpuQueuedFrames ||
		cfg.Renderer.SwapChainBuffers != old.Renderer.SwapChainBuffers ||
		cfg.Renderer.VSync != old.Renderer.VSync {
		core.LogWarn("window and renderer settings other than clear_color take effect on restart")
	}
	core.LogInfo("configuration applied")
}

// Stop asks the loop to exit after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	if e.window != nil {
		e.window.Close()
	}
}

// Shutdown waits for the GPU to finish and releases everything in reverse
// creation order.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error

	if e.configWatcher != nil {
		errs = append(errs, e.configWatcher.Close())
	}
	errs = append(errs, e.jobs.Shutdown(), e.assetManager.Close())

	if e.renderer != nil {
		if err := e.renderer.Idle(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain the GPU: %w", err))
		}
		if e.scene != nil {
			e.scene.Destroy()
			e.scene = nil
		}
		e.renderer.Destroy()
		e.renderer = nil
	}
	if e.device != nil {
		e.device.Release()
		e.device = nil
	}
	if e.window != nil {
		e.window.Destroy()
	}

	for code, id := range e.events {
		core.EventUnregister(code, id)
	}
	errs = append(errs, core.EventSystemShutdown(), core.InputShutdown())
	e.currentStage = EngineStageUninitialized
	return errors.Join(errs...)
}

// Stage reports where the engine is in its lifecycle.
func (e *Engine) Stage() Stage { return e.currentStage }

func (e *Engine) onEvent(context core.EventContext) bool {
	if context.Type == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	}
	return false
}

func (e *Engine) onKey(context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}

	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		return true
	case core.KEY_F:
		e.reframeScene = true
		return true
	case core.KEY_R:
		e.reloadScene = true
		return true
	}
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	se, ok := context.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	core.LogDebug("Window resize: %d, %d", se.WindowWidth, se.WindowHeight)

	// Handle minimization
	if se.WindowWidth == 0 || se.WindowHeight == 0 {
		if !e.isSuspended {
			core.LogInfo("Window minimized, suspending application.")
		}
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	return false
}
