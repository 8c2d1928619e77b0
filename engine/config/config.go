package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/pensieve/engine/core"
)

const (
	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"

	// DefaultDescriptorCapacity matches the size of the original shader-visible heap.
	DefaultDescriptorCapacity uint32 = 1_000_000
)

type WindowConfig struct {
	Title  string `toml:"title"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
}

type RendererConfig struct {
	Backend            string     `toml:"backend"`
	DescriptorCapacity uint32     `toml:"descriptor_capacity"`
	MaxGpuQueuedFrames uint32     `toml:"max_gpu_queued_frames"`
	SwapChainBuffers   uint32     `toml:"swap_chain_buffers"`
	ClearColor         [4]float32 `toml:"clear_color"`
	VSync              bool       `toml:"vsync"`
	Validation         bool       `toml:"validation"`
	ShaderDir          string     `toml:"shader_dir"`
}

type CameraConfig struct {
	FovDegrees  float32 `toml:"fov_degrees"`
	Near        float32 `toml:"near"`
	Far         float32 `toml:"far"`
	Distance    float32 `toml:"distance"`
	Sensitivity float32 `toml:"sensitivity"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type AssetsConfig struct {
	Watch bool `toml:"watch"`
}

// Config is the runtime configuration read from pensieve.toml.
type Config struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Camera   CameraConfig   `toml:"camera"`
	Log      LogConfig      `toml:"log"`
	Assets   AssetsConfig   `toml:"assets"`
}

func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "Pensieve",
			Width:  1280,
			Height: 720,
			X:      100,
			Y:      100,
		},
		Renderer: RendererConfig{
			Backend:            BackendVulkan,
			DescriptorCapacity: DefaultDescriptorCapacity,
			MaxGpuQueuedFrames: 1,
			SwapChainBuffers:   2,
			ClearColor:         [4]float32{1, 0, 1, 1},
			VSync:              false,
			Validation:         false,
			ShaderDir:          "assets/shaders",
		},
		Camera: CameraConfig{
			FovDegrees:  60,
			Near:        0.1,
			Far:         10000,
			Distance:    5,
			Sensitivity: 0.005,
		},
		Log: LogConfig{
			Level: "info",
		},
		Assets: AssetsConfig{
			Watch: false,
		},
	}
}

// Load reads the file at path on top of the defaults. A missing file is not
// an error and yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		core.LogDebug("config file %s not found, using defaults", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML on top of the defaults and validates the result.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("line %d column %d: %w", row, col, err)
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width == 0 || c.Window.Height == 0 {
		errs = append(errs, fmt.Errorf("window size must be non-zero, got %dx%d", c.Window.Width, c.Window.Height))
	}
	switch c.Renderer.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		errs = append(errs, fmt.Errorf("unknown renderer backend %q", c.Renderer.Backend))
	}
	if c.Renderer.DescriptorCapacity == 0 {
		errs = append(errs, errors.New("descriptor_capacity must be positive"))
	}
	if c.Renderer.MaxGpuQueuedFrames == 0 {
		errs = append(errs, errors.New("max_gpu_queued_frames must be at least 1"))
	}
	if c.Renderer.SwapChainBuffers < 2 {
		errs = append(errs, fmt.Errorf("swap_chain_buffers must be at least 2, got %d", c.Renderer.SwapChainBuffers))
	}
	if c.Camera.Near <= 0 || c.Camera.Far <= c.Camera.Near {
		errs = append(errs, fmt.Errorf("camera clip planes must satisfy 0 < near < far, got near=%g far=%g", c.Camera.Near, c.Camera.Far))
	}
	if c.Camera.FovDegrees <= 0 || c.Camera.FovDegrees >= 180 {
		errs = append(errs, fmt.Errorf("camera fov_degrees must be in (0, 180), got %g", c.Camera.FovDegrees))
	}
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// LogLevel returns the parsed log level. Validate guarantees it parses.
func (c *Config) LogLevel() core.LogLevel {
	lvl, _ := core.ParseLogLevel(c.Log.Level)
	return lvl
}

// MaxFramesInFlight is one more than the number of frames the GPU may queue.
func (c *Config) MaxFramesInFlight() uint32 {
	return c.Renderer.MaxGpuQueuedFrames + 1
}

func (c *Config) String() string {
	var sb strings.Builder
	_ = c.Encode(&sb)
	return sb.String()
}
