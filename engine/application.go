package engine

import (
	"github.com/spaghettifunk/pensieve/engine/config"
	"github.com/spaghettifunk/pensieve/engine/core"
)

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel core.LogLevel
	// Scene file to render.
	ScenePath string
	// Configuration file watched for live changes; empty disables watching.
	ConfigPath string
	// Stop after this many frames; zero runs until the window closes.
	FrameLimit uint64
}

func NewApplicationConfig(cfg *config.Config, configPath, scenePath string) *ApplicationConfig {
	return &ApplicationConfig{
		StartPosX:   cfg.Window.X,
		StartPosY:   cfg.Window.Y,
		StartWidth:  cfg.Window.Width,
		StartHeight: cfg.Window.Height,
		Name:        cfg.Window.Title,
		LogLevel:    cfg.LogLevel(),
		ScenePath:   scenePath,
		ConfigPath:  configPath,
	}
}
