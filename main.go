/*
pensieve renders a scene file with the bindless meshlet renderer.

	pensieve <path-to-scene-file>

The runtime configuration is read from pensieve.toml in the working
directory, or from the file named by PENSIEVE_CONFIG. PENSIEVE_FRAMES, when
set, stops the viewer after that many frames.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spaghettifunk/pensieve/engine"
	"github.com/spaghettifunk/pensieve/engine/config"
	"github.com/spaghettifunk/pensieve/engine/core"
)

const defaultConfigPath = "pensieve.toml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Println("Usage: pensieve <path-to-scene-file>")
		return 0
	}

	configPath := os.Getenv("PENSIEVE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if _, err := os.Stat(configPath); err != nil {
		// Nothing to watch.
		configPath = ""
	}

	app := engine.NewApplicationConfig(cfg, configPath, args[0])
	if frames := os.Getenv("PENSIEVE_FRAMES"); frames != "" {
		if app.FrameLimit, err = strconv.ParseUint(frames, 10, 64); err != nil {
			fmt.Fprintf(os.Stderr, "invalid PENSIEVE_FRAMES: %s\n", err)
			return 1
		}
	}

	e, err := engine.New(app, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-done:
		}
	}()

	code := 0
	if err := e.Initialize(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	} else if err := e.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
		code = 1
	}
	return code
}
