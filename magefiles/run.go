//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

const sampleScene = "assets/scenes/quad.pensieve"

type Run mg.Namespace

// Compiles the shaders and renders the sample scene.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	if _, err := os.Stat(sampleScene); err != nil {
		if err := writeSample(); err != nil {
			return err
		}
	}
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", sampleScene), withStream())
	return err
}

// Renders the sample scene on the headless device for a short smoke test.
func (Run) Headless() error {
	if err := writeSample(); err != nil {
		return err
	}
	cfg, err := os.CreateTemp("", "pensieve-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(cfg.Name())
	if _, err := cfg.WriteString("[renderer]\nbackend = \"headless\"\ndescriptor_capacity = 1024\n"); err != nil {
		cfg.Close()
		return err
	}
	if err := cfg.Close(); err != nil {
		return err
	}
	_, err = executeCmd("go",
		withArgs("run", ".", sampleScene),
		withEnv("PENSIEVE_CONFIG="+cfg.Name(), "PENSIEVE_FRAMES=120"),
		withStream(),
	)
	return err
}
