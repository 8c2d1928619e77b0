//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

// Runs the unit tests with the race detector.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Writes the built-in quad scene to assets/scenes/quad.pensieve and a grid
// of quads next to it.
func Sample() error {
	if err := writeSample(); err != nil {
		return err
	}
	return scene.Save(filepath.Join(filepath.Dir(sampleScene), "grid.pensieve"), scene.Grid(8, 8))
}

func writeSample() error {
	if err := os.MkdirAll(filepath.Dir(sampleScene), 0o755); err != nil {
		return err
	}
	if mg.Verbose() {
		fmt.Println("writing", sampleScene)
	}
	return scene.Save(sampleScene, scene.Quad())
}
