//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

const (
	shaderDir = "assets/shaders"
	binary    = "bin/pensieve"
)

var shaderSources = []string{"meshlet.vert", "meshlet.frag"}

type Build mg.Namespace

// Compiles the GLSL sources under assets/shaders to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the pensieve binary into bin/.
func (Build) Binary() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", binary, "."), withStream())
	return err
}

func buildShaders() error {
	// SPIR-V lands next to each source, where the engine looks for it.
	for _, src := range shaderSources {
		if _, err := executeCmd("glslc",
			withArgs("--target-env=vulkan1.0", src, "-o", src+".spv"),
			withDir(shaderDir),
			withStream(),
		); err != nil {
			return fmt.Errorf("failed to compile %s: %w", filepath.Join(shaderDir, src), err)
		}
	}
	return nil
}
