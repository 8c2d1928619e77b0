package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/pensieve/engine/scene"
)

func TestRunWithoutArgumentsPrintsUsage(t *testing.T) {
	if code := run(nil); code != 0 {
		t.Fatalf("exit code %d, want 0", code)
	}
}

func TestRunFailsOnMissingScene(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pensieve.toml")
	if err := os.WriteFile(cfgPath, []byte("[renderer]\nbackend = \"headless\"\ndescriptor_capacity = 64\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PENSIEVE_CONFIG", cfgPath)

	if code := run([]string{filepath.Join(dir, "missing.pensieve")}); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
}

func TestRunFailsOnBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pensieve.toml")
	if err := os.WriteFile(cfgPath, []byte("[renderer]\nbackend = \"gl\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PENSIEVE_CONFIG", cfgPath)

	scenePath := filepath.Join(dir, "quad.pensieve")
	if err := scene.Save(scenePath, scene.Quad()); err != nil {
		t.Fatal(err)
	}
	if code := run([]string{scenePath}); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
}

func TestRunRendersHeadless(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pensieve.toml")
	if err := os.WriteFile(cfgPath, []byte("[renderer]\nbackend = \"headless\"\ndescriptor_capacity = 64\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PENSIEVE_CONFIG", cfgPath)
	t.Setenv("PENSIEVE_FRAMES", "3")

	scenePath := filepath.Join(dir, "quad.pensieve")
	if err := scene.Save(scenePath, scene.Quad()); err != nil {
		t.Fatal(err)
	}
	if code := run([]string{scenePath}); code != 0 {
		t.Fatalf("exit code %d, want 0", code)
	}
}
