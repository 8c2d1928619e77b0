package assets

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/pensieve/engine/scene"
)

func writeSPIRV(t *testing.T, path string, words ...uint32) {
	t.Helper()
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAssetTypeFromPath(t *testing.T) {
	tests := map[string]AssetType{
		"quad.pensieve":    AssetTypeScene,
		"a/b/c.scene":      AssetTypeScene,
		"meshlet.vert.spv": AssetTypeShader,
		"pensieve.toml":    AssetTypeNone,
	}
	for path, want := range tests {
		if got := AssetTypeFromPath(path); got != want {
			t.Errorf("AssetTypeFromPath(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestLoadShader(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.spv")
	writeSPIRV(t, good, 0x07230203, 0x00010000, 7)

	am := NewAssetManager()
	defer am.Close()

	code, err := am.LoadShader(good)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(code) != 3 || code[0] != 0x07230203 || code[2] != 7 {
		t.Fatalf("unexpected words %#v", code)
	}

	t.Run("bad magic", func(t *testing.T) {
		path := filepath.Join(dir, "bad.spv")
		writeSPIRV(t, path, 0xdeadbeef)
		if _, err := am.LoadShader(path); err == nil {
			t.Fatal("expected an error for a bad magic number")
		}
	})
	t.Run("odd size", func(t *testing.T) {
		path := filepath.Join(dir, "odd.spv")
		if err := os.WriteFile(path, []byte{3, 2, 35, 7, 1}, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := am.LoadShader(path); err == nil {
			t.Fatal("expected an error for a truncated module")
		}
	})
}

func TestLoadSceneKeepsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quad.pensieve")
	if err := scene.Save(path, scene.Quad()); err != nil {
		t.Fatal(err)
	}

	am := NewAssetManager()
	defer am.Close()

	data, id, err := am.LoadScene(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(data.Meshes) != 1 || len(data.Textures) != 1 {
		t.Fatalf("unexpected scene: %d meshes, %d textures", len(data.Meshes), len(data.Textures))
	}

	_, again, err := am.LoadScene(path)
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Fatalf("reloading changed the id from %s to %s", id, again)
	}

	asset, ok := am.Get(id)
	if !ok || asset.Type != AssetTypeScene {
		t.Fatalf("Get(%s) = %+v, %v", id, asset, ok)
	}
}

func TestLoadUnknownType(t *testing.T) {
	am := NewAssetManager()
	defer am.Close()
	if _, err := am.Load("pensieve.toml", AssetTypeNone); err == nil {
		t.Fatal("expected an error for an unknown asset type")
	}
}

func TestWatchReloadsScene(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quad.pensieve")
	if err := scene.Save(path, scene.Quad()); err != nil {
		t.Fatal(err)
	}

	am := NewAssetManager()
	defer am.Close()
	_, id, err := am.LoadScene(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := am.Watch(); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	changed := scene.Quad()
	changed.Nodes = append(changed.Nodes, changed.Nodes[0])
	if err := scene.Save(path, changed); err != nil {
		t.Fatal(err)
	}

	select {
	case asset := <-am.Reloads:
		if asset.ID != id {
			t.Errorf("reloaded asset has id %s, want %s", asset.ID, id)
		}
		data := asset.Data.(*scene.SceneData)
		if len(data.Nodes) != 2 {
			t.Errorf("reloaded scene has %d nodes, want 2", len(data.Nodes))
		}
	case err := <-am.Errors:
		t.Fatalf("reload failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reload")
	}
}
