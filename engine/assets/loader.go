package assets

import "path/filepath"

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeScene
	AssetTypeShader
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeScene:
		return "scene"
	case AssetTypeShader:
		return "shader"
	default:
		return "none"
	}
}

// Loader reads one asset type from disk. The returned value is stored as
// Asset.Data, so each loader documents its concrete type.
type Loader interface {
	Load(path string) (any, error)
}

// AssetTypeFromPath guesses the asset type from the file extension.
func AssetTypeFromPath(path string) AssetType {
	switch filepath.Ext(path) {
	case ".pensieve", ".scene":
		return AssetTypeScene
	case ".spv":
		return AssetTypeShader
	default:
		return AssetTypeNone
	}
}
