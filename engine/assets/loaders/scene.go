package loaders

import (
	"github.com/spaghettifunk/pensieve/engine/scene"
)

// SceneLoader reads and validates a pensieve scene file. Data is a
// *scene.SceneData.
type SceneLoader struct{}

func (sl *SceneLoader) Load(path string) (any, error) {
	data, err := scene.Load(path)
	if err != nil {
		return nil, err
	}
	if err := scene.Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}
