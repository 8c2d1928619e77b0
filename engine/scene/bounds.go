package scene

import (
	"github.com/spaghettifunk/pensieve/engine/math"
)

// Bounds returns the world-space box around every instanced mesh. ok is
// false when no node references a mesh with vertices.
func Bounds(s *SceneData) (box math.Extents3D, ok bool) {
	for _, n := range s.Nodes {
		world := math.Mat4FromF32(n.Transform)
		for _, mi := range n.MeshIndices {
			if int(mi) >= len(s.Meshes) {
				continue
			}
			for _, p := range s.Meshes[mi].Positions {
				v := math.Vec3FromF32(p).Transform(world)
				if !ok {
					box.Min, box.Max, ok = v, v, true
					continue
				}
				box.Min = box.Min.Min(v)
				box.Max = box.Max.Max(v)
			}
		}
	}
	return box, ok
}

// Center and Radius describe the bounding sphere enclosing box.
func Center(box math.Extents3D) math.Vec3 {
	return box.Min.Add(box.Max).MulScalar(0.5)
}

func Radius(box math.Extents3D) float32 {
	return box.Max.Sub(box.Min).Length() * 0.5
}
