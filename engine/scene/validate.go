package scene

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/pensieve/engine/core"
)

// Validate checks every cross reference in s so that building GPU resources
// from it cannot index out of range. All problems are reported at once.
func Validate(s *SceneData) error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for i, t := range s.Textures {
		if t.Width == 0 || t.Height == 0 {
			add("texture %d has zero size %dx%d", i, t.Width, t.Height)
			continue
		}
		if want := uint64(t.Width) * uint64(t.Height) * 4; uint64(len(t.Bytes)) != want {
			add("texture %d has %d bytes, expected %d", i, len(t.Bytes), want)
		}
	}

	names := [5]string{"base color", "metallic", "roughness", "emission", "normal"}
	for i := range s.Materials {
		for j, idx := range s.Materials[i].Maps() {
			if idx != nil && int(*idx) >= len(s.Textures) {
				add("material %d %s map references texture %d of %d", i, names[j], *idx, len(s.Textures))
			}
		}
	}

	for i := range s.Meshes {
		errs = append(errs, validateMesh(i, &s.Meshes[i], len(s.Materials))...)
	}

	for i, n := range s.Nodes {
		for _, mi := range n.MeshIndices {
			if int(mi) >= len(s.Meshes) {
				add("node %d references mesh %d of %d", i, mi, len(s.Meshes))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrSceneInvalid, errors.Join(errs...))
	}
	return nil
}

func validateMesh(i int, m *MeshData, materialCount int) []error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("mesh %d: "+format, append([]interface{}{i}, args...)...))
	}

	vertCount := len(m.Positions)
	if vertCount == 0 {
		add("has no vertices")
	}
	if len(m.Normals) != vertCount {
		add("has %d normals for %d vertices", len(m.Normals), vertCount)
	}
	if m.HasTangents() && len(m.Tangents) != vertCount {
		add("has %d tangents for %d vertices", len(m.Tangents), vertCount)
	}
	if m.HasUVs() && len(m.UVs) != vertCount {
		add("has %d uvs for %d vertices", len(m.UVs), vertCount)
	}
	if int(m.MaterialIndex) >= materialCount {
		add("references material %d of %d", m.MaterialIndex, materialCount)
	}

	indexCount := m.VertexIndexCount()
	for k := uint32(0); k < indexCount; k++ {
		if v := m.VertexIndex(k); int(v) >= vertCount {
			add("vertex index %d is %d, out of %d vertices", k, v, vertCount)
			break
		}
	}

	for k, ml := range m.Meshlets {
		if ml.VertCount > MaxMeshletVertices || ml.PrimCount > MaxMeshletPrimitives {
			add("meshlet %d has %d vertices and %d primitives, limits are %d and %d",
				k, ml.VertCount, ml.PrimCount, MaxMeshletVertices, MaxMeshletPrimitives)
			continue
		}
		if uint64(ml.VertOffset)+uint64(ml.VertCount) > uint64(indexCount) {
			add("meshlet %d vertex range [%d, %d) exceeds %d vertex indices",
				k, ml.VertOffset, ml.VertOffset+ml.VertCount, indexCount)
			continue
		}
		if uint64(ml.PrimOffset)+uint64(ml.PrimCount) > uint64(len(m.TriangleIndices)) {
			add("meshlet %d primitive range [%d, %d) exceeds %d triangles",
				k, ml.PrimOffset, ml.PrimOffset+ml.PrimCount, len(m.TriangleIndices))
			continue
		}
		for _, tri := range m.TriangleIndices[ml.PrimOffset : ml.PrimOffset+ml.PrimCount] {
			i0, i1, i2 := tri.Indices()
			if i0 >= ml.VertCount || i1 >= ml.VertCount || i2 >= ml.VertCount {
				add("meshlet %d triangle (%d, %d, %d) exceeds %d local vertices", k, i0, i1, i2, ml.VertCount)
				break
			}
		}
	}
	return errs
}
