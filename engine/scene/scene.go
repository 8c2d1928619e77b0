package scene

import (
	"encoding/binary"

	"golang.org/x/image/math/f32"
)

const (
	// MaxMeshletVertices and MaxMeshletPrimitives bound a single meshlet.
	MaxMeshletVertices   = 128
	MaxMeshletPrimitives = 256
)

/** @brief RGBA8 pixels, row-major, four bytes per texel. */
type TextureData struct {
	Width  uint32
	Height uint32
	Bytes  []byte
}

/**
 * @brief Surface parameters of a material. A nil map index means the
 * material has no texture for that channel.
 */
type MaterialData struct {
	BaseColor     f32.Vec3
	Metallic      float32
	Roughness     float32
	EmissionColor f32.Vec3

	BaseColorMap *uint32
	MetallicMap  *uint32
	RoughnessMap *uint32
	EmissionMap  *uint32
	NormalMap    *uint32
}

// Maps returns the five optional texture indices in file order.
func (m *MaterialData) Maps() [5]*uint32 {
	return [5]*uint32{m.BaseColorMap, m.MetallicMap, m.RoughnessMap, m.EmissionMap, m.NormalMap}
}

type MeshletData struct {
	VertCount  uint32
	VertOffset uint32
	PrimCount  uint32
	PrimOffset uint32
}

// TriangleIndex packs three meshlet-local vertex indices in 10 bits each.
type TriangleIndex uint32

func PackTriangle(i0, i1, i2 uint32) TriangleIndex {
	return TriangleIndex(i0&0x3FF | (i1&0x3FF)<<10 | (i2&0x3FF)<<20)
}

func (t TriangleIndex) Indices() (uint32, uint32, uint32) {
	v := uint32(t)
	return v & 0x3FF, (v >> 10) & 0x3FF, (v >> 20) & 0x3FF
}

type MeshData struct {
	Positions []f32.Vec4
	Normals   []f32.Vec4
	// Tangents and UVs are optional and either empty or one per vertex.
	Tangents []f32.Vec4
	UVs      []f32.Vec2

	Meshlets []MeshletData
	// VertexIndices is a little-endian u32 table addressed by meshlet VertOffset.
	VertexIndices   []byte
	TriangleIndices []TriangleIndex
	MaterialIndex   uint32
}

func (m *MeshData) HasTangents() bool { return len(m.Tangents) > 0 }

func (m *MeshData) HasUVs() bool { return len(m.UVs) > 0 }

// VertexIndexCount is the number of whole u32 entries in VertexIndices.
func (m *MeshData) VertexIndexCount() uint32 {
	return uint32(len(m.VertexIndices) / 4)
}

func (m *MeshData) VertexIndex(i uint32) uint32 {
	return binary.LittleEndian.Uint32(m.VertexIndices[i*4:])
}

/**
 * @brief A node references meshes and carries its world transform.
 * Transforms use the row-vector convention, translation in elements 12..14.
 */
type NodeData struct {
	MeshIndices []uint32
	Transform   f32.Mat4
}

type SceneData struct {
	Textures  []TextureData
	Materials []MaterialData
	Meshes    []MeshData
	Nodes     []NodeData
}

// InstanceCounts returns how many node references each mesh has.
func (s *SceneData) InstanceCounts() []uint32 {
	counts := make([]uint32, len(s.Meshes))
	for _, n := range s.Nodes {
		for _, mi := range n.MeshIndices {
			if int(mi) < len(counts) {
				counts[mi]++
			}
		}
	}
	return counts
}

// IdentityTransform is the f32 identity matrix.
func IdentityTransform() f32.Mat4 {
	return f32.Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Uint32 returns a pointer to v, for optional material map indices.
func Uint32(v uint32) *uint32 {
	return &v
}
