package scene

import (
	"encoding/binary"

	"github.com/spaghettifunk/pensieve/engine/math"
	"golang.org/x/image/math/f32"
)

// Quad returns a small self-contained scene: one 2x2 checker texture, one
// material sampling it as base color, and a single-meshlet quad with UVs
// referenced by one node at the origin.
func Quad() *SceneData {
	checker := []byte{
		255, 255, 255, 255, 0, 0, 0, 255,
		0, 0, 0, 255, 255, 255, 255, 255,
	}

	vertexIndices := make([]byte, 4*4)
	for i := uint32(0); i < 4; i++ {
		binary.LittleEndian.PutUint32(vertexIndices[i*4:], i)
	}

	return &SceneData{
		Textures: []TextureData{{Width: 2, Height: 2, Bytes: checker}},
		Materials: []MaterialData{{
			BaseColor:     f32.Vec3{1, 1, 1},
			Metallic:      0,
			Roughness:     0.5,
			EmissionColor: f32.Vec3{0, 0, 0},
			BaseColorMap:  Uint32(0),
		}},
		Meshes: []MeshData{{
			Positions: []f32.Vec4{
				{-1, -1, 0, 1},
				{1, -1, 0, 1},
				{1, 1, 0, 1},
				{-1, 1, 0, 1},
			},
			Normals: []f32.Vec4{
				{0, 0, -1, 0},
				{0, 0, -1, 0},
				{0, 0, -1, 0},
				{0, 0, -1, 0},
			},
			UVs: []f32.Vec2{{0, 1}, {1, 1}, {1, 0}, {0, 0}},
			Meshlets: []MeshletData{
				{VertCount: 4, VertOffset: 0, PrimCount: 2, PrimOffset: 0},
			},
			VertexIndices:   vertexIndices,
			TriangleIndices: []TriangleIndex{PackTriangle(0, 2, 1), PackTriangle(0, 3, 2)},
			MaterialIndex:   0,
		}},
		Nodes: []NodeData{{
			MeshIndices: []uint32{0},
			Transform:   IdentityTransform(),
		}},
	}
}

// Grid returns the Quad scene instanced columns x rows times on the XY
// plane, each copy turned a little further around Y.
func Grid(columns, rows uint32) *SceneData {
	s := Quad()
	s.Nodes = s.Nodes[:0]
	step := float32(2.5)
	turn := math.DegToRad(15)
	for r := uint32(0); r < rows; r++ {
		for c := uint32(0); c < columns; c++ {
			t := math.TransformFromPositionRotationScale(
				math.NewVec3(float32(c)*step, float32(r)*step, 0),
				math.NewQuatFromAxisAngle(math.NewVec3Up(), turn*float32(r*columns+c), true),
				math.NewVec3One(),
			)
			s.Nodes = append(s.Nodes, NodeData{
				MeshIndices: []uint32{0},
				Transform:   t.GetWorld().F32(),
			})
		}
	}
	return s
}
