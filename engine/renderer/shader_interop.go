package renderer

import (
	"encoding/binary"

	"github.com/spaghettifunk/pensieve/engine/math"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

// The records below are read by assets/shaders/meshlet.vert and must keep
// the same layout (std140/std430 compatible, 16-byte rows).

// InvalidIndex marks an absent texture map in a MaterialRecord.
const InvalidIndex uint32 = 0xFFFFFFFF

const (
	MaterialRecordSize = 64
	InstanceRecordSize = 128
	DrawParamsSize     = 112
	MeshletRecordSize  = 16
)

type MaterialRecord struct {
	BaseColor     [3]float32
	Metallic      float32
	EmissionColor [3]float32
	Roughness     float32
	BaseColorMap  uint32
	MetallicMap   uint32
	RoughnessMap  uint32
	EmissionMap   uint32
	NormalMap     uint32
	_             [3]uint32
}

// InstanceRecord carries one node's world transform and its inverse
// transpose, which keeps normals correct under non-uniform scale.
type InstanceRecord struct {
	World        [16]float32
	NormalMatrix [16]float32
}

/**
 * @brief Per-mesh draw data, rewritten every frame. Holds the camera matrix
 * and the descriptor slots of every buffer the meshlet shader reads.
 */
type DrawParams struct {
	ViewProj       [16]float32
	PositionBuf    uint32
	NormalBuf      uint32
	TangentBuf     uint32
	UVBuf          uint32
	VertexIndexBuf uint32
	PrimIndexBuf   uint32
	MeshletBuf     uint32
	InstanceBuf    uint32
	MaterialBuf    uint32
	MeshletCount   uint32
	InstanceCount  uint32
	_              uint32
}

func newMaterialRecord(m *scene.MaterialData, textureSlots []uint32) MaterialRecord {
	resolve := func(idx *uint32) uint32 {
		if idx == nil {
			return InvalidIndex
		}
		return textureSlots[*idx]
	}
	return MaterialRecord{
		BaseColor:     m.BaseColor,
		Metallic:      m.Metallic,
		EmissionColor: m.EmissionColor,
		Roughness:     m.Roughness,
		BaseColorMap:  resolve(m.BaseColorMap),
		MetallicMap:   resolve(m.MetallicMap),
		RoughnessMap:  resolve(m.RoughnessMap),
		EmissionMap:   resolve(m.EmissionMap),
		NormalMap:     resolve(m.NormalMap),
	}
}

func newInstanceRecord(world math.Mat4) InstanceRecord {
	return InstanceRecord{
		World:        world.Data,
		NormalMatrix: world.InverseTranspose().Data,
	}
}

// encodeRecord serializes a fixed-size record in GPU byte order.
func encodeRecord(dst []byte, v any) error {
	_, err := binary.Encode(dst, binary.LittleEndian, v)
	return err
}

func recordBytes(v any) []byte {
	buf := make([]byte, binary.Size(v))
	_ = encodeRecord(buf, v)
	return buf
}
