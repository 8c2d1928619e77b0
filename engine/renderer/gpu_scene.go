package renderer

import (
	"github.com/google/uuid"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

// GpuBuffer is a GPU buffer and the descriptor slot of its shader view.
type GpuBuffer struct {
	Buffer gpu.Buffer
	Slot   uint32
}

type GpuTexture struct {
	Texture gpu.Texture
	Slot    uint32
}

type GpuMaterial struct {
	GpuBuffer
}

type GpuMesh struct {
	Positions GpuBuffer
	Normals   GpuBuffer
	// Tangents and UVs are nil when the mesh has no such stream.
	Tangents *GpuBuffer
	UVs      *GpuBuffer

	Meshlets      GpuBuffer
	VertexIndices GpuBuffer
	PrimIndices   GpuBuffer
	Instances     GpuBuffer

	// DrawParams holds one persistently mapped constant buffer per frame in
	// flight so the CPU never rewrites parameters the GPU may still read.
	DrawParams []GpuBuffer
	drawMapped [][]byte

	MaterialSlot  uint32
	MeshletCount  uint32
	InstanceCount uint32
}

func (m *GpuMesh) buffers() []*GpuBuffer {
	out := []*GpuBuffer{&m.Positions, &m.Normals}
	if m.Tangents != nil {
		out = append(out, m.Tangents)
	}
	if m.UVs != nil {
		out = append(out, m.UVs)
	}
	out = append(out, &m.Meshlets, &m.VertexIndices, &m.PrimIndices, &m.Instances)
	for i := range m.DrawParams {
		out = append(out, &m.DrawParams[i])
	}
	return out
}

func slotOrInvalid(b *GpuBuffer) uint32 {
	if b == nil {
		return InvalidIndex
	}
	return b.Slot
}

func (m *GpuMesh) drawParams(viewProj [16]float32) DrawParams {
	return DrawParams{
		ViewProj:       viewProj,
		PositionBuf:    m.Positions.Slot,
		NormalBuf:      m.Normals.Slot,
		TangentBuf:     slotOrInvalid(m.Tangents),
		UVBuf:          slotOrInvalid(m.UVs),
		VertexIndexBuf: m.VertexIndices.Slot,
		PrimIndexBuf:   m.PrimIndices.Slot,
		MeshletBuf:     m.Meshlets.Slot,
		InstanceBuf:    m.Instances.Slot,
		MaterialBuf:    m.MaterialSlot,
		MeshletCount:   m.MeshletCount,
		InstanceCount:  m.InstanceCount,
	}
}

/**
 * @brief The GPU-resident copy of a scene. Every resource holds one
 * descriptor slot; Destroy returns them all to the allocator.
 */
type GpuScene struct {
	ID        uuid.UUID
	Textures  []GpuTexture
	Materials []GpuMaterial
	Meshes    []GpuMesh

	heap        gpu.DescriptorHeap
	descriptors *DescriptorAllocator
	destroyed   bool
}

// Slots lists every descriptor slot the scene holds.
func (s *GpuScene) Slots() []uint32 {
	var out []uint32
	s.each(func(_ gpu.Buffer, _ gpu.Texture, slot uint32, bound bool) {
		if bound {
			out = append(out, slot)
		}
	})
	return out
}

// each visits every resource. bound is false for a resource whose
// descriptor slot was never allocated because construction failed first.
func (s *GpuScene) each(fn func(buf gpu.Buffer, tex gpu.Texture, slot uint32, bound bool)) {
	for _, t := range s.Textures {
		fn(nil, t.Texture, t.Slot, t.Slot != InvalidIndex)
	}
	for _, m := range s.Materials {
		fn(m.Buffer, nil, m.Slot, m.Slot != InvalidIndex)
	}
	for i := range s.Meshes {
		for _, b := range s.Meshes[i].buffers() {
			if b.Buffer == nil {
				continue
			}
			fn(b.Buffer, nil, b.Slot, b.Slot != InvalidIndex)
		}
	}
}

func (s *GpuScene) releaseResources() {
	s.each(func(buf gpu.Buffer, tex gpu.Texture, _ uint32, _ bool) {
		if buf != nil {
			buf.Release()
		}
		if tex != nil {
			tex.Release()
		}
	})
	s.Textures, s.Materials, s.Meshes = nil, nil, nil
}

// retire hands the slots to the allocator for release once the frame fence
// reaches fenceValue. The resources are released later by the renderer.
func (s *GpuScene) retire(fenceValue uint64) {
	for _, slot := range s.Slots() {
		s.descriptors.DeferredFree(slot, fenceValue)
	}
	s.destroyed = true
}

// Destroy releases every resource and descriptor slot immediately. The GPU
// must be idle with respect to this scene.
func (s *GpuScene) Destroy() {
	if s.destroyed {
		return
	}
	for _, slot := range s.Slots() {
		s.heap.Clear(slot)
		s.descriptors.Free(slot)
	}
	s.releaseResources()
	s.destroyed = true
}

// DescriptorCount is the number of slots held by the scene.
func (s *GpuScene) DescriptorCount() int {
	return len(s.Slots())
}
