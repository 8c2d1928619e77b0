package renderer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/math"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

// minBufferSize keeps empty streams addressable by a view.
const minBufferSize = 16

type BuildErrorKind uint8

const (
	BuildTexture BuildErrorKind = iota
	BuildMaterial
	BuildMesh
	BuildInstance
	BuildDrawParams
)

func (k BuildErrorKind) String() string {
	switch k {
	case BuildTexture:
		return "texture"
	case BuildMaterial:
		return "material"
	case BuildMesh:
		return "mesh"
	case BuildInstance:
		return "instance buffer of mesh"
	case BuildDrawParams:
		return "draw parameters of mesh"
	default:
		return "resource"
	}
}

// BuildError names the scene element whose GPU resources failed to build.
type BuildError struct {
	Kind  BuildErrorKind
	Index int
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to create %s %d: %v", e.Kind, e.Index, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

type SceneBuilder struct {
	device         gpu.Device
	heap           gpu.DescriptorHeap
	descriptors    *DescriptorAllocator
	framesInFlight uint32
}

func NewSceneBuilder(device gpu.Device, heap gpu.DescriptorHeap, descriptors *DescriptorAllocator, framesInFlight uint32) *SceneBuilder {
	return &SceneBuilder{
		device:         device,
		heap:           heap,
		descriptors:    descriptors,
		framesInFlight: framesInFlight,
	}
}

// StagingSize is the largest single transfer the scene needs.
func StagingSize(data *scene.SceneData) uint64 {
	size := uint64(MaterialRecordSize)
	for _, t := range data.Textures {
		size = max(size, uint64(t.Width)*uint64(t.Height)*4)
	}
	instances := data.InstanceCounts()
	for i := range data.Meshes {
		m := &data.Meshes[i]
		verts := uint64(len(m.Positions))
		size = max(size,
			verts*16,
			uint64(len(m.Tangents))*16,
			uint64(len(m.UVs))*8,
			uint64(len(m.Meshlets))*MeshletRecordSize,
			math.AlignUp(uint64(len(m.VertexIndices)), 4),
			uint64(len(m.TriangleIndices))*4,
			uint64(instances[i])*InstanceRecordSize,
		)
	}
	return size
}

/**
 * @brief Validates data and makes it GPU-resident. Textures are uploaded
 * first so materials can reference their descriptor slots, then materials,
 * then every mesh with its instance buffer and draw parameters. On error
 * everything created so far is released and no scene is returned.
 */
func (b *SceneBuilder) Build(ctx context.Context, data *scene.SceneData) (_ *GpuScene, err error) {
	if err := scene.Validate(data); err != nil {
		return nil, err
	}

	uploader, err := NewUploader(b.device, StagingSize(data))
	if err != nil {
		return nil, err
	}
	defer uploader.Destroy()

	s := &GpuScene{
		ID:          uuid.New(),
		Textures:    make([]GpuTexture, 0, len(data.Textures)),
		Materials:   make([]GpuMaterial, 0, len(data.Materials)),
		Meshes:      make([]GpuMesh, 0, len(data.Meshes)),
		heap:        b.heap,
		descriptors: b.descriptors,
	}
	defer func() {
		if err != nil {
			s.Destroy()
		}
	}()

	for i := range data.Textures {
		if err := b.buildTexture(ctx, uploader, s, i, &data.Textures[i]); err != nil {
			return nil, &BuildError{Kind: BuildTexture, Index: i, Err: err}
		}
	}

	textureSlots := make([]uint32, len(s.Textures))
	for i, t := range s.Textures {
		textureSlots[i] = t.Slot
	}
	for i := range data.Materials {
		record := newMaterialRecord(&data.Materials[i], textureSlots)
		s.Materials = append(s.Materials, GpuMaterial{GpuBuffer{Slot: InvalidIndex}})
		err := b.buildBuffer(ctx, uploader, &s.Materials[i].GpuBuffer, gpu.BufferDesc{
			Name:  fmt.Sprintf("material %d", i),
			Usage: gpu.BufferUsageUniform,
		}, recordBytes(&record), 0)
		if err != nil {
			return nil, &BuildError{Kind: BuildMaterial, Index: i, Err: err}
		}
	}

	// Collect every (mesh, node) pairing before any mesh buffer exists.
	instances := make([][]InstanceRecord, len(data.Meshes))
	for _, n := range data.Nodes {
		record := newInstanceRecord(math.Mat4FromF32(n.Transform))
		for _, mi := range n.MeshIndices {
			instances[mi] = append(instances[mi], record)
		}
	}

	for i := range data.Meshes {
		if err := b.buildMesh(ctx, uploader, s, i, &data.Meshes[i], instances[i]); err != nil {
			return nil, err
		}
	}

	core.LogInfo("scene %s resident: %d textures, %d materials, %d meshes, %d descriptors",
		s.ID, len(s.Textures), len(s.Materials), len(s.Meshes), s.DescriptorCount())
	return s, nil
}

func (b *SceneBuilder) buildTexture(ctx context.Context, up *Uploader, s *GpuScene, i int, t *scene.TextureData) error {
	tex, err := b.device.CreateTexture(gpu.TextureDesc{
		Name:         fmt.Sprintf("texture %d", i),
		Width:        t.Width,
		Height:       t.Height,
		Format:       gpu.FormatRGBA8UnormSRGB,
		Usage:        gpu.TextureUsageSampled | gpu.TextureUsageTransferDst,
		InitialState: gpu.StateCopyDest,
	})
	if err != nil {
		return err
	}
	s.Textures = append(s.Textures, GpuTexture{Texture: tex, Slot: InvalidIndex})
	gt := &s.Textures[len(s.Textures)-1]

	if err := up.UploadToTexture(ctx, t.Bytes, 4*t.Width, tex); err != nil {
		return err
	}
	slot, err := b.descriptors.Allocate()
	if err != nil {
		return err
	}
	gt.Slot = slot
	b.heap.WriteTextureView(slot, tex)
	return nil
}

// buildBuffer creates a GPU-local buffer holding bytes and binds a view to a
// fresh slot: a structured view when stride is set, a constant view otherwise.
// dst is filled as soon as each piece exists so a failure can be unwound.
func (b *SceneBuilder) buildBuffer(ctx context.Context, up *Uploader, dst *GpuBuffer, desc gpu.BufferDesc, bytes []byte, stride uint32) error {
	desc.Size = max(uint64(len(bytes)), minBufferSize)
	desc.Heap = gpu.HeapDefault
	desc.Usage |= gpu.BufferUsageTransferDst
	if stride != 0 {
		desc.Usage |= gpu.BufferUsageStorage
	}
	buf, err := b.device.CreateBuffer(desc)
	if err != nil {
		return err
	}
	dst.Buffer = buf
	dst.Slot = InvalidIndex

	if len(bytes) > 0 {
		if err := up.UploadToBuffer(ctx, bytes, buf); err != nil {
			return err
		}
	}
	slot, err := b.descriptors.Allocate()
	if err != nil {
		return err
	}
	dst.Slot = slot
	if stride != 0 {
		b.heap.WriteStructuredView(slot, buf, stride)
	} else {
		b.heap.WriteConstantView(slot, buf)
	}
	return nil
}

func (b *SceneBuilder) buildMesh(ctx context.Context, up *Uploader, s *GpuScene, i int, m *scene.MeshData, instances []InstanceRecord) error {
	s.Meshes = append(s.Meshes, GpuMesh{
		MaterialSlot:  s.Materials[m.MaterialIndex].Slot,
		MeshletCount:  uint32(len(m.Meshlets)),
		InstanceCount: uint32(len(instances)),
	})
	gm := &s.Meshes[len(s.Meshes)-1]

	stream := func(dst *GpuBuffer, name string, bytes []byte, stride uint32) error {
		return b.buildBuffer(ctx, up, dst, gpu.BufferDesc{Name: fmt.Sprintf("mesh %d %s", i, name)}, bytes, stride)
	}
	fail := func(err error) error {
		return &BuildError{Kind: BuildMesh, Index: i, Err: err}
	}

	if err := stream(&gm.Positions, "positions", recordBytes(m.Positions), 16); err != nil {
		return fail(err)
	}
	if err := stream(&gm.Normals, "normals", recordBytes(m.Normals), 16); err != nil {
		return fail(err)
	}
	if m.HasTangents() {
		gm.Tangents = &GpuBuffer{Slot: InvalidIndex}
		if err := stream(gm.Tangents, "tangents", recordBytes(m.Tangents), 16); err != nil {
			return fail(err)
		}
	}
	if m.HasUVs() {
		gm.UVs = &GpuBuffer{Slot: InvalidIndex}
		if err := stream(gm.UVs, "uvs", recordBytes(m.UVs), 8); err != nil {
			return fail(err)
		}
	}
	if err := stream(&gm.Meshlets, "meshlets", recordBytes(m.Meshlets), MeshletRecordSize); err != nil {
		return fail(err)
	}
	vertexIndices := make([]byte, math.AlignUp(len(m.VertexIndices), 4))
	copy(vertexIndices, m.VertexIndices)
	if err := stream(&gm.VertexIndices, "vertex indices", vertexIndices, 4); err != nil {
		return fail(err)
	}
	if err := stream(&gm.PrimIndices, "primitive indices", recordBytes(m.TriangleIndices), 4); err != nil {
		return fail(err)
	}
	if err := stream(&gm.Instances, "instances", recordBytes(instances), InstanceRecordSize); err != nil {
		return &BuildError{Kind: BuildInstance, Index: i, Err: err}
	}

	if err := b.buildDrawParams(gm, i); err != nil {
		return &BuildError{Kind: BuildDrawParams, Index: i, Err: err}
	}
	return nil
}

// buildDrawParams creates the per-frame constant buffers. They stay mapped
// for the lifetime of the scene and never go through the uploader.
func (b *SceneBuilder) buildDrawParams(gm *GpuMesh, i int) error {
	gm.DrawParams = make([]GpuBuffer, 0, b.framesInFlight)
	gm.drawMapped = make([][]byte, 0, b.framesInFlight)
	for f := uint32(0); f < b.framesInFlight; f++ {
		buf, err := b.device.CreateBuffer(gpu.BufferDesc{
			Name:  fmt.Sprintf("mesh %d draw params %d", i, f),
			Size:  DrawParamsSize,
			Heap:  gpu.HeapUpload,
			Usage: gpu.BufferUsageUniform,
		})
		if err != nil {
			return err
		}
		gm.DrawParams = append(gm.DrawParams, GpuBuffer{Buffer: buf, Slot: InvalidIndex})
		dp := &gm.DrawParams[len(gm.DrawParams)-1]

		mapped, err := buf.Map()
		if err != nil {
			return err
		}
		gm.drawMapped = append(gm.drawMapped, mapped)

		slot, err := b.descriptors.Allocate()
		if err != nil {
			return err
		}
		dp.Slot = slot
		b.heap.WriteConstantView(slot, buf)

		// Valid parameters before the first frame writes a camera.
		initial := gm.drawParams(math.NewMat4Identity().Data)
		if _, err := binary.Encode(mapped, binary.LittleEndian, &initial); err != nil {
			return err
		}
	}
	return nil
}
