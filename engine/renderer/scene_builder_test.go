package renderer

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
	"github.com/spaghettifunk/pensieve/engine/renderer/headless"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

func newTestRenderer(t *testing.T, dev *headless.Device, capacity uint32) *Renderer {
	t.Helper()
	r, err := Create(dev, Options{
		Width:              64,
		Height:             32,
		DescriptorCapacity: capacity,
		MaxGpuQueuedFrames: 1,
		SwapChainBuffers:   2,
		ClearColor:         [4]float32{1, 0, 1, 1},
	})
	if err != nil {
		t.Fatalf("failed to create renderer: %v", err)
	}
	return r
}

func expectNoViolations(t *testing.T, dev *headless.Device) {
	t.Helper()
	for _, v := range dev.Violations() {
		t.Errorf("violation: %v", v)
	}
}

func TestBuildQuadScene(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()

	s, err := r.BuildScene(context.Background(), scene.Quad())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer s.Destroy()

	// texture + material + 7 mesh streams + 2 per-frame draw parameters
	if got := s.DescriptorCount(); got != 11 {
		t.Fatalf("expected 11 descriptors, got %d", got)
	}
	if got := r.Stats().DescriptorsInUse; got != 11 {
		t.Fatalf("allocator reports %d in use", got)
	}
	heap := r.heap.(*headless.DescriptorHeap)
	if heap.Bound() != 11 {
		t.Fatalf("heap has %d bound views", heap.Bound())
	}

	tex := s.Textures[0]
	if tex.Slot != 0 {
		t.Errorf("texture should take the first slot, got %d", tex.Slot)
	}
	if st := tex.Texture.(*headless.Texture).State(); st != gpu.StateShaderResource {
		t.Errorf("texture left in %s", st)
	}
	if k := heap.Slot(tex.Slot).Kind; k != headless.ViewTexture {
		t.Errorf("texture slot holds view kind %d", k)
	}

	var material MaterialRecord
	if _, err := binary.Decode(s.Materials[0].Buffer.(*headless.Buffer).Contents(), binary.LittleEndian, &material); err != nil {
		t.Fatal(err)
	}
	if material.BaseColorMap != tex.Slot {
		t.Errorf("base color map resolves to %d, expected texture slot %d", material.BaseColorMap, tex.Slot)
	}
	for name, v := range map[string]uint32{
		"metallic":  material.MetallicMap,
		"roughness": material.RoughnessMap,
		"emission":  material.EmissionMap,
		"normal":    material.NormalMap,
	} {
		if v != InvalidIndex {
			t.Errorf("absent %s map should be InvalidIndex, got %d", name, v)
		}
	}
	if material.Roughness != 0.5 {
		t.Errorf("roughness %g", material.Roughness)
	}
	if k := heap.Slot(s.Materials[0].Slot).Kind; k != headless.ViewConstant {
		t.Errorf("material slot holds view kind %d", k)
	}

	m := s.Meshes[0]
	if m.Tangents != nil || m.UVs == nil {
		t.Fatalf("quad has uvs and no tangents")
	}
	if m.MeshletCount != 1 || m.InstanceCount != 1 || m.MaterialSlot != s.Materials[0].Slot {
		t.Errorf("unexpected mesh %+v", m)
	}
	if sl := heap.Slot(m.Positions.Slot); sl.Kind != headless.ViewStructured || sl.Stride != 16 {
		t.Errorf("positions view %+v", sl)
	}
	if sl := heap.Slot(m.Instances.Slot); sl.Stride != InstanceRecordSize {
		t.Errorf("instances view stride %d", sl.Stride)
	}
	if len(m.DrawParams) != 2 {
		t.Fatalf("expected draw parameters per frame in flight, got %d", len(m.DrawParams))
	}
	expectNoViolations(t, dev)
}

func TestBuildCollectsInstancesPerMesh(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()

	data := scene.Quad()
	moved := scene.IdentityTransform()
	moved[12] = 3
	data.Nodes = append(data.Nodes, scene.NodeData{MeshIndices: []uint32{0}, Transform: moved})

	s, err := r.BuildScene(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Destroy()

	m := s.Meshes[0]
	if m.InstanceCount != 2 {
		t.Fatalf("expected 2 instances, got %d", m.InstanceCount)
	}
	instances := make([]InstanceRecord, 2)
	if _, err := binary.Decode(m.Instances.Buffer.(*headless.Buffer).Contents(), binary.LittleEndian, instances); err != nil {
		t.Fatal(err)
	}
	if instances[0].World[12] != 0 || instances[1].World[12] != 3 {
		t.Errorf("instance translations %g and %g", instances[0].World[12], instances[1].World[12])
	}
}

func TestBuildRejectsInvalidScene(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()

	live := len(dev.Live())
	data := scene.Quad()
	data.Materials[0].BaseColorMap = scene.Uint32(7)

	_, err := r.BuildScene(context.Background(), data)
	if !errors.Is(err, core.ErrSceneInvalid) {
		t.Fatalf("expected ErrSceneInvalid, got %v", err)
	}
	if len(dev.Live()) != live {
		t.Fatalf("rejected scene created GPU objects: %v", dev.Live())
	}
	if len(dev.EventsOf(headless.EventSubmit)) != 0 {
		t.Fatal("rejected scene reached the queue")
	}
}

func TestBuildFailureReleasesEverything(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		after   int
		kind    BuildErrorKind
		message string
	}{
		{"texture", "CreateTexture", 0, BuildTexture, "failed to create texture 0"},
		{"material", "CreateBuffer", 1, BuildMaterial, "failed to create material 0"},
		{"positions", "CreateBuffer", 2, BuildMesh, "failed to create mesh 0"},
		{"primitive indices", "CreateBuffer", 7, BuildMesh, "failed to create mesh 0"},
		{"instances", "CreateBuffer", 8, BuildInstance, "failed to create instance buffer of mesh 0"},
		{"second draw parameters", "CreateBuffer", 10, BuildDrawParams, "failed to create draw parameters of mesh 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := headless.New(headless.Options{})
			r := newTestRenderer(t, dev, 64)
			defer r.Destroy()
			live := len(dev.Live())

			dev.FailAfter(tt.op, tt.after)
			s, err := r.BuildScene(context.Background(), scene.Quad())
			if s != nil {
				t.Fatal("failed build returned a scene")
			}
			var berr *BuildError
			if !errors.As(err, &berr) {
				t.Fatalf("expected a BuildError, got %v", err)
			}
			if berr.Kind != tt.kind || berr.Index != 0 {
				t.Errorf("got %s %d", berr.Kind, berr.Index)
			}
			if !strings.HasPrefix(err.Error(), tt.message) {
				t.Errorf("message %q does not start with %q", err.Error(), tt.message)
			}
			if !errors.Is(err, headless.ErrInjected) {
				t.Errorf("cause lost: %v", err)
			}
			if n := r.Stats().DescriptorsInUse; n != 0 {
				t.Errorf("%d descriptors leaked", n)
			}
			if got := len(dev.Live()); got != live {
				t.Errorf("%d objects alive after failure, expected %d", got, live)
			}
			expectNoViolations(t, dev)
		})
	}
}

func TestBuildFailsWhenDescriptorsRunOut(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 5)
	defer r.Destroy()

	_, err := r.BuildScene(context.Background(), scene.Quad())
	if !errors.Is(err, core.ErrDescriptorsExhausted) {
		t.Fatalf("expected ErrDescriptorsExhausted, got %v", err)
	}
	if n := r.Stats().DescriptorsInUse; n != 0 {
		t.Errorf("%d descriptors leaked", n)
	}
}

func TestDestroyReturnsSlots(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	live := len(dev.Live())

	s, err := r.BuildScene(context.Background(), scene.Quad())
	if err != nil {
		t.Fatal(err)
	}
	s.Destroy()
	s.Destroy()

	if n := r.Stats().DescriptorsInUse; n != 0 {
		t.Errorf("%d descriptors still in use", n)
	}
	if r.heap.(*headless.DescriptorHeap).Bound() != 0 {
		t.Error("destroyed scene left views in the heap")
	}
	if got := len(dev.Live()); got != live {
		t.Errorf("%d objects alive, expected %d", got, live)
	}

	r.Destroy()
	dev.Release()
	expectNoViolations(t, dev)
}

func TestStagingSizeCoversLargestTransfer(t *testing.T) {
	data := scene.Quad()
	// 2x2 texture is 16 bytes; the instance record is the largest transfer.
	if got := StagingSize(data); got != InstanceRecordSize {
		t.Fatalf("expected %d, got %d", InstanceRecordSize, got)
	}
	data.Textures[0] = scene.TextureData{Width: 16, Height: 16, Bytes: make([]byte, 16*16*4)}
	if got := StagingSize(data); got != 16*16*4 {
		t.Fatalf("expected %d, got %d", 16*16*4, got)
	}
}
