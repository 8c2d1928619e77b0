package renderer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/math"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
	"github.com/spaghettifunk/pensieve/engine/renderer/headless"
	"github.com/spaghettifunk/pensieve/engine/scene"
)

type fixedCamera struct {
	viewProj math.Mat4
	aspect   float32
}

func (c *fixedCamera) ViewProjection(aspect float32) math.Mat4 {
	c.aspect = aspect
	return c.viewProj
}

func newFixedCamera() *fixedCamera {
	m := math.NewMat4Identity()
	m.Data[0] = 2
	m.Data[14] = 5
	return &fixedCamera{viewProj: m}
}

func TestFrameFenceAdvancesOncePerFrame(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()
	ctx := context.Background()
	cam := newFixedCamera()

	for i := uint64(1); i <= 5; i++ {
		if err := r.DrawFrame(ctx, nil, cam); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		st := r.Stats()
		if st.FenceValue != i || st.Frames != i {
			t.Fatalf("after %d frames fence is %d and frame count %d", i, st.FenceValue, st.Frames)
		}
		// With one queued frame the GPU may lag by at most two frames.
		if st.FenceValue-st.CompletedValue > 2 {
			t.Fatalf("GPU lags %d frames behind", st.FenceValue-st.CompletedValue)
		}
	}
	if cam.aspect != 2 {
		t.Errorf("camera got aspect %g for a 64x32 target", cam.aspect)
	}

	var waits []uint64
	for _, e := range dev.EventsOf(headless.EventWait) {
		waits = append(waits, e.Value)
	}
	want := []uint64{0, 0, 1, 2, 3}
	if len(waits) != len(want) {
		t.Fatalf("waits %v, expected %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits %v, expected %v", waits, want)
		}
	}
	if err := r.Idle(ctx); err != nil {
		t.Fatal(err)
	}
	if flips := dev.EventsOf(headless.EventFlip); len(flips) != 5 {
		t.Errorf("expected 5 flips, got %d", len(flips))
	}
	expectNoViolations(t, dev)
}

func TestFrameRecordsClearAndBarriers(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := r.DrawFrame(ctx, nil, newFixedCamera()); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Idle(ctx); err != nil {
		t.Fatal(err)
	}

	clears := dev.EventsOf(headless.EventClear)
	if len(clears) != 3 {
		t.Fatalf("expected 3 clears, got %d", len(clears))
	}
	if clears[0].Color != [4]float32{1, 0, 1, 1} {
		t.Errorf("cleared to %v", clears[0].Color)
	}

	// Each back buffer starts undefined; the third frame reuses buffer 0.
	var toTarget []headless.Event
	for _, e := range dev.EventsOf(headless.EventBarrier) {
		if e.After == gpu.StateRenderTarget {
			toTarget = append(toTarget, e)
		}
	}
	expected := []gpu.ResourceState{gpu.StateUndefined, gpu.StateUndefined, gpu.StatePresent}
	if len(toTarget) != len(expected) {
		t.Fatalf("expected %d render target transitions, got %d", len(expected), len(toTarget))
	}
	for i, e := range toTarget {
		if e.Before != expected[i] {
			t.Errorf("frame %d transitions %s from %s, expected %s", i, e.Name, e.Before, expected[i])
		}
	}
	expectNoViolations(t, dev)
}

func TestDrawFrameIssuesMeshletDraws(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()
	ctx := context.Background()

	s, err := r.BuildScene(ctx, scene.Quad())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Destroy()

	cam := newFixedCamera()
	for i := 0; i < 4; i++ {
		if err := r.DrawFrame(ctx, s, cam); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Idle(ctx); err != nil {
		t.Fatal(err)
	}

	draws := dev.EventsOf(headless.EventDraw)
	if len(draws) != 4 {
		t.Fatalf("expected 4 draws, got %d", len(draws))
	}
	m := s.Meshes[0]
	for i, d := range draws {
		if d.A != 1 || d.B != 1 {
			t.Errorf("draw %d: %d meshlets, %d instances", i, d.A, d.B)
		}
		if want := uint64(m.DrawParams[i%2].Slot); d.Value != want {
			t.Errorf("draw %d read parameters at %d, expected %d", i, d.Value, want)
		}

		var params DrawParams
		if _, err := binary.Decode(d.Data, binary.LittleEndian, &params); err != nil {
			t.Fatal(err)
		}
		if params.ViewProj != cam.viewProj.Data {
			t.Errorf("draw %d saw view projection %v", i, params.ViewProj)
		}
		if params.PositionBuf != m.Positions.Slot || params.InstanceBuf != m.Instances.Slot || params.MaterialBuf != m.MaterialSlot {
			t.Errorf("draw %d references wrong buffers: %+v", i, params)
		}
		if params.TangentBuf != InvalidIndex || params.UVBuf != m.UVs.Slot {
			t.Errorf("draw %d optional streams: tangents %d uvs %d", i, params.TangentBuf, params.UVBuf)
		}
		if params.MeshletCount != 1 || params.InstanceCount != 1 {
			t.Errorf("draw %d counts %d/%d", i, params.MeshletCount, params.InstanceCount)
		}
	}
	expectNoViolations(t, dev)
}

func TestDrawFrameSkipsEmptyMeshes(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()
	ctx := context.Background()

	data := scene.Quad()
	data.Nodes = nil
	s, err := r.BuildScene(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Destroy()

	if err := r.DrawFrame(ctx, s, newFixedCamera()); err != nil {
		t.Fatal(err)
	}
	if err := r.Idle(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(dev.EventsOf(headless.EventDraw)); n != 0 {
		t.Fatalf("mesh without instances was drawn %d times", n)
	}
	expectNoViolations(t, dev)
}

func TestResizeWaitsForIdle(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := r.DrawFrame(ctx, nil, newFixedCamera()); err != nil {
			t.Fatal(err)
		}
	}
	if dev.Pending() == 0 {
		t.Fatal("expected frames still queued before the resize")
	}

	if err := r.Resize(ctx, 128, 64); err != nil {
		t.Fatal(err)
	}
	if w, h := r.frames.Size(); w != 128 || h != 64 {
		t.Fatalf("size is %dx%d", w, h)
	}

	// Both frames and the idle signal complete before the swap chain changes.
	var lastComplete uint64
	resized := false
	for _, e := range dev.Events() {
		switch e.Kind {
		case headless.EventComplete:
			if !resized {
				lastComplete = e.Value
			}
		case headless.EventResize:
			resized = true
		}
	}
	if !resized || lastComplete != 3 {
		t.Fatalf("resize after completion %d, expected 3", lastComplete)
	}

	cam := newFixedCamera()
	for i := 0; i < 3; i++ {
		if err := r.DrawFrame(ctx, nil, cam); err != nil {
			t.Fatal(err)
		}
	}
	if cam.aspect != 2 {
		t.Errorf("aspect after resize %g", cam.aspect)
	}
	expectNoViolations(t, dev)
}

func TestResizeIgnoresZeroSize(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()

	if err := r.Resize(context.Background(), 0, 600); err != nil {
		t.Fatal(err)
	}
	if n := len(dev.EventsOf(headless.EventResize)); n != 0 {
		t.Fatalf("minimized window triggered %d resizes", n)
	}
	if w, h := r.frames.Size(); w != 64 || h != 32 {
		t.Fatalf("size changed to %dx%d", w, h)
	}
}

func TestReplaceSceneDefersRelease(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	ctx := context.Background()
	cam := newFixedCamera()

	first, err := r.BuildScene(ctx, scene.Quad())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := r.DrawFrame(ctx, first, cam); err != nil {
			t.Fatal(err)
		}
	}

	second, err := r.ReplaceScene(ctx, first, scene.Quad())
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("replacement returned the old scene")
	}
	st := r.Stats()
	if st.DescriptorsInUse != 22 || st.PendingFrees != 11 {
		t.Fatalf("after replace: %d in use, %d pending", st.DescriptorsInUse, st.PendingFrees)
	}

	if err := r.Idle(ctx); err != nil {
		t.Fatal(err)
	}
	st = r.Stats()
	if st.DescriptorsInUse != 11 || st.PendingFrees != 0 {
		t.Fatalf("after idle: %d in use, %d pending", st.DescriptorsInUse, st.PendingFrees)
	}
	if first.Meshes != nil {
		t.Error("retired scene still holds its resources")
	}

	if err := r.DrawFrame(ctx, second, cam); err != nil {
		t.Fatal(err)
	}
	second.Destroy()
	r.Destroy()
	dev.Release()
	expectNoViolations(t, dev)
}

func TestReplaceSceneKeepsOldOnFailure(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()
	ctx := context.Background()

	old, err := r.BuildScene(ctx, scene.Quad())
	if err != nil {
		t.Fatal(err)
	}
	defer old.Destroy()

	bad := scene.Quad()
	bad.Nodes[0].MeshIndices = []uint32{4}
	got, err := r.ReplaceScene(ctx, old, bad)
	if !errors.Is(err, core.ErrSceneInvalid) {
		t.Fatalf("expected ErrSceneInvalid, got %v", err)
	}
	if got != old {
		t.Fatal("failed replacement must hand back the old scene")
	}
	if st := r.Stats(); st.DescriptorsInUse != 11 || st.PendingFrees != 0 {
		t.Fatalf("old scene disturbed: %+v", st)
	}
}

func TestPresentFailureKeepsTimeline(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()
	ctx := context.Background()

	dev.FailAfter("Present", 1)
	if err := r.DrawFrame(ctx, nil, newFixedCamera()); err != nil {
		t.Fatal(err)
	}
	err := r.DrawFrame(ctx, nil, newFixedCamera())
	if !errors.Is(err, core.ErrPresentFailed) {
		t.Fatalf("expected ErrPresentFailed, got %v", err)
	}
	if st := r.Stats(); st.FenceValue != 2 {
		t.Fatalf("fence should still advance on a failed present, got %d", st.FenceValue)
	}
	if err := r.DrawFrame(ctx, nil, newFixedCamera()); err != nil {
		t.Fatalf("frame after failed present: %v", err)
	}
	if err := r.Idle(ctx); err != nil {
		t.Fatal(err)
	}
	expectNoViolations(t, dev)
}

func TestCreateClampsDescriptorCapacity(t *testing.T) {
	dev := headless.New(headless.Options{MaxDescriptors: 32, Tearing: true})
	r := newTestRenderer(t, dev, 1000)
	defer r.Destroy()

	st := r.Stats()
	if st.DescriptorCapacity != 32 {
		t.Fatalf("capacity %d, expected the device limit", st.DescriptorCapacity)
	}
	if !st.Tearing {
		t.Error("tearing should be enabled when the device supports it without vsync")
	}
}

func TestCreateFailureReleasesEverything(t *testing.T) {
	for _, op := range []string{"CreatePipeline", "CreateSwapChain", "CreateTexture", "CreateCommandList", "CreateFence"} {
		t.Run(op, func(t *testing.T) {
			dev := headless.New(headless.Options{})
			dev.FailAfter(op, 0)
			if _, err := Create(dev, Options{Width: 8, Height: 8}); !errors.Is(err, headless.ErrInjected) {
				t.Fatalf("expected injected failure, got %v", err)
			}
			if live := dev.Live(); len(live) != 0 {
				t.Fatalf("leaked %v", live)
			}
			expectNoViolations(t, dev)
		})
	}
}

func TestDestroyLeavesNothingAlive(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	ctx := context.Background()
	s, err := r.BuildScene(ctx, scene.Quad())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := r.DrawFrame(ctx, s, newFixedCamera()); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Idle(ctx); err != nil {
		t.Fatal(err)
	}
	s.Destroy()
	r.Destroy()
	if live := dev.Live(); len(live) != 0 {
		t.Fatalf("leaked %v", live)
	}
	dev.Release()
	expectNoViolations(t, dev)
}

func TestSetClearColorAppliesToNextFrame(t *testing.T) {
	dev := headless.New(headless.Options{})
	r := newTestRenderer(t, dev, 64)
	defer r.Destroy()
	ctx := context.Background()
	cam := newFixedCamera()

	if err := r.DrawFrame(ctx, nil, cam); err != nil {
		t.Fatal(err)
	}
	blue := [4]float32{0, 0, 1, 1}
	r.SetClearColor(blue)
	if err := r.DrawFrame(ctx, nil, cam); err != nil {
		t.Fatal(err)
	}
	if err := r.Idle(ctx); err != nil {
		t.Fatal(err)
	}

	clears := dev.EventsOf(headless.EventClear)
	if len(clears) != 2 {
		t.Fatalf("expected 2 clears, got %d", len(clears))
	}
	if clears[0].Color == blue {
		t.Error("first frame already used the new clear color")
	}
	if clears[1].Color != blue {
		t.Errorf("second frame cleared to %v, want %v", clears[1].Color, blue)
	}
}
