package components

import (
	"testing"

	"github.com/spaghettifunk/pensieve/engine/math"
)

const tolerance = 1e-4

func TestCameraLooksAtCenter(t *testing.T) {
	c := NewCamera(60, 0.1, 100, 5, 0.01)
	if p := c.GetPosition(); !p.Compare(math.NewVec3(0, 0, -5), tolerance) {
		t.Fatalf("position %+v", p)
	}
	if v := c.Center.Transform(c.GetView()); !v.Compare(math.NewVec3(0, 0, 5), tolerance) {
		t.Fatalf("center in view space %+v", v)
	}
}

func TestCameraOrbit(t *testing.T) {
	c := NewCamera(60, 0.1, 100, 5, math.K_HALF_PI/100)
	c.GetView()

	c.Update(CameraInput{DeltaX: 100, Hovered: true, LeftDown: true})
	if !c.IsDirty {
		t.Fatal("rotation should invalidate the view")
	}
	if p := c.GetPosition(); !p.Compare(math.NewVec3(-5, 0, 0), tolerance) {
		t.Fatalf("quarter yaw moved the camera to %+v", p)
	}
	// Orbiting never changes the distance to what the camera looks at.
	if v := c.Center.Transform(c.GetView()); !v.Compare(math.NewVec3(0, 0, 5), tolerance) {
		t.Fatalf("center in view space %+v", v)
	}
}

func TestCameraInput(t *testing.T) {
	tests := []struct {
		name     string
		in       CameraInput
		center   math.Vec3
		distance float32
	}{
		{"not hovered", CameraInput{DeltaX: 10, Wheel: 2, LeftDown: true}, math.NewVec3Zero(), 5},
		{"wheel", CameraInput{Wheel: 1, Hovered: true}, math.NewVec3Zero(), 4},
		{"wheel out", CameraInput{Wheel: -2, Hovered: true}, math.NewVec3Zero(), 7},
		{"pan", CameraInput{DeltaX: 10, DeltaY: 20, Hovered: true, MiddleDown: true}, math.NewVec3(-0.1, 0.2, 0), 5},
		{"rotate wins over pan", CameraInput{DeltaX: 10, Hovered: true, LeftDown: true, MiddleDown: true}, math.NewVec3Zero(), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCamera(60, 0.1, 100, 5, 0.01)
			c.Update(tt.in)
			if !c.Center.Compare(tt.center, tolerance) {
				t.Errorf("center %+v, expected %+v", c.Center, tt.center)
			}
			if c.Distance != tt.distance {
				t.Errorf("distance %g, expected %g", c.Distance, tt.distance)
			}
		})
	}
}

func TestCameraFrame(t *testing.T) {
	c := NewCamera(60, 0.1, 1, 5, 0.01)
	c.Update(CameraInput{DeltaX: 50, Hovered: true, LeftDown: true})

	c.Frame(math.NewVec3(1, 2, 3), 1)
	// sin(30 degrees) is one half
	if d := c.Distance; math.Abs(d-2.1) > tolerance {
		t.Fatalf("distance %g", d)
	}
	if c.Far < c.Distance+2 {
		t.Fatalf("far plane %g clips the framed sphere", c.Far)
	}
	if c.Rotation != math.NewQuatIdentity() {
		t.Fatalf("framing should reset the orbit, got %+v", c.Rotation)
	}
	if v := c.Center.Transform(c.GetView()); !v.Compare(math.NewVec3(0, 0, 2.1), tolerance) {
		t.Fatalf("center in view space %+v", v)
	}
}

func TestCameraViewProjection(t *testing.T) {
	c := NewCamera(90, 1, 10, 5, 0.01)
	vp := c.ViewProjection(1)
	if !vp.Compare(c.GetView().Mul(c.GetProjection(1)), tolerance) {
		t.Fatal("view projection is view times projection")
	}
	// The center lies on the view axis, so it projects to the middle of the screen.
	clip := c.Center.Transform(vp)
	if math.Abs(clip.X) > tolerance || math.Abs(clip.Y) > tolerance {
		t.Fatalf("center projects off axis: %+v", clip)
	}
}
