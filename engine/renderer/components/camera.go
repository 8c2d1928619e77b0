package components

import (
	"github.com/spaghettifunk/pensieve/engine/math"
)

/** @brief The mouse state an orbit camera reacts to during one poll. */
type CameraInput struct {
	DeltaX     int32
	DeltaY     int32
	Wheel      int32
	Hovered    bool
	LeftDown   bool
	MiddleDown bool
}

/**
 * @brief An orbit camera looking at Center from Distance units away.
 * Dragging with the left button rotates around the center, the middle
 * button pans it and the wheel moves closer or further.
 */
type Camera struct {
	/** @brief Vertical field of view in degrees. */
	FovDegrees float32
	Near       float32
	Far        float32
	/** @brief Distance from the center along the camera's backward axis. */
	Distance float32
	/** @brief Radians (or world units when panning) per pixel of mouse travel. */
	Sensitivity float32

	Center   math.Vec3
	Rotation math.Quaternion

	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	IsDirty    bool
	ViewMatrix math.Mat4
}

func NewCamera(fovDegrees, near, far, distance, sensitivity float32) *Camera {
	return &Camera{
		FovDegrees:  fovDegrees,
		Near:        near,
		Far:         far,
		Distance:    distance,
		Sensitivity: sensitivity,
		Center:      math.NewVec3Zero(),
		Rotation:    math.NewQuatIdentity(),
		IsDirty:     true,
	}
}

// Update applies one poll of mouse input. Input is ignored unless the
// cursor hovers the window.
func (c *Camera) Update(in CameraInput) {
	if !in.Hovered {
		return
	}
	switch {
	case in.LeftDown:
		yaw := math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), float32(in.DeltaX)*c.Sensitivity, false)
		pitch := math.NewQuatFromAxisAngle(math.NewVec3(1, 0, 0), float32(in.DeltaY)*c.Sensitivity, false)
		c.Rotation = yaw.Mul(c.Rotation).Mul(pitch).Normalize()
	case in.MiddleDown:
		right := c.Rotation.Rotate(math.NewVec3(1, 0, 0))
		up := c.Rotation.Rotate(math.NewVec3(0, 1, 0))
		dx := -float32(in.DeltaX) * c.Sensitivity
		dy := float32(in.DeltaY) * c.Sensitivity
		c.Center = c.Center.Add(right.MulScalar(dx)).Add(up.MulScalar(dy))
	default:
		if in.Wheel == 0 {
			return
		}
		c.Distance -= float32(in.Wheel)
	}
	c.IsDirty = true
}

// Frame points the camera at a bounding sphere so the whole sphere is visible.
func (c *Camera) Frame(center math.Vec3, radius float32) {
	c.Center = center
	c.Rotation = math.NewQuatIdentity()
	if radius > 0 {
		halfFov := math.DegToRad(c.FovDegrees) * 0.5
		c.Distance = radius/math.Sin(halfFov) + c.Near
		c.Far = max(c.Far, c.Distance+radius*2)
	}
	c.IsDirty = true
}

func (c *Camera) GetPosition() math.Vec3 {
	return c.Center.Add(c.Rotation.Rotate(math.NewVec3(0, 0, -c.Distance)))
}

func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		world := c.Rotation.ToMat4().Mul(math.NewMat4Translation(c.GetPosition()))
		c.ViewMatrix = world.Inverse()
		c.IsDirty = false
	}
	return c.ViewMatrix
}

func (c *Camera) GetProjection(aspect float32) math.Mat4 {
	return math.NewMat4Perspective(math.DegToRad(c.FovDegrees), aspect, c.Near, c.Far)
}

// ViewProjection transforms world positions (as row vectors) to clip space.
func (c *Camera) ViewProjection(aspect float32) math.Mat4 {
	return c.GetView().Mul(c.GetProjection(aspect))
}
