package math

import (
	"testing"
)

const tolerance = 1e-4

func TestMat4Inverse(t *testing.T) {
	tests := []struct {
		name string
		m    Mat4
	}{
		{"identity", NewMat4Identity()},
		{"translation", NewMat4Translation(NewVec3(1, -2, 3))},
		{"scale", NewMat4Scale(NewVec3(2, 4, 0.5))},
		{"rotation", NewQuatFromAxisAngle(NewVec3Up(), 0.7, true).ToMat4()},
		{
			"trs",
			NewMat4Scale(NewVec3(1, 3, 2)).
				Mul(NewQuatFromAxisAngle(NewVec3(1, 1, 0).Normalized(), 1.1, true).ToMat4()).
				Mul(NewMat4Translation(NewVec3(5, 6, -7))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.m.Mul(tt.m.Inverse())
			if !got.Compare(NewMat4Identity(), tolerance) {
				t.Fatalf("m * inverse(m) = %v, want identity", got.Data)
			}
		})
	}
}

func TestMat4InverseTranspose(t *testing.T) {
	m := NewMat4Scale(NewVec3(2, 1, 1))
	it := m.InverseTranspose()
	if !it.Compare(NewMat4Scale(NewVec3(0.5, 1, 1)), tolerance) {
		t.Fatalf("inverse transpose of scale = %v", it.Data)
	}
}

func TestTransposed(t *testing.T) {
	m := NewMat4Translation(NewVec3(1, 2, 3))
	tr := NewMat4Transposed(m)
	if tr.Data[3] != 1 || tr.Data[7] != 2 || tr.Data[11] != 3 {
		t.Fatalf("unexpected transpose %v", tr.Data)
	}
	if !NewMat4Transposed(tr).Compare(m, 0) {
		t.Fatal("double transpose should be the original")
	}
}

func TestQuaternionRotate(t *testing.T) {
	tests := []struct {
		name  string
		axis  Vec3
		angle float32
		in    Vec3
		want  Vec3
	}{
		{"yaw x to -z", NewVec3Up(), K_HALF_PI, NewVec3Right(), NewVec3(0, 0, -1)},
		{"pitch y to z", NewVec3Right(), K_HALF_PI, NewVec3Up(), NewVec3(0, 0, 1)},
		{"no rotation", NewVec3Up(), 0, NewVec3(1, 2, 3), NewVec3(1, 2, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQuatFromAxisAngle(tt.axis, tt.angle, true)
			got := q.Rotate(tt.in)
			if !got.Compare(tt.want, tolerance) {
				t.Fatalf("Rotate = %+v, want %+v", got, tt.want)
			}
			viaMatrix := tt.in.Transform(q.ToMat4())
			if !viaMatrix.Compare(tt.want, tolerance) {
				t.Fatalf("matrix rotate = %+v, want %+v", viaMatrix, tt.want)
			}
		})
	}
}

func TestQuaternionMulOrder(t *testing.T) {
	yaw := NewQuatFromAxisAngle(NewVec3Up(), K_HALF_PI, true)
	pitch := NewQuatFromAxisAngle(NewVec3Right(), K_HALF_PI, true)
	v := NewVec3Up()

	// pitch first, then yaw
	got := yaw.Mul(pitch).Rotate(v)
	want := yaw.Rotate(pitch.Rotate(v))
	if !got.Compare(want, tolerance) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestTransformWorld(t *testing.T) {
	parent := TransformFromPositionRotationScale(NewVec3(10, 0, 0), NewQuatIdentity(), NewVec3One())
	child := TransformFromPositionRotationScale(NewVec3(0, 1, 0), NewQuatIdentity(), NewVec3(2, 2, 2))
	child.Parent = parent

	got := NewVec3(1, 0, 0).Transform(child.GetWorld())
	want := NewVec3(12, 1, 0)
	if !got.Compare(want, tolerance) {
		t.Fatalf("world point = %+v, want %+v", got, want)
	}
}

func TestPerspectiveDepthRange(t *testing.T) {
	p := NewMat4Perspective(DegToRad(60), 16.0/9.0, 0.1, 100)
	project := func(z float32) float32 {
		// row vector (0, 0, z, 1) times p
		clipZ := z*p.Data[10] + p.Data[14]
		clipW := z*p.Data[11] + p.Data[15]
		return clipZ / clipW
	}
	if d := project(0.1); kabs(d) > tolerance {
		t.Fatalf("near plane depth = %f, want 0", d)
	}
	if d := project(100); kabs(d-1) > tolerance {
		t.Fatalf("far plane depth = %f, want 1", d)
	}
}

func TestIntegerHelpers(t *testing.T) {
	if got := SatSub[uint64](0, 1); got != 0 {
		t.Fatalf("SatSub(0, 1) = %d", got)
	}
	if got := SatSub[uint64](5, 1); got != 4 {
		t.Fatalf("SatSub(5, 1) = %d", got)
	}
	if got := DivRoundUp(7, 4); got != 2 {
		t.Fatalf("DivRoundUp(7, 4) = %d", got)
	}
	if got := AlignUp[uint64](13, 4); got != 16 {
		t.Fatalf("AlignUp(13, 4) = %d", got)
	}
	if got := AlignUp[uint64](16, 4); got != 16 {
		t.Fatalf("AlignUp(16, 4) = %d", got)
	}
	if got := MaxOf[uint64](3, 9, 2); got != 9 {
		t.Fatalf("MaxOf = %d", got)
	}
	if got := Clamp(12, 0, 10); got != 10 {
		t.Fatalf("Clamp = %d", got)
	}
}
