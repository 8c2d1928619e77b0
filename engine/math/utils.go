package math

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/image/math/f32"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// SatSub returns a - b, or zero when b > a.
func SatSub[T constraints.Unsigned](a, b T) T {
	if b > a {
		return 0
	}
	return a - b
}

// DivRoundUp returns ceil(a / b) for positive b.
func DivRoundUp[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// AlignUp rounds v up to the next multiple of alignment.
func AlignUp[T constraints.Integer](v, alignment T) T {
	return DivRoundUp(v, alignment) * alignment
}

// MaxOf returns the largest value, or the zero value for no arguments.
func MaxOf[T constraints.Ordered](values ...T) T {
	var out T
	for i, v := range values {
		if i == 0 || v > out {
			out = v
		}
	}
	return out
}

func Mat4FromF32(mat f32.Mat4) Mat4 {
	return Mat4{Data: mat}
}

func (mt Mat4) F32() f32.Mat4 {
	return f32.Mat4(mt.Data)
}

func Vec3FromF32(v f32.Vec4) Vec3 {
	return Vec3{v[0], v[1], v[2]}
}
