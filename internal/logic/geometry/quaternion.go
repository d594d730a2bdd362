package geometry

import "math"

// Quaternion represents a rotation as W + Xi + Yj + Zk.
// The zero value is not a rotation; use Identity.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity is the no-rotation quaternion.
var Identity = Quaternion{W: 1}

// Mul returns the Hamilton product q*r (apply r, then q).
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Conjugate negates the vector part.
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{q.W, -q.X, -q.Y, -q.Z}
}

// Inverse returns the inverse of a unit quaternion (its conjugate).
// It is not valid for non-unit quaternions.
func (q Quaternion) Inverse() Quaternion {
	return q.Conjugate()
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize scales q to unit length. It returns q unchanged and false
// when the norm is zero or not finite.
func (q Quaternion) Normalize() (Quaternion, bool) {
	n := q.Norm()
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return q, false
	}
	inv := 1 / n
	return Quaternion{q.W * inv, q.X * inv, q.Y * inv, q.Z * inv}, true
}

// Rotate applies q to v (q * v * q⁻¹). q must be a unit quaternion.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	p := q.Mul(Quaternion{0, v.X, v.Y, v.Z}).Mul(q.Conjugate())
	return Vector3{p.X, p.Y, p.Z}
}

// FromEuler builds a quaternion from Euler angles in radians:
// X about the x axis, Y about the y axis, Z about the z axis,
// composed in Z-Y-X order.
func FromEuler(e Vector3) Quaternion {
	cx, sx := math.Cos(e.X*0.5), math.Sin(e.X*0.5)
	cy, sy := math.Cos(e.Y*0.5), math.Sin(e.Y*0.5)
	cz, sz := math.Cos(e.Z*0.5), math.Sin(e.Z*0.5)
	return Quaternion{
		W: cx*cy*cz + sx*sy*sz,
		X: sx*cy*cz - cx*sy*sz,
		Y: cx*sy*cz + sx*cy*sz,
		Z: cx*cy*sz - sx*sy*cz,
	}
}

// Euler converts q back to the angles accepted by FromEuler. Y is
// limited to [-π/2, π/2]; X and Z are in (-π, π].
func (q Quaternion) Euler() Vector3 {
	sinx := 2 * (q.W*q.X + q.Y*q.Z)
	cosx := 1 - 2*(q.X*q.X+q.Y*q.Y)

	t := 2 * (q.W*q.Y - q.Z*q.X)
	t = math.Max(-1, math.Min(1, t))

	sinz := 2 * (q.W*q.Z + q.X*q.Y)
	cosz := 1 - 2*(q.Y*q.Y+q.Z*q.Z)

	return Vector3{
		X: math.Atan2(sinx, cosx),
		Y: math.Asin(t),
		Z: math.Atan2(sinz, cosz),
	}
}
