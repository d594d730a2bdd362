package attitude

import "github.com/flybot/flybot/internal/logic/geometry"

// fuse advances q by dt seconds using the gyro rate, corrected towards
// the measured gravity direction by a normalized gradient step of size
// beta. q describes the earth frame relative to the sensor, so the
// reference gravity (0, 0, 1) maps to the sensor frame as q* ⊗ g ⊗ q.
//
// It returns false when the accelerometer reading or the result cannot
// be normalized.
func fuse(q geometry.Quaternion, s Sample, dt, beta float64) (geometry.Quaternion, bool) {
	a, ok := s.Accel.Normalize()
	if !ok {
		return q, false
	}
	w := s.Gyro

	// Rate of change from the gyro: ½ q ⊗ (0, ω).
	qDot := geometry.Quaternion{
		W: 0.5 * (-q.X*w.X - q.Y*w.Y - q.Z*w.Z),
		X: 0.5 * (q.W*w.X + q.Y*w.Z - q.Z*w.Y),
		Y: 0.5 * (q.W*w.Y - q.X*w.Z + q.Z*w.X),
		Z: 0.5 * (q.W*w.Z + q.X*w.Y - q.Y*w.X),
	}

	// Objective: predicted gravity minus measured gravity.
	f1 := 2*(q.X*q.Z-q.W*q.Y) - a.X
	f2 := 2*(q.W*q.X+q.Y*q.Z) - a.Y
	f3 := 2*(0.5-q.X*q.X-q.Y*q.Y) - a.Z

	// Gradient Jᵀf.
	grad := geometry.Quaternion{
		W: -2*q.Y*f1 + 2*q.X*f2,
		X: 2*q.Z*f1 + 2*q.W*f2 - 4*q.X*f3,
		Y: -2*q.W*f1 + 2*q.Z*f2 - 4*q.Y*f3,
		Z: 2*q.X*f1 + 2*q.Y*f2,
	}
	if f1*f1+f2*f2+f3*f3 > 1 && grad.Norm() < 1e-9 {
		// Prediction opposite to the measurement: the gradient vanishes,
		// so step about the sensor X axis to leave the unstable point.
		grad = geometry.Quaternion{W: -q.X, X: q.W, Y: q.Z, Z: -q.Y}
	}
	if step, ok := grad.Normalize(); ok {
		qDot.W -= beta * step.W
		qDot.X -= beta * step.X
		qDot.Y -= beta * step.Y
		qDot.Z -= beta * step.Z
	}

	next := geometry.Quaternion{
		W: q.W + qDot.W*dt,
		X: q.X + qDot.X*dt,
		Y: q.Y + qDot.Y*dt,
		Z: q.Z + qDot.Z*dt,
	}
	return next.Normalize()
}
