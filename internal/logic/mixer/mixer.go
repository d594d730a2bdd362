// Package mixer maps thrust, pitch, roll and yaw demands onto individual
// motor commands using a mixing matrix derived from the airframe layout.
package mixer

import (
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/mat"
)

// Mixing matrix columns.
const (
	colThrust = iota
	colPitch
	colRoll
	colYaw
	numCols
)

// Entry is one row of the mixing matrix.
type Entry struct {
	Thrust, Pitch, Roll, Yaw float64
	Reversed                 bool
}

// Mixer holds the current mixing matrix and the last motor outputs.
//
// Pitch coefficients are the motor's y offset divided by the largest |y|,
// roll coefficients the negated x offset divided by the largest |x|, and
// the yaw coefficient is the spin direction. Demands below zero are
// floored; if any demand then exceeds 1 all of them are scaled by the same
// factor. Reversed motors have their final command negated.
type Mixer struct {
	airframe *Airframe

	entries []Entry
	matrix  *mat.Dense
	input   *mat.VecDense
	demand  *mat.VecDense
	outputs []float64
}

// New returns a mixer for airframe with the matrix already computed.
func New(airframe *Airframe) *Mixer {
	m := &Mixer{
		airframe: airframe,
		input:    mat.NewVecDense(numCols, nil),
	}
	m.UpdateMotorMix()
	return m
}

// UpdateMotorMix recomputes the mixing matrix from the airframe
// parameters. Outputs are kept for motors that still exist.
func (m *Mixer) UpdateMotorMix() {
	motors := m.airframe.Motors()
	n := len(motors)

	maxX := maxAbs(motors, func(mo Motor) float64 { return mo.X })
	maxY := maxAbs(motors, func(mo Motor) float64 { return mo.Y })

	m.entries = m.entries[:0]
	for _, mo := range motors {
		m.entries = append(m.entries, Entry{
			Thrust:   1,
			Pitch:    mo.Y / maxY,
			Roll:     -mo.X / maxX,
			Yaw:      mo.Direction,
			Reversed: mo.Reversed,
		})
	}

	if len(m.outputs) != n {
		outputs := make([]float64, n)
		copy(outputs, m.outputs)
		m.outputs = outputs
	}
	if n == 0 {
		m.matrix, m.demand = nil, nil
		return
	}
	if m.matrix == nil || m.demand.Len() != n {
		m.matrix = mat.NewDense(n, numCols, nil)
		m.demand = mat.NewVecDense(n, nil)
	}
	for i, e := range m.entries {
		m.matrix.SetRow(i, []float64{colThrust: e.Thrust, colPitch: e.Pitch, colRoll: e.Roll, colYaw: e.Yaw})
	}
}

// Mix computes every motor's output for the given demands. With no motors
// configured it does nothing.
func (m *Mixer) Mix(thrust, pitch, roll, yaw float64) {
	if m.matrix == nil {
		return
	}
	m.input.SetVec(colThrust, thrust)
	m.input.SetVec(colPitch, pitch)
	m.input.SetVec(colRoll, roll)
	m.input.SetVec(colYaw, yaw)
	m.demand.MulVec(m.matrix, m.input)

	peak := 0.0
	for i := range m.outputs {
		d := m.demand.AtVec(i)
		if !(d > 0) || math.IsInf(d, 1) {
			d = 0
		}
		m.outputs[i] = d
		peak = math.Max(peak, d)
	}
	if peak > 1 {
		for i := range m.outputs {
			m.outputs[i] /= peak
		}
	}
	for i, e := range m.entries {
		if e.Reversed {
			m.outputs[i] = -m.outputs[i]
		}
	}
}

// Reset sets every output to zero.
func (m *Mixer) Reset() {
	for i := range m.outputs {
		m.outputs[i] = 0
	}
}

func (m *Mixer) NumMotors() int { return len(m.outputs) }

// Output returns motor i's last command, or 0 if there is no such motor.
func (m *Mixer) Output(i int) float64 {
	if i < 0 || i >= len(m.outputs) {
		return 0
	}
	return m.outputs[i]
}

// Outputs returns a copy of the last motor commands.
func (m *Mixer) Outputs() []float64 {
	return append([]float64(nil), m.outputs...)
}

// Entries returns a copy of the mixing matrix rows.
func (m *Mixer) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// maxAbs returns the largest |field| over items, or 1 when it is zero so
// that it can be used as a divisor.
func maxAbs[E any, T constraints.Float](items []E, field func(E) T) T {
	var peak T
	for _, it := range items {
		v := field(it)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return 1
	}
	return peak
}
