package mixer

import (
	"fmt"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/params"
)

// MaxMotors is the number of motor slots an airframe registers.
const MaxMotors = 8

// Motor is the placement of one motor relative to the centre of mass.
// X points right, Y points forward. Direction is +1 for a counter-clockwise
// propeller and -1 for a clockwise one.
type Motor struct {
	X, Y      float64
	Direction float64
	Reversed  bool
}

type motorParams struct {
	x, y      *params.Param
	direction *params.Param
	reversed  *params.Param
}

// Airframe exposes the motor layout as parameters so it can be retuned
// without a restart.
type Airframe struct {
	count *params.Param
	slots [MaxMotors]motorParams

	// warned is the last out-of-range count logged, to log it once.
	warned int
}

// quadX is the default layout: front-right, front-left, rear-left,
// rear-right with alternating spin.
var quadX = [MaxMotors]Motor{
	{X: 1, Y: 1, Direction: -1},
	{X: -1, Y: 1, Direction: 1},
	{X: -1, Y: -1, Direction: -1},
	{X: 1, Y: -1, Direction: 1},
	{Direction: -1},
	{Direction: 1},
	{Direction: -1},
	{Direction: 1},
}

// NewAirframe registers numMotors and the per-slot motor[i].* parameters.
func NewAirframe(store *params.Store) *Airframe {
	a := &Airframe{
		count:  store.Register("numMotors", "Number of motors in use", params.Int(4)),
		warned: 1,
	}
	for i := range a.slots {
		def := quadX[i]
		prefix := fmt.Sprintf("motor[%d].", i)
		a.slots[i] = motorParams{
			x:         store.Register(prefix+"x", "Motor offset to the right of centre", params.Float(def.X)),
			y:         store.Register(prefix+"y", "Motor offset forward of centre", params.Float(def.Y)),
			direction: store.Register(prefix+"direction", "Propeller spin: 1 CCW, -1 CW", params.Int(int32(def.Direction))),
			reversed:  store.Register(prefix+"reversed", "1 to negate the motor command", params.Int(0)),
		}
	}
	return a
}

// Motors returns the configured motors in slot order.
func (a *Airframe) Motors() []Motor {
	n := int(a.count.Int())
	switch {
	case n <= 0:
		if a.warned != n {
			debug.Warn("numMotors is %d, no motors configured", n)
			a.warned = n
		}
		return nil
	case n > MaxMotors:
		if a.warned != n {
			debug.Warn("numMotors %d exceeds %d slots, clamping", n, MaxMotors)
			a.warned = n
		}
		n = MaxMotors
	default:
		a.warned = 1
	}

	motors := make([]Motor, n)
	for i := range motors {
		s := a.slots[i]
		motors[i] = Motor{
			X:         s.x.Float(),
			Y:         s.y.Float(),
			Direction: sign(s.direction.Int()),
			Reversed:  s.reversed.Int() != 0,
		}
	}
	return motors
}

func sign(v int32) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
