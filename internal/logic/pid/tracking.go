package pid

import (
	"math"
	"time"

	"github.com/flybot/flybot/internal/params"
)

// targetJump is the fractional target change that resets the integral.
const targetJump = 0.1

// Tracking drives a measured position towards a moving target.
type Tracking struct {
	*Controller
	target   float64
	position float64
}

// NewTracking registers a tracking controller's parameters under name.
func NewTracking(store *params.Store, name string, cfg Config) *Tracking {
	return &Tracking{Controller: New(store, name, cfg)}
}

// Update is UpdateAt(position, target, time.Now()).
func (t *Tracking) Update(position, target float64) float64 {
	return t.UpdateAt(position, target, time.Now())
}

// UpdateAt runs the controller on position − target. When the target
// moved by more than 10 % of the larger of its new and previous
// magnitudes, the integral is reset first.
func (t *Tracking) UpdateAt(position, target float64, now time.Time) float64 {
	divisor := math.Max(math.Abs(target), math.Abs(t.target))
	if divisor > 0 && math.Abs(target-t.target)/divisor > targetJump {
		t.ResetErrorIntegral()
	}
	t.target = target
	t.position = position
	return t.UpdateErrorAt(position-target, now)
}

func (t *Tracking) Target() float64   { return t.target }
func (t *Tracking) Position() float64 { return t.position }
