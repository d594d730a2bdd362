package pid

import (
	"math"
	"time"

	"golang.org/x/exp/constraints"

	"github.com/flybot/flybot/internal/params"
)

// Config holds the defaults a controller registers its parameters with.
type Config struct {
	Kp, Ki, Kd float64
	DFilter    float64 // derivative low-pass coefficient in [0,1]; 1 = unfiltered
	ILimit     float64 // bound on the accumulated error integral
	DLimit     float64 // bound on the filtered derivative term
	Limit      float64 // bound on the output

	InitialOutput float64 // returned until a derivative can be computed
}

// Controller is an error-driven PID with anti-windup, a filtered and
// limited derivative term and a clamped output. It uses negative feedback:
// a positive error drives a negative output.
//
// All gains and limits are parameters named "<name>.kp", "<name>.ki", ...
// and are re-read on every update.
type Controller struct {
	kp, ki, kd *params.Param
	dfilter    *params.Param
	ilimit     *params.Param
	dlimit     *params.Param
	limit      *params.Param

	errorIntegral float64
	lastError     float64
	lastDTerm     float64
	lastOutput    float64
	updateCount   int
	lastUpdate    time.Time
}

// New registers the controller's parameters in store under name.
func New(store *params.Store, name string, cfg Config) *Controller {
	return &Controller{
		kp:         store.Register(name+".kp", "Proportional gain", params.Float(cfg.Kp)),
		ki:         store.Register(name+".ki", "Integral gain", params.Float(cfg.Ki)),
		kd:         store.Register(name+".kd", "Derivative gain", params.Float(cfg.Kd)),
		dfilter:    store.Register(name+".dfilter", "Derivative term filter coefficient (0-1)", params.Float(cfg.DFilter)),
		ilimit:     store.Register(name+".ilimit", "Integral windup limit", params.Float(cfg.ILimit)),
		dlimit:     store.Register(name+".dlimit", "Derivative term limit", params.Float(cfg.DLimit)),
		limit:      store.Register(name+".limit", "Output limit", params.Float(cfg.Limit)),
		lastOutput: cfg.InitialOutput,
	}
}

// UpdateError is UpdateErrorAt(err, time.Now()).
func (c *Controller) UpdateError(err float64) float64 {
	return c.UpdateErrorAt(err, time.Now())
}

// UpdateErrorAt feeds the current error and returns the new output.
// The first call only records err and now; a call with no elapsed time
// returns the previous output unchanged.
func (c *Controller) UpdateErrorAt(err float64, now time.Time) float64 {
	c.updateCount++
	if c.updateCount == 1 {
		c.lastError = err
		c.lastUpdate = now
		return c.lastOutput
	}

	elapsed := now.Sub(c.lastUpdate)
	if elapsed <= 0 {
		return c.lastOutput
	}
	c.lastUpdate = now
	dt := elapsed.Seconds()

	pTerm := c.kp.Float() * err

	c.errorIntegral = clamp(c.errorIntegral+err*dt, c.ilimit.Float())
	iTerm := c.ki.Float() * c.errorIntegral

	rawD := c.kd.Float() * (err - c.lastError) / dt
	alpha := math.Max(0, math.Min(1, c.dfilter.Float()))
	dTerm := clamp(c.lastDTerm+alpha*(rawD-c.lastDTerm), c.dlimit.Float())

	c.lastDTerm = dTerm
	c.lastError = err

	c.lastOutput = clamp(-(pTerm + iTerm + dTerm), c.limit.Float())
	return c.lastOutput
}

// ResetErrorIntegral zeroes the accumulated integral.
func (c *Controller) ResetErrorIntegral() {
	c.errorIntegral = 0
}

// Output returns the last computed output.
func (c *Controller) Output() float64 { return c.lastOutput }

// ErrorIntegral returns the accumulated, clamped integral of the error.
func (c *Controller) ErrorIntegral() float64 { return c.errorIntegral }

// clamp bounds v to [-limit, limit]. A negative limit is treated as its
// magnitude.
func clamp[T constraints.Float](v, limit T) T {
	if limit < 0 {
		limit = -limit
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
