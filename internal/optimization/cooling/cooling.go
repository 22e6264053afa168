// Package cooling provides the temperature schedules used by the annealer.
package cooling

import (
	"fmt"
	"math"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// Schedule produces the temperature sequence of one annealing pass.
type Schedule interface {
	// Start returns the temperature of the first step.
	Start() float64

	// Next returns the temperature that follows temp.
	Next(temp float64) float64

	// Steps returns the number of steps the schedule is tuned for.
	Steps() int
}

// Linear lowers the temperature by a constant amount each step.
type Linear struct {
	start float64
	steps int
	// Amount subtracted per step
	decrement float64
}

// NewLinear creates a linear schedule that reaches final after steps steps
func NewLinear(start, final float64, steps int) *Linear {
	if start <= 0 || final <= 0 {
		panic(fmt.Sprintf("temperatures must be positive, got start=%v final=%v", start, final))
	}
	if steps < 1 {
		panic(fmt.Sprintf("steps must be at least 1, got %d", steps))
	}
	return &Linear{
		start:     start,
		steps:     steps,
		decrement: (start - final) / float64(steps),
	}
}

// Start returns the initial temperature
func (l *Linear) Start() float64 { return l.start }

// Next returns temp minus the per-step decrement
func (l *Linear) Next(temp float64) float64 { return temp - l.decrement }

// Steps returns the tuned step count
func (l *Linear) Steps() int { return l.steps }

// Exponential multiplies the temperature by a constant factor each step.
type Exponential struct {
	start float64
	steps int
	// Per-step factor, exp(ln(final/start)/steps)
	alpha float64
}

// NewExponential creates an exponential schedule that reaches final after steps steps
func NewExponential(start, final float64, steps int) *Exponential {
	if start <= 0 || final <= 0 {
		panic(fmt.Sprintf("temperatures must be positive, got start=%v final=%v", start, final))
	}
	if steps < 1 {
		panic(fmt.Sprintf("steps must be at least 1, got %d", steps))
	}
	return &Exponential{
		start: start,
		steps: steps,
		alpha: math.Exp(math.Log(final/start) / float64(steps)),
	}
}

// Start returns the initial temperature
func (e *Exponential) Start() float64 { return e.start }

// Next returns temp times alpha
func (e *Exponential) Next(temp float64) float64 { return temp * e.alpha }

// Steps returns the tuned step count
func (e *Exponential) Steps() int { return e.steps }

// Alpha returns the per-step factor
func (e *Exponential) Alpha() float64 { return e.alpha }

// New returns the schedule described by s.
func New(s optimization.Schedule) (Schedule, error) {
	if s.StartTemp <= 0 || s.FinalTemp <= 0 || s.MaxSteps < 1 {
		return nil, &optimization.Error{
			Message: fmt.Sprintf("invalid schedule: start=%v final=%v steps=%d", s.StartTemp, s.FinalTemp, s.MaxSteps),
			Op:      "cooling.New",
			Err:     optimization.ErrInvalidParameter,
		}
	}
	switch s.Cooling {
	case optimization.LinearCooling:
		return NewLinear(s.StartTemp, s.FinalTemp, s.MaxSteps), nil
	case optimization.ExponentialCooling:
		return NewExponential(s.StartTemp, s.FinalTemp, s.MaxSteps), nil
	default:
		return nil, &optimization.Error{
			Message: fmt.Sprintf("unknown cooling %q", s.Cooling),
			Op:      "cooling.New",
			Err:     optimization.ErrInvalidParameter,
		}
	}
}

// Temperatures returns the first n temperatures of s.
func Temperatures(s Schedule, n int) []float64 {
	out := make([]float64, 0, n)
	t := s.Start()
	for i := 0; i < n; i++ {
		out = append(out, t)
		t = s.Next(t)
	}
	return out
}
