package optimization

import (
	"fmt"
	"math"
)

// Cooling names a temperature schedule.
type Cooling string

const (
	LinearCooling      Cooling = "linear"
	ExponentialCooling Cooling = "exponential"
)

// DeltaMode selects how the Metropolis criterion scales score differences.
type DeltaMode string

const (
	// DeltaMedian uses the running median of |Δscore| seen in the run.
	DeltaMedian DeltaMode = "median"
	// DeltaFixed uses a constant derived from mix_rate * score_scale.
	DeltaFixed DeltaMode = "fixed"
)

// Schedule holds the knobs of one annealing pass.
type Schedule struct {
	StartTemp float64 `json:"start_temp" yaml:"start_temp"`
	FinalTemp float64 `json:"final_temp" yaml:"final_temp"`
	MaxSteps  int     `json:"max_steps" yaml:"max_steps"`
	Cooling   Cooling `json:"cooling" yaml:"cooling"`
	MixRate   int     `json:"mix_rate" yaml:"mix_rate"`
}

// Parameters is an immutable snapshot of everything the optimizer reads.
// Pass it by value; use Update to derive a new snapshot.
type Parameters struct {
	// PeakRange is the default full width (ppm) of a peak's overlap window.
	PeakRange float64 `json:"peak_range" yaml:"peak_range"`
	// MixSize is the maximum number of compounds per mixture.
	MixSize int `json:"mix_size" yaml:"mix_size"`
	// ExtraMixtures is the slack added when partitioning.
	ExtraMixtures int `json:"extra_mixtures" yaml:"extra_mixtures"`
	// StartNum is the first mixture number handed out.
	StartNum int `json:"start_num" yaml:"start_num"`
	// UseGroup stratifies mixtures by the compound group attribute.
	UseGroup bool `json:"use_group" yaml:"use_group"`

	Anneal    Schedule `json:"anneal" yaml:"anneal"`
	Refine    Schedule `json:"refine" yaml:"refine"`
	UseRefine bool     `json:"use_refine" yaml:"use_refine"`

	Iterations       int  `json:"iterations" yaml:"iterations"`
	RandomizeInitial bool `json:"randomize_initial" yaml:"randomize_initial"`

	UseIntensity bool      `json:"use_intensity" yaml:"use_intensity"`
	ScorePower   float64   `json:"score_power" yaml:"score_power"`
	ScoreScale   float64   `json:"score_scale" yaml:"score_scale"`
	DeltaMode    DeltaMode `json:"delta_mode" yaml:"delta_mode"`

	// PrintStepSize bounds how often progress events are emitted.
	PrintStepSize int `json:"print_step_size" yaml:"print_step_size"`

	AromaticCutoff    float64 `json:"aromatic_cutoff" yaml:"aromatic_cutoff"`
	IntensePeakCutoff float64 `json:"intense_peak_cutoff" yaml:"intense_peak_cutoff"`

	// Seed drives every random source of a run. 0 means seed from the clock.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultParameters returns the stock optimizer settings.
func DefaultParameters() Parameters {
	return Parameters{
		PeakRange:     0.025,
		MixSize:       5,
		ExtraMixtures: 0,
		StartNum:      1001,
		Anneal: Schedule{
			StartTemp: 10000,
			FinalTemp: 25,
			MaxSteps:  1000,
			Cooling:   ExponentialCooling,
			MixRate:   2,
		},
		Refine: Schedule{
			StartTemp: 50,
			FinalTemp: 25,
			MaxSteps:  1000,
			Cooling:   ExponentialCooling,
			MixRate:   2,
		},
		Iterations:        1,
		RandomizeInitial:  true,
		ScorePower:        1,
		ScoreScale:        10000,
		DeltaMode:         DeltaMedian,
		PrintStepSize:     50,
		AromaticCutoff:    4.7,
		IntensePeakCutoff: 0.9,
	}
}

// ScheduleFor returns the schedule used by the given phase.
func (p Parameters) ScheduleFor(phase Phase) Schedule {
	if phase == PhaseRefine {
		return p.Refine
	}
	return p.Anneal
}

// Validate checks every knob and returns the first violation.
func (p Parameters) Validate() error {
	const op = "Parameters.Validate"
	invalid := func(format string, args ...interface{}) error {
		return &Error{
			Message: fmt.Sprintf(format, args...),
			Op:      op,
			Err:     ErrInvalidParameter,
		}
	}

	if !(p.PeakRange > 0) || math.IsInf(p.PeakRange, 0) {
		return invalid("peak_range must be positive, got %v", p.PeakRange)
	}
	if p.MixSize < 1 {
		return invalid("mix_size must be at least 1, got %d", p.MixSize)
	}
	if p.ExtraMixtures < 0 {
		return invalid("extra_mixtures must not be negative, got %d", p.ExtraMixtures)
	}
	if p.Iterations < 1 {
		return invalid("iterations must be at least 1, got %d", p.Iterations)
	}
	if !(p.ScoreScale >= 1) {
		return invalid("score_scale must be at least 1, got %v", p.ScoreScale)
	}
	if !(p.ScorePower > 0) {
		return invalid("score_power must be positive, got %v", p.ScorePower)
	}
	if p.PrintStepSize < 1 {
		return invalid("print_step_size must be at least 1, got %d", p.PrintStepSize)
	}
	switch p.DeltaMode {
	case DeltaMedian, DeltaFixed:
	default:
		return invalid("delta_mode must be %q or %q, got %q", DeltaMedian, DeltaFixed, p.DeltaMode)
	}
	if p.IntensePeakCutoff < 0 || p.IntensePeakCutoff > 1 {
		return invalid("intense_peak_cutoff must be within [0,1], got %v", p.IntensePeakCutoff)
	}
	for _, s := range []struct {
		name string
		sch  Schedule
	}{{"anneal", p.Anneal}, {"refine", p.Refine}} {
		if err := s.sch.validate(); err != nil {
			return invalid("%s schedule: %v", s.name, err)
		}
	}
	return nil
}

func (s Schedule) validate() error {
	if !(s.StartTemp > 0) {
		return fmt.Errorf("start_temp must be positive, got %v", s.StartTemp)
	}
	if !(s.FinalTemp > 0) {
		return fmt.Errorf("final_temp must be positive, got %v", s.FinalTemp)
	}
	if s.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", s.MaxSteps)
	}
	if s.MixRate < 1 {
		return fmt.Errorf("mix_rate must be at least 1, got %d", s.MixRate)
	}
	switch s.Cooling {
	case LinearCooling, ExponentialCooling:
	default:
		return fmt.Errorf("cooling must be %q or %q, got %q", LinearCooling, ExponentialCooling, s.Cooling)
	}
	return nil
}

// Update applies fn to a copy of p. If the result does not validate, the
// original snapshot is returned together with the validation error.
func (p Parameters) Update(fn func(*Parameters)) (Parameters, error) {
	next := p
	fn(&next)
	if err := next.Validate(); err != nil {
		return p, err
	}
	return next, nil
}
