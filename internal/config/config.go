package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// DatabaseNone disables run persistence.
const DatabaseNone = "none"

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Database struct {
		Type string `env:"DB_TYPE" envDefault:"sqlite"`
		DSN  string `env:"DB_DSN"`
	}
	Optimization struct {
		WorkerCount int           `env:"OPT_WORKER_COUNT" envDefault:"0"`
		EventBuffer int           `env:"OPT_EVENT_BUFFER" envDefault:"256"`
		JobTTL      time.Duration `env:"OPT_JOB_TTL" envDefault:"1h"`
		Library     string        `env:"OPT_LIBRARY"`
	}
	Optimizer Optimizer `envPrefix:"NMRMIX_"`
}

// Optimizer holds the parameter defaults applied to every run.
type Optimizer struct {
	PeakRange        float64 `env:"PEAK_RANGE" envDefault:"0.025"`
	MixSize          int     `env:"MIX_SIZE" envDefault:"5"`
	ExtraMixtures    int     `env:"EXTRA_MIXTURES" envDefault:"0"`
	StartNum         int     `env:"START_NUM" envDefault:"1001"`
	UseGroup         bool    `env:"USE_GROUP" envDefault:"false"`
	Iterations       int     `env:"ITERATIONS" envDefault:"1"`
	RandomizeInitial bool    `env:"RANDOMIZE_INITIAL" envDefault:"true"`
	UseIntensity     bool    `env:"USE_INTENSITY" envDefault:"false"`
	ScorePower       float64 `env:"SCORE_POWER" envDefault:"1"`
	ScoreScale       float64 `env:"SCORE_SCALE" envDefault:"10000"`
	DeltaMode        string  `env:"DELTA_MODE" envDefault:"median"`
	PrintStepSize    int     `env:"PRINT_STEP_SIZE" envDefault:"50"`
	Seed             int64   `env:"SEED" envDefault:"0"`

	StartTemp float64 `env:"START_TEMP" envDefault:"10000"`
	FinalTemp float64 `env:"FINAL_TEMP" envDefault:"25"`
	MaxSteps  int     `env:"MAX_STEPS" envDefault:"1000"`
	Cooling   string  `env:"COOLING" envDefault:"exponential"`
	MixRate   int     `env:"MIX_RATE" envDefault:"2"`

	UseRefine       bool    `env:"USE_REFINE" envDefault:"false"`
	RefineStartTemp float64 `env:"REFINE_START_TEMP" envDefault:"50"`
	RefineFinalTemp float64 `env:"REFINE_FINAL_TEMP" envDefault:"25"`
	RefineMaxSteps  int     `env:"REFINE_MAX_STEPS" envDefault:"1000"`
	RefineCooling   string  `env:"REFINE_COOLING" envDefault:"exponential"`
	RefineMixRate   int     `env:"REFINE_MIX_RATE" envDefault:"2"`

	AromaticCutoff    float64 `env:"AROMATIC_CUTOFF" envDefault:"4.7"`
	IntensePeakCutoff float64 `env:"INTENSE_PEAK_CUTOFF" envDefault:"0.9"`
}

// Parameters converts the defaults into a validated parameter snapshot.
func (o Optimizer) Parameters() (optimization.Parameters, error) {
	p := optimization.Parameters{
		PeakRange:     o.PeakRange,
		MixSize:       o.MixSize,
		ExtraMixtures: o.ExtraMixtures,
		StartNum:      o.StartNum,
		UseGroup:      o.UseGroup,
		Anneal: optimization.Schedule{
			StartTemp: o.StartTemp,
			FinalTemp: o.FinalTemp,
			MaxSteps:  o.MaxSteps,
			Cooling:   optimization.Cooling(strings.ToLower(o.Cooling)),
			MixRate:   o.MixRate,
		},
		Refine: optimization.Schedule{
			StartTemp: o.RefineStartTemp,
			FinalTemp: o.RefineFinalTemp,
			MaxSteps:  o.RefineMaxSteps,
			Cooling:   optimization.Cooling(strings.ToLower(o.RefineCooling)),
			MixRate:   o.RefineMixRate,
		},
		UseRefine:         o.UseRefine,
		Iterations:        o.Iterations,
		RandomizeInitial:  o.RandomizeInitial,
		UseIntensity:      o.UseIntensity,
		ScorePower:        o.ScorePower,
		ScoreScale:        o.ScoreScale,
		DeltaMode:         optimization.DeltaMode(strings.ToLower(o.DeltaMode)),
		PrintStepSize:     o.PrintStepSize,
		AromaticCutoff:    o.AromaticCutoff,
		IntensePeakCutoff: o.IntensePeakCutoff,
		Seed:              o.Seed,
	}
	if err := p.Validate(); err != nil {
		return optimization.Parameters{}, err
	}
	return p, nil
}

// Load parses the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

// LoadOptimizer parses only the NMRMIX_ optimizer defaults from the process
// environment.
func LoadOptimizer() (optimization.Parameters, error) {
	var o Optimizer
	if err := env.ParseWithOptions(&o, env.Options{Prefix: "NMRMIX_"}); err != nil {
		return optimization.Parameters{}, err
	}
	return o.Parameters()
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if _, err := cfg.Optimizer.Parameters(); err != nil {
		return nil, fmt.Errorf("optimizer defaults: %w", err)
	}

	// Set default database DSN based on type
	switch cfg.Database.Type {
	case DatabaseNone:
		cfg.Database.DSN = ""
	case "sqlite":
		if cfg.Database.DSN == "" {
			// Ensure the data directory exists
			if err := os.MkdirAll("data", 0o755); err != nil {
				return nil, err
			}
			cfg.Database.DSN = "file:data/nmrmix.db?_fk=1"
		}
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.Database.Type)
	}

	return cfg, nil
}
