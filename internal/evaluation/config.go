package evaluation

import (
	"github.com/banshee-data/velocity.piv/internal/config"
)

// Config is the resolved parameter set of one evaluation run.
type Config struct {
	Sequence         string
	Skip             int
	SumOfCorrelation bool
	ShearWindows     bool
	// Windows holds one entry per pass.
	Windows  []config.PassWindow
	ROI      *config.ROI
	PreShift [2]int

	NormMedianTest bool
	Replace        bool
	Median         bool
	Smoothing      bool
	NoiseLevel     float64
	Threshold      float64

	// PeakEstimator is "gaussian", "parabolic" or "auto".
	PeakEstimator string
	// Workers overrides the automatic worker count when positive.
	Workers int

	// Export selects correlation maps to dump; nil disables export.
	Export *ExportSelection

	Destination      string
	Header           bool
	UseImageBaseName bool
}

// ExportSelection picks correlation maps to write next to the output. Vector
// and Pass are 0-based; -1 selects all.
type ExportSelection struct {
	Vector        int
	Pass          int
	OnlySumOfCorr bool
}

// FromPIVConfig resolves the evaluation, filter and output sections.
func FromPIVConfig(c *config.PIVConfig) Config {
	ev := c.Evaluation
	windows := ev.GetWindows()
	if n := ev.GetPasses(); n < len(windows) {
		windows = windows[:n]
	}
	px, py := ev.GetPreShift()

	cfg := Config{
		Sequence:         ev.GetSequence(),
		Skip:             ev.GetSkip(),
		SumOfCorrelation: ev.GetSumOfCorrelation(),
		ShearWindows:     ev.GetShearWindows(),
		Windows:          windows,
		ROI:              ev.GetROI(),
		PreShift:         [2]int{px, py},
		NormMedianTest:   ev.GetNormMedianTest(),
		Replace:          ev.GetReplace(),
		Median:           ev.GetMedian(),
		Smoothing:        ev.GetSmoothing(),
		NoiseLevel:       c.Filters.GetNoiseLevel(),
		Threshold:        c.Filters.GetThreshold(),
		PeakEstimator:    ev.GetPeakEstimator(),
		Workers:          ev.GetWorkers(),
		Destination:      c.Output.GetDestination(),
		Header:           c.Output.GetHeader(),
		UseImageBaseName: c.Output.GetUseImageBaseName(),
	}
	if vector, pass, only, ok := ev.GetExport(); ok {
		cfg.Export = &ExportSelection{Vector: vector - 1, Pass: pass - 1, OnlySumOfCorr: only}
	}
	return cfg
}

// DefaultConfig is FromPIVConfig applied to the built-in defaults.
func DefaultConfig() Config {
	return FromPIVConfig(config.DefaultConfig())
}
