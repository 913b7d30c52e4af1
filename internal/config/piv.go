package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical evaluation defaults file.
// This is the single source of truth for all default parameter values.
const DefaultConfigPath = "config/piv.defaults.json"

// SchemaVersion is the only configuration layout this build understands.
const SchemaVersion = 1

// Sequence names accepted by the evaluation section.
const (
	SequenceTwoImage    = "two_image"
	SequenceConsecutive = "consecutive"
	SequenceSkip        = "skip"
	SequenceCascade     = "cascade"
	SequencePairs       = "pairs"
)

// Peak estimator names. "auto" picks parabolic for sum-of-correlation runs
// and gaussian otherwise.
const (
	PeakAuto      = "auto"
	PeakGaussian  = "gaussian"
	PeakParabolic = "parabolic"
)

// PIVConfig is the root configuration. Sections are optional; every value
// omitted from the JSON falls back to the default returned by its Get*
// accessor, so partial configs are safe.
type PIVConfig struct {
	SchemaVersion  *int                  `json:"schema_version,omitempty"`
	Evaluation     *EvaluationConfig     `json:"evaluation,omitempty"`
	Filters        *FilterConfig         `json:"filters,omitempty"`
	SinglePixel    *SinglePixelConfig    `json:"single_pixel,omitempty"`
	Reconstruction *ReconstructionConfig `json:"reconstruction,omitempty"`
	Output         *OutputConfig         `json:"output,omitempty"`
	Catalog        *CatalogConfig        `json:"catalog,omitempty"`
	Publish        *PublishConfig        `json:"publish,omitempty"`
}

// PassWindow describes one evaluation pass: interrogation window size,
// search area inside the correlation map, and grid spacing.
type PassWindow struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	SearchWidth  int `json:"search_width"`
	SearchHeight int `json:"search_height"`
	SpacingX     int `json:"spacing_x"`
	SpacingY     int `json:"spacing_y"`
}

// ROI is an axis-aligned region of interest in pixels. P1 is the top-left
// corner and P2 the bottom-right corner.
type ROI struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// ExportConfig selects a correlation map to dump for inspection.
type ExportConfig struct {
	Enabled          *bool `json:"enabled,omitempty"`
	Vector           *int  `json:"vector,omitempty"`
	Pass             *int  `json:"pass,omitempty"`
	OnlySumOfCorrMap *bool `json:"only_sum_of_correlation,omitempty"`
}

// EvaluationConfig holds the multi-pass correlation parameters.
type EvaluationConfig struct {
	Sequence         *string       `json:"sequence,omitempty"`
	Skip             *int          `json:"skip,omitempty"`
	SumOfCorrelation *bool         `json:"sum_of_correlation,omitempty"`
	ShearWindows     *bool         `json:"shear_windows,omitempty"`
	Passes           *int          `json:"passes,omitempty"`
	Windows          []PassWindow  `json:"windows,omitempty"`
	ROI              *ROI          `json:"roi,omitempty"`
	PreShiftX        *int          `json:"pre_shift_x,omitempty"`
	PreShiftY        *int          `json:"pre_shift_y,omitempty"`
	NormMedianTest   *bool         `json:"normalized_median_test,omitempty"`
	Replace          *bool         `json:"replace,omitempty"`
	Median           *bool         `json:"median,omitempty"`
	Smoothing        *bool         `json:"smoothing,omitempty"`
	PeakEstimator    *string       `json:"peak_estimator,omitempty"`
	Workers          *int          `json:"workers,omitempty"` // 0 picks a count from the grid size
	Export           *ExportConfig `json:"export_correlation,omitempty"`
}

// FilterConfig holds vector post-processing thresholds.
type FilterConfig struct {
	NoiseLevel    *float64 `json:"noise_level,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
	MinNeighbours *int     `json:"min_neighbours,omitempty"`
	ReferenceDx   *float64 `json:"reference_dx,omitempty"`
	ReferenceDy   *float64 `json:"reference_dy,omitempty"`
}

// SinglePixelConfig holds the ensemble single-pixel correlation parameters.
type SinglePixelConfig struct {
	DoubleFrame     *bool `json:"double_frame,omitempty"`
	ROI             *ROI  `json:"roi,omitempty"`
	DomainWidth     *int  `json:"domain_width,omitempty"`
	DomainHeight    *int  `json:"domain_height,omitempty"`
	PreShiftX       *int  `json:"pre_shift_x,omitempty"`
	PreShiftY       *int  `json:"pre_shift_y,omitempty"`
	PreShiftFromPIV *bool `json:"pre_shift_from_evaluation,omitempty"`
	ThreeByThree    *bool `json:"three_by_three,omitempty"`
	SignalOnly      *bool `json:"signal_only,omitempty"`
}

// ReconstructionConfig holds the out-of-plane reconstruction parameters.
type ReconstructionConfig struct {
	Dz               *float64 `json:"dz,omitempty"`
	Skip             *int     `json:"skip,omitempty"`
	LinearRegression *bool    `json:"linear_regression,omitempty"`
}

// OutputConfig controls where vector files are written.
type OutputConfig struct {
	Destination      *string `json:"destination,omitempty"`
	Header           *bool   `json:"header,omitempty"`
	UseImageBaseName *bool   `json:"use_image_base_name,omitempty"`
}

// CatalogConfig points at the sqlite output catalog. An empty path disables it.
type CatalogConfig struct {
	Path *string `json:"path,omitempty"`
}

// PublishConfig describes the optional S3-compatible mirror for outputs.
// Credentials are read from the named environment variables, never from the
// file itself.
type PublishConfig struct {
	Endpoint     *string `json:"endpoint,omitempty"`
	Bucket       *string `json:"bucket,omitempty"`
	Prefix       *string `json:"prefix,omitempty"`
	Secure       *bool   `json:"secure,omitempty"`
	AccessKeyEnv *string `json:"access_key_env,omitempty"`
	SecretKeyEnv *string `json:"secret_key_env,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a PIVConfig with all sections set to nil.
// Use LoadConfig to load actual values from a file.
func EmptyConfig() *PIVConfig {
	return &PIVConfig{}
}

// DefaultWindows is the three-pass window table used when none is configured.
func DefaultWindows() []PassWindow {
	return []PassWindow{
		{Width: 64, Height: 64, SearchWidth: 32, SearchHeight: 32, SpacingX: 32, SpacingY: 32},
		{Width: 32, Height: 32, SearchWidth: 8, SearchHeight: 8, SpacingX: 16, SpacingY: 16},
		{Width: 32, Height: 32, SearchWidth: 8, SearchHeight: 8, SpacingX: 12, SpacingY: 12},
	}
}

// DefaultConfig returns a config with every field populated with its default.
// It mirrors config/piv.defaults.json.
func DefaultConfig() *PIVConfig {
	return &PIVConfig{
		SchemaVersion: ptrInt(SchemaVersion),
		Evaluation: &EvaluationConfig{
			Sequence:         ptrString(SequenceTwoImage),
			Skip:             ptrInt(0),
			SumOfCorrelation: ptrBool(false),
			ShearWindows:     ptrBool(false),
			Passes:           ptrInt(3),
			Windows:          DefaultWindows(),
			PreShiftX:        ptrInt(0),
			PreShiftY:        ptrInt(0),
			NormMedianTest:   ptrBool(true),
			Replace:          ptrBool(true),
			Median:           ptrBool(false),
			Smoothing:        ptrBool(true),
			PeakEstimator:    ptrString(PeakAuto),
			Workers:          ptrInt(0),
			Export: &ExportConfig{
				Enabled:          ptrBool(false),
				Vector:           ptrInt(1),
				Pass:             ptrInt(1),
				OnlySumOfCorrMap: ptrBool(false),
			},
		},
		Filters: &FilterConfig{
			NoiseLevel:    ptrFloat64(0.1),
			Threshold:     ptrFloat64(2.0),
			MinNeighbours: ptrInt(3),
			ReferenceDx:   ptrFloat64(0),
			ReferenceDy:   ptrFloat64(0),
		},
		SinglePixel: &SinglePixelConfig{
			DoubleFrame:     ptrBool(false),
			ROI:             &ROI{X1: 0, Y1: 0, X2: 63, Y2: 63},
			DomainWidth:     ptrInt(7),
			DomainHeight:    ptrInt(7),
			PreShiftX:       ptrInt(0),
			PreShiftY:       ptrInt(0),
			PreShiftFromPIV: ptrBool(false),
			ThreeByThree:    ptrBool(false),
			SignalOnly:      ptrBool(true),
		},
		Reconstruction: &ReconstructionConfig{
			Dz:               ptrFloat64(16),
			Skip:             ptrInt(0),
			LinearRegression: ptrBool(false),
		},
		Output: &OutputConfig{
			Destination:      ptrString("deleteme"),
			Header:           ptrBool(true),
			UseImageBaseName: ptrBool(false),
		},
		Catalog: &CatalogConfig{
			Path: ptrString(""),
		},
		Publish: &PublishConfig{
			Endpoint:     ptrString(""),
			Bucket:       ptrString(""),
			Prefix:       ptrString(""),
			Secure:       ptrBool(true),
			AccessKeyEnv: ptrString("PIV_S3_ACCESS_KEY"),
			SecretKeyEnv: ptrString("PIV_S3_SECRET_KEY"),
		},
	}
}

// LoadConfig loads a PIVConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*PIVConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PIVConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/piv/
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PIVConfig) Validate() error {
	if c.SchemaVersion != nil && *c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (want %d)", *c.SchemaVersion, SchemaVersion)
	}
	if err := c.Evaluation.validate(); err != nil {
		return fmt.Errorf("evaluation: %w", err)
	}
	if err := c.Filters.validate(); err != nil {
		return fmt.Errorf("filters: %w", err)
	}
	if err := c.SinglePixel.validate(); err != nil {
		return fmt.Errorf("single_pixel: %w", err)
	}
	if err := c.Reconstruction.validate(); err != nil {
		return fmt.Errorf("reconstruction: %w", err)
	}
	if err := c.Publish.validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (r *ROI) validate() error {
	if r == nil {
		return nil
	}
	if r.X1 < 0 || r.Y1 < 0 {
		return fmt.Errorf("roi origin must be non-negative, got (%d,%d)", r.X1, r.Y1)
	}
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return fmt.Errorf("roi must have positive extent, got (%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
	}
	return nil
}

func (e *EvaluationConfig) validate() error {
	if e == nil {
		return nil
	}
	switch e.GetSequence() {
	case SequenceTwoImage, SequenceConsecutive, SequenceSkip, SequenceCascade, SequencePairs:
	default:
		return fmt.Errorf("unknown sequence %q", e.GetSequence())
	}
	if e.GetSkip() < 0 {
		return fmt.Errorf("skip must be non-negative, got %d", e.GetSkip())
	}
	windows := e.GetWindows()
	if e.GetPasses() < 1 || e.GetPasses() > len(windows) {
		return fmt.Errorf("passes must be between 1 and %d, got %d", len(windows), e.GetPasses())
	}
	for i, w := range windows {
		if w.Width < 2 || w.Height < 2 {
			return fmt.Errorf("pass %d: window must be at least 2x2, got %dx%d", i, w.Width, w.Height)
		}
		if w.SearchWidth < 3 || w.SearchHeight < 3 || w.SearchWidth > w.Width || w.SearchHeight > w.Height {
			return fmt.Errorf("pass %d: search area %dx%d must fit inside window %dx%d and be at least 3x3",
				i, w.SearchWidth, w.SearchHeight, w.Width, w.Height)
		}
		if w.SpacingX < 1 || w.SpacingY < 1 {
			return fmt.Errorf("pass %d: spacing must be positive", i)
		}
	}
	if err := e.ROI.validate(); err != nil {
		return err
	}
	switch e.GetPeakEstimator() {
	case PeakAuto, PeakGaussian, PeakParabolic:
	default:
		return fmt.Errorf("unknown peak_estimator %q", e.GetPeakEstimator())
	}
	if e.GetWorkers() < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", e.GetWorkers())
	}
	if vector, pass, _, ok := e.GetExport(); ok && (vector < 0 || pass < 0 || pass > e.GetPasses()) {
		return fmt.Errorf("export_correlation: vector %d / pass %d out of range", vector, pass)
	}
	return nil
}

func (f *FilterConfig) validate() error {
	if f == nil {
		return nil
	}
	if f.GetNoiseLevel() < 0 {
		return fmt.Errorf("noise_level must be non-negative, got %f", f.GetNoiseLevel())
	}
	if f.GetThreshold() <= 0 {
		return fmt.Errorf("threshold must be positive, got %f", f.GetThreshold())
	}
	if n := f.GetMinNeighbours(); n < 0 || n > 8 {
		return fmt.Errorf("min_neighbours must be between 0 and 8, got %d", n)
	}
	return nil
}

func (s *SinglePixelConfig) validate() error {
	if s == nil {
		return nil
	}
	if w, h := s.GetDomainWidth(), s.GetDomainHeight(); w < 3 || h < 3 || w%2 == 0 || h%2 == 0 {
		return fmt.Errorf("domain must be odd and at least 3x3, got %dx%d", w, h)
	}
	return s.ROI.validate()
}

func (r *ReconstructionConfig) validate() error {
	if r == nil {
		return nil
	}
	if r.GetDz() <= 0 {
		return fmt.Errorf("dz must be positive, got %f", r.GetDz())
	}
	if r.GetSkip() < 0 {
		return fmt.Errorf("skip must be non-negative, got %d", r.GetSkip())
	}
	return nil
}

func (p *PublishConfig) validate() error {
	if p == nil {
		return nil
	}
	if p.GetEndpoint() != "" && p.GetBucket() == "" {
		return fmt.Errorf("bucket is required when endpoint is set")
	}
	return nil
}
