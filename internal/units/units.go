// Package units converts displacements measured in pixels per frame pair
// into physical velocities.
package units

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Unit constants
const (
	PixelsPerFrame = "px"
	MPS            = "mps"
	MMPS           = "mmps"
	KMPH           = "kmph"
	MPH            = "mph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{PixelsPerFrame, MPS, MMPS, KMPH, MPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed from metres per second to the target units.
// Unknown units and px return the input unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MMPS:
		return speedMPS * 1000
	case KMPH:
		return speedMPS * 3.6
	case MPH:
		return speedMPS * 2.2369362920544
	default:
		return speedMPS
	}
}

// Calibration relates the image to the flow: the size of one pixel in the
// light sheet and the time between the two frames of a pair.
type Calibration struct {
	// PixelSize is in metres per pixel.
	PixelSize     float64
	FrameInterval time.Duration
}

// ErrNotCalibrated is returned when a physical unit is requested from a zero
// calibration.
var ErrNotCalibrated = errors.New("pixel size and frame interval are required for physical units")

// Validate checks the calibration. The zero value is invalid.
func (c Calibration) Validate() error {
	if c.PixelSize == 0 && c.FrameInterval == 0 {
		return ErrNotCalibrated
	}
	if c.PixelSize <= 0 || math.IsNaN(c.PixelSize) || math.IsInf(c.PixelSize, 0) {
		return fmt.Errorf("pixel size must be positive, got %g", c.PixelSize)
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive, got %v", c.FrameInterval)
	}
	return nil
}

// Factor returns the multiplier from pixels per frame pair to unit.
func (c Calibration) Factor(unit string) (float64, error) {
	if !IsValid(unit) {
		return 0, fmt.Errorf("unknown unit %q (want one of %s)", unit, GetValidUnitsString())
	}
	if unit == PixelsPerFrame {
		return 1, nil
	}
	if err := c.Validate(); err != nil {
		return 0, err
	}
	return ConvertSpeed(c.PixelSize/c.FrameInterval.Seconds(), unit), nil
}
