// Package device provides the sysfs-backed hardware collaborators: the analog
// sound-level sensor and the capture indicator.
package device

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultResolutionBits matches a 12-bit SAR ADC.
const DefaultResolutionBits = 12

// ErrNoSensor is returned when no sensor path is configured.
var ErrNoSensor = errors.New("no sound-level sensor configured")

// ADCSensor reads the raw value file of an IIO voltage channel, for example
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type ADCSensor struct {
	path    string
	maximum uint16
}

// NewADCSensor checks that path is readable and returns a sensor whose
// readings are clamped to the given resolution.
func NewADCSensor(path string, resolutionBits int) (*ADCSensor, error) {
	if path == "" {
		return nil, ErrNoSensor
	}
	if resolutionBits <= 0 || resolutionBits > 16 {
		resolutionBits = DefaultResolutionBits
	}
	s := &ADCSensor{path: path, maximum: uint16(1<<resolutionBits - 1)} //nolint:gosec // bounded to 16 bits above
	if _, err := s.ReadLevel(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the value file the sensor reads.
func (s *ADCSensor) Path() string { return s.path }

// ReadLevel implements gate.Sensor.
func (s *ADCSensor) ReadLevel() (uint16, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("read sensor %s: %w", s.path, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sensor value %q: %w", strings.TrimSpace(string(raw)), err)
	}
	return uint16(min(max(v, 0), int64(s.maximum))), nil //nolint:gosec // clamped to maximum
}
