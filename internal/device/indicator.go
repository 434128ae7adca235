package device

import (
	"fmt"
	"os"
)

// SysfsIndicator drives an LED or GPIO through its sysfs value file,
// for example /sys/class/leds/led0/brightness.
type SysfsIndicator struct {
	path string
}

// NewSysfsIndicator returns an indicator writing to path. It switches the
// output off so that a restart starts from a known state.
func NewSysfsIndicator(path string) (*SysfsIndicator, error) {
	ind := &SysfsIndicator{path: path}
	if err := ind.Set(false); err != nil {
		return nil, err
	}
	return ind, nil
}

// Set turns the indicator on or off.
func (i *SysfsIndicator) Set(on bool) error {
	value := "0"
	if on {
		value = "1"
	}
	//nolint:gosec // sysfs attribute mode
	if err := os.WriteFile(i.path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write indicator %s: %w", i.path, err)
	}
	return nil
}

// NopIndicator is used when no indicator is configured.
type NopIndicator struct{}

// Set does nothing.
func (NopIndicator) Set(bool) error { return nil }
