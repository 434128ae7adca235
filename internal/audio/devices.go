package audio

import (
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// Device represents an available audio input device.
type Device struct {
	// ID is the ALSA device identifier passed to arecord -D.
	ID string `json:"id"`
	// Name is the card display name.
	Name string `json:"name"`
}

var cardPattern = regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`)

// Devices lists ALSA capture cards reported by arecord -l.
func Devices() []Device {
	output, err := exec.Command("arecord", "-l").CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "error", err)
		return nil
	}
	return parseDevices(string(output))
}

// parseDevices extracts one Device per card line, skipping duplicate cards
// that expose several subdevices.
func parseDevices(output string) []Device {
	var devices []Device
	seen := make(map[string]bool)
	for line := range strings.SplitSeq(output, "\n") {
		m := cardPattern.FindStringSubmatch(line)
		if len(m) < 4 {
			continue
		}
		id := "plughw:CARD=" + m[2]
		if seen[id] {
			continue
		}
		seen[id] = true
		devices = append(devices, Device{ID: id, Name: m[3]})
	}
	return devices
}
