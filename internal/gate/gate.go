// Package gate decides when a capture session starts and when it should end,
// based on an ambient sound-level sensor.
//
// The gate works at two cadences: a fast trigger poll while waiting for sound,
// and a slower hysteresis poll during capture that feeds an activity window.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// Default poll periods.
const (
	DefaultTriggerPoll = 10 * time.Millisecond
	DefaultMonitorPoll = 500 * time.Millisecond
)

// Sensor reads the instantaneous ambient sound level.
type Sensor interface {
	ReadLevel() (uint16, error)
}

// Config holds the fixed gate thresholds and cadences.
type Config struct {
	Threshold         uint16        // readings at or above this level count as sound
	ContinuationRatio float64       // minimum active fraction of the window to keep capturing
	GraceSamples      int           // hysteresis polls during which a stop is never returned
	WindowCapacity    int           // activity window length in hysteresis polls
	TriggerPoll       time.Duration // period of the trigger poll
	MonitorPoll       time.Duration // period of the hysteresis poll
}

// Gate is the sound-level gate. WaitForTrigger and MonitorContinue must be
// called from a single goroutine.
type Gate struct {
	sensor Sensor
	cfg    Config
	clock  util.Clock
	window *Window
}

// New creates a gate reading from sensor. A nil clock uses the wall clock.
func New(sensor Sensor, cfg Config, clock util.Clock) *Gate {
	if cfg.TriggerPoll <= 0 {
		cfg.TriggerPoll = DefaultTriggerPoll
	}
	if cfg.MonitorPoll <= 0 {
		cfg.MonitorPoll = DefaultMonitorPoll
	}
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &Gate{
		sensor: sensor,
		cfg:    cfg,
		clock:  clock,
		window: NewWindow(cfg.WindowCapacity),
	}
}

// Config returns the gate configuration.
func (g *Gate) Config() Config { return g.cfg }

// MonitorPeriod returns the hysteresis poll period.
func (g *Gate) MonitorPeriod() time.Duration { return g.cfg.MonitorPoll }

// Window returns the activity window of the current session.
func (g *Gate) Window() *Window { return g.window }

// isActive classifies a reading.
func (g *Gate) isActive(level uint16) bool {
	return level >= g.cfg.Threshold
}

// WaitForTrigger polls the sensor until a reading reaches the threshold and
// returns that reading. It has no timeout; it only returns an error when ctx
// is done.
func (g *Gate) WaitForTrigger(ctx context.Context) (uint16, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		level, err := g.sensor.ReadLevel()
		if err != nil {
			slog.Warn("sound level read failed", "error", err)
		} else if g.isActive(level) {
			return level, nil
		}

		if err := g.clock.Sleep(ctx, g.cfg.TriggerPoll); err != nil {
			return 0, err
		}
	}
}

// BeginSession discards the activity history of the previous session.
func (g *Gate) BeginSession() {
	g.window.Reset()
}

// MonitorContinue takes one hysteresis reading and reports whether capture
// should continue. A failed read adds nothing to the window.
func (g *Gate) MonitorContinue() bool {
	level, err := g.sensor.ReadLevel()
	if err != nil {
		slog.Warn("sound level read failed during capture", "error", err)
	} else {
		active := g.isActive(level)
		g.window.Push(active)
		slog.Debug("sound level", "level", level, "active", active,
			"window", g.window.Len(), "active_ratio", g.window.ActiveRatio())
	}

	if g.window.Len() <= g.cfg.GraceSamples {
		return true
	}
	return g.window.ActiveRatio() >= g.cfg.ContinuationRatio
}
