// Package main provides a sound-gated audio capture daemon: it waits for the
// ambient sound level to cross a threshold, records a bounded clip from the
// microphone, and uploads clips that are long enough.
//
// Usage:
//
//	soundgate [-config path/to/config.json] [-list-devices] [-version]
//
// If -config is not specified, soundgate looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-soundgate/internal/audio"
	"github.com/oszuidwest/zwfm-soundgate/internal/capture"
	"github.com/oszuidwest/zwfm-soundgate/internal/config"
	"github.com/oszuidwest/zwfm-soundgate/internal/device"
	"github.com/oszuidwest/zwfm-soundgate/internal/eventlog"
	"github.com/oszuidwest/zwfm-soundgate/internal/gate"
	"github.com/oszuidwest/zwfm-soundgate/internal/server"
	"github.com/oszuidwest/zwfm-soundgate/internal/session"
	"github.com/oszuidwest/zwfm-soundgate/internal/upload"
	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	listDevices := flag.Bool("list-devices", false, "List ALSA capture devices and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *listDevices {
		for _, d := range audio.Devices() {
			fmt.Printf("%s\t%s\n", d.ID, d.Name)
		}
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})))
	slog.Info("using config file", "path", *configPath, "device_id", cfg.DeviceID)

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("soundgate stopped with errors", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// run brings up the hardware, runs sessions until ctx is done, then tears
// everything down. Initialization failures are returned immediately.
func run(ctx context.Context, cfg *config.Config) error {
	sensor, err := device.NewADCSensor(cfg.Sensor.Path, cfg.Sensor.ResolutionBits)
	if err != nil {
		return util.WrapError("initialize sound-level sensor", err)
	}

	indicator, err := newIndicator(cfg.Indicator.Path)
	if err != nil {
		return util.WrapError("initialize indicator", err)
	}

	source, err := audio.NewALSASource(audio.SourceConfig{
		Device:     cfg.Audio.Device,
		SampleRate: cfg.Audio.SampleRateHz,
	})
	if err != nil {
		return util.WrapError("initialize audio source", err)
	}
	if err := source.Start(ctx); err != nil {
		return util.WrapError("start audio capture", err)
	}

	uploader, err := upload.New(cfg)
	if err != nil {
		_ = source.Close()
		return util.WrapError("initialize upload client", err)
	}

	g := gate.New(sensor, gate.Config{
		Threshold:         cfg.Gate.TriggerThreshold,
		ContinuationRatio: cfg.Gate.ContinuationRatio,
		GraceSamples:      cfg.GraceSamples(),
		WindowCapacity:    cfg.WindowCapacity(),
		TriggerPoll:       cfg.TriggerPoll(),
		MonitorPoll:       cfg.MonitorPoll(),
	}, nil)

	capCfg := capture.Config{
		ChunkFrames:   cfg.Audio.ChunkFrames,
		ReadTimeout:   cfg.ReadTimeout(),
		ShiftBits:     cfg.Audio.ShiftBits,
		PreviewSize:   capture.DefaultPreviewSize,
		MonitorPeriod: g.MonitorPeriod(),
	}
	var capturer capture.Capturer
	if cfg.Audio.Strategy == config.StrategyParallel {
		capturer = capture.NewParallel(source, capCfg, nil)
	} else {
		capturer = capture.NewSequential(source, capCfg, nil)
	}

	// The one capture buffer, reused by every session.
	buf := capture.NewBuffer(cfg.TargetSamples())

	var sinks session.MultiSink
	var events *eventlog.Logger
	if cfg.EventLog.Path != "" {
		events, err = eventlog.NewLogger(cfg.EventLog.Path)
		if err != nil {
			_ = source.Close()
			return util.WrapError("open event log", err)
		}
		sinks = append(sinks, events)
	}

	var hub *server.Hub
	if cfg.Status.Port > 0 {
		hub = server.NewHub()
		sinks = append(sinks, hub)
	}

	ctrl, err := session.New(g, capturer, buf, uploader, indicator, session.Policy{
		TargetSamples: cfg.TargetSamples(),
		MinSamples:    cfg.MinSamples(),
		SampleRate:    cfg.Audio.SampleRateHz,
		UploadTimeout: cfg.UploadTimeout(),
		DeviceID:      cfg.DeviceID,
	}, session.WithEventSink(sinks))
	if err != nil {
		_ = source.Close()
		return util.WrapError("create session controller", err)
	}

	var httpServer *http.Server
	var version *VersionChecker
	if hub != nil {
		version = NewVersionChecker()
		version.Start(ctx)
		httpServer = server.New(cfg.DeviceID, ctrl, version, hub, cfg.EventLog.Path).Start(cfg.Status.Port)
	}

	slog.Info("soundgate started",
		"audio_device", cfg.Audio.Device, "sample_rate", cfg.Audio.SampleRateHz,
		"strategy", cfg.Audio.Strategy, "upload_mode", cfg.Upload.Mode,
		"threshold", cfg.Gate.TriggerThreshold, "capture_window_ms", cfg.Session.CaptureWindowMs)

	runErr := ctrl.Run(ctx)

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if version != nil {
		version.Stop()
	}
	if err := server.Shutdown(shutdownCtx, httpServer); err != nil {
		errs = append(errs, util.WrapError("shut down status server", err))
	}
	if err := source.Close(); err != nil {
		errs = append(errs, util.WrapError("stop audio capture", err))
	}
	if err := indicator.Set(false); err != nil {
		errs = append(errs, util.WrapError("clear indicator", err))
	}
	if events != nil {
		if err := events.Close(); err != nil {
			errs = append(errs, util.WrapError("close event log", err))
		}
	}
	return errors.Join(errs...)
}

func newIndicator(path string) (session.Indicator, error) {
	if path == "" {
		return device.NopIndicator{}, nil
	}
	ind, err := device.NewSysfsIndicator(path)
	if err != nil {
		return nil, err
	}
	return ind, nil
}

// parseLogLevel maps a config level name to a slog level. Unknown names log at info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
