// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-soundgate/internal/types"
	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultLogLevel           = "info"
	DefaultSampleRateHz       = 16000
	DefaultShiftBits          = 16
	DefaultChunkFrames        = 2048
	DefaultReadTimeoutMs      = 100
	DefaultStrategy           = StrategySequential
	DefaultResolutionBits     = 12
	DefaultTriggerThreshold   = 2000
	DefaultTriggerPollMs      = 10
	DefaultMonitorPollMs      = 500
	DefaultHysteresisWindowMs = 10000 // 20 polls of 500 ms
	DefaultGracePeriodMs      = 5000  // 10 polls of 500 ms
	DefaultContinuationRatio  = 0.6
	DefaultCaptureWindowMs    = 10000
	DefaultMinLengthMs        = 3000
	DefaultUploadTimeoutMs    = 10000
	DefaultUploadMode         = UploadModeHTTP
	DefaultS3Region           = "auto"
)

// Capture strategies.
const (
	StrategySequential = "sequential"
	StrategyParallel   = "parallel"
)

// Upload modes.
const (
	UploadModeHTTP = "http"
	UploadModeS3   = "s3"
)

// ErrNoConfigFile is returned when the configuration file does not exist.
var ErrNoConfigFile = errors.New("configuration file not found")

// AudioConfig holds the capture stream settings.
type AudioConfig struct {
	Device        string `json:"device" validate:"required"`                    // ALSA device passed to arecord -D
	SampleRateHz  int    `json:"sample_rate_hz" validate:"gte=8000,lte=192000"` // Capture sample rate
	ShiftBits     uint   `json:"shift_bits" validate:"lte=31"`                  // Right shift from 32-bit frames to 16-bit PCM
	ChunkFrames   int    `json:"chunk_frames" validate:"gte=1,lte=65536"`       // Frames per hardware read
	ReadTimeoutMs int64  `json:"read_timeout_ms" validate:"gte=1,lte=10000"`    // Bound on one hardware read
	Strategy      string `json:"strategy" validate:"oneof=sequential parallel"` // Capture strategy
}

// SensorConfig holds the ambient sound-level sensor settings.
type SensorConfig struct {
	Path           string `json:"path" validate:"required"`                // IIO raw value file
	ResolutionBits int    `json:"resolution_bits" validate:"gte=1,lte=16"` // ADC resolution
}

// IndicatorConfig holds the capture indicator settings.
type IndicatorConfig struct {
	Path string `json:"path"` // sysfs LED or GPIO value file (empty = no indicator)
}

// GateConfig holds the trigger and hysteresis parameters.
type GateConfig struct {
	TriggerThreshold   uint16  `json:"trigger_threshold" validate:"gte=1"`        // Level at or above which sound is present
	TriggerPollMs      int64   `json:"trigger_poll_ms" validate:"gte=1"`          // Poll period while waiting
	MonitorPollMs      int64   `json:"monitor_poll_ms" validate:"gte=1"`          // Poll period during capture
	HysteresisWindowMs int64   `json:"hysteresis_window_ms" validate:"gte=1"`     // Span of the activity window
	GracePeriodMs      int64   `json:"grace_period_ms" validate:"gte=0"`          // Initial span without early stop
	ContinuationRatio  float64 `json:"continuation_ratio" validate:"gte=0,lte=1"` // Minimum active fraction to continue
}

// SessionConfig holds the per-session limits.
type SessionConfig struct {
	CaptureWindowMs int64 `json:"capture_window_ms" validate:"gte=1,lte=600000"` // Longest capture
	MinLengthMs     int64 `json:"min_length_ms" validate:"gte=0"`                // Shortest capture that is uploaded
	UploadTimeoutMs int64 `json:"upload_timeout_ms" validate:"gte=1"`            // Bound on one upload
}

// OAuthConfig holds optional OAuth2 client-credentials settings for HTTP uploads.
type OAuthConfig struct {
	TokenURL     string   `json:"token_url" validate:"omitempty,url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
}

// IsConfigured reports whether OAuth2 is enabled.
func (o *OAuthConfig) IsConfigured() bool {
	return o.TokenURL != "" || o.ClientID != "" || o.ClientSecret != ""
}

// S3Config holds S3-compatible storage settings.
type S3Config struct {
	Endpoint        string `json:"endpoint" validate:"omitempty,url"` // Custom endpoint (empty = AWS)
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// UploadConfig selects and configures the upload client.
type UploadConfig struct {
	Mode     string      `json:"mode" validate:"oneof=http s3"`
	Endpoint string      `json:"endpoint" validate:"omitempty,url"`
	OAuth    OAuthConfig `json:"oauth"`
	S3       S3Config    `json:"s3"`
}

// EventLogConfig holds the session event log settings.
type EventLogConfig struct {
	Path string `json:"path"` // JSON lines file (empty = disabled)
}

// StatusConfig holds the status server settings.
type StatusConfig struct {
	Port int `json:"port" validate:"gte=0,lte=65535"` // HTTP port (0 = disabled)
}

// Config holds all application configuration. It is read once at startup
// and never modified afterwards.
type Config struct {
	DeviceID  string          `json:"device_id" validate:"required,max=64"`
	LogLevel  string          `json:"log_level" validate:"oneof=debug info warn error"`
	Audio     AudioConfig     `json:"audio"`
	Sensor    SensorConfig    `json:"sensor"`
	Indicator IndicatorConfig `json:"indicator"`
	Gate      GateConfig      `json:"gate"`
	Session   SessionConfig   `json:"session"`
	Upload    UploadConfig    `json:"upload"`
	EventLog  EventLogConfig  `json:"event_log"`
	Status    StatusConfig    `json:"status"`
}

// New returns a Config populated with defaults. Values present in a file
// are unmarshaled over it, so an explicit zero survives where it is valid.
func New() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			SampleRateHz:  DefaultSampleRateHz,
			ShiftBits:     DefaultShiftBits,
			ChunkFrames:   DefaultChunkFrames,
			ReadTimeoutMs: DefaultReadTimeoutMs,
			Strategy:      DefaultStrategy,
		},
		Sensor: SensorConfig{ResolutionBits: DefaultResolutionBits},
		Gate: GateConfig{
			TriggerThreshold:   DefaultTriggerThreshold,
			TriggerPollMs:      DefaultTriggerPollMs,
			MonitorPollMs:      DefaultMonitorPollMs,
			HysteresisWindowMs: DefaultHysteresisWindowMs,
			GracePeriodMs:      DefaultGracePeriodMs,
			ContinuationRatio:  DefaultContinuationRatio,
		},
		Session: SessionConfig{
			CaptureWindowMs: DefaultCaptureWindowMs,
			MinLengthMs:     DefaultMinLengthMs,
			UploadTimeoutMs: DefaultUploadTimeoutMs,
		},
		Upload: UploadConfig{
			Mode: DefaultUploadMode,
			S3:   S3Config{Region: DefaultS3Region},
		},
	}
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoConfigFile, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a JSON configuration document.
func Parse(data []byte) (*Config, error) {
	c := New()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, util.WrapError("parse config", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyDefaults sets default values for fields where zero is never meaningful.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Audio.Strategy == "" {
		c.Audio.Strategy = DefaultStrategy
	}
	if c.Upload.Mode == "" {
		c.Upload.Mode = DefaultUploadMode
	}
	if c.Upload.S3.Region == "" {
		c.Upload.S3.Region = DefaultS3Region
	}
	c.Upload.S3.Prefix = strings.Trim(c.Upload.S3.Prefix, "/")
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	verr := types.NewValidationError()

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return util.WrapError("validate config", err)
		}
		for _, e := range fieldErrs {
			verr.Add(fieldPath(e), formatValidationMessage(e), e.Value())
		}
	}

	if bits := c.Sensor.ResolutionBits; bits >= 1 && bits <= 16 {
		if maxLevel := 1<<bits - 1; int(c.Gate.TriggerThreshold) > maxLevel {
			verr.Add("gate.trigger_threshold", fmt.Sprintf("must not exceed the sensor range %d", maxLevel), c.Gate.TriggerThreshold)
		}
	}
	if c.Gate.MonitorPollMs > 0 && c.Gate.HysteresisWindowMs < c.Gate.MonitorPollMs {
		verr.Add("gate.hysteresis_window_ms", "must cover at least one monitor poll", c.Gate.HysteresisWindowMs)
	}
	if c.Session.MinLengthMs > c.Session.CaptureWindowMs {
		verr.Add("session.min_length_ms", "must not exceed capture_window_ms", c.Session.MinLengthMs)
	}

	switch c.Upload.Mode {
	case UploadModeHTTP:
		if c.Upload.Endpoint == "" {
			verr.Add("upload.endpoint", "is required for http uploads", "")
		}
		if o := c.Upload.OAuth; o.IsConfigured() && (o.TokenURL == "" || o.ClientID == "" || o.ClientSecret == "") {
			verr.Add("upload.oauth", "requires token_url, client_id and client_secret together", nil)
		}
	case UploadModeS3:
		s := c.Upload.S3
		if s.Bucket == "" {
			verr.Add("upload.s3.bucket", "is required for s3 uploads", "")
		}
		if s.AccessKeyID == "" || s.SecretAccessKey == "" {
			verr.Add("upload.s3", "requires access_key_id and secret_access_key", nil)
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// --- Derived values ---

// TargetSamples returns the capture window in samples.
func (c *Config) TargetSamples() int {
	return msToSamples(c.Session.CaptureWindowMs, c.Audio.SampleRateHz)
}

// MinSamples returns the minimum upload length in samples.
func (c *Config) MinSamples() int {
	return msToSamples(c.Session.MinLengthMs, c.Audio.SampleRateHz)
}

// WindowCapacity returns the activity window length in monitor polls.
func (c *Config) WindowCapacity() int {
	return max(int(c.Gate.HysteresisWindowMs/c.Gate.MonitorPollMs), 1)
}

// GraceSamples returns the grace period in monitor polls.
func (c *Config) GraceSamples() int {
	return int(c.Gate.GracePeriodMs / c.Gate.MonitorPollMs)
}

// TriggerPoll returns the trigger poll period.
func (c *Config) TriggerPoll() time.Duration {
	return time.Duration(c.Gate.TriggerPollMs) * time.Millisecond
}

// MonitorPoll returns the hysteresis poll period.
func (c *Config) MonitorPoll() time.Duration {
	return time.Duration(c.Gate.MonitorPollMs) * time.Millisecond
}

// ReadTimeout returns the bound on one hardware read.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Audio.ReadTimeoutMs) * time.Millisecond
}

// UploadTimeout returns the bound on one upload call.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Session.UploadTimeoutMs) * time.Millisecond
}

func msToSamples(ms int64, rate int) int {
	return int(ms * int64(rate) / 1000)
}

// --- Validation helpers ---

// validate is the shared validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// fieldPath strips the root struct name from a validator namespace,
// leaving the JSON path (e.g. "gate.continuation_ratio").
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
