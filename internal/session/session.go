// Package session runs the capture cycle: wait for sound, capture into the
// shared buffer, then discard or upload the captured range.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-soundgate/internal/capture"
	"github.com/oszuidwest/zwfm-soundgate/internal/types"
	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// DefaultUploadTimeout bounds a single upload call.
const DefaultUploadTimeout = 10 * time.Second

var (
	// ErrTargetExceedsBuffer is returned when the capture window does not fit the buffer.
	ErrTargetExceedsBuffer = errors.New("capture window exceeds buffer capacity")
	// ErrInvalidPolicy is returned for a non-positive window or a minimum above the window.
	ErrInvalidPolicy = errors.New("invalid session policy")
	// ErrUploadTimeout is the cancellation cause of an upload that ran too long.
	ErrUploadTimeout = errors.New("upload timeout")
	// ErrUploadPanic wraps a panic raised by the upload client.
	ErrUploadPanic = errors.New("upload client panicked")
)

// Trigger is the sound-level gate as seen by the controller.
type Trigger interface {
	WaitForTrigger(ctx context.Context) (uint16, error)
	BeginSession()
	MonitorContinue() bool
}

// Uploader delivers one captured session.
type Uploader interface {
	Upload(ctx context.Context, p *types.Payload) (types.UploadResult, error)
}

// Indicator shows whether a capture is in progress.
type Indicator interface {
	Set(on bool) error
}

// EventSink receives session events.
type EventSink interface {
	Record(e types.SessionEvent)
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

// Record forwards e to every sink.
func (m MultiSink) Record(e types.SessionEvent) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

type nopIndicator struct{}

func (nopIndicator) Set(bool) error { return nil }

type nopSink struct{}

func (nopSink) Record(types.SessionEvent) {}

// Policy holds the per-session limits.
type Policy struct {
	TargetSamples int           // capture window in samples
	MinSamples    int           // sessions shorter than this are discarded
	SampleRate    int           // samples per second, carried in the payload
	UploadTimeout time.Duration // bound on one upload call
	DeviceID      string
}

// Outcome is the result of one session cycle.
type Outcome string

// Session outcomes.
const (
	OutcomeNone         Outcome = ""
	OutcomeUploaded     Outcome = "uploaded"
	OutcomeUploadFailed Outcome = "upload_failed"
	OutcomeDiscarded    Outcome = "discarded"
)

// Option configures a Controller.
type Option func(*Controller)

// WithEventSink sets the receiver of session events.
func WithEventSink(s EventSink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sink = s
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock util.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIDFunc replaces the session identifier generator.
func WithIDFunc(f func() string) Option {
	return func(c *Controller) {
		if f != nil {
			c.newID = f
		}
	}
}

// Controller owns the capture buffer and drives one session at a time.
// Run must be called from a single goroutine; State, Stats and LastEvent are
// safe for concurrent use.
type Controller struct {
	trigger   Trigger
	capturer  capture.Capturer
	buf       *capture.Buffer
	uploader  Uploader
	indicator Indicator
	policy    Policy
	sink      EventSink
	clock     util.Clock
	newID     func() string

	mu       sync.RWMutex
	state    types.SessionState
	counters types.SessionCounters
	last     *types.SessionEvent
}

// New validates policy against buf and returns an idle controller.
func New(trigger Trigger, capturer capture.Capturer, buf *capture.Buffer, uploader Uploader, indicator Indicator, policy Policy, opts ...Option) (*Controller, error) {
	if policy.TargetSamples <= 0 || policy.MinSamples < 0 || policy.MinSamples > policy.TargetSamples {
		return nil, fmt.Errorf("%w: target=%d min=%d", ErrInvalidPolicy, policy.TargetSamples, policy.MinSamples)
	}
	if policy.TargetSamples > buf.Cap() {
		return nil, fmt.Errorf("%w: target=%d capacity=%d", ErrTargetExceedsBuffer, policy.TargetSamples, buf.Cap())
	}
	if policy.UploadTimeout <= 0 {
		policy.UploadTimeout = DefaultUploadTimeout
	}
	if indicator == nil {
		indicator = nopIndicator{}
	}

	c := &Controller{
		trigger:   trigger,
		capturer:  capturer,
		buf:       buf,
		uploader:  uploader,
		indicator: indicator,
		policy:    policy,
		sink:      nopSink{},
		clock:     util.SystemClock{},
		newID:     uuid.NewString,
		state:     types.StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current session state.
func (c *Controller) State() types.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns the running session counters.
func (c *Controller) Stats() types.SessionCounters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters
}

// LastEvent returns a copy of the most recent non-state event, or nil.
func (c *Controller) LastEvent() *types.SessionEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return nil
	}
	e := *c.last
	return &e
}

// Policy returns the session limits.
func (c *Controller) Policy() Policy { return c.policy }

// Run repeats sessions until ctx is done. Upload failures and discarded
// sessions never end the loop.
func (c *Controller) Run(ctx context.Context) error {
	slog.Info("session controller started",
		"target_samples", c.policy.TargetSamples, "min_samples", c.policy.MinSamples)
	for {
		outcome, err := c.RunOnce(ctx)
		if err != nil || ctx.Err() != nil {
			slog.Info("session controller stopped", "last_outcome", outcome)
			return nil
		}
	}
}

// RunOnce performs a single IDLE -> WAITING -> CAPTURING -> FINALIZING -> IDLE
// cycle. It returns an error only when ctx ends while waiting for a trigger.
func (c *Controller) RunOnce(ctx context.Context) (Outcome, error) {
	c.setState(types.StateWaiting, "")
	level, err := c.trigger.WaitForTrigger(ctx)
	if err != nil {
		c.setState(types.StateIdle, "")
		return OutcomeNone, err
	}

	id := c.newID()
	startedAt := c.clock.Now()
	c.mu.Lock()
	c.counters.Sessions++
	c.mu.Unlock()
	slog.Info("sound detected, starting capture", "session_id", id, "level", level)
	c.record(types.SessionEvent{Type: types.EventTriggered, SessionID: id, Level: level})

	c.trigger.BeginSession()
	c.setState(types.StateCapturing, id)
	c.setIndicator(id, true)

	res := c.capturer.Capture(ctx, c.buf, c.policy.TargetSamples, capture.MonitorFunc(c.trigger.MonitorContinue))

	c.setIndicator(id, false)
	c.setState(types.StateFinalizing, id)

	levels := res.Stats.Levels()
	slog.Info("capture finished", "session_id", id,
		"samples", res.Captured, "target", res.Target, "stopped_by", string(res.Reason),
		"retries", res.Retries, "elapsed", res.Elapsed,
		"min", res.Stats.Min, "max", res.Stats.Max, "non_zero", res.Stats.NonZero,
		"rms_db", levels.RMS, "peak_db", levels.Peak)
	if len(res.Stats.Preview) > 0 {
		slog.Debug("capture preview", "session_id", id, "samples", res.Stats.Preview)
	}
	c.record(types.SessionEvent{
		Type:      types.EventCaptured,
		SessionID: id,
		Samples:   res.Captured,
		Target:    res.Target,
		StoppedBy: string(res.Reason),
		PeakDB:    levels.Peak,
		RMSDB:     levels.RMS,
	})

	outcome := c.finalize(ctx, id, startedAt, res.Captured)
	c.setState(types.StateIdle, "")
	return outcome, nil
}

// finalize applies the minimum-length policy and performs at most one upload.
// An empty capture is always discarded, even with a zero minimum.
func (c *Controller) finalize(ctx context.Context, id string, startedAt time.Time, captured int) Outcome {
	if captured == 0 || captured < c.policy.MinSamples {
		slog.Info("capture too short, discarding", "session_id", id,
			"samples", captured, "min_samples", c.policy.MinSamples)
		c.mu.Lock()
		c.counters.Discarded++
		c.mu.Unlock()
		c.record(types.SessionEvent{Type: types.EventDiscarded, SessionID: id, Samples: captured})
		return OutcomeDiscarded
	}

	p := &types.Payload{
		DeviceID:   c.policy.DeviceID,
		SessionID:  id,
		StartedAt:  startedAt,
		SampleRate: c.policy.SampleRate,
		Samples:    captured,
		Data:       c.buf.Bytes(captured),
	}

	result, err := c.upload(ctx, p)
	if err != nil {
		slog.Error("upload failed", "session_id", id, "samples", captured, "error", err)
		c.mu.Lock()
		c.counters.UploadsFailed++
		c.mu.Unlock()
		c.record(types.SessionEvent{
			Type:       types.EventUploadFailed,
			SessionID:  id,
			Samples:    captured,
			StatusCode: result.StatusCode,
			Error:      err.Error(),
		})
		return OutcomeUploadFailed
	}

	slog.Info("upload completed", "session_id", id,
		"status", result.StatusCode, "bytes_sent", result.BytesSent)
	c.mu.Lock()
	c.counters.Uploaded++
	c.mu.Unlock()
	c.record(types.SessionEvent{
		Type:       types.EventUploadCompleted,
		SessionID:  id,
		Samples:    captured,
		StatusCode: result.StatusCode,
		BytesSent:  result.BytesSent,
	})
	return OutcomeUploaded
}

// upload calls the client once under the upload timeout. A session
// interrupted by shutdown is still delivered, so the timeout context is
// detached from ctx cancellation.
func (c *Controller) upload(ctx context.Context, p *types.Payload) (result types.UploadResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUploadPanic, r)
		}
	}()

	ctx, cancel := context.WithTimeoutCause(context.WithoutCancel(ctx), c.policy.UploadTimeout, ErrUploadTimeout)
	defer cancel()

	result, err = c.uploader.Upload(ctx, p)
	if err != nil && errors.Is(context.Cause(ctx), ErrUploadTimeout) {
		err = fmt.Errorf("%w: %w", ErrUploadTimeout, err)
	}
	return result, err
}

func (c *Controller) setIndicator(id string, on bool) {
	if err := c.indicator.Set(on); err != nil {
		slog.Warn("failed to set capture indicator", "session_id", id, "on", on, "error", err)
		c.record(types.SessionEvent{Type: types.EventIndicatorFailure, SessionID: id, Error: err.Error()})
	}
}

func (c *Controller) setState(s types.SessionState, id string) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	slog.Debug("session state changed", "state", s, "session_id", id)
	c.sink.Record(types.SessionEvent{
		Timestamp: c.clock.Now(),
		Type:      types.EventStateChanged,
		SessionID: id,
		State:     s,
	})
}

func (c *Controller) record(e types.SessionEvent) {
	e.Timestamp = c.clock.Now()
	c.mu.Lock()
	c.last = &e
	c.mu.Unlock()
	c.sink.Record(e)
}
