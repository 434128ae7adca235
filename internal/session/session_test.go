package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-soundgate/internal/capture"
	"github.com/oszuidwest/zwfm-soundgate/internal/types"
)

// fakeTrigger fires immediately for the first n calls, then blocks until ctx ends.
type fakeTrigger struct {
	fires    int
	level    uint16
	begins   int
	monitors int
}

func (f *fakeTrigger) WaitForTrigger(ctx context.Context) (uint16, error) {
	if f.fires > 0 {
		f.fires--
		return f.level, nil
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func (f *fakeTrigger) BeginSession() { f.begins++ }

func (f *fakeTrigger) MonitorContinue() bool {
	f.monitors++
	return true
}

// fakeCapturer writes capture samples of value and reports them.
type fakeCapturer struct {
	samples int
	value   int16
	reason  capture.StopReason
	polled  bool
	onRun   func()
}

func (f *fakeCapturer) Capture(_ context.Context, buf *capture.Buffer, target int, mon capture.Monitor) capture.Result {
	if f.onRun != nil {
		f.onRun()
	}
	if mon != nil {
		f.polled = mon.Continue()
	}
	n := min(f.samples, target)
	stats := capture.NewStats(4)
	for i := range n {
		buf.Set(i, f.value)
		stats.Add(f.value)
	}
	return capture.Result{Captured: n, Target: target, Reason: f.reason, Stats: stats}
}

type fakeUploader struct {
	mu       sync.Mutex
	payloads []types.Payload
	data     [][]byte
	err      error
	panicMsg string
	block    bool
}

func (f *fakeUploader) Upload(ctx context.Context, p *types.Payload) (types.UploadResult, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.block {
		<-ctx.Done()
		return types.UploadResult{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, *p)
	f.data = append(f.data, append([]byte(nil), p.Data...))
	if f.err != nil {
		return types.UploadResult{StatusCode: 500}, f.err
	}
	return types.UploadResult{StatusCode: 200, BytesSent: int64(len(p.Data))}, nil
}

type fakeIndicator struct {
	calls []bool
	err   error
}

func (f *fakeIndicator) Set(on bool) error {
	f.calls = append(f.calls, on)
	return f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []types.SessionEvent
}

func (r *recordingSink) Record(e types.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) eventTypes() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.EventType
	for _, e := range r.events {
		if e.Type != types.EventStateChanged {
			out = append(out, e.Type)
		}
	}
	return out
}

func (r *recordingSink) states() []types.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.SessionState
	for _, e := range r.events {
		if e.Type == types.EventStateChanged {
			out = append(out, e.State)
		}
	}
	return out
}

func testPolicy() Policy {
	return Policy{
		TargetSamples: 16000,
		MinSamples:    4800,
		SampleRate:    16000,
		UploadTimeout: time.Second,
		DeviceID:      "mic-01",
	}
}

type fixture struct {
	trigger   *fakeTrigger
	capturer  *fakeCapturer
	uploader  *fakeUploader
	indicator *fakeIndicator
	sink      *recordingSink
	ctrl      *Controller
}

func newFixture(t *testing.T, samples int) *fixture {
	t.Helper()
	f := &fixture{
		trigger:   &fakeTrigger{fires: 1, level: 2500},
		capturer:  &fakeCapturer{samples: samples, value: 1234},
		uploader:  &fakeUploader{},
		indicator: &fakeIndicator{},
		sink:      &recordingSink{},
	}
	ctrl, err := New(f.trigger, f.capturer, capture.NewBuffer(16000), f.uploader, f.indicator, testPolicy(),
		WithEventSink(f.sink), WithIDFunc(func() string { return "session-1" }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.ctrl = ctrl
	return f
}

func TestRunOnce_UploadsCapturedLength(t *testing.T) {
	f := newFixture(t, 9000)

	outcome, err := f.ctrl.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if outcome != OutcomeUploaded {
		t.Fatalf("Expected %q, got %q", OutcomeUploaded, outcome)
	}
	if len(f.uploader.payloads) != 1 {
		t.Fatalf("Expected exactly one upload, got %d", len(f.uploader.payloads))
	}

	p := f.uploader.payloads[0]
	if p.Samples != 9000 {
		t.Errorf("Expected 9000 samples, got %d", p.Samples)
	}
	if len(f.uploader.data[0]) != 9000*types.BytesPerSample {
		t.Errorf("Expected %d bytes, got %d", 9000*types.BytesPerSample, len(f.uploader.data[0]))
	}
	if p.DeviceID != "mic-01" || p.SessionID != "session-1" || p.SampleRate != 16000 {
		t.Errorf("Unexpected payload metadata %+v", p)
	}
	// 1234 = 0x04D2 little-endian.
	if f.uploader.data[0][0] != 0xD2 || f.uploader.data[0][1] != 0x04 {
		t.Errorf("Expected s16le samples, got % x", f.uploader.data[0][:2])
	}

	if f.trigger.begins != 1 {
		t.Errorf("Expected the window to be reset once, got %d", f.trigger.begins)
	}
	if !f.capturer.polled || f.trigger.monitors != 1 {
		t.Errorf("Expected capture to poll the gate monitor")
	}
	if got := f.ctrl.State(); got != types.StateIdle {
		t.Errorf("Expected idle after finalizing, got %q", got)
	}

	stats := f.ctrl.Stats()
	if stats.Sessions != 1 || stats.Uploaded != 1 || stats.Discarded != 0 || stats.UploadsFailed != 0 {
		t.Errorf("Unexpected counters %+v", stats)
	}
	if last := f.ctrl.LastEvent(); last == nil || last.Type != types.EventUploadCompleted || last.BytesSent != 18000 {
		t.Errorf("Unexpected last event %+v", last)
	}
}

func TestRunOnce_StateSequence(t *testing.T) {
	f := newFixture(t, 16000)
	if _, err := f.ctrl.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	want := []types.SessionState{types.StateWaiting, types.StateCapturing, types.StateFinalizing, types.StateIdle}
	got := f.sink.states()
	if len(got) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	wantEvents := []types.EventType{types.EventTriggered, types.EventCaptured, types.EventUploadCompleted}
	gotEvents := f.sink.eventTypes()
	if len(gotEvents) != len(wantEvents) {
		t.Fatalf("Expected events %v, got %v", wantEvents, gotEvents)
	}
	for i := range wantEvents {
		if gotEvents[i] != wantEvents[i] {
			t.Errorf("event %d: expected %q, got %q", i, wantEvents[i], gotEvents[i])
		}
	}
}

func TestRunOnce_IndicatorFollowsCapture(t *testing.T) {
	f := newFixture(t, 16000)
	var onDuringCapture []bool
	f.capturer.onRun = func() {
		onDuringCapture = append([]bool(nil), f.indicator.calls...)
		if f.ctrl.State() != types.StateCapturing {
			t.Errorf("Expected capturing state during capture, got %q", f.ctrl.State())
		}
	}

	if _, err := f.ctrl.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(onDuringCapture) != 1 || !onDuringCapture[0] {
		t.Errorf("Expected indicator on during capture, got %v", onDuringCapture)
	}
	if len(f.indicator.calls) != 2 || f.indicator.calls[1] {
		t.Errorf("Expected indicator on then off, got %v", f.indicator.calls)
	}
}

func TestRunOnce_IndicatorFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 16000)
	f.indicator.err = errors.New("permission denied")

	outcome, err := f.ctrl.RunOnce(context.Background())
	if err != nil || outcome != OutcomeUploaded {
		t.Fatalf("Expected upload despite indicator failure, got %q, %v", outcome, err)
	}
	count := 0
	for _, e := range f.sink.eventTypes() {
		if e == types.EventIndicatorFailure {
			count++
		}
	}
	if count != 2 {
		t.Errorf("Expected 2 indicator failure events, got %d", count)
	}
}

func TestRunOnce_DiscardsShortCapture(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		want    Outcome
	}{
		{"well_below_minimum", 100, OutcomeDiscarded},
		{"one_below_minimum", 4799, OutcomeDiscarded},
		{"exactly_minimum", 4800, OutcomeUploaded},
		{"empty", 0, OutcomeDiscarded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.samples)
			f.capturer.reason = capture.StopQuiet

			outcome, err := f.ctrl.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce failed: %v", err)
			}
			if outcome != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, outcome)
			}
			wantUploads := 0
			if tt.want == OutcomeUploaded {
				wantUploads = 1
			}
			if len(f.uploader.payloads) != wantUploads {
				t.Errorf("Expected %d uploads, got %d", wantUploads, len(f.uploader.payloads))
			}
		})
	}
}

func TestRunOnce_ZeroMinimumStillDiscardsEmptyCapture(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		want    Outcome
	}{
		{"empty", 0, OutcomeDiscarded},
		{"single_sample", 1, OutcomeUploaded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := testPolicy()
			policy.MinSamples = 0
			uploader := &fakeUploader{}
			ctrl, err := New(&fakeTrigger{fires: 1, level: 2500}, &fakeCapturer{samples: tt.samples, value: 1},
				capture.NewBuffer(16000), uploader, &fakeIndicator{}, policy)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			outcome, err := ctrl.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce failed: %v", err)
			}
			if outcome != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, outcome)
			}
			if stats := ctrl.Stats(); stats.UploadsFailed != 0 {
				t.Errorf("Expected no failed uploads, got %d", stats.UploadsFailed)
			}
			if tt.want == OutcomeDiscarded && len(uploader.payloads) != 0 {
				t.Errorf("Expected no upload for an empty capture, got %d", len(uploader.payloads))
			}
		})
	}
}

func TestRunOnce_UploadFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t, 16000)
	f.uploader.err = errors.New("server returned 500")

	outcome, err := f.ctrl.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if outcome != OutcomeUploadFailed {
		t.Errorf("Expected %q, got %q", OutcomeUploadFailed, outcome)
	}
	if len(f.uploader.payloads) != 1 {
		t.Errorf("Expected exactly one upload attempt, got %d", len(f.uploader.payloads))
	}
	if f.ctrl.State() != types.StateIdle {
		t.Errorf("Expected idle, got %q", f.ctrl.State())
	}
	last := f.ctrl.LastEvent()
	if last == nil || last.Type != types.EventUploadFailed || last.StatusCode != 500 {
		t.Errorf("Unexpected last event %+v", last)
	}
}

func TestRunOnce_UploadPanicIsRecovered(t *testing.T) {
	f := newFixture(t, 16000)
	f.uploader.panicMsg = "nil transport"

	outcome, err := f.ctrl.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if outcome != OutcomeUploadFailed {
		t.Errorf("Expected %q, got %q", OutcomeUploadFailed, outcome)
	}
}

func TestRunOnce_UploadTimeout(t *testing.T) {
	f := newFixture(t, 16000)
	f.uploader.block = true
	f.ctrl.policy.UploadTimeout = 10 * time.Millisecond

	outcome, err := f.ctrl.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if outcome != OutcomeUploadFailed {
		t.Fatalf("Expected %q, got %q", OutcomeUploadFailed, outcome)
	}
	if last := f.ctrl.LastEvent(); last == nil || last.Error == "" {
		t.Errorf("Expected timeout error in last event, got %+v", last)
	}
}

func TestRunOnce_ShutdownWhileWaiting(t *testing.T) {
	f := newFixture(t, 16000)
	f.trigger.fires = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.ctrl.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if outcome != OutcomeNone {
		t.Errorf("Expected no outcome, got %q", outcome)
	}
	if len(f.uploader.payloads) != 0 {
		t.Errorf("Expected no upload, got %d", len(f.uploader.payloads))
	}
}

func TestRunOnce_ShutdownDuringCaptureStillUploads(t *testing.T) {
	f := newFixture(t, 8000)
	f.capturer.reason = capture.StopShutdown
	ctx, cancel := context.WithCancel(context.Background())
	f.capturer.onRun = cancel

	outcome, err := f.ctrl.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if outcome != OutcomeUploaded {
		t.Errorf("Expected the interrupted session to be uploaded, got %q", outcome)
	}
}

func TestRun_ContinuesAfterFailures(t *testing.T) {
	f := newFixture(t, 16000)
	f.trigger.fires = 3
	f.uploader.err = errors.New("unreachable")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := f.ctrl.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	stats := f.ctrl.Stats()
	if stats.Sessions != 3 || stats.UploadsFailed != 3 {
		t.Errorf("Expected 3 failed sessions, got %+v", stats)
	}
}

func TestNew_ValidatesPolicy(t *testing.T) {
	buf := capture.NewBuffer(1000)
	tests := []struct {
		name   string
		policy Policy
		want   error
	}{
		{"target_exceeds_buffer", Policy{TargetSamples: 2000}, ErrTargetExceedsBuffer},
		{"zero_target", Policy{TargetSamples: 0}, ErrInvalidPolicy},
		{"min_above_target", Policy{TargetSamples: 500, MinSamples: 600}, ErrInvalidPolicy},
		{"negative_min", Policy{TargetSamples: 500, MinSamples: -1}, ErrInvalidPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&fakeTrigger{}, &fakeCapturer{}, buf, &fakeUploader{}, nil, tt.policy); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	c, err := New(&fakeTrigger{}, &fakeCapturer{}, buf, &fakeUploader{}, nil, Policy{TargetSamples: 1000})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Policy().UploadTimeout != DefaultUploadTimeout {
		t.Errorf("Expected default upload timeout, got %v", c.Policy().UploadTimeout)
	}
	if c.State() != types.StateIdle {
		t.Errorf("Expected idle, got %q", c.State())
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	MultiSink{a, nil, b}.Record(types.SessionEvent{Type: types.EventTriggered})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("Expected each sink to receive one event, got %d and %d", len(a.events), len(b.events))
	}
}
