package internal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/dcf77-sensor/internal/gpio"
	"github.com/sweeney/dcf77-sensor/internal/logic"
	"github.com/sweeney/dcf77-sensor/internal/mqtt"
)

// secondPulses returns n DCF77 seconds as low/high widths.
func secondPulses(n int) []int {
	var widths []int
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			widths = append(widths, 100, 900)
		} else {
			widths = append(widths, 200, 800)
		}
	}
	return widths
}

// calibrationPulses returns five clean 100/900 ms seconds.
func calibrationPulses() []int {
	var widths []int
	for i := 0; i < 5; i++ {
		widths = append(widths, 100, 900)
	}
	return widths
}

// flow simulates the daemon main loop at 1 kHz: one line read and one
// clock reading per millisecond, taking and publishing frames as they close.
type flow struct {
	decoder   *logic.Decoder
	line      *gpio.HoldLine
	publisher *mqtt.FakePublisher
	start     time.Time
	ms        uint64
	seq       uint64
}

func newFlow(reader gpio.Reader, settings logic.Settings) *flow {
	f := &flow{
		decoder:   logic.NewDecoder(settings),
		line:      gpio.NewHoldLine(reader),
		publisher: mqtt.NewFakePublisher(),
		start:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.decoder.Begin(f.line, func() uint64 { return f.ms * 1000 })
	return f
}

// step runs n poll iterations and returns the first publish error, if any.
func (f *flow) step(n int) error {
	var firstErr error
	for i := 0; i < n; i++ {
		f.ms++
		f.decoder.Sample()
		if !f.decoder.FrameReady() {
			continue
		}
		f.seq++
		event := logic.FrameEvent{
			Timestamp: f.start.Add(time.Duration(f.ms) * time.Millisecond),
			Sequence:  f.seq,
			Frame:     f.decoder.TakeFrame(),
		}
		if err := f.publisher.PublishFrame(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// minuteWidths is five calibration seconds, an empty marker, a full minute
// of 59 seconds and the closing marker.
func minuteWidths() []int {
	widths := calibrationPulses()
	widths = append(widths, 1900)
	widths = append(widths, secondPulses(59)...)
	return append(widths, 1900)
}

// TestIntegrationFullMinute tests the complete flow from GPIO to MQTT using fakes.
func TestIntegrationFullMinute(t *testing.T) {
	levels := gpio.PulseTrain(minuteWidths(), 1)
	f := newFlow(gpio.NewFakeReader(levels), logic.DefaultSettings())

	if err := f.step(len(levels) - 1); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	if !f.decoder.IsCalibrated() {
		t.Fatal("expected decoder to calibrate on 10 pulses")
	}
	d := f.decoder.Diagnostics()
	if d.AvgShort != 100 || d.AvgLong != 900 {
		t.Errorf("averages: got %d/%d, want 100/900", d.AvgShort, d.AvgLong)
	}
	if d.ShortPulse != 225 || d.LongPulse != 25 {
		t.Errorf("thresholds: got %d/%d, want 225/25", d.ShortPulse, d.LongPulse)
	}

	// The first marker closes no frame; the second closes the minute.
	if len(f.publisher.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(f.publisher.Frames))
	}
	ev := f.publisher.Frames[0]
	if ev.Frame.Count != logic.FrameBits {
		t.Errorf("count: got %d, want %d", ev.Frame.Count, logic.FrameBits)
	}
	if ev.Frame.String() != strings.Repeat("1", logic.FrameBits) {
		t.Errorf("bits: got %q", ev.Frame.String())
	}

	// Both edges of every second are timed, so 118 pulses compete for 60 slots.
	stats := f.decoder.Stats()
	if stats.MinuteMarkers != 2 {
		t.Errorf("minute markers: got %d, want 2", stats.MinuteMarkers)
	}
	if stats.Bits != 60 || stats.OverflowDrops != 58 {
		t.Errorf("bits/overflow: got %d/%d, want 60/58", stats.Bits, stats.OverflowDrops)
	}
	if stats.Frames != 1 {
		t.Errorf("frames: got %d, want 1", stats.Frames)
	}
}

func TestIntegrationPayloadFormat(t *testing.T) {
	levels := gpio.PulseTrain(minuteWidths(), 1)
	f := newFlow(gpio.NewFakeReader(levels), logic.DefaultSettings())
	f.step(len(levels) - 1)

	if len(f.publisher.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.publisher.Payloads))
	}

	var payload mqtt.Payload
	if err := json.Unmarshal(f.publisher.Payloads[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Frame.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", payload.Frame.Sequence)
	}
	if len(payload.Frame.Bits) != logic.FrameBits {
		t.Errorf("bits length: got %d, want %d", len(payload.Frame.Bits), logic.FrameBits)
	}
	if !payload.Frame.Valid || !payload.Frame.Complete {
		t.Errorf("valid/complete: got %v/%v, want true/true", payload.Frame.Valid, payload.Frame.Complete)
	}
	if _, err := time.Parse(time.RFC3339, payload.Frame.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", payload.Frame.Timestamp, err)
	}
}

func TestIntegrationGlitchIsAmbiguous(t *testing.T) {
	// After calibration (thresholds 225/25, lower bounds 180/20), a 5 ms
	// spike splits one pulse into three edges.
	widths := calibrationPulses()
	widths = append(widths, 1900, 100, 5, 895, 1900)
	levels := gpio.PulseTrain(widths, 1)
	f := newFlow(gpio.NewFakeReader(levels), logic.DefaultSettings())

	f.step(len(levels) - 1)

	stats := f.decoder.Stats()
	if stats.AmbiguousPulses != 1 {
		t.Errorf("ambiguous: got %d, want 1", stats.AmbiguousPulses)
	}
	if len(f.publisher.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(f.publisher.Frames))
	}
	if got := f.publisher.Frames[0].Frame.String(); got != "11" {
		t.Errorf("bits: got %q, want \"11\"", got)
	}
}

func TestIntegrationNoFrameBeforeCalibration(t *testing.T) {
	// Only four pulses before the marker; calibration needs ten.
	widths := []int{100, 900, 100, 900, 1900, 100}
	levels := gpio.PulseTrain(widths, 1)
	f := newFlow(gpio.NewFakeReader(levels), logic.DefaultSettings())

	f.step(len(levels) - 1)

	if f.decoder.IsCalibrated() {
		t.Error("decoder should still be calibrating")
	}
	if len(f.publisher.Frames) != 0 {
		t.Errorf("expected no frames, got %d", len(f.publisher.Frames))
	}
}

func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	levels := gpio.PulseTrain(minuteWidths(), 1)
	f := newFlow(gpio.NewFakeReader(levels), logic.DefaultSettings())
	f.publisher.PublishError = errors.New("broker unavailable")

	err := f.step(len(levels) - 1)
	if err == nil {
		t.Fatal("expected publish error to be reported")
	}
	if got := f.decoder.Stats().Frames; got != 1 {
		t.Errorf("frames decoded: got %d, want 1", got)
	}
	if f.decoder.FrameReady() {
		t.Error("frame should have been taken even though publishing failed")
	}
}

// faultReader returns errors for a fixed range of Read calls.
type faultReader struct {
	inner      *gpio.FakeReader
	call       int
	faultStart int // first call index that returns error (inclusive)
	faultEnd   int // last call index that returns error (exclusive)
}

func (r *faultReader) Read() (bool, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		// The scripted level still advances; the sample is lost.
		r.inner.Read()
		return false, errors.New("gpio fault")
	}
	return r.inner.Read()
}

func (r *faultReader) Close() error { return r.inner.Close() }

func TestIntegrationReadFaultHoldsLevel(t *testing.T) {
	// Faults on reads 50..59 fall inside the first 100 ms low phase, so
	// the held level matches and the pulse keeps its width.
	widths := []int{100, 900, 100, 900}
	levels := gpio.PulseTrain(widths, 1)
	reader := &faultReader{inner: gpio.NewFakeReader(levels), faultStart: 50, faultEnd: 60}
	f := newFlow(reader, logic.DefaultSettings())

	f.step(len(levels) - 1)

	if got := f.line.Errors(); got != 10 {
		t.Errorf("line errors: got %d, want 10", got)
	}
	stats := f.decoder.Stats()
	if stats.Edges != 4 {
		t.Errorf("edges: got %d, want 4", stats.Edges)
	}
	if d := f.decoder.Diagnostics(); d.AvgShort != 100 || d.AvgLong != 900 {
		t.Errorf("averages: got %d/%d, want 100/900", d.AvgShort, d.AvgLong)
	}
}
