package logic

import "math"

// Decoder turns edge timings on a DCF77 receiver line into 60-bit frames.
// It is driven by repeated Sample calls from a single goroutine and must be
// polled faster than the shortest pulse it should resolve (1 kHz or more).
type Decoder struct {
	settings Settings
	line     Line
	clock    Clock
	state    State

	// pulse state
	bitIndex      int
	bitValue      int8
	shortPulse    uint16
	longPulse     uint16
	lastLevel     bool
	lastEdge      uint64
	level         bool
	edgeReported  bool
	lastWidthMs   uint32
	levelFilter   emaFilter
	levelFiltered int
	frameDetected bool

	// calibration accumulator
	avgShort   uint16
	avgLong    uint16
	pulseCount uint8

	// frame buffer
	bits       [FrameBits]uint8
	count      int
	valid      bool
	frameReady bool

	stats Stats
}

// NewDecoder creates an uninitialised decoder. Call Begin before sampling.
func NewDecoder(settings Settings) *Decoder {
	return &Decoder{
		settings:    settings,
		shortPulse:  settings.InitialShortPulse,
		longPulse:   settings.InitialLongPulse,
		levelFilter: newEMAFilter(3),
	}
}

// Begin binds the input line and clock, snapshots the current level and
// time, and resets all decoding state. Calibration starts over.
func (d *Decoder) Begin(line Line, clock Clock) {
	d.line = line
	d.clock = clock
	d.reset(line.Level(), clock())
}

func (d *Decoder) reset(level bool, now uint64) {
	d.state = StateCalibrating
	d.bitIndex = 0
	d.bitValue = Ambiguous
	d.shortPulse = d.settings.InitialShortPulse
	d.longPulse = d.settings.InitialLongPulse
	d.lastLevel = level
	d.level = level
	d.lastEdge = now
	d.edgeReported = false
	d.lastWidthMs = 0
	d.levelFilter.reset()
	d.levelFiltered = 0
	d.frameDetected = false
	d.avgShort, d.avgLong = 0, 0
	d.pulseCount = 0
	d.count = 0
	d.valid = false
	d.frameReady = false
	d.stats = Stats{}
}

// Sample reads the line and clock once and advances the decoder.
// It is a no-op before Begin.
func (d *Decoder) Sample() {
	if d.line == nil {
		return
	}
	d.Observe(d.line.Level(), d.clock())
}

// Observe advances the decoder with one level reading taken at nowMicros.
func (d *Decoder) Observe(level bool, nowMicros uint64) {
	if d.state == StateUninitialized {
		return
	}
	d.level = level
	d.levelFiltered = d.levelFilter.update(levelScale(level))
	d.edgeReported = false
	d.frameDetected = false

	if level == d.lastLevel {
		return
	}

	width := widthMs(nowMicros - d.lastEdge)
	d.lastEdge = nowMicros
	d.edgeReported = true
	d.lastWidthMs = width
	d.stats.Edges++

	switch {
	case width > MinuteMarkerMs:
		d.minuteMarker()
	case d.state != StateCalibrated:
		d.calibrate(uint16(width))
	default:
		d.classify(width)
	}
	d.lastLevel = level
}

func levelScale(level bool) int {
	if level {
		return 32
	}
	return 0
}

// widthMs converts an unsigned microsecond difference to milliseconds,
// saturating instead of wrapping.
func widthMs(deltaMicros uint64) uint32 {
	ms := deltaMicros / 1000
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}

func (d *Decoder) minuteMarker() {
	d.stats.MinuteMarkers++
	d.frameDetected = true
	if d.bitIndex > 0 {
		d.count = d.bitIndex
		d.valid = true
		d.frameReady = true
		d.stats.Frames++
	}
	d.bitIndex = 0
}

func (d *Decoder) calibrate(width uint16) {
	if width < SplitThresholdMs {
		d.avgShort = smooth8(d.avgShort, width)
	} else {
		d.avgLong = smooth8(d.avgLong, width)
	}
	d.stats.CalibrationPulses++

	d.pulseCount++
	if d.pulseCount < d.settings.CalibrationPulses {
		return
	}
	// Truncating 16-bit arithmetic, kept exactly as the receiver was tuned.
	d.shortPulse = (d.avgShort + (d.avgLong - d.avgShort)) / 4
	d.longPulse = (d.avgLong - (d.avgLong - d.avgShort)) / 4
	d.state = StateCalibrated
	d.pulseCount = 0
}

func (d *Decoder) classify(width uint32) {
	shortLower, longLower := d.lowerBounds()

	d.bitValue = Ambiguous
	if width >= longLower {
		d.bitValue = 1
	} else if width >= shortLower {
		d.bitValue = 0
	}

	if d.bitValue == Ambiguous {
		d.stats.AmbiguousPulses++
		return
	}
	if d.bitIndex >= FrameBits {
		d.stats.OverflowDrops++
		return
	}
	d.bits[d.bitIndex] = uint8(d.bitValue)
	d.bitIndex++
	d.stats.Bits++
}

// lowerBounds returns the tolerance-widened minimum widths for bit 0 and bit 1.
func (d *Decoder) lowerBounds() (shortLower, longLower uint32) {
	keep := uint32(100 - d.settings.PulseTolerancePercent)
	return uint32(d.shortPulse) * keep / 100, uint32(d.longPulse) * keep / 100
}

// FrameReady reports whether a completed frame is waiting. It does not clear it.
func (d *Decoder) FrameReady() bool {
	return d.frameReady
}

// TakeFrame returns the frame buffer and clears the ready flag.
func (d *Decoder) TakeFrame() Frame {
	d.frameReady = false
	return Frame{Bits: d.bits, Count: d.count, Valid: d.valid}
}

// IsCalibrated reports whether pulse thresholds have been derived.
func (d *Decoder) IsCalibrated() bool {
	return d.state == StateCalibrated
}

// State returns the outer decoder state.
func (d *Decoder) State() State {
	return d.state
}

// Diagnostics returns a snapshot for display collaborators.
func (d *Decoder) Diagnostics() Diagnostics {
	return Diagnostics{
		AvgShort:      d.avgShort,
		AvgLong:       d.avgLong,
		FrameDetected: d.frameDetected,
		Level:         d.level,
		LevelFiltered: d.levelFiltered,
		EdgeReported:  d.edgeReported,
		LastWidthMs:   d.lastWidthMs,
		BitIndex:      d.bitIndex,
		BitValue:      d.bitValue,
		ShortPulse:    d.shortPulse,
		LongPulse:     d.longPulse,
		Calibrated:    d.state == StateCalibrated,
	}
}

// Stats returns event counters since Begin.
func (d *Decoder) Stats() Stats {
	return d.stats
}
