// Package metrics exposes decoder status as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/dcf77-sensor/internal/status"
)

const namespace = "dcf77"

// Collector reads a status tracker on every scrape.
type Collector struct {
	tracker *status.Tracker

	edges         *prometheus.Desc
	minuteMarkers *prometheus.Desc
	bits          *prometheus.Desc
	ambiguous     *prometheus.Desc
	overflow      *prometheus.Desc
	frames        *prometheus.Desc
	gpioErrors    *prometheus.Desc
	calibrated    *prometheus.Desc
	avgWidth      *prometheus.Desc
	threshold     *prometheus.Desc
	bitIndex      *prometheus.Desc
	mqttConnected *prometheus.Desc
	uptime        *prometheus.Desc
}

// NewCollector creates a collector for tracker.
func NewCollector(tracker *status.Tracker) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		tracker:       tracker,
		edges:         desc("edges_total", "Level transitions seen on the receiver line."),
		minuteMarkers: desc("minute_markers_total", "Pulses longer than 1500 ms."),
		bits:          desc("bits_total", "Pulses classified as bit 0 or 1 and stored."),
		ambiguous:     desc("ambiguous_pulses_total", "Pulses outside both tolerance bands."),
		overflow:      desc("overflow_drops_total", "Classified bits dropped because the frame was full."),
		frames:        desc("frames_total", "Frames delivered at a minute marker."),
		gpioErrors:    desc("gpio_read_errors_total", "Failed GPIO reads."),
		calibrated:    desc("calibrated", "1 once pulse thresholds have been derived."),
		avgWidth:      desc("calibration_avg_width_ms", "Calibration EMA of pulse width by class.", "class"),
		threshold:     desc("pulse_width_ms", "Calibrated reference pulse width by class.", "class"),
		bitIndex:      desc("bit_index", "Next slot to fill in the current frame."),
		mqttConnected: desc("mqtt_connected", "1 while the broker connection is up."),
		uptime:        desc("uptime_seconds", "Seconds since the daemon started."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.edges, c.minuteMarkers, c.bits, c.ambiguous, c.overflow, c.frames,
		c.gpioErrors, c.calibrated, c.avgWidth, c.threshold, c.bitIndex,
		c.mqttConnected, c.uptime,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.tracker.Snapshot()
	s, d := snap.Stats, snap.Diagnostics

	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}

	counter(c.edges, s.Edges)
	counter(c.minuteMarkers, s.MinuteMarkers)
	counter(c.bits, s.Bits)
	counter(c.ambiguous, s.AmbiguousPulses)
	counter(c.overflow, s.OverflowDrops)
	counter(c.frames, s.Frames)
	counter(c.gpioErrors, snap.GPIOErrors)

	gauge(c.calibrated, boolFloat(d.Calibrated))
	gauge(c.avgWidth, float64(d.AvgShort), "short")
	gauge(c.avgWidth, float64(d.AvgLong), "long")
	gauge(c.threshold, float64(d.ShortPulse), "short")
	gauge(c.threshold, float64(d.LongPulse), "long")
	gauge(c.bitIndex, float64(d.BitIndex))
	gauge(c.mqttConnected, boolFloat(snap.MQTTConnected))
	gauge(c.uptime, snap.Uptime().Seconds())
}

// NewRegistry returns a registry holding the decoder collector and the
// standard Go runtime and process collectors.
func NewRegistry(tracker *status.Tracker) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(tracker),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
