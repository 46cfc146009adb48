// Command dcf77-sensor decodes the DCF77 time signal from a receiver on a
// GPIO line and publishes minute frames to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/sweeney/dcf77-sensor/internal/config"
	"github.com/sweeney/dcf77-sensor/internal/gpio"
	"github.com/sweeney/dcf77-sensor/internal/logic"
	"github.com/sweeney/dcf77-sensor/internal/metrics"
	"github.com/sweeney/dcf77-sensor/internal/mqtt"
	"github.com/sweeney/dcf77-sensor/internal/status"
	"github.com/sweeney/dcf77-sensor/internal/web"
)

func main() {
	def := config.Default()
	configPath := flag.String("config", "", "YAML config file (optional)")
	poll := flag.Duration("poll", def.Poll, "GPIO polling interval (1ms or less)")
	chip := flag.String("chip", def.Chip, "GPIO chip name")
	pin := flag.Int("pin", def.Pin, "Line offset of the receiver output")
	bias := flag.String("bias", def.Bias, "Line bias: pull-up, pull-down or disabled")
	broker := flag.String("broker", def.Broker, "MQTT broker address")
	heartbeat := flag.Duration("heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	httpAddr := flag.String("http", def.HTTPAddr, "HTTP status address (empty to disable)")
	calibrationTimeout := flag.Duration("calibration-timeout", def.CalibrationTimeout, "Report a stall if not calibrated after this long (0 to disable)")
	verbose := flag.Bool("v", false, "Print debug messages")
	printLevel := flag.Bool("print-level", false, "Print current line level and exit")

	flag.Parse()

	cfg := def
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Explicit flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			cfg.Poll = *poll
		case "chip":
			cfg.Chip = *chip
		case "pin":
			cfg.Pin = *pin
		case "bias":
			cfg.Bias = *bias
		case "broker":
			cfg.Broker = *broker
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "calibration-timeout":
			cfg.CalibrationTimeout = *calibrationTimeout
		}
	})
	if *verbose {
		cfg.LogLevel = "debug"
	}

	logLevel, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		logLevel = log.LvlInfo
	}
	log.Root().SetHandler(log.LvlFilterHandler(logLevel, log.StdoutHandler))

	if err := cfg.Validate(); err != nil {
		log.Crit("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, *printLevel); err != nil {
		log.Crit("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, printLevel bool) error {
	// Initialize GPIO
	reader, err := gpio.NewRealReader(cfg.Chip, cfg.Pin, cfg.Bias)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	// Print level mode
	if printLevel {
		level, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("%s line %d: %s\n", cfg.Chip, cfg.Pin, levelString(level))
		return nil
	}

	// Initialize MQTT. Publishing runs on its own goroutine so a slow
	// broker never delays sampling.
	publisher := mqtt.NewAsyncPublisher(mqtt.NewRealPublisher(cfg.Broker), mqtt.DefaultQueueDepth)
	defer publisher.Close()

	settings := cfg.Settings()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollUs:            cfg.Poll.Microseconds(),
		Chip:              cfg.Chip,
		Pin:               cfg.Pin,
		HeartbeatMs:       cfg.Heartbeat.Milliseconds(),
		Broker:            cfg.Broker,
		HTTPAddr:          cfg.HTTPAddr,
		TolerancePercent:  settings.PulseTolerancePercent,
		CalibrationPulses: settings.CalibrationPulses,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Warn("failed to publish startup event", "err", err)
	} else {
		log.Info("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, metrics.NewRegistry(tracker))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", "addr", cfg.HTTPAddr)
	}

	line := gpio.NewHoldLine(reader)
	decoder := logic.NewDecoder(settings)
	decoder.Begin(line, monotonicMicros())

	log.Info("started",
		"chip", cfg.Chip, "pin", cfg.Pin, "poll", cfg.Poll, "broker", cfg.Broker,
		"heartbeat", cfg.Heartbeat, "tolerance", settings.PulseTolerancePercent,
		"calibration_pulses", settings.CalibrationPulses)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(decoder, line, publisher, publisher, tracker, cfg.Heartbeat, cfg.CalibrationTimeout, time.Now, ticker.C, sigCh)
}

// monotonicMicros returns a decoder clock counting microseconds from now.
func monotonicMicros() logic.Clock {
	start := time.Now()
	return func() uint64 {
		return uint64(time.Since(start).Microseconds())
	}
}

// errorCounter reports failed line reads.
type errorCounter interface {
	Errors() uint64
}

func runLoop(decoder *logic.Decoder, line errorCounter, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat, calibrationTimeout time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	hb := logic.NewHeartbeat(startTime)
	var (
		sequence       uint64
		calibratedSent bool
		stallSent      bool
	)

	refresh := func() {
		if tracker == nil {
			return
		}
		tracker.Update(decoder.State(), decoder.Diagnostics(), decoder.Stats(), line.Errors())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	systemEvent := func(t time.Time, name, reason string, retained bool) mqtt.SystemEvent {
		event := mqtt.SystemEvent{
			Timestamp: t,
			Event:     name,
			Reason:    reason,
			Retained:  retained,
		}
		if tracker != nil {
			refresh()
			event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), name, reason)
		}
		return event
	}

	for {
		select {
		case s := <-sig:
			log.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if err := publisher.PublishSystem(systemEvent(now(), "SHUTDOWN", signalName, true)); err != nil {
				log.Warn("failed to publish shutdown event", "err", err)
			} else {
				log.Info("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			decoder.Sample()

			if !calibratedSent && decoder.IsCalibrated() {
				calibratedSent = true
				d := decoder.Diagnostics()
				log.Info("calibrated",
					"avg_short", d.AvgShort, "avg_long", d.AvgLong,
					"short_pulse", d.ShortPulse, "long_pulse", d.LongPulse,
					"after", t.Sub(startTime))
				if tracker != nil {
					tracker.SetCalibrated(t)
				}
				if err := publisher.PublishSystem(systemEvent(t, "CALIBRATED", "", true)); err != nil {
					log.Warn("calibrated publish error", "err", err)
				}
			}

			if decoder.FrameReady() {
				sequence++
				event := logic.FrameEvent{
					Timestamp: t,
					Sequence:  sequence,
					Frame:     decoder.TakeFrame(),
				}
				log.Info("frame", "seq", sequence, "count", event.Frame.Count, "bits", event.Frame.String())
				if tracker != nil {
					tracker.SetFrame(event)
				}
				if err := publisher.PublishFrame(event); err != nil {
					log.Warn("publish error", "err", err)
					// Don't crash on publish failure
				}
			}

			if !stallSent && !decoder.IsCalibrated() && calibrationTimeout > 0 && t.Sub(startTime) >= calibrationTimeout {
				stallSent = true
				stats := decoder.Stats()
				log.Warn("calibration stalled", "after", t.Sub(startTime),
					"edges", stats.Edges, "calibration_pulses", stats.CalibrationPulses)
				if err := publisher.PublishSystem(systemEvent(t, "CALIBRATION_STALLED", "", true)); err != nil {
					log.Warn("stall publish error", "err", err)
				}
			}

			// Check for heartbeat
			if hbData := hb.Check(t, heartbeat, decoder.Stats()); hbData != nil {
				log.Info("heartbeat", "uptime", hbData.Uptime, "edges", hbData.Stats.Edges,
					"frames", hbData.Stats.Frames, "ambiguous", hbData.Stats.AmbiguousPulses)
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
				}
				if err := publisher.PublishSystem(systemEvent(hbData.Timestamp, "HEARTBEAT", "", false)); err != nil {
					log.Warn("heartbeat publish error", "err", err)
				}
			}

			// Update status tracker for HTTP/metrics consumers
			refresh()
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}
