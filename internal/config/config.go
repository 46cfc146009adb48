// Package config loads daemon settings from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/dcf77-sensor/internal/gpio"
	"github.com/sweeney/dcf77-sensor/internal/logic"
)

// Config is the daemon configuration.
type Config struct {
	Poll               time.Duration `yaml:"poll"`
	Chip               string        `yaml:"chip"`
	Pin                int           `yaml:"pin"`
	Bias               string        `yaml:"bias"`
	Broker             string        `yaml:"broker"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
	HTTPAddr           string        `yaml:"http"`
	CalibrationTimeout time.Duration `yaml:"calibration_timeout"`
	LogLevel           string        `yaml:"log_level"`
	Decoder            DecoderConfig `yaml:"decoder"`
}

// DecoderConfig overrides the decoder constants.
type DecoderConfig struct {
	TolerancePercent  uint8  `yaml:"tolerance_percent"`
	CalibrationPulses uint8  `yaml:"calibration_pulses"`
	InitialShortMs    uint16 `yaml:"initial_short_ms"`
	InitialLongMs     uint16 `yaml:"initial_long_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	s := logic.DefaultSettings()
	return Config{
		Poll:               time.Millisecond,
		Chip:               gpio.DefaultChip,
		Pin:                gpio.DefaultPin,
		Bias:               gpio.BiasPullDown,
		Broker:             "tcp://192.168.1.200:1883",
		Heartbeat:          15 * time.Minute,
		HTTPAddr:           ":80",
		CalibrationTimeout: 5 * time.Minute,
		LogLevel:           "info",
		Decoder: DecoderConfig{
			TolerancePercent:  s.PulseTolerancePercent,
			CalibrationPulses: s.CalibrationPulses,
			InitialShortMs:    s.InitialShortPulse,
			InitialLongMs:     s.InitialLongPulse,
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Settings converts the decoder section to decoder settings.
func (c Config) Settings() logic.Settings {
	return logic.Settings{
		PulseTolerancePercent: c.Decoder.TolerancePercent,
		CalibrationPulses:     c.Decoder.CalibrationPulses,
		InitialShortPulse:     c.Decoder.InitialShortMs,
		InitialLongPulse:      c.Decoder.InitialLongMs,
	}
}

// Validate reports values the daemon cannot run with.
func (c Config) Validate() error {
	if c.Poll <= 0 {
		return errors.New("poll must be positive")
	}
	if c.Pin < 0 {
		return fmt.Errorf("invalid pin %d", c.Pin)
	}
	switch c.Bias {
	case gpio.BiasPullUp, gpio.BiasPullDown, gpio.BiasDisabled:
	default:
		return fmt.Errorf("unknown bias %q", c.Bias)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	return nil
}
