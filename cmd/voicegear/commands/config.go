package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"

	"github.com/hitony/voicegear/pkg/audiopipe"
)

// Config is the binary's YAML configuration.
type Config struct {
	Server struct {
		// URL of the session server. Empty starts the built-in loopback
		// server and connects to it.
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"server"`

	Device struct {
		ID       string `yaml:"id"`
		Firmware string `yaml:"firmware"`
		WakeWord string `yaml:"wake_word"`
	} `yaml:"device"`

	Metrics struct {
		// Listen is the /metrics address; empty disables the endpoint.
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Audio struct {
		Gain            float32 `yaml:"gain"`
		ZeroStreakLimit int     `yaml:"zero_streak_limit"`
		SilenceHoldMS   int     `yaml:"silence_hold_ms"`
		MaxRecordingMS  int     `yaml:"max_recording_ms"`
	} `yaml:"audio"`
}

func defaultConfig() Config {
	var c Config
	c.Device.ID = "gear-" + uuid.NewString()[:8]
	c.Device.Firmware = version
	c.Device.WakeWord = "hey gear"
	c.Metrics.Listen = "127.0.0.1:9090"
	return c
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("config: device.id must not be empty")
	}
	if c.Audio.Gain < 0 {
		return fmt.Errorf("config: audio.gain must not be negative")
	}
	if c.Audio.ZeroStreakLimit < 0 {
		return fmt.Errorf("config: audio.zero_streak_limit must not be negative")
	}
	return nil
}

// pipelineConfig maps the YAML overrides onto the pipeline defaults.
func (c Config) pipelineConfig() audiopipe.Config {
	pc := audiopipe.DefaultConfig()
	if c.Audio.Gain > 0 {
		pc.Gain = c.Audio.Gain
	}
	if c.Audio.ZeroStreakLimit > 0 {
		pc.ZeroStreakLimit = c.Audio.ZeroStreakLimit
	}
	if c.Audio.SilenceHoldMS > 0 {
		pc.SilenceHold = time.Duration(c.Audio.SilenceHoldMS) * time.Millisecond
	}
	if c.Audio.MaxRecordingMS > 0 {
		pc.MaxRecording = time.Duration(c.Audio.MaxRecordingMS) * time.Millisecond
	}
	return pc
}
