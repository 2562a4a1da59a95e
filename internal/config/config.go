// Package config loads Herald's settings: defaults, then the YAML config
// file, then HERALD_* environment overrides. The result is an immutable
// snapshot read once per speak request; the core never mutates it.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// Engine selection values.
const (
	EngineNeural = "neural"
	EngineLocal  = "local"
)

// Rate limits in words per minute.
const (
	MinRateWPM  = 150
	MaxRateWPM  = 1500
	RateStepWPM = 25
)

// Settings is the configuration snapshot handed to the core.
type Settings struct {
	Voice   string `env:"HERALD_VOICE"`
	Engine  string `env:"HERALD_ENGINE"`
	RateWPM int    `env:"HERALD_RATE"`

	LineDelayMs int `env:"HERALD_LINE_DELAY_MS"`

	AutoReadIntervalSec     float64 `env:"HERALD_AUTOREAD_INTERVAL"`
	AutoReadChangeThreshold float64 `env:"HERALD_AUTOREAD_THRESHOLD"`

	ServerURL  string `env:"HERALD_SERVER_URL"`
	TimeoutSec int    `env:"HERALD_TIMEOUT"`
}

// Default returns the stock settings.
func Default() Settings {
	return Settings{
		Voice:                   "aria",
		Engine:                  EngineNeural,
		RateWPM:                 900,
		LineDelayMs:             0,
		AutoReadIntervalSec:     2.5,
		AutoReadChangeThreshold: 0.5,
		ServerURL:               "http://127.0.0.1:7851",
		TimeoutSec:              30,
	}
}

// Load resolves settings from the config file (explicit path, or the user
// config dir) and the environment.
func Load(explicitPath string) (Settings, error) {
	s := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		scope := gap.NewScope(gap.User, "herald")
		dirs, err := scope.ConfigDirs()
		if err == nil {
			v.SetConfigName("herald")
			for _, dir := range dirs {
				v.AddConfigPath(dir)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitPath != "" {
			return s, fmt.Errorf("read config: %w", err)
		}
		if !errors.As(err, &notFound) {
			return s, fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Debug("config file loaded", "path", v.ConfigFileUsed())
	}
	applyFile(v, &s)

	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("environment: %w", err)
	}

	s.normalize()
	return s, nil
}

func applyFile(v *viper.Viper, s *Settings) {
	if v.IsSet("voice") {
		s.Voice = v.GetString("voice")
	}
	if v.IsSet("engine") {
		s.Engine = v.GetString("engine")
	}
	if v.IsSet("rate_wpm") {
		s.RateWPM = v.GetInt("rate_wpm")
	}
	if v.IsSet("line_delay_ms") {
		s.LineDelayMs = v.GetInt("line_delay_ms")
	}
	if v.IsSet("auto_read.interval_seconds") {
		s.AutoReadIntervalSec = v.GetFloat64("auto_read.interval_seconds")
	}
	if v.IsSet("auto_read.change_threshold") {
		s.AutoReadChangeThreshold = v.GetFloat64("auto_read.change_threshold")
	}
	if v.IsSet("server_url") {
		s.ServerURL = v.GetString("server_url")
	}
	if v.IsSet("timeout_seconds") {
		s.TimeoutSec = v.GetInt("timeout_seconds")
	}
}

// normalize clamps values into their working ranges rather than failing on
// out-of-range input, matching how rate hotkeys behave.
func (s *Settings) normalize() {
	s.Engine = strings.ToLower(strings.TrimSpace(s.Engine))
	if s.Engine != EngineLocal {
		s.Engine = EngineNeural
	}
	s.RateWPM = ClampRate(s.RateWPM)
	if s.LineDelayMs < 0 {
		s.LineDelayMs = 0
	}
	if s.AutoReadIntervalSec <= 0 {
		s.AutoReadIntervalSec = 2.5
	}
	if s.AutoReadChangeThreshold < 0 {
		s.AutoReadChangeThreshold = 0
	}
	if s.AutoReadChangeThreshold > 1 {
		s.AutoReadChangeThreshold = 1
	}
	if s.TimeoutSec <= 0 {
		s.TimeoutSec = 30
	}
}

// ClampRate bounds a words-per-minute value to the supported range.
func ClampRate(wpm int) int {
	if wpm < MinRateWPM {
		return MinRateWPM
	}
	if wpm > MaxRateWPM {
		return MaxRateWPM
	}
	return wpm
}
