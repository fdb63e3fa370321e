package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MEDIACONV_FFMPEG_PATH.
const EnvPrefix = "MEDIACONV"

// Engine holds the conversion engine settings.
type Engine struct {
	FFmpegPath          string        `mapstructure:"ffmpeg_path"`
	FFprobePath         string        `mapstructure:"ffprobe_path"`
	EnableHWAccel       bool          `mapstructure:"enable_hw_accel"`
	HWProbeTimeout      time.Duration `mapstructure:"hw_probe_timeout"`
	KillTimeout         time.Duration `mapstructure:"kill_timeout"`
	DefaultThreads      int           `mapstructure:"default_threads"`
	SkipUnknownDuration bool          `mapstructure:"skip_unknown_duration"`
	EventBuffer         int           `mapstructure:"event_buffer"`
	StderrTailLines     int           `mapstructure:"stderr_tail_lines"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFile             string        `mapstructure:"log_file"`
	HistoryPath         string        `mapstructure:"history_path"`
}

// LoadEngine merges defaults, the YAML file at path and MEDIACONV_*
// environment variables. A missing file is not an error.
func LoadEngine(path string) (Engine, error) {
	v := viper.New()

	appDir := AppDir()
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")
	v.SetDefault("enable_hw_accel", true)
	v.SetDefault("hw_probe_timeout", 10*time.Second)
	v.SetDefault("kill_timeout", 5*time.Second)
	v.SetDefault("default_threads", 0)
	v.SetDefault("skip_unknown_duration", true)
	v.SetDefault("event_buffer", 1000)
	v.SetDefault("stderr_tail_lines", 200)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", filepath.Join(appDir, "debug.log"))
	v.SetDefault("history_path", filepath.Join(appDir, "history.db"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !isMissingConfig(err) {
			return Engine{}, fmt.Errorf("read engine config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Engine
	if err := v.Unmarshal(&cfg); err != nil {
		return Engine{}, fmt.Errorf("decode engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Engine{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (e Engine) Validate() error {
	switch {
	case strings.TrimSpace(e.FFmpegPath) == "":
		return errors.New("ffmpeg_path must not be empty")
	case strings.TrimSpace(e.FFprobePath) == "":
		return errors.New("ffprobe_path must not be empty")
	case e.HWProbeTimeout <= 0:
		return fmt.Errorf("hw_probe_timeout must be positive, got %s", e.HWProbeTimeout)
	case e.KillTimeout <= 0:
		return fmt.Errorf("kill_timeout must be positive, got %s", e.KillTimeout)
	case e.DefaultThreads < 0:
		return fmt.Errorf("default_threads must not be negative, got %d", e.DefaultThreads)
	case e.EventBuffer <= 0:
		return fmt.Errorf("event_buffer must be positive, got %d", e.EventBuffer)
	case e.StderrTailLines <= 0:
		return fmt.Errorf("stderr_tail_lines must be positive, got %d", e.StderrTailLines)
	}
	return nil
}

func isMissingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}
