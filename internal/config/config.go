package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	ParticipantID string `mapstructure:"participant_id"`

	SignalURL    string `mapstructure:"signal_url"`
	TranslateURL string `mapstructure:"translate_url"`
	DirectoryURL string `mapstructure:"directory_url"`
	RefreshURL   string `mapstructure:"refresh_url"`

	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`

	MicPath       string        `mapstructure:"mic_path"`
	PlaybackDir   string        `mapstructure:"playback_dir"`
	FrameDuration time.Duration `mapstructure:"frame_duration"`

	Language    string `mapstructure:"user_language"`
	VoiceGender string `mapstructure:"voice_gender"`
	GestureMode bool   `mapstructure:"gesture_mode"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("signal_url", "ws://localhost:8080/ws/signal")
	v.SetDefault("translate_url", "ws://localhost:8081/ws/translate")
	v.SetDefault("directory_url", "http://localhost:8000")
	v.SetDefault("refresh_url", "http://localhost:8000/api/v1/auth/refresh/")
	v.SetDefault("mic_path", "./assets/mic.wav")
	v.SetDefault("playback_dir", "./out")
	v.SetDefault("frame_duration", "20ms")
	v.SetDefault("user_language", "en")
	v.SetDefault("voice_gender", "female")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Signal: %s\n", cfg.Mode, cfg.Port, cfg.SignalURL)
	return &cfg, nil
}
