package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string `mapstructure:"mode"`
	ControlPort int    `mapstructure:"control_port"`

	SignalingURL string `mapstructure:"signaling_url"`
	APIBaseURL   string `mapstructure:"api_base_url"`
	AuthToken    string `mapstructure:"auth_token"`
	UserID       string `mapstructure:"user_id"`
	DisplayName  string `mapstructure:"display_name"`

	DevicePath string `mapstructure:"device_path"`
	SampleRate int    `mapstructure:"sample_rate"`

	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`

	SpeakThreshold  float64 `mapstructure:"speak_threshold"`
	SpeakHoldFrames int     `mapstructure:"speak_hold_frames"`

	STUNServers []string `mapstructure:"stun_servers"`
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
	v.SetDefault("control_port", 8090)
	v.SetDefault("signaling_url", "ws://localhost:8080/ws")
	v.SetDefault("api_base_url", "http://localhost:8080")
	v.SetDefault("display_name", "guest")
	v.SetDefault("device_path", "/dev/stdin")
	v.SetDefault("sample_rate", 48000)
	v.SetDefault("handshake_timeout", "10s")
	v.SetDefault("reconnect_max_attempts", 5)
	v.SetDefault("speak_threshold", 0.01)
	v.SetDefault("speak_hold_frames", 0)
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
