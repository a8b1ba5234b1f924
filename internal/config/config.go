// Package config loads bridge configuration from CLI flags with environment
// overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/esp32-bridge/bridge/internal/model"
)

const envPrefix = "BRIDGE"

// Config holds the bridge configuration.
type Config struct {
	// SerialPort is the device path for serial communication.
	SerialPort string `mapstructure:"serial-port"`

	// BaudRate is the serial baud rate.
	BaudRate int `mapstructure:"baud-rate"`

	// WSPort is the WebSocket listen port.
	WSPort int `mapstructure:"ws-port"`

	// StaticPort is the static file server listen port.
	StaticPort int `mapstructure:"static-port"`

	// StaticDir is the directory of bundled web assets.
	StaticDir string `mapstructure:"static-dir"`

	// NoStatic disables the static file server.
	NoStatic bool `mapstructure:"no-static"`

	// HistoryBytes bounds the recent-event cache replayed to new clients.
	// Zero disables replay.
	HistoryBytes int `mapstructure:"history-bytes"`

	// Transcript is the path of the traffic transcript file. Empty disables
	// recording.
	Transcript string `mapstructure:"transcript"`
}

// Flags returns the bridge flag set with defaults applied.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("bridge", pflag.ContinueOnError)
	fs.String("serial-port", "/dev/ttyUSB0", "serial port for device communication")
	fs.Int("baud-rate", 115200, "serial baud rate")
	fs.Int("ws-port", 8080, "WebSocket listen port")
	fs.Int("static-port", 3000, "static file server listen port")
	fs.String("static-dir", "./web", "directory of web assets")
	fs.Bool("no-static", false, "disable the static file server")
	fs.Int("history-bytes", 64*1024, "recent device event cache size in bytes (0 disables replay)")
	fs.String("transcript", "", "record relayed traffic to this file")
	return fs
}

// Load parses args into a Config. Each flag can also be set through the
// environment as BRIDGE_<FLAG> with dashes replaced by underscores, e.g.
// BRIDGE_SERIAL_PORT.
func Load(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for values the bridge cannot run with.
func (c *Config) Validate() error {
	if c.SerialPort == "" {
		return model.ErrPortRequired
	}
	if c.BaudRate <= 0 {
		return model.ErrInvalidBaudRate
	}
	return nil
}
