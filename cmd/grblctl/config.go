package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type JogDefaults struct {
	Feed    float64 `yaml:"feed"`
	Step    float64 `yaml:"step"`
	Precise bool    `yaml:"precise"`
}

type Config struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	// SPJS is the websocket URL of a Serial Port JSON Server. When set the
	// port is opened through it instead of directly.
	SPJS string `yaml:"spjs"`

	Addr       string `yaml:"addr"`
	DataDir    string `yaml:"dataDir"`
	TrafficLog string `yaml:"trafficLog"`
	LogLevel   string `yaml:"logLevel"`

	PollInterval time.Duration `yaml:"pollInterval"`
	Jog          JogDefaults   `yaml:"jog"`
}

func defaultConfig() Config {
	return Config{
		Port:         "/dev/ttyUSB0",
		Baud:         115200,
		Addr:         ":9091",
		DataDir:      "./data",
		LogLevel:     "info",
		PollInterval: 100 * time.Millisecond,
		Jog: JogDefaults{
			Feed: 600,
			Step: 1,
		},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config '%s': %w", path, err)
	}
	return cfg, nil
}

// bindFlags registers flags that override the values already in cfg.
func (cfg *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.Port, "port", cfg.Port, "Port path (or name if using SPJS).")
	fs.IntVar(&cfg.Baud, "baud", cfg.Baud, "Serial baud rate.")
	fs.StringVar(&cfg.SPJS, "spjs", cfg.SPJS, "Websocket URL of the SPJS server to use.")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to bind the HTTP server to.")
	fs.StringVar(&cfg.DataDir, "dir", cfg.DataDir, "Data directory to use.")
	fs.StringVar(&cfg.TrafficLog, "traffic-log", cfg.TrafficLog, "Record controller traffic to this CBOR file.")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error).")
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Status poll interval.")
}
