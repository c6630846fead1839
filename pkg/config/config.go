// Package config loads satipd.conf, the key=value listen/tuning/OSCam
// settings file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all settings a satipd process needs at startup.
type Config struct {
	ListenAddr     string
	MetricsAddr    string
	FrontendCount  int
	StreamCount    int
	MaxClients     int
	RTCPUpdateRate int

	OSCamHost    string
	OSCamPort    int
	OSCamRateQPM float64

	LogLevel  string
	LogFormat string
	LogFile   string
}

// Default returns a Config with the baseline values used for every key a
// satipd.conf leaves unset, so a missing file still produces a runnable
// configuration.
func Default() *Config {
	return &Config{
		ListenAddr:     ":554",
		MetricsAddr:    ":9100",
		FrontendCount:  1,
		StreamCount:    4,
		MaxClients:     8,
		RTCPUpdateRate: 1,
		OSCamPort:      0,
		OSCamRateQPM:   60,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads configuration from a satipd.conf file.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.apply(key, value); err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) apply(key, value string) error {
	switch key {
	case "listen_addr":
		c.ListenAddr = value
	case "metrics_addr":
		c.MetricsAddr = value
	case "frontend_count":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.FrontendCount = n
	case "stream_count":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.StreamCount = n
	case "max_clients":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.MaxClients = n
	case "rtcp_update_rate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.RTCPUpdateRate = n
	case "oscam_host":
		c.OSCamHost = value
	case "oscam_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.OSCamPort = n
	case "oscam_rate_qpm":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.OSCamRateQPM = n
	case "log_level":
		c.LogLevel = value
	case "log_format":
		c.LogFormat = value
	case "log_file":
		c.LogFile = value
	}
	return nil
}

// Validate checks that all required configuration fields are present and
// within sane bounds, returning the first problem found.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("missing listen_addr")
	}
	if c.FrontendCount <= 0 {
		return fmt.Errorf("frontend_count must be positive")
	}
	if c.StreamCount <= 0 {
		return fmt.Errorf("stream_count must be positive")
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive")
	}
	if c.RTCPUpdateRate <= 0 {
		return fmt.Errorf("rtcp_update_rate must be positive")
	}
	if c.OSCamEnabled() && c.OSCamPort <= 0 {
		return fmt.Errorf("oscam_port must be positive when oscam_host is set")
	}
	return nil
}

// OSCamEnabled reports whether the config names a descrambler daemon.
func (c *Config) OSCamEnabled() bool {
	return c.OSCamHost != ""
}
