package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel    string
	LogFormat   string
	LogFile     string
	DebugRTP    bool
	DebugRTCP   bool
	DebugPID    bool
	DebugTune   bool
	DebugDVBAPI bool
	DebugRTSP   bool
	DebugAll    bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTP, "debug-rtp", false,
		"Enable detailed RTP datagram debugging (sequence, timestamp, TS packet count)")
	fs.BoolVar(&f.DebugRTCP, "debug-rtcp", false,
		"Enable RTCP compound packet debugging (SR/SDES/APP)")
	fs.BoolVar(&f.DebugPID, "debug-pid", false,
		"Enable PID table transition debugging")
	fs.BoolVar(&f.DebugTune, "debug-tune", false,
		"Enable frontend tuning debugging")
	fs.BoolVar(&f.DebugDVBAPI, "debug-dvbapi", false,
		"Enable OSCam/dvbapi side-channel debugging")
	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false,
		"Enable RTSP protocol debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugRTP {
			cfg.EnableCategory(DebugRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugRTCP {
			cfg.EnableCategory(DebugRTCP)
			cfg.Level = LevelDebug
		}
		if f.DebugPID {
			cfg.EnableCategory(DebugPID)
			cfg.Level = LevelDebug
		}
		if f.DebugTune {
			cfg.EnableCategory(DebugTune)
			cfg.Level = LevelDebug
		}
		if f.DebugDVBAPI {
			cfg.EnableCategory(DebugDVBAPI)
			cfg.Level = LevelDebug
		}
		if f.DebugRTSP {
			cfg.EnableCategory(DebugRTSP)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./satipd

  Enable DEBUG level:
    ./satipd --log-level debug
    ./satipd -l debug

  Log to file:
    ./satipd --log-file satipd.log
    ./satipd -o satipd.log

  JSON format for structured logging:
    ./satipd --log-format json -o satipd.json

  Debug RTP framing only:
    ./satipd --debug-rtp

  Debug PID table transitions only:
    ./satipd --debug-pid

  Debug multiple categories:
    ./satipd --debug-rtp --debug-pid --debug-tune

  Debug everything:
    ./satipd --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./satipd -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugRTP {
			debugCategories = append(debugCategories, "rtp")
		}
		if f.DebugRTCP {
			debugCategories = append(debugCategories, "rtcp")
		}
		if f.DebugPID {
			debugCategories = append(debugCategories, "pid")
		}
		if f.DebugTune {
			debugCategories = append(debugCategories, "tune")
		}
		if f.DebugDVBAPI {
			debugCategories = append(debugCategories, "dvbapi")
		}
		if f.DebugRTSP {
			debugCategories = append(debugCategories, "rtsp")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
