package logger_test

import (
	"fmt"
	"os"

	"github.com/satipd/satipd/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("stream started", "stream_id", 0)
	log.Warn("unrecognised rolloff token", "token", "0.40")
	log.Error("tune failed", "error", "frontend busy")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRTP)
	cfg.EnableCategory(logger.DebugPID)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugRTPFrame(12345, 90000*33, 7)
	log.DebugPID("pid opened", "pid", 256)
	log.DebugRTP("packet dispatched", "seq", 12345)
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/satipd/satipd/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("satipd", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/satipd/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "stream.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("stream.json")

	log.Info("client admitted",
		"session_id", "abcd1234",
		"ip", "192.168.1.1",
		"rtp_port", 5000)
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugDVBAPI)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Only executes if DebugDVBAPI is enabled; zero cost otherwise.
	log.DebugDVBAPI("filter started", "pid", 100, "demux", 0)
	log.DebugRTP("packet dispatched", "seq", 12345)
}
