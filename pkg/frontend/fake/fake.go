// Package fake provides an in-memory frontend.Frontend test double: a pipe
// standing in for the DVR character device, and configurable tune
// acceptance/rejection, so pkg/stream and pkg/server tests never touch
// real DVB hardware.
package fake

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/satipd/satipd/pkg/stream"
)

// dvr wraps an io.PipeReader with a no-op SetReadDeadline so it satisfies
// frontend.DVR without needing a real deadline-aware file descriptor.
type dvr struct {
	*io.PipeReader
	mu       sync.Mutex
	deadline time.Time
}

func (d *dvr) SetReadDeadline(t time.Time) error {
	d.mu.Lock()
	d.deadline = t
	d.mu.Unlock()
	return nil
}

// Frontend is a fake DVB frontend backed by an in-process pipe. Writer
// returns the write side so tests can inject TS bytes as if they came from
// the kernel DVR device.
type Frontend struct {
	mu sync.Mutex

	capable  func(stream.DeliverySystem) bool
	tuneErr  error
	tuned    bool
	reader   *dvr
	writer   *io.PipeWriter

	TuneCalls     int
	TeardownCalls int
	LastTuned     stream.TuningParams
}

// New returns a Frontend capable of every delivery system and that accepts
// every Tune call.
func New() *Frontend {
	return &Frontend{
		capable: func(stream.DeliverySystem) bool { return true },
	}
}

// WithCapability restricts which delivery systems this fake accepts.
func (f *Frontend) WithCapability(fn func(stream.DeliverySystem) bool) *Frontend {
	f.capable = fn
	return f
}

// WithTuneError makes the next Tune call (and every call thereafter) fail.
func (f *Frontend) WithTuneError(err error) *Frontend {
	f.tuneErr = err
	return f
}

// Writer returns the DVR write side, valid after a successful Tune.
func (f *Frontend) Writer() *io.PipeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writer
}

func (f *Frontend) CapableOf(ds stream.DeliverySystem) bool {
	return f.capable(ds)
}

func (f *Frontend) Tune(params stream.TuningParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.TuneCalls++
	if f.tuneErr != nil {
		return fmt.Errorf("fake frontend: tune refused: %w", f.tuneErr)
	}

	pr, pw := io.Pipe()
	f.reader = &dvr{PipeReader: pr}
	f.writer = pw
	f.tuned = true
	f.LastTuned = params
	return nil
}

func (f *Frontend) DVRReader() stream.DVR {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reader == nil {
		return nil
	}
	return f.reader
}

func (f *Frontend) IsTuned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tuned
}

func (f *Frontend) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TeardownCalls++
	f.tuned = false
	if f.writer != nil {
		f.writer.Close()
	}
	f.reader = nil
	f.writer = nil
}
