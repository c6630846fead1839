package server

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/metrics"
	"github.com/satipd/satipd/pkg/stream"
	"github.com/stretchr/testify/require"
)

type fakeFrontend struct{ tuned bool }

func (f *fakeFrontend) CapableOf(stream.DeliverySystem) bool { return true }
func (f *fakeFrontend) Tune(stream.TuningParams) error       { f.tuned = true; return nil }
func (f *fakeFrontend) DVRReader() stream.DVR                { return nil }
func (f *fakeFrontend) IsTuned() bool                         { return f.tuned }
func (f *fakeFrontend) Teardown()                             { f.tuned = false }

type fakeProducer struct{}

func (fakeProducer) Start(stream.DVR) error   { return nil }
func (fakeProducer) Pause()                   {}
func (fakeProducer) Restart(stream.DVR) error { return nil }
func (fakeProducer) Close()                   {}
func (fakeProducer) RingDepth() int           { return 0 }

type fakeSidecar struct{}

func (fakeSidecar) Start() {}
func (fakeSidecar) Close() {}

func newTestStream(t *testing.T, id int) *stream.Stream {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	s := stream.New(id, &fakeFrontend{}, stream.SystemClock{}, log)
	s.Attach(fakeProducer{}, fakeSidecar{})
	return s
}

func TestAddStreamAndLookup(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	sup := New(DefaultConfig(), log)
	s := newTestStream(t, 1)
	sup.AddStream(1, s)

	got, ok := sup.StreamByID(1)
	require.True(t, ok)
	require.Same(t, s, got)

	_, ok = sup.StreamByID(2)
	require.False(t, ok)
}

func TestRecordUpdateResultMarksDegradedAfterMaxFailures(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MaxFailures = 3
	sup := New(cfg, log)
	sup.AddStream(1, newTestStream(t, 1))

	for i := 0; i < 2; i++ {
		sup.RecordUpdateResult(1, errors.New("tune failed"))
	}
	snap := sup.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, StateFailed, snap[0].State)

	sup.RecordUpdateResult(1, errors.New("tune failed"))
	snap = sup.Snapshot()
	require.Equal(t, StateDegraded, snap[0].State)
	require.Equal(t, 3, snap[0].FailureCount)
}

func TestRecordUpdateResultSuccessResetsState(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	sup := New(DefaultConfig(), log)
	sup.AddStream(1, newTestStream(t, 1))

	sup.RecordUpdateResult(1, errors.New("tune failed"))
	sup.RecordUpdateResult(1, nil)

	snap := sup.Snapshot()
	require.Equal(t, StateRunning, snap[0].State)
	require.Equal(t, 0, snap[0].FailureCount)
}

func TestCanAttemptBlocksDuringDegradedBackoff(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MaxFailures = 1
	cfg.RecoveryBaseDelay = time.Hour
	sup := New(cfg, log)
	sup.AddStream(1, newTestStream(t, 1))

	sup.RecordUpdateResult(1, errors.New("tune failed"))
	require.False(t, sup.CanAttempt(1))
}

func TestCanAttemptAllowsUnknownOrHealthyStreams(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	sup := New(DefaultConfig(), log)
	sup.AddStream(1, newTestStream(t, 1))

	require.True(t, sup.CanAttempt(1))
	require.True(t, sup.CanAttempt(99))
}

func TestSweepOnceDoesNotPanicWithNoClients(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	sup := New(DefaultConfig(), log)
	sup.AddStream(1, newTestStream(t, 1))
	sup.sweepOnce()
}

// sweepOnce must feed a live stream's stats into the attached registry, so
// a Prometheus scrape reflects reality rather than staying at zero forever.
func TestSweepOnceSamplesMetrics(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	sup := New(DefaultConfig(), log)
	s := newTestStream(t, 1)
	sup.AddStream(1, s)

	reg := metrics.NewRegistry()
	sup.SetMetrics(reg)

	owner, err := s.FindClientIDFor(net.ParseIP("10.0.0.5"), 5000, 5001, true, "", stream.DeliveryDVBS2)
	require.NoError(t, err)
	s.ProcessStream("freq=11836", owner, "PLAY")
	require.NoError(t, s.Update(owner))
	s.Properties().RecordSent(188, 1000)
	s.Properties().RecordSent(188, 1090)

	sup.sweepOnce()

	require.Equal(t, float64(1), testutil.ToFloat64(reg.ActiveClients.WithLabelValues("1")))
	require.Equal(t, float64(2), testutil.ToFloat64(reg.PacketsSent.WithLabelValues("1")))
	require.Equal(t, float64(376), testutil.ToFloat64(reg.OctetsSent.WithLabelValues("1")))

	// A second sweep with no new traffic must not double-count the delta.
	sup.sweepOnce()
	require.Equal(t, float64(2), testutil.ToFloat64(reg.PacketsSent.WithLabelValues("1")))
}
