package server

import (
	"testing"
	"time"

	"github.com/satipd/satipd/pkg/descrambler"
	"github.com/satipd/satipd/pkg/frontend/fake"
	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/stream"
	"github.com/stretchr/testify/require"
)

func TestBuildStreamWiresProducerAndSidecar(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	fe := fake.New()
	s := BuildStream(1, fe, descrambler.NoFilter{}, log)
	require.NotNil(t, s)
	require.NotNil(t, s.PidTable())
	require.NotNil(t, s.Properties())

	id, err := s.FindClientIDFor(nil, 5000, 5001, true, "", stream.DeliveryDVBS2)
	require.NoError(t, err)
	s.ProcessStream("freq=11836 pids=0", id, "PLAY")
	require.NoError(t, s.Update(id))
	require.Equal(t, 1, fe.TuneCalls)

	time.Sleep(10 * time.Millisecond)
	s.Teardown(0, false)
}
