package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/satipd/satipd/pkg/logger"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServerServesMetricsAndHealthz(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	reg := NewRegistry()
	reg.ObserveStream(1, 10, 1880, 3, 2, 5)

	addr := "127.0.0.1:" + strconv.Itoa(freePort(t))
	srv := NewServer(reg, log)
	require.NoError(t, srv.Start(addr))
	defer func() { _ = srv.Stop(context.Background()) }()

	client := &http.Client{Timeout: 2 * time.Second}

	healthResp, err := client.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	require.Equal(t, http.StatusOK, healthResp.StatusCode)

	metricsResp, err := client.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "satipd_rtp_packets_sent_total"))
	require.True(t, strings.Contains(string(body), `stream_id="1"`))
}
