package telemetry

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsNilIsNoOp(t *testing.T) {
	var m *Metrics
	m.WorkflowStarted()
	m.TaskResolved("wasm/run", true)
	m.TaskFailed("wasm/run")
	m.BatchProcessed(10 * time.Millisecond)
	m.WorkflowFinished()
	require.NoError(t, m.Serve(""))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestMetricsServeAndScrape(t *testing.T) {
	m := NewMetrics()
	m.WorkflowStarted()
	m.TaskResolved("wasm/run", false)
	m.TaskFailed("wasm/run")
	m.BatchProcessed(5 * time.Millisecond)

	require.NoError(t, m.Serve("127.0.0.1:19191"))
	defer m.Shutdown(context.Background())

	resp, err := http.Get("http://127.0.0.1:19191/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "homestar_tasks_dispatched_total")
	require.Contains(t, string(body), "homestar_tasks_failed_total")
}
