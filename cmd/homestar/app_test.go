package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/homestar-labs/homestar/config"
	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/worker"
	"github.com/homestar-labs/homestar/workflow"
)

func receiptFixture(t *testing.T) receipt.Receipt {
	t.Helper()
	taskCID, err := ipld.CID(ipld.String("fixture-task"))
	require.NoError(t, err)
	return receipt.New(taskCID, receipt.Ok(ipld.Int(1)), workflow.WasmRunAbility, "fixture-workflow", "", false)
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Telemetry.MetricsAddr = ""
	return cfg
}

func TestNewAppMemoryWiring(t *testing.T) {
	app, err := NewApp(memoryConfig(t), nil)
	require.NoError(t, err)
	require.NotNil(t, app.store)
	require.NotNil(t, app.coord)
	require.NotNil(t, app.host)
	app.Shutdown(time.Second)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Driver = "postgres"
	_, err := NewApp(cfg, nil)
	require.Error(t, err)
}

func TestNewAppSQLiteDriver(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "receipts.db")

	app, err := NewApp(cfg, nil)
	require.NoError(t, err)
	defer app.Shutdown(time.Second)

	require.NoError(t, app.store.PutReceipt(context.Background(), receiptFixture(t)))
}

func TestRunWorkflowFile_EmptyWorkflow(t *testing.T) {
	app, err := NewApp(memoryConfig(t), nil)
	require.NoError(t, err)
	defer app.Shutdown(time.Second)

	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[]}`), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receipts, err := app.RunWorkflowFile(ctx, path)
	require.NoError(t, err)
	require.Empty(t, receipts)
}

func TestSubmit_EmptyWorkflowCompletes(t *testing.T) {
	app, err := NewApp(memoryConfig(t), nil)
	require.NoError(t, err)
	defer app.Shutdown(time.Second)

	wf, events, err := app.Submit(context.Background(), []byte(`{"tasks":[]}`), workflow.CodecDagJSON)
	require.NoError(t, err)
	require.Equal(t, 0, wf.Len())

	select {
	case ev := <-events:
		require.Equal(t, worker.EventWorkflowCompleted, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for empty workflow to complete")
	}
}
