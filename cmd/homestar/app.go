package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/homestar-labs/homestar/api"
	"github.com/homestar-labs/homestar/blobstore"
	"github.com/homestar-labs/homestar/config"
	"github.com/homestar-labs/homestar/memo"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/telemetry"
	"github.com/homestar-labs/homestar/transport/natspubsub"
	"github.com/homestar-labs/homestar/wasmhost"
	"github.com/homestar-labs/homestar/worker"
	"github.com/homestar-labs/homestar/workflow"
)

// App wires together one Homestar node's components: the Receipt Store,
// the peer PubSub transport, the Memoization Coordinator, the Wasm Host,
// and the admission API that drives Workers against them.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store      receipt.Store
	closeStore func() error

	natsConn *nats.Conn
	pubsub   memo.PubSub

	blob  blobstore.Fetcher
	host  *wasmhost.Host
	coord *memo.Coordinator

	metrics   *telemetry.Metrics
	inFlight  *telemetry.InFlightGauge
	apiServer *api.Server
}

// NewApp constructs every component an App needs but starts nothing with
// a live network or disk footprint beyond opening the configured store
// and, for the "nats" pubsub driver, connecting to the NATS server. A nil
// logger falls back to slog.Default().
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, closeStore, err := newStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open receipt store: %w", err)
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		closeStore: closeStore,
		host:       wasmhost.NewHost(logger),
		metrics:    telemetry.NewMetrics(),
	}

	pubsub, natsConn, err := newPubSub(cfg.PubSub)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("connect pubsub: %w", err)
	}
	a.pubsub = pubsub
	a.natsConn = natsConn

	a.blob, err = newBlobFetcher(cfg.Blobstore)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("configure blobstore: %w", err)
	}

	memoCfg := memo.Config{
		PeerWaitWindow:         cfg.Memo.PeerWaitWindow.String(),
		DisablePeerMemoization: cfg.Memo.DisablePeerMemoization || pubsub == nil,
	}
	if err := memoCfg.Validate(); err != nil {
		closeStore()
		return nil, fmt.Errorf("memo config: %w", err)
	}
	a.coord = memo.NewCoordinator(store, pubsub, memoCfg, logger)

	a.apiServer = api.NewServer(a, store, cfg.API.Addr)

	return a, nil
}

func newStore(cfg config.StoreConfig) (receipt.Store, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := receipt.OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return receipt.NewMemoryStore(), func() error { return nil }, nil
	}
}

func newPubSub(cfg config.PubSubConfig) (memo.PubSub, *nats.Conn, error) {
	switch cfg.Driver {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		return natspubsub.New(nc), nc, nil
	default:
		return memo.NewMemoryPubSub(), nil, nil
	}
}

// workerOptions maps the node config onto a per-run Worker.
func (a *App) workerOptions() worker.Options {
	return worker.Options{
		MaxConcurrent:   a.cfg.Worker.MaxConcurrent,
		EventsBufferLen: a.cfg.API.EventsBufferLen,
		CancelDrain:     a.cfg.Worker.CancelDrain,
		Metrics:         a.metrics,
	}
}

func newBlobFetcher(cfg config.BlobstoreConfig) (blobstore.Fetcher, error) {
	switch cfg.Driver {
	case "memory":
		return blobstore.NewMemoryFetcher(nil), nil
	default:
		return blobstore.NewHTTPFetcher(cfg.Gateway), nil
	}
}

// Start brings up the telemetry and admission surfaces. The Workflow
// Execution Core itself (store, coordinator, host) needs no "start" step:
// it is ready the moment NewApp returns.
func (a *App) Start(ctx context.Context) error {
	if err := a.metrics.Serve(a.cfg.Telemetry.MetricsAddr); err != nil {
		return fmt.Errorf("start metrics: %w", err)
	}
	gauge, err := telemetry.NewInFlightGauge(a.host.InFlight)
	if err != nil {
		return fmt.Errorf("register in-flight gauge: %w", err)
	}
	a.inFlight = gauge
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			a.logger.Error("api server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the admission API and telemetry server and releases the
// node's store, pub/sub connection, and Wasm host within timeout.
func (a *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.apiServer.Shutdown(ctx)
	a.metrics.Shutdown(ctx)
	a.host.Close(ctx)
	if a.natsConn != nil {
		a.natsConn.Drain()
	}
	a.closeStore()
}

// Submit implements api.Runner: it admits a workflow document and starts
// driving it in the background, returning immediately with the parsed
// Workflow and its progress-event stream.
func (a *App) Submit(ctx context.Context, data []byte, codec workflow.Codec) (*workflow.Workflow, <-chan worker.Event, error) {
	wf, err := workflow.Parse(data, codec)
	if err != nil {
		return nil, nil, err
	}

	w := worker.New(a.store, a.coord, a.blob, a.host, a.workerOptions(), a.logger)
	a.metrics.WorkflowStarted()
	go func() {
		defer a.metrics.WorkflowFinished()
		if err := w.Run(context.Background(), wf); err != nil {
			a.logger.Error("workflow run failed", "error", err)
		}
	}()

	return wf, w.Events(), nil
}

// RunWorkflowFile admits the workflow document at path (codec chosen by
// its file extension), drives it to completion, and returns the
// receipt for every task in admission order.
func (a *App) RunWorkflowFile(ctx context.Context, path string) ([]receipt.Receipt, error) {
	codec, err := workflow.CodecForExtension(filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	wf, err := workflow.Parse(data, codec)
	if err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}

	w := worker.New(a.store, a.coord, a.blob, a.host, a.workerOptions(), a.logger)
	a.metrics.WorkflowStarted()
	defer a.metrics.WorkflowFinished()

	if err := w.Run(ctx, wf); err != nil {
		return nil, fmt.Errorf("run workflow: %w", err)
	}

	receipts := make([]receipt.Receipt, 0, wf.Len())
	for _, cid := range wf.TaskCIDs() {
		r, err := a.store.FindReceipt(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("lookup receipt for %s: %w", cid, err)
		}
		if r != nil {
			receipts = append(receipts, *r)
		}
	}
	return receipts, nil
}
