package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/crdtbase/kvsync/internal/auth"
	"github.com/crdtbase/kvsync/internal/logging"
	"github.com/crdtbase/kvsync/internal/monitoring"
	"github.com/crdtbase/kvsync/internal/replicator"
	"github.com/crdtbase/kvsync/internal/tracing"
	"github.com/crdtbase/kvsync/internal/transport"
	"github.com/crdtbase/kvsync/pkg/kvsync"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// config is gathered entirely from the environment: this binary runs
// one node per process, typically under a supervisor that already owns
// flag parsing and restarts.
type config struct {
	NodeID              string
	DataPath            string
	HTTPAddr            string
	NetworkID           string
	NATSUrl             string
	AuthEnabled         bool
	AuthSecret          string
	SigningPublicKey    []byte
	ReplicationInterval time.Duration
	JaegerEndpoint      string
	SnapshotKeep        int
}

func loadConfig() (config, error) {
	nodeID := os.Getenv("KVSYNC_NODE_ID")
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share", "kvsync")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return config{}, fmt.Errorf("create data dir: %w", err)
	}

	cfg := config{
		NodeID:      nodeID,
		DataPath:    filepath.Join(dataDir, nodeID+".db"),
		HTTPAddr:    envOr("KVSYNC_HTTP_ADDR", ":8080"),
		NetworkID:   envOr("KVSYNC_NETWORK_ID", "default"),
		NATSUrl:     os.Getenv("KVSYNC_NATS_URL"),
		AuthEnabled: os.Getenv("KVSYNC_AUTH_SECRET") != "",
		AuthSecret:  os.Getenv("KVSYNC_AUTH_SECRET"),

		JaegerEndpoint: os.Getenv("KVSYNC_JAEGER_ENDPOINT"),
		SnapshotKeep:   5,
	}
	if encoded := os.Getenv("KVSYNC_SIGNING_PUBLIC_KEY"); encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return config{}, fmt.Errorf("decode KVSYNC_SIGNING_PUBLIC_KEY: %w", err)
		}
		cfg.SigningPublicKey = key
	}
	cfg.ReplicationInterval = 5 * time.Second
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("kvsync-node: load config: %w", err)
	}

	logger, err := logging.NewLogger("info", "json")
	if err != nil {
		return fmt.Errorf("kvsync-node: init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.WithNodeID(cfg.NodeID)

	if cfg.JaegerEndpoint != "" {
		tp, err := tracing.InitTracer("kvsync-node", cfg.JaegerEndpoint)
		if err != nil {
			log.Warn("tracing disabled: failed to init jaeger exporter", zap.Error(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	metrics := monitoring.NewMetrics()

	var bus replicator.PubSub
	if cfg.NATSUrl != "" {
		natsBus, err := replicator.DialNATS(cfg.NATSUrl)
		if err != nil {
			return fmt.Errorf("kvsync-node: connect to nats: %w", err)
		}
		defer natsBus.Close()
		bus = natsBus
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := kvsync.New(ctx, kvsync.Options{
		NodeID:              cfg.NodeID,
		DataPath:            cfg.DataPath,
		NetworkID:           cfg.NetworkID,
		Bus:                 bus,
		ReplicationInterval: cfg.ReplicationInterval,
	})
	if err != nil {
		return fmt.Errorf("kvsync-node: open node: %w", err)
	}
	defer node.Shutdown()

	if bus != nil {
		if err := node.Start(ctx); err != nil {
			return fmt.Errorf("kvsync-node: start replicator: %w", err)
		}
		log.Info("replication started", zap.String("network_id", cfg.NetworkID), zap.String("nats_url", cfg.NATSUrl))
	} else {
		log.Info("no nats url configured, running without gossip replication")
	}

	// bbolt itself caps file growth with compaction only on reopen, so a
	// periodic snapshot-cleanup keeps the versioned-snapshot keyspace
	// from growing unbounded between restarts.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1h", func() {
		if err := node.CleanupOldSnapshots(cfg.SnapshotKeep); err != nil {
			log.Warn("snapshot cleanup failed", zap.Error(err))
		}
	}); err != nil {
		log.Warn("failed to schedule snapshot cleanup", zap.Error(err))
	} else {
		scheduler.Start()
		defer scheduler.Stop()
	}

	var authMW *auth.Middleware
	if cfg.AuthEnabled {
		tokenManager := auth.NewTokenManager(cfg.AuthSecret)
		authMW = auth.NewMiddleware(tokenManager)
		log.Info("jwt authentication enabled")
	}

	if cfg.SigningPublicKey != nil {
		log.Info("request signature verification enabled")
	}

	peerClient := transport.NewHTTPPeerClient(10 * time.Second)
	server := transport.NewServer(transport.Config{
		Guard:      node,
		Peers:      peerClient,
		Metrics:    metrics,
		Logger:     log,
		AuthMW:     authMW,
		SigningKey: cfg.SigningPublicKey,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("kvsync-node: http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
