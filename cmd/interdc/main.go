package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/pairdb/interdc-node/internal/ccrdt"
	"github.com/devrev/pairdb/interdc-node/internal/compactor"
	"github.com/devrev/pairdb/interdc-node/internal/config"
	"github.com/devrev/pairdb/interdc-node/internal/health"
	"github.com/devrev/pairdb/interdc-node/internal/metrics"
	"github.com/devrev/pairdb/interdc-node/internal/server"
	"github.com/devrev/pairdb/interdc-node/internal/service"
	"github.com/devrev/pairdb/interdc-node/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthgrpc "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("dcid", cfg.Server.DCID),
		zap.Int("pubsub_port", cfg.PubSub.Port),
		zap.Duration("txn_timer", cfg.Buffer.TxnTimer))

	// Metrics
	m := metrics.NewMetrics(cfg.Server.NodeID, prometheus.DefaultRegisterer)

	// Ring ownership
	ringSvc := service.NewRingService(cfg.Server.NodeID, cfg.Ring.VirtualNodes, logger)

	// Gossip membership feeding the ring
	var gossipSvc *service.GossipService
	if cfg.Gossip.Enabled {
		gossipSvc, err = service.NewGossipService(
			&service.GossipConfig{
				Enabled:        cfg.Gossip.Enabled,
				BindPort:       cfg.Gossip.BindPort,
				SeedNodes:      cfg.Gossip.SeedNodes,
				GossipInterval: cfg.Gossip.GossipInterval,
				ProbeTimeout:   cfg.Gossip.ProbeTimeout,
				ProbeInterval:  cfg.Gossip.ProbeInterval,
			},
			cfg.Server.NodeID,
			ringSvc,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize gossip service", zap.Error(err))
		}
		defer gossipSvc.Shutdown()
		logger.Info("Gossip service initialized")
	}

	// Peer DC metadata
	metadataSvc := service.NewMetadataService(cfg.Metadata.DCList, logger)

	// Publisher: bind failure is fatal
	publisherSvc, err := service.NewPublisherService(
		&service.PublisherConfig{
			Port:              cfg.PubSub.Port,
			RequestTimeout:    cfg.PubSub.RequestTimeout,
			QueueSize:         cfg.PubSub.QueueSize,
			ReplicationFactor: cfg.Replication.Factor,
		},
		metadataSvc,
		m,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to start publisher", zap.Error(err))
	}

	// Flush workers
	flushPool := workerpool.NewPool(&workerpool.Config{
		Name:      "flush",
		Workers:   cfg.Buffer.FlushWorkers,
		QueueSize: cfg.Buffer.FlushQueueSize,
		Logger:    logger,
	})

	// Buffer vnodes
	comp := compactor.NewCompactor(ccrdt.NewDefaultRegistry())
	bufferSvc := service.NewBufferService(
		&service.BufferServiceConfig{TxnTimer: cfg.Buffer.TxnTimer},
		ringSvc,
		comp,
		publisherSvc,
		flushPool,
		m,
		logger,
	)

	// Health checks
	checker := health.NewHealthChecker(cfg.Server.NodeID, health.Probes{
		PublisherAlive: func() bool { return true },
		GossipMembers: func() int {
			if gossipSvc == nil {
				return 1
			}
			return gossipSvc.MemberCount()
		},
	}, logger)

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	defer cancelHealth()
	go checker.Start(healthCtx)

	// Metrics server
	if cfg.Metrics.Enabled {
		metricsServer := server.NewMetricsServer(
			&server.MetricsServerConfig{Port: cfg.Metrics.Port, Path: cfg.Metrics.Path},
			m,
			checker,
			logger,
		)
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
		defer metricsServer.Stop()
	}

	// Cluster stats gauges
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				members := 1
				if gossipSvc != nil {
					members = gossipSvc.MemberCount()
				}
				m.UpdateClusterStats(ringSvc.NodeCount(), members)
			case <-healthCtx.Done():
				return
			}
		}
	}()

	// gRPC admin endpoint serving the standard health service
	grpcServer := grpc.NewServer()
	healthServer := healthgrpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.AdminPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("Failed to listen on admin port", zap.Error(err))
	}

	logger.Info("Inter-DC node starting",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("admin_addr", addr))

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gracefully...")
		checker.SetReadiness(false)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		bufferSvc.Shutdown()
		if err := flushPool.Stop(cfg.Server.ShutdownTimeout); err != nil {
			logger.Warn("Flush pool stop timed out", zap.Error(err))
		}
		if err := publisherSvc.Stop(); err != nil {
			logger.Warn("Publisher stop failed", zap.Error(err))
		}

		grpcServer.GracefulStop()
	}()

	if err := grpcServer.Serve(listener); err != nil {
		logger.Fatal("Failed to serve", zap.Error(err))
	}
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()

	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
	}

	return zapCfg.Build()
}
