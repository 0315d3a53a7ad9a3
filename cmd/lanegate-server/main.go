package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lanegate/server/internal/clock"
	"github.com/lanegate/server/internal/config"
	"github.com/lanegate/server/internal/db"
	"github.com/lanegate/server/internal/grpcapi"
	"github.com/lanegate/server/internal/httpapi"
	"github.com/lanegate/server/internal/lanegate/reader"
	"github.com/lanegate/server/internal/lanegate/relay"
	"github.com/lanegate/server/internal/lanegate/service"
	"github.com/lanegate/server/internal/lanegate/store/sqlite"
	"github.com/lanegate/server/internal/lanegate/types"
	"github.com/lanegate/server/internal/logging"
	"github.com/lanegate/server/internal/metrics"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("LANEGATE_CONFIG"), "path to YAML config file")
	seedDev := pflag.Bool("seed-dev", false, "seed a dev site with two sim readers and sample members")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanegate-server: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanegate-server: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *seedDev, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, seedDev bool, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	metrics.Register()

	// Database
	conn, err := db.Open(ctx, db.Config{Path: cfg.Database.Path, Env: cfg.Env}, logger.Named("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if seedDev {
		if cfg.IsProd() {
			return errors.New("--seed-dev is not allowed in prod")
		}
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
			return fmt.Errorf("seed dev: %w", err)
		}
		logger.Info("dev seed applied")
	}

	dbWorker := db.NewWorker(conn)
	defer dbWorker.Close()

	eventStore := sqlite.NewEventStore(conn, dbWorker)
	membershipStore := sqlite.NewMembershipStore(conn)
	readerStore := sqlite.NewReaderStore(conn)

	// Async log writer
	logWriter := service.NewLogWriter(eventStore, service.LogWriterConfig{
		QueueSize:    cfg.LogWriter.QueueSize,
		Workers:      cfg.LogWriter.Workers,
		WriteTimeout: cfg.LogWriter.WriteTimeout.D(),
	}, logger)
	if err := logWriter.Start(); err != nil {
		return err
	}
	defer func() {
		if err := logWriter.Stop(cfg.LogWriter.DrainTimeout.D()); err != nil {
			logger.Warn("log writer drain incomplete", zap.Error(err))
		}
	}()

	// Relay
	act, err := newActuator(cfg.Relay)
	if err != nil {
		return err
	}
	barrier, err := relay.NewBarrier(act, cfg.Relay.Hold.D(), logWriter, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := barrier.Shutdown(); err != nil {
			logger.Error("relay shutdown", zap.Error(err))
		}
	}()

	// Readers
	endpoints, err := loadEndpoints(ctx, cfg.Readers, readerStore)
	if err != nil {
		return fmt.Errorf("load readers: %w", err)
	}
	reads := make(chan types.TagRead, cfg.Access.QueueSize)
	health := reader.NewRegistry(clk)
	supervisor, err := reader.NewSupervisor(endpoints, reader.NewDeviceFactory(cfg.Reader.IOTimeout.D()), reader.SupervisorConfig{
		Worker: reader.WorkerConfig{
			PollInterval:          cfg.Reader.PollInterval.D(),
			ProbeInterval:         cfg.Reader.ProbeInterval.D(),
			MaxConnectionAttempts: cfg.Reader.MaxConnectionAttempts,
			BackoffBase:           cfg.Reader.BackoffBase.D(),
			BackoffMax:            cfg.Reader.BackoffMax.D(),
			OfflineRetry:          cfg.Reader.OfflineRetry.D(),
			BufferClearThreshold:  cfg.Reader.BufferClearThreshold,
		},
		HeartbeatInterval: cfg.Reader.HeartbeatInterval.D(),
	}, reads, health, clk, logger)
	if err != nil {
		return err
	}

	// Access controller
	controller := service.NewController(service.ControllerConfig{
		CooldownWindow:      cfg.Access.CooldownWindow.D(),
		CrossLaneWindow:     cfg.Access.CrossLaneWindow.D(),
		MaxDBRecords:        cfg.Access.MaxDBRecords,
		MaintenanceInterval: cfg.Access.MaintenanceInterval.D(),
		GrantChannels:       cfg.Relay.GrantChannels,
	}, service.NewMembership(membershipStore, cfg.Access.LookupTimeout.D()), barrier, logWriter, supervisor, clk, logger)

	ctrlCtx, stopController := context.WithCancel(context.Background())
	defer stopController()
	go controller.Run(ctrlCtx, reads)

	supervisor.Start(ctx)

	pruner := service.NewLogPruner(eventStore, service.PrunerConfig{
		RetentionDays: cfg.Retention.AccessLogDays,
		IntervalHours: cfg.Retention.PruneIntervalHours,
	}, clk, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// Surfaces
	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:         logger,
		Addr:           cfg.HTTPAddr,
		Barrier:        barrier,
		Health:         health,
		Metrics:        metrics.Handler(),
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(cfg.GRPCAddr, health, logger)
		go func() {
			if err := grpcSrv.Start(); err != nil {
				logger.Error("grpc server", zap.Error(err))
				stop()
			}
		}()
	}

	logger.Info("lanegate started",
		zap.String("env", cfg.Env),
		zap.Int("readers", len(endpoints)),
		zap.Int("relay_channels", barrier.Channels()),
		zap.Bool("auth", cfg.Auth.JWTSecret != ""))

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop intake first: surfaces, then readers, then the controller.
	// Deferred calls then force the relay off, drain the log writer and
	// close the database in that order.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.Shutdown(shutdownCtx)
	}

	supervisor.Stop()
	stopController()
	<-controller.Done()

	return nil
}

func newActuator(cfg config.RelayConfig) (relay.Actuator, error) {
	switch cfg.Driver {
	case "sim":
		return relay.NewSimActuator(len(cfg.Pins)), nil
	default:
		return relay.NewGPIOActuator(cfg.Pins, cfg.ActiveLow)
	}
}
