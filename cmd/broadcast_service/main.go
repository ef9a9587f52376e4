package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/adapters/directory"
	httpadapter "github.com/aradsms/broadcast_gateway/internal/broadcast_service/adapters/http"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/adapters/smsprovider"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/adapters/taskqueue"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/app"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/recipient"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/repository/memory"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/repository/postgres"
	"github.com/aradsms/broadcast_gateway/internal/platform/config"
	"github.com/aradsms/broadcast_gateway/internal/platform/database"
	"github.com/aradsms/broadcast_gateway/internal/platform/lock"
	"github.com/aradsms/broadcast_gateway/internal/platform/logger"
	"github.com/aradsms/broadcast_gateway/internal/platform/messagebroker"
)

const (
	serviceName     = "broadcast-service"
	pollLeaseKey    = "broadcast:poll-lease"
	shutdownTimeout = 30 * time.Second
)

type stores struct {
	broadcasts domain.BroadcastRepository
	blacklist  domain.BlacklistRepository
	directory  domain.Directory
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	switch cfg.StorageDriver {
	case "memory":
		log.Warn("Using in-memory storage; state is lost on restart")
		return &stores{
			broadcasts: memory.NewBroadcastRepository(),
			blacklist:  memory.NewBlacklistRepository(),
			directory:  memory.NewDirectory(),
			close:      func() {},
		}, nil
	case "postgres", "":
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, int32(cfg.WorkerCount+8))
		if err != nil {
			return nil, err
		}
		log.Info("Database connection pool initialized")
		return &stores{
			broadcasts: postgres.NewPgBroadcastRepository(pool, log),
			blacklist:  postgres.NewPgBlacklistRepository(pool, log),
			directory:  directory.NewPhonebookDirectory(pool, log),
			close:      pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	log.Info("Starting service...", "storage", cfg.StorageDriver, "sms_provider", cfg.SMSProvider)

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	st, err := openStores(mainCtx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer st.close()

	sender, err := smsprovider.New(mainCtx, smsprovider.Config{
		Name:         cfg.SMSProvider,
		HTTPURL:      cfg.SMSHTTPURL,
		HTTPAPIKey:   cfg.SMSHTTPAPIKey,
		SNSRegion:    cfg.SNSRegion,
		MockFailRate: cfg.MockFailRate,
	}, log)
	if err != nil {
		log.Error("Failed to initialize SMS provider", "error", err)
		os.Exit(1)
	}

	normalizer := recipient.NewNormalizer(cfg.DefaultRegion)
	resolver := recipient.NewResolver(st.directory, normalizer, log)
	gate := app.NewBlacklistGate(st.blacklist, normalizer, log)
	coordinator := app.NewDispatchCoordinator(st.broadcasts, resolver, nil, cfg.MaxErrorDetails, log)

	var sendLimiter *rate.Limiter
	if cfg.SendRatePerSec > 0 {
		sendLimiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), max(1, int(cfg.SendRatePerSec)))
	}
	runner := app.NewTaskRunner(gate, sender, coordinator, sendLimiter, app.RunnerConfig{
		MaxAttempts: cfg.SendMaxAttempts,
		BackoffBase: cfg.SendBackoffBase,
		BackoffMax:  cfg.SendBackoffMax,
		SendTimeout: cfg.SendTimeout,
	}, log)

	// Workers outlive mainCtx so queued tasks can drain during shutdown.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	pool := app.NewWorkerPool(cfg.WorkerCount, cfg.TaskQueueSize, runner.Handle, log)
	pool.Start(workCtx)

	var natsClient *messagebroker.NATSClient
	if cfg.NATSUrl != "" {
		natsClient, err = messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, log)
		if err != nil {
			log.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		consumer := taskqueue.NewConsumer(workCtx, pool, coordinator, log)
		if _, err := natsClient.QueueSubscribe(cfg.NATSTaskSubject, cfg.NATSQueueGroup, consumer.HandleMessage); err != nil {
			log.Error("Failed to subscribe to task subject", "error", err)
			os.Exit(1)
		}
		coordinator.SetQueue(taskqueue.NewNATSQueue(natsClient, cfg.NATSTaskSubject, log))
		log.Info("Distributed task queue enabled", "subject", cfg.NATSTaskSubject, "queue_group", cfg.NATSQueueGroup)
	} else {
		coordinator.SetQueue(pool)
	}

	var lease app.Lease
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(mainCtx).Err(); err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		lease = lock.NewRedisLease(rdb, pollLeaseKey, cfg.PollLeaseTTL)
		log.Info("Poll lease enabled", "redis_addr", cfg.RedisAddr, "ttl", cfg.PollLeaseTTL)
	}

	poller := app.NewPoller(st.broadcasts, coordinator, lease, app.PollerConfig{
		Interval:             cfg.PollInterval,
		BatchSize:            cfg.PollBatchSize,
		StaleProcessingAfter: cfg.StaleProcessingAfter,
		OrphanImmediateAfter: cfg.OrphanImmediateAfter,
	}, log)

	broadcastService := app.NewBroadcastAppService(st.broadcasts, resolver, coordinator, app.BroadcastConfig{
		MaxMessageLength:     cfg.MaxMessageLength,
		MaxSenderLabelLength: cfg.MaxSenderLabelLength,
		DefaultSenderLabel:   cfg.DefaultSenderLabel,
	}, log)

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpadapter.NewRouter(httpadapter.RouterConfig{
			Broadcasts:        broadcastService,
			Blacklist:         gate,
			JWTSecret:         cfg.JWTSecret,
			OptOutLimiter:     httpadapter.NewIPRateLimiter(cfg.OptOutRatePerMinute, cfg.OptOutBurst, log),
			TrustProxyHeaders: cfg.TrustProxyHeaders,
			Logger:            log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		return poller.Start(groupCtx)
	})

	g.Go(func() error {
		log.Info("Starting HTTP server...", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		grpcListenAddress := fmt.Sprintf(":%d", cfg.GRPCHealthPort)
		log.Info("Starting gRPC health server...", "address", grpcListenAddress)
		lis, err := net.Listen("tcp", grpcListenAddress)
		if err != nil {
			log.Error("Failed to listen for gRPC", "error", err)
			return err
		}
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server failed", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Initiating graceful shutdown of servers...")
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	log.Info("Service components initialized and workers started. Service is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var groupErr error
	select {
	case sig := <-sigCh:
		log.Info("Received termination signal", "signal", sig)
	case groupErr = <-watchGroup(g):
		log.Error("A critical component stopped, initiating shutdown", "error", groupErr)
	}

	mainCancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Error during shutdown of components", "error", err)
	}

	// Stop intake first, then let workers finish what is queued.
	dispatched := make(chan struct{})
	go func() {
		broadcastService.WaitDispatches()
		close(dispatched)
	}()
	select {
	case <-dispatched:
	case <-time.After(shutdownTimeout):
		log.Warn("Immediate dispatches still running at shutdown")
	}
	if natsClient != nil {
		natsClient.Close()
	}
	pool.Close()
	drained := make(chan struct{})
	go func() {
		pool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Info("Worker pool drained")
	case <-time.After(shutdownTimeout):
		log.Warn("Worker pool did not drain in time, abandoning in-flight tasks")
		cancelWork()
	}

	log.Info("Service shutdown complete.")
}

// watchGroup returns a channel that receives g.Wait()'s result.
func watchGroup(g *errgroup.Group) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Wait()
		close(errCh)
	}()
	return errCh
}
