package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"semaphore/credentials/internal/chain"
	"semaphore/credentials/internal/config"
	"semaphore/credentials/internal/db"
	credentialsgrpc "semaphore/credentials/internal/grpc"
	internalhttp "semaphore/credentials/internal/http"
	"semaphore/credentials/internal/jobs"
	"semaphore/credentials/internal/operations"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatalf("db migration failed: %v", err)
		}
	}
	store := db.NewStore(pool)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis ping failed: %v", err)
	}
	cancel()
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}()

	contract, err := chain.Dial(ctx, chain.Config{
		RPCURL:          cfg.ChainRPCURL,
		ChainID:         cfg.ChainID,
		ContractAddress: cfg.ContractAddress,
		PrivateKey:      cfg.MinterPrivateKey,
		DialTimeout:     cfg.ChainDialTimeout,
	})
	if err != nil {
		log.Fatalf("chain dial failed: %v", err)
	}
	defer contract.Close()

	queue := jobs.NewRedisQueue(redisClient, "", cfg.MintLeaseTTL)
	relay := jobs.NewRelay(store, queue, jobs.RelayOptions{
		Interval:  cfg.OutboxInterval,
		BatchSize: cfg.OutboxBatch,
	})
	svc := operations.NewService(store, operations.Options{
		Institution:  cfg.InstitutionName,
		ShareLinkTTL: cfg.ShareLinkTTL,
		Notifier:     relay,
		Tokens:       contract,
	})
	locks := jobs.Chain{jobs.NewKeyedMutex(), jobs.NewRedisLocker(redisClient, "", cfg.MintLockTTL)}
	coordinator := jobs.NewCoordinator(queue, svc, contract, locks, jobs.CoordinatorOptions{
		Workers:     cfg.MintWorkers,
		MintTimeout: cfg.MintTimeout,
	})

	server, err := internalhttp.NewServer(cfg, svc, queue)
	if err != nil {
		log.Fatalf("server init failed: %v", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthChecker := credentialsgrpc.NewHealthChecker(10*time.Second, queue)
	healthChecker.Register(grpcServer)
	healthChecker.Start(ctx)

	relay.Start(ctx)
	if err := jobs.StartSweeper(ctx, queue, cfg.SweepSchedule, 0); err != nil {
		log.Fatalf("lease sweeper init failed: %v", err)
	}
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := coordinator.Run(ctx); err != nil {
			log.Printf("mint coordinator stopped: %v", err)
		}
	}()

	go func() {
		log.Printf("credentials http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen error: %v", err)
		}
		log.Printf("credentials grpc listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatalf("grpc server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	grpcServer.GracefulStop()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		log.Printf("mint workers did not stop in time; unacked jobs will be requeued by the sweeper")
	}
}
