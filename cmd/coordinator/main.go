// Command coordinator splits sensor files into tasks, leases them to workers
// over rpc and serves the file bytes over http.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/mohans/sensorq/chunker"
	"github.com/mohans/sensorq/config"
	"github.com/mohans/sensorq/console"
	"github.com/mohans/sensorq/fileserver"
	"github.com/mohans/sensorq/ingest"
	"github.com/mohans/sensorq/journal"
	"github.com/mohans/sensorq/rpc"
	"github.com/mohans/sensorq/tasks"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	rpcAddr := flag.String("rpc", "", "rpc listen addr (overrides config)")
	dir := flag.String("dir", "", "folder holding sensor files (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *rpcAddr != "" {
		cfg.Coordinator.RPCAddr = *rpcAddr
	}
	if *dir != "" {
		cfg.Files.Dir = *dir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := config.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("coordinator stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var (
		store    journal.Store
		observer tasks.Observer
	)
	if cfg.Journal.DSN != "" {
		db, err := sql.Open("sqlite", cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		sqlStore := journal.NewSQLStore(db)
		if err := sqlStore.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
		store = sqlStore
		observer = journal.NewObserver(sqlStore, logger)
	}

	queue := tasks.NewQueue(tasks.QueueConfig{
		LeaseTimeout: cfg.Coordinator.LeaseTimeout,
		Logger:       logger,
		Observer:     observer,
	})
	registry := chunker.NewRegistry(queue, chunker.RegistryConfig{
		Dir:    cfg.Files.Dir,
		Origin: cfg.Files.AdvertisedOrigin(),
		Logger: logger,
	})
	files, err := fileserver.New(cfg.Files.Dir, cfg.Files.HandleCache, logger)
	if err != nil {
		return err
	}
	defer files.Close()
	rpcServer, err := rpc.NewServer(queue, logger)
	if err != nil {
		return err
	}

	rpcLn, err := net.Listen("tcp", cfg.Coordinator.RPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Coordinator.RPCAddr, err)
	}
	httpLn, err := net.Listen("tcp", cfg.Files.HTTPAddr)
	if err != nil {
		rpcLn.Close()
		return fmt.Errorf("listen %s: %w", cfg.Files.HTTPAddr, err)
	}
	httpServer := &http.Server{Handler: files, ReadHeaderTimeout: 10 * time.Second}

	deps := console.Deps{
		Registry:    registry,
		Files:       files,
		SectionSize: int64(cfg.Files.SectionSize),
		Logger:      logger,
	}
	if store != nil {
		deps.Jobs = store
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Ingest.RedisAddr != "" {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Ingest.RedisAddr}
		client := ingest.NewClient(redisOpt, store, ingest.ClientOptions{Queue: cfg.Ingest.Queue})
		defer client.Close()
		deps.Ingest = client
		processor := ingest.NewProcessor(redisOpt, store, ingest.ProcessorConfig{
			Concurrency: cfg.Ingest.Concurrency,
			Queues:      map[string]int{cfg.Ingest.Queue: 1},
			Logger:      logger,
		})
		g.Go(func() error { return processor.Run(ctx, ingest.NewServeMux(registry)) })
		logger.Info("async ingest enabled", "redis", cfg.Ingest.RedisAddr, "queue", cfg.Ingest.Queue)
	}

	g.Go(func() error { return tasks.NewReaper(queue, cfg.Coordinator.ReapInterval, logger).Run(ctx) })
	g.Go(func() error { return rpcServer.Serve(ctx, rpcLn) })
	g.Go(func() error {
		logger.Info("file server listening", "addr", httpLn.Addr().String(), "origin", registry.Origin())
		if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return httpServer.Shutdown(sctx)
	})
	g.Go(func() error {
		// exit on the console stops the coordinator
		defer cancel()
		return console.New(os.Stdin, os.Stdout, deps).Run(ctx)
	})
	return g.Wait()
}
