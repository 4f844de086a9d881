// Command worker leases sections from a coordinator and validates them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohans/sensorq/config"
	"github.com/mohans/sensorq/fileserver"
	"github.com/mohans/sensorq/rpc"
	"github.com/mohans/sensorq/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	coordinator := flag.String("coordinator", "", "coordinator rpc addr (overrides config)")
	count := flag.Int("n", 0, "number of concurrent workers (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.ApplyEnv(os.LookupEnv)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *coordinator != "" {
		cfg.Worker.Coordinator = *coordinator
	}
	if *count > 0 {
		cfg.Worker.Count = *count
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
	if err := run(ctx, cfg.Worker, logger); err != nil {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.WorkerConfig, logger *slog.Logger) error {
	client, err := rpc.Dial(cfg.Coordinator)
	if err != nil {
		return fmt.Errorf("could not connect to coordinator %s: %w", cfg.Coordinator, err)
	}
	defer client.Close()
	logger.Info("connected to coordinator", "addr", cfg.Coordinator, "workers", cfg.Count)

	fetcher := fileserver.Fetcher{Client: &http.Client{Timeout: 10 * time.Minute}}
	g, ctx := errgroup.WithContext(ctx)
	for range cfg.Count {
		w := worker.New(client, fetcher, worker.Config{PollInterval: cfg.PollInterval, Logger: logger})
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}
