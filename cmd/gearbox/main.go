package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	gearbox "github.com/WelcomerTeam/Gearbox"
	"github.com/WelcomerTeam/Gearbox/messaging"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "gearbox.yaml", "path to the configuration file (.yaml or .json)")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		slog.Error("Gearbox exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string) error {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := gearbox.NewConfigProviderFromPath(configPath).GetConfig(ctx)
	if err != nil {
		return err
	}

	if token := os.Getenv("GEARBOX_TOKEN"); token != "" {
		config.Token = token
	}

	if address := os.Getenv("GEARBOX_REDIS_ADDRESS"); address != "" {
		config.ColdResume.Redis.Address = address
	}

	logger := newLogger(&config.Logging)
	slog.SetDefault(logger)

	store, closeStore, err := newColdResumeStore(&config.ColdResume)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, closePipeline, err := newPipeline(ctx, config)
	if err != nil {
		return err
	}
	defer closePipeline()

	var identifyProvider gearbox.IdentifyProvider
	if config.Identify.URL != "" {
		identifyProvider = gearbox.NewIdentifyViaURL(config.Identify.URL, config.Identify.Headers)
	}

	cluster, err := gearbox.NewCluster(gearbox.ClusterOptions{
		Logger:           logger,
		Config:           config,
		ColdResumeStore:  store,
		Pipeline:         pipeline,
		IdentifyProvider: identifyProvider,
		DedupeProvider:   gearbox.NewInMemoryDedupeProvider(),
		PanicHandler: func(_ *gearbox.Cluster, r any) {
			logger.Error("Panic occurred", "error", r, "stack", string(debug.Stack()))
		},
	})
	if err != nil {
		return err
	}

	var statusServer *gearbox.StatusServer

	if config.HTTP.Address != "" {
		statusServer = gearbox.NewStatusServer(logger, cluster)

		go func() {
			if err := statusServer.ListenAndServe(config.HTTP.Address); err != nil {
				logger.Error("Status server stopped", "error", err)
			}
		}()
	}

	// Shards outlive the signal context so Stop can still snapshot their sessions.
	err = cluster.Start(context.WithoutCancel(ctx))
	if err != nil {
		shutdown(cluster, statusServer, logger)

		return fmt.Errorf("failed to start cluster: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err = <-cluster.Errors():
		logger.Error("Shard failed", "error", err)
	}

	shutdown(cluster, statusServer, logger)

	return err
}

func shutdown(cluster *gearbox.Cluster, statusServer *gearbox.StatusServer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := cluster.Stop(ctx); err != nil {
		logger.Error("Failed to stop cluster cleanly", "error", err)
	}

	if statusServer != nil {
		if err := statusServer.Shutdown(ctx); err != nil {
			logger.Error("Failed to stop status server", "error", err)
		}
	}
}

func newLogger(config *gearbox.LoggingConfiguration) *slog.Logger {
	var writer io.Writer = os.Stdout

	if config.File != "" {
		writer = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}

	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: config.SlogLevel(),
	}))
}

func newColdResumeStore(config *gearbox.ColdResumeConfiguration) (gearbox.ColdResumeStore, func(), error) {
	if !config.Enabled {
		return nil, func() {}, nil
	}

	if config.Store == gearbox.ColdResumeStoreFile {
		return gearbox.NewFileColdResumeStore(config.Path), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Address,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return gearbox.NewRedisColdResumeStore(client), func() { _ = client.Close() }, nil
}

func newPipeline(ctx context.Context, config *gearbox.Configuration) (gearbox.CommandPipeline, func(), error) {
	if config.Producer.Type == "" || config.Producer.Type == "none" {
		return gearbox.NoopPipeline{}, func() {}, nil
	}

	producer, err := messaging.NewProducer(config.Producer.Type)
	if err != nil {
		return nil, nil, err
	}

	err = producer.Connect(ctx, "gearbox-"+config.Identifier(), map[string]any{
		"Address":  config.Producer.Address,
		"Password": config.Producer.Password,
		"Channel":  config.Producer.Channel,
		"Cluster":  config.Producer.Cluster,
		"Balancer": config.Producer.Balancer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect %s producer: %w", producer.String(), err)
	}

	return gearbox.NewProducerPipeline(producer), func() { _ = producer.Close() }, nil
}
