package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"streamflow/config"
	"streamflow/internal/batcher"
	batchchannel "streamflow/internal/channel/batch"
	"streamflow/internal/metrics"
	"streamflow/internal/stream"
	"streamflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Streamflow.Name,
		"version": cfg.Streamflow.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting streamflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Logging.DashboardName)
	}
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Listen)
	}

	transport := stream.NewWebsocketTransport(cfg.Stream.DialTimeout, cfg.Stream.KeepAlive)
	client := stream.NewClient(stream.Config{
		Endpoint:            cfg.Stream.Endpoint,
		ReconnectDelay:      cfg.Stream.ReconnectDelay,
		DialTimeout:         cfg.Stream.DialTimeout,
		DedupWindow:         cfg.Stream.DedupWindow,
		LiquidationCap:      cfg.Stream.LiquidationCap,
		SubscribesPerSecond: cfg.Stream.SubscribesPerSecond,
	}, transport)

	if err := client.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start stream client")
		os.Exit(1)
	}

	var (
		channels *batchchannel.Channels
		offload  *batcher.Batcher
	)
	if cfg.Batcher.Enabled {
		channels = batchchannel.NewChannels(cfg.Batcher.EventBuffer, cfg.Batcher.BatchBuffer)
		offload = batcher.New(batcher.Config{
			Tick:          cfg.Batcher.Tick,
			DegradedAfter: cfg.Batcher.DegradedAfter,
			StaleAfter:    cfg.Batcher.StaleAfter,
		}, client, channels)
		if err := offload.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start batcher")
			os.Exit(1)
		}
		go drainBatches(ctx, log, channels)
	} else {
		log.WithComponent("main").Info("batcher disabled; consumers attach listeners directly")
	}

	for _, topic := range cfg.Stream.Topics {
		client.Subscribe(topic)
	}

	log.WithFields(logger.Fields{
		"endpoint": cfg.Stream.Endpoint,
		"topics":   len(cfg.Stream.Topics),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if offload != nil {
		log.Info("stopping batcher")
		offload.Stop()
	}

	log.Info("stopping stream client")
	client.Stop()

	if channels != nil {
		channels.Close()
	}

	log.Info("streamflow stopped")
}

// drainBatches logs finished batches. A real deployment replaces this with an
// offload consumer feeding the host application.
func drainBatches(ctx context.Context, log *logger.Log, channels *batchchannel.Channels) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-channels.Out:
			if !ok {
				return
			}
			log.WithComponent("main").WithFields(logger.Fields{
				"batch_id":     b.ID,
				"books":        len(b.Books),
				"trades":       len(b.Trades),
				"liquidations": len(b.Liquidations),
			}).Debug("batch ready")
		}
	}
}
