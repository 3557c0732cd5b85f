package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"

	"scholar/internal/app"
	"scholar/internal/config"
	"scholar/internal/logger"
)

func main() {
	log := logger.New(os.Stdout, slog.LevelInfo)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("scholar exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	slog.SetDefault(log)

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	if deps.NSQProducer != nil {
		defer deps.NSQProducer.Stop()
	}

	a, err := app.New(cfg, deps, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close app", "error", err)
		}
	}()

	if cfg.QueueMode == config.QueueNSQ && cfg.EnableRunWorker {
		consumer, err := startRunWorker(cfg, a)
		if err != nil {
			return err
		}
		defer consumer.Stop()
	}

	if !cfg.EnableAPI {
		slog.Info("api disabled, running worker only")
		<-ctx.Done()
		return nil
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startRunWorker consumes research runs. Runs take minutes, so messages are
// handled one at a time with a long timeout.
func startRunWorker(cfg *config.Config, a *app.App) (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = 1
	nsqCfg.MsgTimeout = 15 * time.Minute
	nsqCfg.MaxAttempts = 3

	consumer, err := nsq.NewConsumer(config.TopicResearchRun, config.ChannelRunWorker, nsqCfg)
	if err != nil {
		return nil, err
	}
	consumer.AddHandler(a.RunConsumer)

	if cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, err
	}
	slog.Info("run worker started", "topic", config.TopicResearchRun, "channel", config.ChannelRunWorker)
	return consumer, nil
}
