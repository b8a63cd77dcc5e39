package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/susu3304/anklavbot/internal/api"
	"github.com/susu3304/anklavbot/internal/bot"
	"github.com/susu3304/anklavbot/internal/config"
	"github.com/susu3304/anklavbot/internal/conversation"
	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/logging"
	"github.com/susu3304/anklavbot/internal/metrics"
	"github.com/susu3304/anklavbot/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Discord bot, the completion scheduler and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.RequireBot(); err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()
		return serve(cmd.Context(), cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mm := metrics.NewManager(metrics.WithRegistry(reg))
	profiles := directory.NewCache(st, cfg.DirectoryCacheTTL)

	discordBot, err := bot.New(cfg.DiscordToken, st, profiles, cfg.AppURL, cfg.NotifyRate, logger)
	if err != nil {
		return err
	}
	conversations := conversation.NewManager(discordBot.Gateway(),
		conversation.WithTimeout(cfg.FollowUpTimeout),
		conversation.WithLeadChannel(cfg.LeadChannelID),
		conversation.WithLogger(logger),
		conversation.WithMetrics(mm),
	)
	defer conversations.Stop()
	discordBot.HandleActions(conversations)

	if err := discordBot.Start(); err != nil {
		return err
	}
	defer discordBot.Stop()

	sched := scheduler.New(st, st, profiles, discordBot.Gateway(), conversations,
		scheduler.WithInterval(cfg.ScanInterval),
		scheduler.WithNotifyParallel(cfg.NotifyParallel),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(mm),
	)
	sched.Start(ctx)
	defer sched.Stop()

	apiServer := api.New(cfg, st,
		api.WithSender(discordBot.Gateway()),
		api.WithDirectoryCache(profiles),
		api.WithMetrics(mm),
		api.WithLogger(logger),
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	return nil
}
