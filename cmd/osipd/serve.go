package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	osip "github.com/glimte/osip-go"
	"github.com/glimte/osip-go/config"
	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/internal/logging"
	"github.com/glimte/osip-go/messaging"
	"github.com/spf13/cobra"
)

func newServeCommand(configPath *string) *cobra.Command {
	var acknowledge bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telegram service",
		Long: `Run the telegram service with the configured transports. Without embedded
handlers the service can only acknowledge telegrams; use --ack to do so for
every registered type.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if !cfg.TransportsEnabled() {
				return fmt.Errorf("no transport enabled: set tcp.enabled, rabbitmq.enabled or kafka.enabled")
			}

			logger, closer, err := logging.New(logging.Options{
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAgeDays: cfg.Log.MaxAgeDays,
				Compress:   cfg.Log.Compress,
			})
			if err != nil {
				return err
			}
			defer closer.Close()
			slog.SetDefault(logger)

			svc, err := osip.NewService(ctx, cfg, osip.WithLogger(logger))
			if err != nil {
				return err
			}
			if acknowledge {
				if err := registerAcknowledgers(svc, logger); err != nil {
					return err
				}
			}

			return svc.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&acknowledge, "ack", false, "Acknowledge every registered telegram type")

	return cmd
}

// registerAcknowledgers answers every registered type with ACK_. Reports are
// left to the dispatcher, which drops them.
func registerAcknowledgers(svc *osip.Service, logger *slog.Logger) error {
	ack := messaging.HandlerFunc(func(_ context.Context, t *contracts.Telegram) (*contracts.Telegram, error) {
		logger.Info("acknowledging telegram",
			"telegramType", t.Type(),
			"sequence", t.Sequence(),
			"sender", t.Header().Sender,
		)
		return nil, nil
	})

	for _, telegramType := range svc.Codec().Registry().ListTypes() {
		if telegramType == contracts.AckType || telegramType == contracts.ErrorType {
			continue
		}
		if err := svc.Handle(telegramType, ack); err != nil {
			return err
		}
	}
	return nil
}
