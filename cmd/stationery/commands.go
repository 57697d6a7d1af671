package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vaidashi/stationery-orders/internal/app"
	"github.com/vaidashi/stationery-orders/internal/config"
	"github.com/vaidashi/stationery-orders/pkg/kafka"
	"github.com/vaidashi/stationery-orders/pkg/logger"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "stationery",
		Short:         "Stationery order client daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFiles...)
		},
	}

	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(newServeCmd(), newVerifyEnvCmd(), newPublishCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local order API and realtime client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			l := logger.NewLogger(cfg.LogLevel)
			l.Info("Starting stationery client...", "env", cfg.Env, "realtime", cfg.Realtime.Driver, "storage", cfg.Storage.Driver)

			a, err := app.New(cmd.Context(), cfg, l)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- a.Run()
			}()

			// Graceful shutdown via interrupt signal
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				a.Close()
				if err != nil {
					l.Error("Failed to start server", "error", err)
				}
				return err
			case <-quit:
			}

			l.Info("Shutting down server...")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := a.Shutdown(ctx); err != nil {
				l.Error("Server forced to shutdown", "error", err)
				return err
			}

			l.Info("Server exiting")
			return nil
		},
	}
}

func newVerifyEnvCmd() *cobra.Command {
	var storageDriver, realtimeDriver string

	cmd := &cobra.Command{
		Use:   "verify-env",
		Short: "Check that the environment variables the selected drivers need are set",
		RunE: func(cmd *cobra.Command, args []string) error {
			if storageDriver == "" {
				storageDriver = envOr("STORAGE_DRIVER", "file")
			}
			if realtimeDriver == "" {
				realtimeDriver = envOr("REALTIME_DRIVER", "websocket")
			}

			required := config.RequiredVars(storageDriver, realtimeDriver)
			missing := config.MissingVars(required)

			out := cmd.OutOrStdout()
			for _, v := range required {
				state := "ok"
				for _, m := range missing {
					if m == v {
						state = "missing"
					}
				}
				fmt.Fprintf(out, "%-22s %s\n", v, state)
			}

			if len(missing) > 0 {
				return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&storageDriver, "storage", "", "storage driver to check for (default $STORAGE_DRIVER)")
	cmd.Flags().StringVar(&realtimeDriver, "realtime", "", "realtime driver to check for (default $REALTIME_DRIVER)")
	return cmd
}

// newPublishCmd relays one push onto the Kafka realtime topic, keyed by its
// realtime topic the way the Kafka transport expects
func newPublishCmd() *cobra.Command {
	var topic, payload string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a realtime message through Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" {
				return fmt.Errorf("--topic is required")
			}

			raw := json.RawMessage(payload)
			if !json.Valid(raw) {
				return fmt.Errorf("--payload must be valid JSON")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			l := logger.NewLogger(cfg.LogLevel)

			producer, err := kafka.NewProducer(cfg.Realtime.KafkaBrokers, l)
			if err != nil {
				return err
			}
			defer producer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if err := producer.SendJSON(ctx, cfg.Realtime.KafkaTopic, topic, raw); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published to %s on %s\n", topic, cfg.Realtime.KafkaTopic)
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "realtime topic, e.g. orders/7")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
