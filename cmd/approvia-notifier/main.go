package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/approvia/approvia/pkg/cmd"
	"github.com/approvia/approvia/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "approvia-notifier",
		Usage:                 "Consume request transition events and deliver notifications",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "notifier-id",
				Aliases: []string{"id"},
				Usage:   "Custom notifier ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("NOTIFIER_ID"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			notifierID := command.String("notifier-id")
			if notifierID == "" {
				notifierID = fmt.Sprintf("notifier-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("notifier").With("notifier_id", notifierID)

			logger.InfoContext(ctx, "Initializing Approvia notifier")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			notifier := NewNotifier(logger)
			if err := notifier.Register(eventBus); err != nil {
				return fmt.Errorf("failed to register event handlers: %w", err)
			}

			if err := eventBus.Subscribe(ctx); err != nil {
				return fmt.Errorf("failed to subscribe to events: %w", err)
			}

			logger.InfoContext(ctx, "Notifier running, waiting for transition events")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-ctx.Done():
			case <-stop:
			}

			logger.InfoContext(ctx, "Notifier shutting down")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
