package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/spf13/cobra"
)

// withProcessor builds the processor for one command invocation and closes it afterwards
func (c *commandContext) withProcessor(ctx context.Context, fn func(*processor) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	p, err := newProcessor(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			p.logger.Warn("Failed to close connections", slog.String("error", err.Error()))
		}
	}()
	return fn(p)
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduled processor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			lock, err := worker.AcquireInstanceLock(cfg.Worker.LockFile)
			if err != nil {
				return err
			}
			defer lock.Release()

			return ctx.withProcessor(cmd.Context(), func(p *processor) error {
				p.logger.Info("Starting worker service",
					slog.String("app", cfg.App.Name),
					slog.String("version", cfg.App.Version),
					slog.String("environment", cfg.App.Environment),
					slog.String("lock_file", lock.Path()),
				)

				w := worker.NewWorker(&worker.Config{
					Logger:              p.logger.Logger,
					Coordinator:         p.coordinator,
					Maintenance:         p.maintenance,
					Scheduler:           worker.NewScheduler(p.logger.Logger),
					Consumer:            p.consumer(),
					ProcessSchedule:     cfg.Processor.Schedule,
					MaintenanceSchedule: cfg.Maintenance.Schedule,
				})

				if err := w.Start(cmd.Context()); err != nil {
					return err
				}

				// Give in-flight runs time to settle
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
				defer cancel()
				if err := w.Stop(shutdownCtx); err != nil {
					p.logger.Warn("Worker shutdown timeout exceeded", slog.String("error", err.Error()))
				}

				p.logger.Info("Worker service shutdown complete")
				return nil
			})
		},
	}
}

func newProcessOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process-once",
		Short: "Drain one batch of eligible items and print the run statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			lock, err := worker.AcquireInstanceLock(cfg.Worker.LockFile)
			if errors.Is(err, worker.ErrInstanceLocked) {
				_ = writeJSON(cmd.OutOrStdout(), &domain.RunStats{
					Status:    domain.RunAlreadyProcessing,
					StartedAt: time.Now(),
				})
				return domain.ErrAlreadyProcessing
			}
			if err != nil {
				return err
			}
			defer lock.Release()

			return ctx.withProcessor(cmd.Context(), func(p *processor) error {
				stats, runErr := p.coordinator.ProcessBatch(cmd.Context())
				if stats != nil {
					if err := writeJSON(cmd.OutOrStdout(), stats); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
}

func newMaintainOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain-once",
		Short: "Reset stalled items, purge expired ones and check queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withProcessor(cmd.Context(), func(p *processor) error {
				report, err := p.maintenance.RunAll(cmd.Context())
				if report != nil {
					if writeErr := writeJSON(cmd.OutOrStdout(), report); writeErr != nil {
						return writeErr
					}
				}
				return err
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Reset a failed item so the next batch picks it up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withProcessor(cmd.Context(), func(p *processor) error {
				if err := p.store.Retry(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("retry %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %s reset to pending\n", args[0])
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts, age markers and recent processor metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withProcessor(cmd.Context(), func(p *processor) error {
				stats, err := p.store.Stats(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderStats(stats, time.Now()))

				if p.metricsSink != nil {
					snapshot, err := p.metricsSink.Snapshot(cmd.Context())
					if err != nil {
						return fmt.Errorf("read processor metrics: %w", err)
					}
					fmt.Fprintln(out, renderKeyValues("Processor metrics", snapshot))
				}

				if clientID != "" {
					if p.usage == nil {
						return errors.New("usage counters require redis to be enabled")
					}
					counts, err := p.usage.Month(cmd.Context(), clientID, time.Now())
					if err != nil {
						return fmt.Errorf("read usage: %w", err)
					}
					fmt.Fprintln(out, renderUsage(clientID, counts))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Also show this month's validation usage for a client")
	return cmd
}

func newPublishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <event.json>",
		Short: "Publish a change event to the ingress exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.RabbitMQ.Enabled {
				return errors.New("publishing requires rabbitmq to be enabled")
			}

			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read event: %w", err)
			}

			var event domain.IngressEvent
			if err := json.Unmarshal(body, &event); err != nil {
				return fmt.Errorf("parse event: %w", err)
			}
			if err := event.Validate(); err != nil {
				return err
			}

			return ctx.withProcessor(cmd.Context(), func(p *processor) error {
				if err := p.rabbit.Publish(cmd.Context(), body, "application/json"); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Event %s published\n", event.EventID)
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
