package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"order-mailer/pkg/config"
	"order-mailer/pkg/database"
	"order-mailer/pkg/documents"
	"order-mailer/pkg/mailer"
	"order-mailer/pkg/mq"
	"order-mailer/pkg/observability"
	"order-mailer/pkg/reconcile"
	"order-mailer/pkg/report"
	"order-mailer/pkg/trigger"
)

const triggerQueueSize = 16

// bootstrap loads configuration and the logger. Any error here halts the process.
func bootstrap(opts *options) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

// ledger adapts the database connector to the engine's store interface.
func ledger(c *database.Connector) reconcile.ConnectFunc {
	return func(ctx context.Context) (reconcile.Store, error) {
		conn, err := c.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func run(ctx context.Context, opts *options) error {
	cfg, logger, closer, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	info, err := os.Stat(cfg.PDFDir)
	if err != nil {
		return fmt.Errorf("document directory is not usable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("document directory %s is not a directory", cfg.PDFDir)
	}

	connector, err := database.NewConnector(cfg.DatabaseURL, cfg.DatabaseFallbackURLs, cfg.DBConnectTimeout, logger)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	resolver := documents.NewResolver(cfg.PDFDir)
	engineOpts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(metrics),
		reconcile.WithCooldown(cfg.Cooldown()),
		reconcile.WithSenderName(cfg.SenderName),
		reconcile.WithErrorMaxLen(cfg.ErrorMaxLen),
		reconcile.WithStaleAfter(cfg.StaleProcessingAfter),
	}

	if opts.Test {
		logger.Info("test mode: no mail is sent and no order is updated")
		items, err := reconcile.New(ledger(connector), resolver, nil, engineOpts...).Preview(ctx)
		if err != nil {
			return err
		}
		logger.Info("test mode finished", "selected", len(items))
		return nil
	}

	if err := cfg.RequireMail(); err != nil {
		return err
	}
	smtp := mailer.New(mailer.Config{
		Host:           cfg.SMTPHost,
		Port:           cfg.SMTPPort,
		Username:       cfg.SMTPUser,
		Password:       cfg.SMTPPassword,
		FromName:       cfg.SenderName,
		RatePerMinute:  cfg.MailRatePerMinute,
		BreakerEnabled: cfg.BreakerEnabled,
		BreakerTrips:   cfg.BreakerFailures,
		BreakerTimeout: cfg.BreakerCooldown,
	})

	if cfg.ReportDir != "" {
		wb, err := report.OpenWorkbook(cfg.ReportDir, logger, nil)
		if err != nil {
			logger.Warn("report workbook disabled", "error", err)
		} else {
			defer wb.Close()
			engineOpts = append(engineOpts, reconcile.WithSink(wb))
			logger.Info("writing report workbook", "path", wb.Path())
		}
	}

	broker := connectBroker(cfg.RabbitMQURL, logger)
	if broker != nil {
		defer broker.Close()
		engineOpts = append(engineOpts, reconcile.WithNotifier(broker))
	}

	engine := reconcile.New(ledger(connector), resolver, smtp, engineOpts...)
	queue := trigger.NewQueue(triggerQueueSize)
	if cfg.InitialPass {
		queue.Submit(trigger.Event{Source: trigger.SourceStartup})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trigger.NewLoop(queue, engine, cfg.SettleDelay, logger).Run(gctx)
	})
	g.Go(func() error {
		return trigger.WatchDir(gctx, cfg.PDFDir, queue, logger)
	})
	if cfg.PeriodicEnabled {
		g.Go(func() error {
			return trigger.Tick(gctx, cfg.PeriodicInterval, queue, logger)
		})
	}
	if broker != nil {
		g.Go(func() error {
			if err := broker.ConsumeTriggers(gctx, queue); err != nil {
				logger.Error("broker triggers stopped", "error", err)
			}
			return nil
		})
	}
	if cfg.AdminAddr != "" {
		g.Go(func() error {
			if err := observability.Serve(gctx, cfg.AdminAddr, adminHandler(metrics, queue, logger), logger); err != nil {
				logger.Error("admin server stopped", "error", err)
			}
			return nil
		})
	}

	logger.Info("order mailer started",
		"pdf_dir", cfg.PDFDir,
		"initial_pass", cfg.InitialPass,
		"periodic", cfg.PeriodicEnabled,
		"broker", broker != nil,
	)
	err = g.Wait()
	logger.Info("order mailer stopped")
	return err
}

// connectBroker returns nil when no broker is configured or it cannot be
// reached; broker features are optional.
func connectBroker(url string, logger *slog.Logger) *mq.Client {
	if url == "" {
		return nil
	}
	client, err := mq.New(url, logger)
	if err != nil {
		logger.Warn("broker disabled", "error", err)
		return nil
	}
	if err := client.SetupTopology(); err != nil {
		logger.Warn("broker disabled, failed to set up topology", "error", err)
		client.Close()
		return nil
	}
	return client
}

func initSchema(ctx context.Context, opts *options) error {
	cfg, logger, closer, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	connector, err := database.NewConnector(cfg.DatabaseURL, cfg.DatabaseFallbackURLs, cfg.DBConnectTimeout, logger)
	if err != nil {
		return err
	}
	conn, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if err := conn.InitSchema(ctx); err != nil {
		return err
	}
	logger.Info("ledger schema ready")
	return nil
}
