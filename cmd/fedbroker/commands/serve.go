package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fedbroker/fedbroker/pkg/broker"
	"github.com/fedbroker/fedbroker/pkg/config"
	"github.com/fedbroker/fedbroker/pkg/federation"
	"github.com/fedbroker/fedbroker/pkg/providers/devcloud"
	"github.com/fedbroker/fedbroker/pkg/stores"
	"github.com/fedbroker/fedbroker/pkg/telemetry"
	"github.com/fedbroker/fedbroker/pkg/transports/natsbus"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker",
		Long: `Starts the broker: recovers orders from the store, connects to the
federation bus, serves inbound federation requests and runs the background
order processors until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	log := logger.NewComponentLogger("serve")
	log.WithProviderID(cfg.ProviderID).Info("starting broker")

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}()

	// Persistence and recovery.
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	registry := broker.NewRegistry(store)
	stored, err := store.ListActiveOrders(ctx)
	if err != nil {
		return err
	}
	if err := registry.Recover(stored); err != nil {
		return err
	}
	log.Infof("recovered %d active orders", len(stored))

	// Federation transport and protocol.
	bus, err := natsbus.Connect(cfg.Federation.NATSURL, cfg.ProviderID, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to federation bus: %w", err)
	}
	defer bus.Close()

	client := federation.NewClient(bus, cfg.ProviderID,
		time.Duration(cfg.Federation.RequestTimeout), logger, metrics)

	// Cloud side: the dev cloud backs every plugin slot until real cloud
	// adapters are configured in.
	cloud := devcloud.New()
	local := broker.NewLocalConnector(cfg.ProviderID, cloud.PluginSet(), cloud, registry, logger, metrics)
	factory := broker.NewConnectorFactory(cfg.ProviderID, local, federation.ConnectorBuilder(client))

	transitioner := broker.NewTransitioner(registry, logger, metrics)
	controller := broker.NewOrderController(cfg.ProviderID, registry, factory, transitioner, logger, tracer)

	facade := federation.NewFacade(cfg.ProviderID, controller, logger, metrics)
	if err := bus.Serve(facade.Handler()); err != nil {
		return fmt.Errorf("failed to serve federation requests: %w", err)
	}

	// Background loops.
	processors := broker.NewProcessorController(registry, factory, transitioner,
		cfg.Processors.Intervals(), logger, metrics)
	processors.Start(ctx)

	go serveMetrics(metrics, log)
	go updateOrderGauges(ctx, registry, metrics)

	watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
		logger.SetLevel(next.Telemetry.Logging.Level)
	})
	if err != nil {
		log.WithError(err).Warn("config watch unavailable, live reload disabled")
	} else {
		go watcher.Run(ctx)
	}

	log.Info("broker started")
	<-ctx.Done()
	log.Info("shutting down")
	processors.Wait()
	return nil
}

func serveMetrics(metrics *telemetry.Metrics, log *telemetry.Logger) {
	if err := metrics.Serve(); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}

// updateOrderGauges refreshes the per-state order gauges.
func updateOrderGauges(ctx context.Context, registry *broker.Registry, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for state, count := range registry.Counts() {
				metrics.SetOrdersActive(string(state), count)
			}
		}
	}
}
