package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nerrad567/linebuffer/internal/api"
	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
	"github.com/nerrad567/linebuffer/internal/infrastructure/logging"
	"github.com/nerrad567/linebuffer/internal/infrastructure/mqtt"
	"github.com/nerrad567/linebuffer/internal/ingest"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent: accept points over MQTT and HTTP and write them in batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), g, cmd.Flags())
		},
	}
}

// run is the agent's application logic.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - g: Global flags (config path and TSDB overrides)
//   - flags: Parsed flag set used to detect overrides, may be nil
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, g *globalFlags, flags *pflag.FlagSet) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting linebuffer",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := g.load(flags)
	if err != nil {
		return err
	}
	if path == "" {
		log.Info("no config file found, using defaults")
	} else {
		log.Info("configuration loaded", "path", path)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	client, release, err := openClient(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer func() {
		// The signal context is already cancelled here; the final flush
		// must still run to completion.
		log.Info("flushing TSDB buffer", "pending", client.Pending())
		if closeErr := client.Close(context.WithoutCancel(ctx)); closeErr != nil {
			log.Error("final flush failed, buffered points lost", "error", closeErr, "pending", client.Pending())
		}
		release()
	}()
	log.Info("TSDB client ready",
		"url", cfg.TSDB.URL,
		"backend", cfg.TSDB.Backend,
		"batch_size", cfg.TSDB.BatchSize,
		"flush_interval", cfg.TSDB.FlushInterval,
	)

	var flushFailures atomic.Uint64
	client.SetOnError(func(error) {
		flushFailures.Add(1)
	})

	var ingestMetrics func() ingest.Metrics
	if cfg.Ingest.Enabled {
		bridge, stop, err := startIngest(ctx, cfg, client, log)
		if err != nil {
			return err
		}
		defer stop()
		ingestMetrics = bridge.GetMetrics
	} else {
		log.Info("MQTT ingest disabled")
	}

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:             cfg.API,
			Logger:             log,
			Writer:             client,
			DefaultMeasurement: cfg.Ingest.DefaultMeasurement,
			IngestMetrics:      ingestMetrics,
			FlushFailures:      flushFailures.Load,
			Version:            version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("HTTP write relay listening", "address", srv.Addr())
	} else {
		log.Info("HTTP write relay disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. HTTP write relay
	// 2. Ingest bridge and MQTT
	// 3. TSDB client (final flush)

	log.Info("linebuffer stopped")
	return nil
}

// startIngest connects to MQTT and starts the ingest bridge.
//
// Returns:
//   - *ingest.Bridge: Running bridge, for its counters
//   - func(): Unsubscribes and disconnects; call before closing the TSDB client
//   - error: If the broker is unreachable or a subscription fails
func startIngest(ctx context.Context, cfg *config.Config, writer ingest.PointWriter, log *logging.Logger) (*ingest.Bridge, func(), error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := ingest.New(ingest.Options{
		Config:     cfg.Ingest,
		QoS:        byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0..2
		Subscriber: mqttClient,
		Writer:     writer,
		Logger:     log,
	})
	if err == nil {
		err = bridge.Start(ctx)
	}
	if err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("starting ingest bridge: %w", err)
	}

	return bridge, func() {
		log.Info("stopping ingest bridge")
		if stopErr := bridge.Stop(); stopErr != nil {
			log.Warn("error unsubscribing ingest topics", "error", stopErr)
		}
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}, nil
}
