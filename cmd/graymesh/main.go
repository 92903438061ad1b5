// Gray Mesh Core - Home Telemetry Platform
//
// This is the main entry point for the Gray Mesh Core application.
// Gray Mesh ingests wireless sensor telemetry from a multicast mesh
// gateway and turns it into a live device registry with:
//   - Offline-first operation (no cloud dependency)
//   - Durable room/name context in SQLite
//   - Optional history in InfluxDB and republishing over MQTT and TCP
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-mesh-core/migrations"

	"github.com/nerrad567/gray-mesh-core/internal/bridges/mqttpub"
	"github.com/nerrad567/gray-mesh-core/internal/device"
	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/database"
	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-mesh-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-mesh-core/internal/ingest"
	"github.com/nerrad567/gray-mesh-core/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Mesh Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry backed by the durable context store
	contextStore := device.NewSQLiteContextStore(db.DB)
	contextStore.SetLogger(log)
	if loadErr := contextStore.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device contexts: %w", loadErr)
	}
	registry := device.NewRegistry(contextStore)
	registry.SetLogger(log.With("component", "device"))
	registry.SetGatewaySecret(cfg.Gateway.Secret)
	if depthErr := registry.SetHistoryDepth(cfg.Gateway.HistoryDepth); depthErr != nil {
		return fmt.Errorf("configuring history depth: %w", depthErr)
	}

	// Outbound command path: gateway devices send through a fresh UDP
	// socket per command.
	sender := transport.NewSender(transport.SenderConfig{
		GatewayAddr: cfg.Gateway.Addr,
		CommandPort: cfg.Gateway.Port,
	})
	sender.SetLogger(log.With("component", "transport"))
	registry.SetCommandSender(sender.Send)

	log.Info("device registry initialised", "history_depth", cfg.Gateway.HistoryDepth)

	// Connect to InfluxDB and attach the history recorder (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		if attachErr := influxdb.NewRecorder(influxClient).Attach(registry); attachErr != nil {
			return fmt.Errorf("attaching history recorder: %w", attachErr)
		}
		log.Info("history recorder attached")
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT and attach the republishing bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		bridge, bridgeErr := mqttpub.New(mqttpub.Options{
			Publisher:       mqttClient,
			QoS:             byte(cfg.MQTT.QoS),
			RetainState:     cfg.MQTT.RetainState,
			CoarsePrecision: cfg.MQTT.CoarsePrecision,
			Logger:          log.With("component", "mqtt_bridge"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if attachErr := bridge.Attach(registry); attachErr != nil {
			return fmt.Errorf("attaching MQTT bridge: %w", attachErr)
		}
		log.Info("MQTT bridge attached")
	} else {
		log.Info("MQTT disabled")
	}

	// Join the gateway multicast group
	listener, err := transport.NewListener(transport.ListenerConfig{
		Group:     cfg.Gateway.MulticastGroup,
		Port:      cfg.Gateway.Port,
		Interface: cfg.Gateway.Interface,
	})
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}
	listener.SetLogger(log.With("component", "transport"))
	if startErr := listener.Start(ctx); startErr != nil {
		return fmt.Errorf("starting listener: %w", startErr)
	}
	defer func() {
		log.Info("stopping listener")
		if stopErr := listener.Stop(); stopErr != nil {
			log.Error("error stopping listener", "error", stopErr)
		}
	}()
	log.Info("multicast listener started",
		"group", cfg.Gateway.MulticastGroup,
		"port", cfg.Gateway.Port,
	)

	// Ingestion loop: the single writer driving the registry
	loop := ingest.New(listener.Packets(), registry)
	loop.SetLogger(log.With("component", "ingest"))

	// TCP fan-out relay (optional)
	if cfg.Relay.Enabled {
		relay := transport.NewRelay(transport.RelayConfig{
			Addr:       cfg.Relay.Addr,
			MaxClients: cfg.Relay.MaxClients,
		})
		relay.SetLogger(log.With("component", "relay"))
		if startErr := relay.Start(ctx); startErr != nil {
			return fmt.Errorf("starting relay: %w", startErr)
		}
		defer func() {
			log.Info("stopping relay")
			if stopErr := relay.Stop(); stopErr != nil {
				log.Error("error stopping relay", "error", stopErr)
			}
		}()
		loop.SetMirror(relay)
		log.Info("relay started", "addr", relay.Addr())
	} else {
		log.Info("relay disabled")
	}

	// Inbound command path: broker messages on graymesh/command/{sid}
	// become gateway writes, executed on the ingestion goroutine.
	if mqttClient != nil {
		consumer, consumerErr := mqttpub.NewCommandConsumer(mqttpub.CommandOptions{
			Devices: registry,
			Runner:  loop,
			Logger:  log.With("component", "mqtt_commands"),
		})
		if consumerErr != nil {
			return fmt.Errorf("creating command consumer: %w", consumerErr)
		}
		if listenErr := consumer.Listen(mqttClient, byte(cfg.MQTT.QoS)); listenErr != nil {
			return fmt.Errorf("subscribing to command topics: %w", listenErr)
		}
		log.Info("command consumer listening")
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, ingesting telemetry")

	// Block on the ingestion loop until shutdown
	runErr := loop.Run(ctx)

	stats := loop.GetStats()
	log.Info("shutdown signal received, cleaning up",
		"packets_received", stats.Received,
		"packets_malformed", stats.Malformed,
	)

	// Deferred Close() calls run in reverse order:
	// relay, listener, MQTT, InfluxDB, database.

	log.Info("Gray Mesh Core stopped")
	return runErr
}

// getConfigPath returns the configuration file path.
// Uses GRAYMESH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYMESH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy. The MQTT
// and InfluxDB clients may be nil when their subsystems are disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
