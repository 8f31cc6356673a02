// Gray Logic Node - sensor/actuator control core
//
// This is the main entry point for a Gray Logic field node. A node owns a
// board's GPIO lines, drives actuators under an emergency-stop controller,
// polls sensors (optionally through the Pi processing server) and keeps
// readings in an offline buffer while the MQTT link is down.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/nerrad567/gray-logic-node/migrations"

	"github.com/nerrad567/gray-logic-node/internal/driver"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/storage"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/node.yaml"

// metricsShutdownTimeout bounds the metrics listener's graceful stop.
const metricsShutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("node_id", cfg.Node.ID)
	log.Info("configuration loaded",
		"path", configPath,
		"board", cfg.Board.Profile,
		"backend", cfg.Hardware.Backend,
	)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Build the core components
	comp, err := node.BuildComponents(cfg, selectPins(cfg))
	if err != nil {
		return fmt.Errorf("building components: %w", err)
	}
	comp.SetLogger(log)
	log.Info("board resolved",
		"profile", comp.Board.Name,
		"max_sensors", comp.Board.MaxSensors,
		"max_actuators", comp.Board.MaxActuators,
		"buffer_capacity", comp.Board.MaxBufferedReadings,
	)

	// Connect to MQTT. A node keeps running without the broker: readings go
	// to the offline buffer and paho keeps retrying.
	mqttClient := mqtt.New(cfg.MQTT, cfg.Node.ID)
	mqttClient.SetLogger(log.Component("mqtt"))
	if connErr := mqttClient.Connect(ctx); connErr != nil {
		log.Warn("MQTT unavailable, starting offline", "error", connErr)
	} else {
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	opts := comp.Options(cfg)
	opts.Store = storage.NewSQLiteStore(db)
	opts.Publisher = mqttClient
	opts.Logger = log.Component("node")
	opts.Version = version

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.ID)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		opts.Telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Registry = registry
	}

	n, err := node.New(opts)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		n.RepublishStatus()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected, buffering readings", "error", err)
	})

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	if registry != nil {
		srv := startMetricsServer(cfg.Metrics.Listen, registry, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("error stopping metrics server", "error", err)
			}
		}()
	}

	log.Info("initialisation complete, running control loop",
		"tick_interval", cfg.TickInterval(),
		"poll_interval", cfg.PollInterval(),
	)
	if err := n.Run(ctx); err != nil {
		return fmt.Errorf("control loop: %w", err)
	}

	log.Info("Gray Logic Node stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// selectPins returns the pin backend named by hardware.backend.
func selectPins(cfg *config.Config) driver.Pins {
	if cfg.Hardware.Backend == "periph" {
		return driver.NewPeriphPins(cfg.Hardware.IIODir)
	}
	return driver.NewSimPins(simPinCount)
}

// simPinCount covers every board profile's pin range.
const simPinCount = 64

// startMetricsServer serves /metrics in the background.
func startMetricsServer(addr string, reg *prometheus.Registry, log *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
