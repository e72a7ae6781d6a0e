package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/host/v3"

	"github.com/nerrad567/gray-logic-usbrole/internal/capability"
	"github.com/nerrad567/gray-logic-usbrole/internal/control"
	"github.com/nerrad567/gray-logic-usbrole/internal/gpioline"
	"github.com/nerrad567/gray-logic-usbrole/internal/history"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-usbrole/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-usbrole/internal/usbrole"
	_ "github.com/nerrad567/gray-logic-usbrole/migrations" // Registers the schema
)

const (
	// pruneInterval is how often old history rows are removed.
	pruneInterval = time.Hour

	// roleReportTimeout bounds recording a single role transition.
	roleReportTimeout = 5 * time.Second
)

// run is the daemon, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting usbroled",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("port_id", cfg.Port.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// History database
	var (
		db    *database.DB
		store *history.Store
	)
	if cfg.History.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		store = history.NewStore(db.DB)
		log.Info("history enabled", "path", cfg.Database.Path, "retention_days", cfg.History.RetentionDays)
	} else {
		log.Info("history disabled")
	}

	// MQTT
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.With("component", "mqtt"))
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
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		influxClient = nil
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		influxClient.SetOnError(func(writeErr error) {
			log.Warn("InfluxDB write failed", "error", writeErr)
		})
		defer func() {
			log.Info("closing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Capability registry and its sinks
	registry := capability.NewRegistry(cfg.Port.ID)
	registry.SetLogger(log.With("component", "capability"))
	if err := subscribeSinks(registry, mqttClient, influxClient, store, log); err != nil {
		return err
	}

	// Control service; created before the port so role changes can be
	// reported from the first evaluation.
	var svc *control.Service
	if mqttClient != nil {
		svc, err = newControlService(cfg, mqttClient, registry, influxClient, store, log)
		if err != nil {
			return fmt.Errorf("creating control service: %w", err)
		}
	}
	reporter := newRoleReporter(ctx, cfg.Port.ID, svc, store, log)

	// GPIO
	port, err := openPort(ctx, cfg, registry, reporter, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing USB port")
		if closeErr := port.Close(); closeErr != nil {
			log.Error("error closing USB port", "error", closeErr)
		}
	}()

	if svc != nil {
		if err := svc.Start(ctx, port); err != nil {
			return fmt.Errorf("starting control service: %w", err)
		}
		defer svc.Stop()
		watchConnection(mqttClient, svc, log)
	}

	if cfg.Detector.HostSensingAtStart {
		switch err := port.SetHostSensingEnabled(ctx, true); {
		case errors.Is(err, usbrole.ErrNoIDLine):
			log.Warn("host sensing requested but no ID line is configured")
		case err != nil:
			return fmt.Errorf("enabling host sensing: %w", err)
		default:
			log.Info("host sensing enabled")
			if svc != nil {
				if err := svc.PublishStatus(); err != nil {
					log.Warn("publishing status failed", "error", err)
				}
			}
		}
	}

	if store != nil && cfg.Retention() > 0 {
		go pruneHistory(ctx, store, cfg.Retention(), log)
	}

	log.Info("initialisation complete, waiting for shutdown signal", "role", port.Role().String())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Control service
	// 2. USB port
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database (if enabled)

	log.Info("usbroled stopped")
	return nil
}

func databaseConfig(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	}
}

// openDatabase opens the history database and applies migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, databaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Migration error takes precedence
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// subscribeSinks attaches the log sink and every enabled backend to the
// registry. Sinks run in subscription order, so the local history is
// written before anything leaves the host.
func subscribeSinks(registry *capability.Registry, mqttClient *mqtt.Client, influxClient *influxdb.Client, store *history.Store, log *logging.Logger) error {
	type namedSink struct {
		name string
		sink capability.Sink
	}

	sinks := []namedSink{{"log", logSink(log)}}
	if store != nil {
		sinks = append(sinks, namedSink{"history", store})
	}
	if mqttClient != nil {
		sinks = append(sinks, namedSink{"mqtt", capability.NewMQTTSink(mqttClient)})
	}
	if influxClient != nil {
		sinks = append(sinks, namedSink{"influxdb", capability.NewMetricsSink(influxClient)})
	}

	for _, s := range sinks {
		if _, err := registry.Subscribe(s.name, s.sink); err != nil {
			return fmt.Errorf("subscribing %s sink: %w", s.name, err)
		}
	}
	return nil
}

// logSink logs every capability change at info level.
func logSink(log *logging.Logger) capability.SinkFunc {
	return func(_ context.Context, change capability.Change) error {
		log.Info("capability changed",
			"capability", string(change.Capability),
			"active", change.Active,
			"event_id", change.EventID.String(),
		)
		return nil
	}
}

func newControlService(cfg *config.Config, mqttClient *mqtt.Client, registry *capability.Registry, influxClient *influxdb.Client, store *history.Store, log *logging.Logger) (*control.Service, error) {
	qos := byte(cfg.MQTT.QoS)
	opts := control.Options{
		PortID:       cfg.Port.ID,
		Broker:       mqttClient,
		Capabilities: registry,
		QoS:          &qos,
		Logger:       log.With("component", "control"),
	}
	// Only set when present so the interfaces stay nil.
	if store != nil {
		opts.History = store
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	return control.New(opts)
}

// newRoleReporter returns the port's role change callback. Without MQTT
// the transition is only recorded locally.
func newRoleReporter(ctx context.Context, portID string, svc *control.Service, store *history.Store, log *logging.Logger) func(prev, next usbrole.Role) {
	base := context.WithoutCancel(ctx)

	return func(prev, next usbrole.Role) {
		rctx, cancel := context.WithTimeout(base, roleReportTimeout)
		defer cancel()

		if svc != nil {
			svc.ReportRole(rctx, prev, next)
			return
		}

		if store != nil {
			t := history.RoleTransition{PortID: portID, From: prev.String(), To: next.String()}
			if err := store.RecordRole(rctx, t); err != nil {
				log.Warn("recording role transition failed", "error", err)
			}
		}
		log.Info("role changed", "from", prev.String(), "to", next.String())
	}
}

// watchConnection logs broker connection changes. The retained status is
// republished on reconnect since the daemon may have changed state while
// the broker was unreachable.
func watchConnection(mqttClient *mqtt.Client, svc *control.Service, log *logging.Logger) {
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT connection lost", "error", err)
	})
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if err := svc.PublishStatus(); err != nil {
			log.Warn("republishing status failed", "error", err)
		}
	})
}

// openPort resolves the configured pins and creates the port.
func openPort(ctx context.Context, cfg *config.Config, registry *capability.Registry, onRoleChange func(prev, next usbrole.Role), log *logging.Logger) (*usbrole.Port, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising GPIO drivers: %w", err)
	}

	opts := usbrole.Options{
		Publisher:    registry,
		Debounce:     cfg.Debounce(),
		BiasSettle:   cfg.BiasSettle(),
		WakeSource:   cfg.Port.WakeSource,
		OnRoleChange: onRoleChange,
		Logger:       log.With("component", "usbrole"),
	}

	var idLine, vbusLine *gpioline.Line
	if cfg.Lines.ID.Present() {
		line, err := gpioline.Open("ID", cfg.Lines.ID.Pin, cfg.Lines.ID.WakeupPath)
		if err != nil {
			return nil, fmt.Errorf("opening ID line: %w", err)
		}
		idLine = line
		opts.ID = line
		opts.Bias = line
	}
	if cfg.Lines.VBUS.Present() {
		line, err := gpioline.Open("VBUS", cfg.Lines.VBUS.Pin, cfg.Lines.VBUS.WakeupPath)
		if err != nil {
			return nil, fmt.Errorf("opening VBUS line: %w", err)
		}
		vbusLine = line
		opts.VBUS = line
	}
	opts.PinStates = gpioline.NewPinStates(idLine, vbusLine)

	port, err := usbrole.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("creating USB port: %w", err)
	}
	return port, nil
}

// pruneHistory removes rows older than retention now and then every
// pruneInterval until ctx is cancelled.
func pruneHistory(ctx context.Context, store *history.Store, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		deleted, err := store.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning history failed", "error", err)
		case deleted > 0:
			log.Info("history pruned", "rows", deleted)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies the enabled infrastructure connections.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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
