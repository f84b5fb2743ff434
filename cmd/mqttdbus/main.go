// mqtt-dbus-bridge publishes MQTT sensor readings as Victron virtual devices
// on D-Bus.
//
// Readings arrive on fixed MQTT topics and are cached per topic. A periodic
// refresh copies the latest readings onto the bound paths of each virtual
// device, which is exported on the message bus as com.victronenergy.BusItem
// objects so Venus OS sees it like any other PV inverter.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/api"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/audit"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/bridges/vedbus"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/device"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/feed"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/reading"
	"github.com/nerrad567/mqtt-dbus-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// processName is published on /Mgmt/ProcessName.
	processName = "mqttdbus"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge together and blocks until ctx is cancelled.
// Deferred cleanups run in reverse start order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting mqtt-dbus-bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Devices first: the bound topics decide what the feed subscribes to.
	cache := reading.NewCache()
	registry, err := buildRegistry(cfg, cache, log)
	if err != nil {
		return err
	}
	log.Info("device registry initialised",
		"devices", registry.Count(),
		"topics", len(registry.BoundTopics()),
	)

	// Optional audit trail
	trail, err := startAudit(ctx, cfg.Database, registry, log)
	if err != nil {
		return err
	}
	defer trail.Close(log)

	// Optional reading mirror
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetLogger(log.Component("influxdb"))
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
	} else {
		log.Info("InfluxDB disabled")
	}

	// Transport
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", cfg.BrokerAddress(),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	listener, err := startFeed(ctx, cfg, mqttClient, cache, influxClient, registry.BoundTopics(), log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping feed listener")
		listener.Stop()
	}()

	// Message bus
	services, conns, err := publishDevices(cfg, registry, log)
	defer func() {
		for _, svc := range services {
			log.Info("withdrawing service", "bus_service", svc.Name())
			if closeErr := svc.Close(); closeErr != nil {
				log.Error("error closing bus service", "bus_service", svc.Name(), "error", closeErr)
			}
		}
	}()
	if err != nil {
		return err
	}

	// Refresh cycle
	publisher := device.NewPublisher(registry, cfg.PublishInterval())
	publisher.SetLogger(log.Component("publisher"))
	publisher.Start(ctx)
	defer func() {
		log.Info("stopping publisher")
		publisher.Stop()
	}()

	// Status API
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Registry: registry,
			Readings: cache,
			Audit:    trail.Repository(),
			Checks:   healthChecks(trail.DB(), mqttClient, influxClient, conns),
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	stats := publisher.Stats()
	log.Info("mqtt-dbus-bridge stopped",
		"refresh_cycles", stats.Cycles,
		"changes", stats.Changes,
		"readings_accepted", listener.Stats().Accepted,
		"writes_audited", trail.Recorded(),
	)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MQTTDBUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTDBUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildRegistry creates one virtual device per configured device.
func buildRegistry(cfg *config.Config, cache *reading.Cache, log *logging.Logger) (*device.Registry, error) {
	registry := device.NewRegistry()
	devLog := log.Component("device")
	registry.SetLogger(devLog)

	connection := "MQTT " + cfg.BrokerAddress()
	for _, dc := range cfg.Devices {
		dev, err := device.NewFromConfig(dc, processName, version, connection, cache)
		if err != nil {
			return nil, fmt.Errorf("creating device %s: %w", dc.ServiceName, err)
		}
		dev.SetLogger(devLog)
		if err := registry.Register(dev); err != nil {
			return nil, fmt.Errorf("registering device: %w", err)
		}
	}
	return registry, nil
}

// startFeed subscribes to every bound topic.
// sink may be nil when the reading mirror is disabled.
func startFeed(ctx context.Context, cfg *config.Config, client *mqtt.Client, cache *reading.Cache,
	sink *influxdb.Client, topics []string, log *logging.Logger) (*feed.Listener, error) {
	opts := feed.Options{
		Subscriber: client,
		Cache:      cache,
		Topics:     topics,
		QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
		Logger:     log.Component("feed"),
	}
	// A typed nil *influxdb.Client must not become a non-nil interface.
	if sink != nil {
		opts.Sink = sink
	}

	listener, err := feed.NewListener(opts)
	if err != nil {
		return nil, fmt.Errorf("creating feed listener: %w", err)
	}
	if err := listener.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting feed listener: %w", err)
	}
	log.Info("feed listener started", "topics", len(topics))
	return listener, nil
}

// publishDevices exports each device on its own bus connection.
// Services started before a failure are returned so the caller can close them.
func publishDevices(cfg *config.Config, registry *device.Registry, log *logging.Logger) ([]*vedbus.Service, []*dbus.Conn, error) {
	useSession := cfg.DBus.UseSessionBus()
	bus := config.BusSystem
	if useSession {
		bus = config.BusSession
	}

	var (
		services []*vedbus.Service
		conns    []*dbus.Conn
	)
	for _, dev := range registry.List() {
		conn, err := vedbus.Connect(useSession)
		if err != nil {
			return services, conns, fmt.Errorf("connecting to %s bus: %w", bus, err)
		}

		svc := vedbus.NewService(conn, dev)
		svc.SetLogger(log.Component("vedbus"))
		services = append(services, svc)
		conns = append(conns, conn)

		if err := svc.Start(); err != nil {
			return services, conns, fmt.Errorf("publishing %s: %w", dev.ServiceName(), err)
		}
	}
	log.Info("devices published", "bus", bus, "services", len(services))
	return services, conns, nil
}

// healthChecks collects the checks reported by /api/v1/health.
// db and influxClient are nil when their feature is disabled.
func healthChecks(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, conns []*dbus.Conn) map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{
		"mqtt": api.HealthCheckFunc(mqttClient.HealthCheck),
		"dbus": api.HealthCheckFunc(func(context.Context) error {
			return busHealth(conns)
		}),
	}
	if db != nil {
		checks["database"] = api.HealthCheckFunc(db.HealthCheck)
	}
	if influxClient != nil {
		checks["influxdb"] = api.HealthCheckFunc(influxClient.HealthCheck)
	}
	return checks
}

// auditTrail is the database and recorder behind the audit log.
// The zero value is the disabled trail; its methods are safe on nil.
type auditTrail struct {
	db       *database.DB
	repo     *audit.SQLiteRepository
	recorder *audit.Recorder
}

// startAudit opens the audit database and records every device change.
// It returns a nil trail without touching the filesystem when disabled.
func startAudit(ctx context.Context, cfg config.DatabaseConfig, registry *device.Registry, log *logging.Logger) (*auditTrail, error) {
	if !cfg.Enabled {
		log.Info("audit trail disabled")
		return nil, nil
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	t := &auditTrail{db: db, repo: audit.NewSQLiteRepository(db.DB)}
	t.recorder = audit.NewRecorder(t.repo, 0)
	t.recorder.SetLogger(log.Component("audit"))
	t.recorder.Start(ctx)
	for _, d := range registry.List() {
		d.AddListener(t.recorder.Observe)
	}
	return t, nil
}

// Repository returns the audit repository, or nil when disabled.
// A nil *SQLiteRepository must not become a non-nil interface.
func (t *auditTrail) Repository() audit.Repository {
	if t == nil {
		return nil
	}
	return t.repo
}

// DB returns the audit database, or nil when disabled.
func (t *auditTrail) DB() *database.DB {
	if t == nil {
		return nil
	}
	return t.db
}

// Recorded returns how many changes were written to the audit log.
func (t *auditTrail) Recorded() uint64 {
	if t == nil {
		return 0
	}
	return t.recorder.Stats().Recorded
}

// Close drains the recorder and closes the database.
func (t *auditTrail) Close(log *logging.Logger) {
	if t == nil {
		return
	}
	log.Info("stopping audit recorder")
	t.recorder.Stop()
	log.Info("closing database")
	if err := t.db.Close(); err != nil {
		log.Error("error closing database", "error", err)
	}
}

// busConn is the part of *dbus.Conn busHealth needs.
type busConn interface {
	Connected() bool
}

func busHealth[C busConn](conns []C) error {
	if len(conns) == 0 {
		return errors.New("no bus connections")
	}
	for i, c := range conns {
		if !c.Connected() {
			return fmt.Errorf("bus connection %d closed", i)
		}
	}
	return nil
}
