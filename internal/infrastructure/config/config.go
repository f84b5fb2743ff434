package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MQTT to D-Bus bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	DBus      DBusConfig      `yaml:"dbus"`
	Publish   PublishConfig   `yaml:"publish"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"` // seconds
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// Bus selectors for DBusConfig.Bus.
const (
	BusAuto    = "auto"
	BusSystem  = "system"
	BusSession = "session"
)

// DBusConfig selects the message bus the virtual devices are published on.
type DBusConfig struct {
	// Bus is "auto", "system" or "session".
	// "auto" picks the session bus when DBUS_SESSION_BUS_ADDRESS is set,
	// otherwise the system bus.
	Bus string `yaml:"bus"`
}

// PublishConfig contains the refresh cycle settings.
type PublishConfig struct {
	// IntervalMS is the refresh period in milliseconds.
	// Default: 1000
	IntervalMS int `yaml:"interval_ms"`
}

// DeviceConfig describes one virtual device published on the bus.
type DeviceConfig struct {
	ServiceName     string       `yaml:"service_name"`
	DeviceInstance  int          `yaml:"device_instance"`
	ProductName     string       `yaml:"product_name"`
	ProductID       int          `yaml:"product_id"`
	FirmwareVersion int          `yaml:"firmware_version"`
	HardwareVersion int          `yaml:"hardware_version"`
	Connection      string       `yaml:"connection"` // empty: derived from the broker address
	Paths           []PathConfig `yaml:"paths"`
}

// PathConfig declares one published path.
type PathConfig struct {
	Path string `yaml:"path"`

	// Initial is the value published until the first refresh or external write.
	// Omitted or null means "no value".
	Initial any `yaml:"initial"`

	// Topic binds the path to an MQTT topic. Empty means unbound.
	Topic string `yaml:"topic"`
}

// DatabaseConfig contains settings for the SQLite audit trail.
// Disabled by default: the bridge itself keeps no state on disk.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the reading mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (the reference Enphase deployment)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTDBUS_SECTION_KEY
// For example: MQTTDBUS_MQTT_HOST, MQTTDBUS_DBUS_BUS
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config describing the reference deployment:
// one Enphase PV inverter fed from an MQTT broker on the local network.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "10.4.4.36",
				Port:     1883,
				ClientID: "mqtt-dbus-bridge",
			},
			QoS:       0,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		DBus: DBusConfig{
			Bus: BusAuto,
		},
		Publish: PublishConfig{
			IntervalMS: 1000,
		},
		Devices: []DeviceConfig{ReferenceDevice()},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/mqttdbus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8088,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// ReferenceDevice returns the Enphase inverter published as
// com.victronenergy.pvinverter.MQTT1.
func ReferenceDevice() DeviceConfig {
	return DeviceConfig{
		ServiceName:     "com.victronenergy.pvinverter.MQTT1",
		DeviceInstance:  10,
		ProductName:     "Enphase",
		ProductID:       0,
		FirmwareVersion: 1,
		HardwareVersion: 1,
		Paths: []PathConfig{
			{Path: "/Ac/Energy/Forward", Topic: "ESS/Enphase/kwhLifetime"},
			{Path: "/Ac/Power", Topic: "ESS/Enphase/production"},
			{Path: "/Ac/L1/Current", Topic: "ESS/Enphase/rmsCurrent"},
			{Path: "/Ac/L1/Energy/Forward", Topic: "ESS/Enphase/kwhLifetime"},
			{Path: "/Ac/L1/Power", Topic: "ESS/Enphase/production"},
			{Path: "/Ac/L1/Voltage", Topic: "ESS/Enphase/rmsVoltage"},
			{Path: "/Ac/MaxPower", Initial: 5000},
			{Path: "/ErrorCode", Initial: 0},
			{Path: "/Position", Initial: 1},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTDBUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MQTTDBUS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTTDBUS_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MQTTDBUS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTTDBUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// D-Bus
	if v := os.Getenv("MQTTDBUS_DBUS_BUS"); v != "" {
		cfg.DBus.Bus = v
	}

	// Database
	if v := os.Getenv("MQTTDBUS_DATABASE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Database.Enabled = enabled
		}
	}
	if v := os.Getenv("MQTTDBUS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTDBUS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}

	// D-Bus validation
	switch strings.ToLower(c.DBus.Bus) {
	case BusAuto, BusSystem, BusSession:
	default:
		errs = append(errs, fmt.Sprintf("dbus.bus must be auto, system or session, got %q", c.DBus.Bus))
	}

	// Publish validation
	if c.Publish.IntervalMS <= 0 {
		errs = append(errs, "publish.interval_ms must be positive")
	}

	// Device validation
	if len(c.Devices) == 0 {
		errs = append(errs, "at least one device is required")
	}
	services := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ServiceName == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].service_name is required", i))
		} else if services[d.ServiceName] {
			errs = append(errs, fmt.Sprintf("devices[%d].service_name %q is duplicated", i, d.ServiceName))
		}
		services[d.ServiceName] = true

		if len(d.Paths) == 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].paths must not be empty", i))
		}
		for j, p := range d.Paths {
			if !strings.HasPrefix(p.Path, "/") {
				errs = append(errs, fmt.Sprintf("devices[%d].paths[%d].path must start with /", i, j))
			}
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PublishInterval returns the refresh period as a Duration.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.Publish.IntervalMS) * time.Millisecond
}

// BrokerAddress returns host:port of the MQTT broker.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}

// UseSessionBus reports whether the devices should be published on the
// session bus rather than the system bus.
func (c DBusConfig) UseSessionBus() bool {
	switch strings.ToLower(c.Bus) {
	case BusSession:
		return true
	case BusSystem:
		return false
	default:
		return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != ""
	}
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
