package device

import (
	"fmt"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/reading"
)

// Origin identifies what caused a path value to change.
type Origin string

// Change origins.
const (
	OriginRefresh Origin = "refresh"
	OriginDBus    Origin = "dbus"
	OriginAPI     Origin = "api"
)

// Management and identity paths required on every device service.
const (
	PathProcessName     = "/Mgmt/ProcessName"
	PathProcessVersion  = "/Mgmt/ProcessVersion"
	PathConnection      = "/Mgmt/Connection"
	PathDeviceInstance  = "/DeviceInstance"
	PathProductID       = "/ProductId"
	PathProductName     = "/ProductName"
	PathFirmwareVersion = "/FirmwareVersion"
	PathHardwareVersion = "/HardwareVersion"
	PathConnected       = "/Connected"
)

// Identity describes the device service as seen by other bus clients.
type Identity struct {
	ServiceName     string `json:"service_name"`
	DeviceInstance  int    `json:"device_instance"`
	ProductName     string `json:"product_name"`
	ProductID       int    `json:"product_id"`
	FirmwareVersion int    `json:"firmware_version"`
	HardwareVersion int    `json:"hardware_version"`
	Connection      string `json:"connection"`
	ProcessName     string `json:"process_name"`
	ProcessVersion  string `json:"process_version"`
}

// PathSpec declares one published path.
//
// A non-empty Topic makes the path bound: every refresh copies the newest
// reading for that topic into the path.
type PathSpec struct {
	Path     string
	Initial  any
	Topic    string
	Writable bool
}

// Bound reports whether the path is refreshed from a reading topic.
func (s PathSpec) Bound() bool {
	return s.Topic != ""
}

// PathValue is a point-in-time view of one path.
type PathValue struct {
	Path     string `json:"path"`
	Value    any    `json:"value"`
	Text     string `json:"text"`
	Writable bool   `json:"writable"`
	Topic    string `json:"topic,omitempty"`
}

// Change records one path value transition.
type Change struct {
	Service  string `json:"service"`
	Path     string `json:"path"`
	Value    any    `json:"value"`
	Previous any    `json:"previous"`
	Origin   Origin `json:"origin"`
}

// ChangeListener is notified after a device mutated one or more paths.
// Listeners run on the goroutine that caused the change and must not block.
type ChangeListener func(changes []Change)

// ReadingSource supplies the latest reading per topic.
// *reading.Cache satisfies this interface.
type ReadingSource interface {
	Lookup(topic string) (reading.Entry, bool)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ManagementSpecs returns the read-only management and identity paths for id.
func ManagementSpecs(id Identity) []PathSpec {
	return []PathSpec{
		{Path: PathProcessName, Initial: id.ProcessName},
		{Path: PathProcessVersion, Initial: id.ProcessVersion},
		{Path: PathConnection, Initial: id.Connection},
		{Path: PathDeviceInstance, Initial: id.DeviceInstance},
		{Path: PathProductID, Initial: id.ProductID},
		{Path: PathProductName, Initial: id.ProductName},
		{Path: PathFirmwareVersion, Initial: id.FirmwareVersion},
		{Path: PathHardwareVersion, Initial: id.HardwareVersion},
		{Path: PathConnected, Initial: 1},
	}
}

// FormatText renders a value the way bus clients display it.
// An unset value renders as "---".
func FormatText(v any) string {
	switch val := v.(type) {
	case nil:
		return "---"
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}
