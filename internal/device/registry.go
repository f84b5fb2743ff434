package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/config"
)

// Registry holds every virtual device created at startup, keyed by service name.
//
// Devices are registered once during bootstrap and never removed.
//
// All public methods are thread-safe.
type Registry struct {
	devices map[string]*VirtualDevice
	order   []string
	mu      sync.RWMutex
	logger  Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*VirtualDevice),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Register adds a device.
// Returns ErrDuplicateService if a device with the same service name exists.
func (r *Registry) Register(d *VirtualDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.ServiceName()
	if _, exists := r.devices[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, name)
	}
	r.devices[name] = d
	r.order = append(r.order, name)

	r.logger.Info("device registered",
		"bus_service", name,
		"instance", d.Identity().DeviceInstance,
		"paths", len(d.order))
	return nil
}

// Get returns the device published under serviceName.
// Returns ErrDeviceNotFound if no such device is registered.
func (r *Registry) Get(serviceName string) (*VirtualDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[serviceName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, serviceName)
	}
	return d, nil
}

// List returns all devices in registration order.
func (r *Registry) List() []*VirtualDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*VirtualDevice, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.devices[name])
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Refresh runs one refresh cycle on every registered device.
// It satisfies the Refresher interface used by the Publisher.
func (r *Registry) Refresh() int {
	changed := 0
	for _, d := range r.List() {
		changed += len(d.Refresh())
	}
	return changed
}

// BoundTopics returns the union of all devices' bound topics, sorted.
// This is exactly the set of topics the feed listener must subscribe to.
func (r *Registry) BoundTopics() []string {
	seen := make(map[string]struct{})
	for _, d := range r.List() {
		for _, t := range d.BoundTopics() {
			seen[t] = struct{}{}
		}
	}

	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// NewFromConfig builds a device from its configuration entry.
//
// Configured paths are writable; the management paths added by
// NewVirtualDevice are not. An empty Connection in cfg is replaced with
// defaultConnection.
func NewFromConfig(cfg config.DeviceConfig, processName, processVersion, defaultConnection string, readings ReadingSource) (*VirtualDevice, error) {
	connection := cfg.Connection
	if connection == "" {
		connection = defaultConnection
	}

	identity := Identity{
		ServiceName:     cfg.ServiceName,
		DeviceInstance:  cfg.DeviceInstance,
		ProductName:     cfg.ProductName,
		ProductID:       cfg.ProductID,
		FirmwareVersion: cfg.FirmwareVersion,
		HardwareVersion: cfg.HardwareVersion,
		Connection:      connection,
		ProcessName:     processName,
		ProcessVersion:  processVersion,
	}

	specs := make([]PathSpec, 0, len(cfg.Paths))
	for _, p := range cfg.Paths {
		specs = append(specs, PathSpec{
			Path:     p.Path,
			Initial:  p.Initial,
			Topic:    p.Topic,
			Writable: true,
		})
	}

	return NewVirtualDevice(identity, specs, readings)
}
