package device

import (
	"fmt"
	"sort"
	"sync"
)

// pathState is the live state of one declared path.
type pathState struct {
	spec  PathSpec
	value any

	// appliedSeq is the sequence number of the last reading copied into
	// this path. Zero means no reading has been applied yet.
	appliedSeq uint64
}

// VirtualDevice is the bus-facing object representing one device.
//
// The set of paths is fixed at construction. After that, values change in
// exactly two ways: Refresh copies new readings into bound paths, and
// ExternalWrite applies a write from a bus or API client.
//
// Thread Safety: All methods are safe for concurrent use. Refresh and
// ExternalWrite serialise on the same mutex, so a reader never observes a
// partially applied refresh. Listeners see changes in the order they were
// applied and must not write to the device they listen on.
type VirtualDevice struct {
	identity Identity
	readings ReadingSource

	order []string
	paths map[string]*pathState
	mu    sync.RWMutex

	// applyMu is held from the start of a mutation until its listeners
	// return. Lock order: applyMu, then mu.
	applyMu sync.Mutex

	listeners   []ChangeListener
	listenersMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewVirtualDevice creates a device and declares its complete path schema:
// the management paths derived from identity followed by specs, in order.
//
// Parameters:
//   - identity: Service name, instance and product metadata
//   - specs: Device-specific paths; declared writable or read-only as given
//   - readings: Source for bound paths (may be nil if no path is bound)
//
// Returns:
//   - *VirtualDevice: Device with every path at its initial value
//   - error: ErrInvalidIdentity, ErrInvalidPath, ErrDuplicatePath or ErrInvalidValue
func NewVirtualDevice(identity Identity, specs []PathSpec, readings ReadingSource) (*VirtualDevice, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}

	d := &VirtualDevice{
		identity: identity,
		readings: readings,
		paths:    make(map[string]*pathState),
		logger:   noopLogger{},
	}

	all := append(ManagementSpecs(identity), specs...)
	if err := d.declare(all); err != nil {
		return nil, fmt.Errorf("declaring %s: %w", identity.ServiceName, err)
	}

	return d, nil
}

// declare registers every path with its initial value.
func (d *VirtualDevice) declare(specs []PathSpec) error {
	for _, spec := range specs {
		if err := ValidatePath(spec.Path); err != nil {
			return err
		}
		if _, exists := d.paths[spec.Path]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicatePath, spec.Path)
		}
		if spec.Bound() && d.readings == nil {
			return fmt.Errorf("path %s is bound to %s but no reading source was given", spec.Path, spec.Topic)
		}

		initial, err := NormalizeValue(spec.Initial)
		if err != nil {
			return fmt.Errorf("initial value of %s: %w", spec.Path, err)
		}
		spec.Initial = initial

		d.paths[spec.Path] = &pathState{spec: spec, value: initial}
		d.order = append(d.order, spec.Path)
	}
	return nil
}

// SetLogger sets the logger for the device.
func (d *VirtualDevice) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *VirtualDevice) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// AddListener registers fn to be called after every change.
func (d *VirtualDevice) AddListener(fn ChangeListener) {
	d.listenersMu.Lock()
	d.listeners = append(d.listeners, fn)
	d.listenersMu.Unlock()
}

// notify delivers changes to listeners. Callers hold d.applyMu but not d.mu.
func (d *VirtualDevice) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}

	d.listenersMu.RLock()
	listeners := make([]ChangeListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(changes)
	}
}

// Identity returns the device identity.
func (d *VirtualDevice) Identity() Identity {
	return d.identity
}

// ServiceName returns the bus name of the device.
func (d *VirtualDevice) ServiceName() string {
	return d.identity.ServiceName
}

// Refresh copies the newest reading of every bound path's topic into the path.
//
// A topic is applied only if it has a reading newer than the one last applied
// to that path. Paths whose topic has no reading keep their current value,
// and unbound paths are never touched. Calling Refresh twice without new
// readings in between changes nothing the second time.
//
// Returns:
//   - []Change: The paths whose value changed (nil if none)
func (d *VirtualDevice) Refresh() []Change {
	if d.readings == nil {
		return nil
	}

	var changes []Change

	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	d.mu.Lock()
	for _, p := range d.order {
		st := d.paths[p]
		if !st.spec.Bound() {
			continue
		}

		entry, ok := d.readings.Lookup(st.spec.Topic)
		if !ok || entry.Seq <= st.appliedSeq {
			continue
		}
		st.appliedSeq = entry.Seq

		if valuesEqual(st.value, entry.Value) {
			continue
		}
		changes = append(changes, Change{
			Service:  d.identity.ServiceName,
			Path:     p,
			Value:    entry.Value,
			Previous: st.value,
			Origin:   OriginRefresh,
		})
		st.value = entry.Value
	}
	d.mu.Unlock()

	d.notify(changes)
	return changes
}

// OnExternalWrite is the write callback for bus clients.
// Writes to a declared, writable path are accepted when the value is nil,
// a bool, a string or a finite number.
//
// Returns:
//   - bool: true if the write was accepted
//   - error: ErrUnknownPath, ErrNotWritable or ErrInvalidValue when rejected
func (d *VirtualDevice) OnExternalWrite(path string, value any) (bool, error) {
	return d.ExternalWrite(OriginDBus, path, value)
}

// ExternalWrite applies a write from an external client.
//
// The write always wins over the current value, including on bound paths.
// A bound path keeps the written value until its topic delivers a newer reading.
// Writing the current value is accepted without producing a change.
func (d *VirtualDevice) ExternalWrite(origin Origin, path string, value any) (bool, error) {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	d.mu.Lock()
	st, ok := d.paths[path]
	if !ok {
		d.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	if !st.spec.Writable {
		d.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotWritable, path)
	}
	normalised, err := NormalizeValue(value)
	if err != nil {
		d.mu.Unlock()
		return false, fmt.Errorf("writing %s: %w", path, err)
	}

	previous := st.value
	if valuesEqual(previous, normalised) {
		d.mu.Unlock()
		return true, nil
	}
	st.value = normalised
	d.mu.Unlock()

	d.getLogger().Info("external write accepted",
		"bus_service", d.identity.ServiceName,
		"path", path,
		"value", normalised,
		"previous", previous,
		"origin", string(origin))

	d.notify([]Change{{
		Service:  d.identity.ServiceName,
		Path:     path,
		Value:    normalised,
		Previous: previous,
		Origin:   origin,
	}})

	return true, nil
}

// GetValue returns the current value of path.
// Returns ErrUnknownPath if path was never declared.
func (d *VirtualDevice) GetValue(path string) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.paths[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	return st.value, nil
}

// Describe returns the current view of one path.
func (d *VirtualDevice) Describe(path string) (PathValue, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.paths[path]
	if !ok {
		return PathValue{}, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	return st.view(path), nil
}

// IsWritable reports whether external clients may write path.
func (d *VirtualDevice) IsWritable(path string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.paths[path]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	return st.spec.Writable, nil
}

// Values returns every path in declaration order.
func (d *VirtualDevice) Values() []PathValue {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]PathValue, 0, len(d.order))
	for _, p := range d.order {
		out = append(out, d.paths[p].view(p))
	}
	return out
}

// Paths returns every declared path in declaration order.
func (d *VirtualDevice) Paths() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// BoundTopics returns the distinct topics referenced by bound paths, sorted.
func (d *VirtualDevice) BoundTopics() []string {
	seen := make(map[string]struct{})
	for _, st := range d.paths {
		if st.spec.Bound() {
			seen[st.spec.Topic] = struct{}{}
		}
	}

	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (st *pathState) view(path string) PathValue {
	return PathValue{
		Path:     path,
		Value:    st.value,
		Text:     FormatText(st.value),
		Writable: st.spec.Writable,
		Topic:    st.spec.Topic,
	}
}
