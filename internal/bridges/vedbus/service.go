package vedbus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/device"
)

// Bus interface and member names.
const (
	BusItemInterface       = "com.victronenergy.BusItem"
	IntrospectableIface    = "org.freedesktop.DBus.Introspectable"
	signalPropertiesChange = BusItemInterface + ".PropertiesChanged"
	signalItemsChanged     = BusItemInterface + ".ItemsChanged"
)

// SetValue result codes.
const (
	SetValueOK          int32 = 0
	SetValueNotWritable int32 = 1
	SetValueRejected    int32 = 2
)

// Conn is the part of a message bus connection the service needs.
// *dbus.Conn satisfies this interface.
type Conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Close() error
}

// Device is the virtual device published by a Service.
// *device.VirtualDevice satisfies this interface.
type Device interface {
	ServiceName() string
	Values() []device.PathValue
	Describe(path string) (device.PathValue, error)
	ExternalWrite(origin device.Origin, path string, value any) (bool, error)
	AddListener(fn device.ChangeListener)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Service publishes one virtual device on the message bus.
//
// Every declared path is exported as an object implementing
// com.victronenergy.BusItem. The root object and each intermediate node
// answer GetValue/GetText with the values below them.
//
// Thread Safety: All methods are safe for concurrent use. Bus method calls
// arrive on their own goroutines.
type Service struct {
	conn    Conn
	dev     Device
	name    string
	paths   []string
	nodes   []string
	started bool
	closed  bool
	mu      sync.Mutex

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// NewService creates a Service for dev on conn. Call Start to publish it.
func NewService(conn Conn, dev Device) *Service {
	values := dev.Values()
	paths := make([]string, 0, len(values))
	for _, pv := range values {
		paths = append(paths, pv.Path)
	}

	return &Service{
		conn:  conn,
		dev:   dev,
		name:  dev.ServiceName(),
		paths: paths,
		nodes: treeNodes(paths),
	}
}

// SetLogger sets the logger for this service.
func (s *Service) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Service) logInfo(msg string, args ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, args...)
	}
}

func (s *Service) logError(msg string, err error, args ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}

// Name returns the bus name the service is published under.
func (s *Service) Name() string {
	return s.name
}

// IsStarted reports whether the service is currently published.
func (s *Service) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Start exports every object and then claims the service name, so clients
// that see the name appear can read all paths immediately.
//
// Returns ErrNameTaken if another process owns the name.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	for _, p := range s.paths {
		item := &busItem{svc: s, path: p}
		if err := s.export(item, p, introspect.Node{
			Name:       p,
			Interfaces: []introspect.Interface{busItemIntrospection(kindItem)},
		}); err != nil {
			return err
		}
	}

	for _, n := range s.nodes {
		var obj interface{} = &treeNode{svc: s, path: n}
		kind := kindNode
		if n == "/" {
			obj = &rootNode{treeNode{svc: s, path: n}}
			kind = kindRoot
		}
		if err := s.export(obj, n, introspect.Node{
			Name:       n,
			Interfaces: []introspect.Interface{busItemIntrospection(kind)},
			Children:   childNodes(n, s.paths, s.nodes),
		}); err != nil {
			return err
		}
	}

	reply, err := s.conn.RequestName(s.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting name %s: %w", s.name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%w: %s", ErrNameTaken, s.name)
	}

	s.dev.AddListener(s.onChanges)
	s.started = true

	s.logInfo("service published on message bus", "bus_service", s.name, "paths", len(s.paths))
	return nil
}

func (s *Service) export(obj interface{}, path string, node introspect.Node) error {
	op := dbus.ObjectPath(path)
	if err := s.conn.Export(obj, op, BusItemInterface); err != nil {
		return fmt.Errorf("exporting %s: %w", path, err)
	}
	if err := s.conn.Export(introspect.NewIntrospectable(&node), op, IntrospectableIface); err != nil {
		return fmt.Errorf("exporting introspection for %s: %w", path, err)
	}
	return nil
}

// Close releases the service name and closes the bus connection.
// Safe to call multiple times.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.started {
		if _, err := s.conn.ReleaseName(s.name); err != nil {
			errs = append(errs, fmt.Errorf("releasing name %s: %w", s.name, err))
		}
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing bus connection: %w", err))
	}
	return errors.Join(errs...)
}

// onChanges emits PropertiesChanged per changed item and one ItemsChanged on
// the root object.
func (s *Service) onChanges(changes []device.Change) {
	if !s.IsStarted() {
		return
	}

	items := make(map[string]map[string]dbus.Variant, len(changes))
	for _, c := range changes {
		props := map[string]dbus.Variant{
			"Value": wrapValue(c.Value),
			"Text":  dbus.MakeVariant(device.FormatText(c.Value)),
		}
		items[c.Path] = props

		if err := s.conn.Emit(dbus.ObjectPath(c.Path), signalPropertiesChange, props); err != nil {
			s.logError("emitting PropertiesChanged failed", err, "path", c.Path)
		}
	}

	if err := s.conn.Emit(dbus.ObjectPath("/"), signalItemsChanged, items); err != nil {
		s.logError("emitting ItemsChanged failed", err)
	}
}

// busItem is the bus object for one path.
type busItem struct {
	svc  *Service
	path string
}

// GetValue returns the current value of the item.
func (b *busItem) GetValue() (dbus.Variant, *dbus.Error) {
	pv, err := b.svc.dev.Describe(b.path)
	if err != nil {
		return dbus.Variant{}, dbus.MakeFailedError(err)
	}
	return wrapValue(pv.Value), nil
}

// GetText returns the display text of the item.
func (b *busItem) GetText() (dbus.Variant, *dbus.Error) {
	pv, err := b.svc.dev.Describe(b.path)
	if err != nil {
		return dbus.Variant{}, dbus.MakeFailedError(err)
	}
	return dbus.MakeVariant(pv.Text), nil
}

// SetValue applies a write from a bus client.
func (b *busItem) SetValue(v dbus.Variant) (int32, *dbus.Error) {
	_, err := b.svc.dev.ExternalWrite(device.OriginDBus, b.path, unwrapValue(v))
	switch {
	case err == nil:
		return SetValueOK, nil
	case errors.Is(err, device.ErrNotWritable):
		return SetValueNotWritable, nil
	default:
		b.svc.logError("bus write rejected", err, "path", b.path)
		return SetValueRejected, nil
	}
}

// treeNode is the bus object for the root or an intermediate path element.
type treeNode struct {
	svc  *Service
	path string
}

// below returns the values under the node keyed by path relative to it.
func (t *treeNode) below() map[string]device.PathValue {
	prefix := t.path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	out := make(map[string]device.PathValue)
	for _, pv := range t.svc.dev.Values() {
		if strings.HasPrefix(pv.Path, prefix) {
			out[pv.Path[len(prefix):]] = pv
		}
	}
	return out
}

// GetValue returns a dictionary of every value below the node.
func (t *treeNode) GetValue() (dbus.Variant, *dbus.Error) {
	values := make(map[string]dbus.Variant)
	for rel, pv := range t.below() {
		values[rel] = wrapValue(pv.Value)
	}
	return dbus.MakeVariant(values), nil
}

// GetText returns a dictionary of every display text below the node.
func (t *treeNode) GetText() (dbus.Variant, *dbus.Error) {
	texts := make(map[string]string)
	for rel, pv := range t.below() {
		texts[rel] = pv.Text
	}
	return dbus.MakeVariant(texts), nil
}

// rootNode is the service root; it also lists every item with GetItems.
type rootNode struct {
	treeNode
}

// GetItems returns {path: {Value, Text}} for every item of the service.
func (r *rootNode) GetItems() (map[string]map[string]dbus.Variant, *dbus.Error) {
	items := make(map[string]map[string]dbus.Variant)
	for _, pv := range r.svc.dev.Values() {
		items[pv.Path] = itemProperties(pv)
	}
	return items, nil
}

// treeNodes returns "/" and every intermediate element of paths that is not
// itself an item, sorted.
func treeNodes(paths []string) []string {
	items := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		items[p] = struct{}{}
	}

	nodes := map[string]struct{}{"/": {}}
	for _, p := range paths {
		for i := 1; i < len(p); i++ {
			if p[i] != '/' {
				continue
			}
			prefix := p[:i]
			if _, isItem := items[prefix]; !isItem {
				nodes[prefix] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(nodes))
	for n := range nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// childNodes lists the direct children of node for introspection.
func childNodes(node string, paths, nodes []string) []introspect.Node {
	prefix := node
	if prefix != "/" {
		prefix += "/"
	}

	seen := make(map[string]struct{})
	for _, list := range [][]string{paths, nodes} {
		for _, p := range list {
			if p == node || !strings.HasPrefix(p, prefix) {
				continue
			}
			rest := p[len(prefix):]
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			seen[rest] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	children := make([]introspect.Node, 0, len(names))
	for _, n := range names {
		children = append(children, introspect.Node{Name: n})
	}
	return children
}

type objectKind int

const (
	kindItem objectKind = iota
	kindNode
	kindRoot
)

// busItemIntrospection describes the BusItem interface of one object kind.
func busItemIntrospection(kind objectKind) introspect.Interface {
	iface := introspect.Interface{
		Name: BusItemInterface,
		Methods: []introspect.Method{
			{Name: "GetValue", Args: []introspect.Arg{{Name: "value", Type: "v", Direction: "out"}}},
			{Name: "GetText", Args: []introspect.Arg{{Name: "text", Type: "v", Direction: "out"}}},
		},
	}

	switch kind {
	case kindItem:
		iface.Methods = append(iface.Methods, introspect.Method{
			Name: "SetValue",
			Args: []introspect.Arg{
				{Name: "value", Type: "v", Direction: "in"},
				{Name: "result", Type: "i", Direction: "out"},
			},
		})
		iface.Signals = []introspect.Signal{
			{Name: "PropertiesChanged", Args: []introspect.Arg{{Name: "changes", Type: "a{sv}"}}},
		}
	case kindRoot:
		iface.Methods = append(iface.Methods, introspect.Method{
			Name: "GetItems",
			Args: []introspect.Arg{{Name: "items", Type: "a{sa{sv}}", Direction: "out"}},
		})
		iface.Signals = []introspect.Signal{
			{Name: "ItemsChanged", Args: []introspect.Arg{{Name: "items", Type: "a{sa{sv}}"}}},
		}
	}
	return iface
}
