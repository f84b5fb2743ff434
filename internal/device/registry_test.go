package device

import (
	"errors"
	"testing"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/reading"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	d := newReferenceDevice(t, reading.NewCache())

	if err := r.Register(d); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}

	got, err := r.Get("com.victronenergy.pvinverter.MQTT1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != d {
		t.Error("Get() returned a different device")
	}

	if _, err := r.Get("com.victronenergy.pvinverter.nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_DuplicateService(t *testing.T) {
	r := NewRegistry()
	cache := reading.NewCache()

	if err := r.Register(newReferenceDevice(t, cache)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := r.Register(newReferenceDevice(t, cache))
	if !errors.Is(err, ErrDuplicateService) {
		t.Errorf("Register(duplicate) error = %v, want ErrDuplicateService", err)
	}
}

func TestRegistry_RefreshAllAndTopics(t *testing.T) {
	cache := reading.NewCache()
	r := NewRegistry()

	second := config.DeviceConfig{
		ServiceName:    "com.victronenergy.pvinverter.MQTT2",
		DeviceInstance: 11,
		ProductName:    "Second",
		Paths: []config.PathConfig{
			{Path: "/Ac/Power", Topic: "ESS/Second/production"},
			{Path: "/Ac/L1/Power", Topic: "ESS/Enphase/production"},
		},
	}
	d2, err := NewFromConfig(second, "mqttdbus", "1.0", "MQTT", cache)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}

	d1 := newReferenceDevice(t, cache)
	for _, d := range []*VirtualDevice{d1, d2} {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	topics := r.BoundTopics()
	if len(topics) != 5 {
		t.Errorf("BoundTopics() = %v, want 5 distinct topics", topics)
	}

	_ = cache.Put("ESS/Enphase/production", 800)
	// d1 has two paths on production, d2 one.
	if changed := r.Refresh(); changed != 3 {
		t.Errorf("Refresh() = %d changed, want 3", changed)
	}
	if changed := r.Refresh(); changed != 0 {
		t.Errorf("second Refresh() = %d changed, want 0", changed)
	}

	list := r.List()
	if len(list) != 2 || list[0] != d1 || list[1] != d2 {
		t.Errorf("List() not in registration order")
	}
}

func TestNewFromConfig_DefaultConnection(t *testing.T) {
	cfg := config.ReferenceDevice()

	d, err := NewFromConfig(cfg, "mqttdbus", "1.0", "MQTT broker:1883", reading.NewCache())
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if got := mustGet(t, d, PathConnection); got != "MQTT broker:1883" {
		t.Errorf("Connection = %v, want default", got)
	}

	cfg.Connection = "Enphase Envoy"
	d, err = NewFromConfig(cfg, "mqttdbus", "1.0", "MQTT broker:1883", reading.NewCache())
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if got := mustGet(t, d, PathConnection); got != "Enphase Envoy" {
		t.Errorf("Connection = %v, want configured value", got)
	}
}
