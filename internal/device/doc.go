// Package device provides the virtual devices published on the bus.
//
// A VirtualDevice is the bus-facing object representing one physical device
// (in the reference deployment, an Enphase PV inverter). Its schema is a
// fixed, ordered set of paths declared at construction. Some paths are bound
// to a feed topic and are refreshed from the reading cache; the rest hold
// their initial value until an external client writes them.
//
// # Architecture
//
//	┌───────────────┐  Refresh()   ┌──────────────────────────────┐
//	│   Publisher   │─────────────▶│          Registry            │
//	│ (publisher.go)│  every tick  │        (registry.go)         │
//	└───────────────┘              │  ┌────────────────────────┐  │
//	                               │  │     VirtualDevice      │  │
//	┌───────────────┐   Lookup()   │  │     (virtual.go)       │  │
//	│ reading.Cache │◀─────────────│  │ • path table           │  │
//	└───────────────┘              │  │ • refresh from cache   │  │
//	                               │  │ • external writes      │  │
//	                               │  └────────────────────────┘  │
//	                               └──────────────┬───────────────┘
//	                                              │ []Change
//	                                              ▼
//	                          D-Bus signals, WebSocket hub, audit trail
//
// # Refresh semantics
//
// A refresh copies a topic's reading into a bound path only when the cache
// holds a reading newer than the one last applied to that path. Absent
// topics leave the path untouched, so values never flap to empty before the
// first reading. An external write on a bound path therefore persists until
// the topic delivers a new reading.
//
// # Usage
//
//	cache := reading.NewCache()
//	dev, err := device.NewFromConfig(cfg.Devices[0], "mqttdbus", version, "MQTT 10.4.4.36:1883", cache)
//	if err != nil {
//	    return err
//	}
//	registry := device.NewRegistry()
//	if err := registry.Register(dev); err != nil {
//	    return err
//	}
//	pub := device.NewPublisher(registry, cfg.PublishInterval())
//	pub.Start(ctx)
//	defer pub.Stop()
package device
