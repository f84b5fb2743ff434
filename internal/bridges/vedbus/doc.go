// Package vedbus publishes virtual devices on D-Bus using the
// com.victronenergy.BusItem object conventions.
//
// One Service owns one bus connection and one well-known name such as
// com.victronenergy.pvinverter.MQTT1. Each device path becomes an object:
//
//	/                      GetValue, GetText, GetItems   (whole tree)
//	/Ac                    GetValue, GetText             (subtree)
//	/Ac/Power              GetValue, GetText, SetValue   (one item)
//
// # Values
//
// An unset value is published as an empty int32 array and shown as "---".
// Integers travel as int32 (int64 when out of range) and numbers with a
// fraction as double. A client may write the empty array to clear an item.
//
// # Writes
//
// SetValue returns 0 when the write was accepted (including a write of the
// current value), 1 when the item is read-only and 2 when the value was
// rejected.
//
// # Signals
//
// Every change, whether from a refresh cycle or a write, emits
// PropertiesChanged({Value, Text}) on the item and ItemsChanged on "/".
//
// # Usage
//
//	conn, err := vedbus.Connect(cfg.DBus.UseSessionBus())
//	if err != nil {
//	    return err
//	}
//	svc := vedbus.NewService(conn, dev)
//	svc.SetLogger(log)
//	if err := svc.Start(); err != nil {
//	    return err
//	}
//	defer svc.Close()
package vedbus
