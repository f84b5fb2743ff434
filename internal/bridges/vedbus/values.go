package vedbus

import (
	"math"
	"reflect"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/device"
)

// invalidValue is how an unset value travels on the bus: an empty int32 array.
var invalidValue = []int32{}

// wrapValue converts a path value into a bus variant.
//
// Integers are sent as int32 when they fit, otherwise int64. An unset value
// becomes an empty array, which clients treat as invalid.
func wrapValue(v any) dbus.Variant {
	switch val := v.(type) {
	case nil:
		return dbus.MakeVariant(invalidValue)
	case int:
		if val >= math.MinInt32 && val <= math.MaxInt32 {
			return dbus.MakeVariant(int32(val))
		}
		return dbus.MakeVariant(int64(val))
	case float64, string, bool:
		return dbus.MakeVariant(val)
	default:
		return dbus.MakeVariant(invalidValue)
	}
}

// unwrapValue converts an incoming variant into a value the device accepts.
// Any empty array means "set to invalid". Unsupported types pass through
// unchanged so the device rejects them with ErrInvalidValue.
func unwrapValue(v dbus.Variant) any {
	raw := v.Value()
	if raw == nil {
		return nil
	}
	if inner, ok := raw.(dbus.Variant); ok {
		return unwrapValue(inner)
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice && rv.Len() == 0 {
		return nil
	}
	return raw
}

// itemProperties builds the {Value, Text} dictionary used in signals and GetItems.
func itemProperties(pv device.PathValue) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Value": wrapValue(pv.Value),
		"Text":  dbus.MakeVariant(pv.Text),
	}
}
