package vedbus

import (
	"math"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestWrapValue(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		wantSig string
		want    interface{}
	}{
		{"unset", nil, "ai", nil},
		{"small int", 5000, "i", int32(5000)},
		{"negative int", -1, "i", int32(-1)},
		{"large int", math.MaxInt32 + 1, "x", int64(math.MaxInt32 + 1)},
		{"double", 1234.5, "d", 1234.5},
		{"string", "Enphase", "s", "Enphase"},
		{"bool", true, "b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := wrapValue(tt.in)
			if v.Signature().String() != tt.wantSig {
				t.Errorf("signature = %s, want %s", v.Signature(), tt.wantSig)
			}
			if tt.want != nil && v.Value() != tt.want {
				t.Errorf("value = %v (%T), want %v (%T)", v.Value(), v.Value(), tt.want, tt.want)
			}
		})
	}
}

func TestUnwrapValue(t *testing.T) {
	tests := []struct {
		name string
		in   dbus.Variant
		want any
	}{
		{"int32", dbus.MakeVariant(int32(6000)), int32(6000)},
		{"double", dbus.MakeVariant(42.5), 42.5},
		{"string", dbus.MakeVariant("x"), "x"},
		{"empty int array", dbus.MakeVariant([]int32{}), nil},
		{"empty string array", dbus.MakeVariant([]string{}), nil},
		{"nested variant", dbus.MakeVariant(dbus.MakeVariant(int32(7))), int32(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unwrapValue(tt.in); got != tt.want {
				t.Errorf("unwrapValue() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}
