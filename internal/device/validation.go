package device

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// pathElementRegex matches one element of a bus object path.
var pathElementRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidatePath checks that p is a usable object path for a published value.
// The root path "/" is reserved for the service tree and is rejected.
func ValidatePath(p string) error {
	if !strings.HasPrefix(p, "/") || p == "/" {
		return fmt.Errorf("%w: %q must start with / and name an item", ErrInvalidPath, p)
	}
	for _, elem := range strings.Split(p[1:], "/") {
		if !pathElementRegex.MatchString(elem) {
			return fmt.Errorf("%w: %q has invalid element %q", ErrInvalidPath, p, elem)
		}
	}
	return nil
}

// ValidateIdentity checks the fields every device service needs.
func ValidateIdentity(id Identity) error {
	if id.ServiceName == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalidIdentity)
	}
	if strings.HasPrefix(id.ServiceName, ".") || strings.HasSuffix(id.ServiceName, ".") ||
		!strings.Contains(id.ServiceName, ".") {
		return fmt.Errorf("%w: service name %q is not a dotted bus name", ErrInvalidIdentity, id.ServiceName)
	}
	if id.DeviceInstance < 0 {
		return fmt.Errorf("%w: device instance must not be negative", ErrInvalidIdentity)
	}
	return nil
}

// NormalizeValue converts v to one of the value types a path can hold:
// nil, bool, int, float64 or string.
//
// Integers of every width become int and float32 becomes float64, so values
// coming from YAML, JSON and the bus compare equal when they mean the same.
func NormalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, int, string:
		return val, nil
	case int8:
		return int(val), nil
	case int16:
		return int(val), nil
	case int32:
		return int(val), nil
	case int64:
		return int(val), nil
	case uint8:
		return int(val), nil
	case uint16:
		return int(val), nil
	case uint32:
		return int(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int", ErrInvalidValue, val)
		}
		return int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int", ErrInvalidValue, val)
		}
		return int(val), nil
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v is not finite", ErrInvalidValue, f)
	}
	return f, nil
}

// valuesEqual compares two normalised values. Numbers compare by value
// regardless of whether they are held as int or float64.
func valuesEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
