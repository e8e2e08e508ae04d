package poller

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mawinkler/astrolive/observatory"
)

// formatValue renders a device value as its wire payload: booleans become
// on/off, floats are rounded to three decimals with trailing zeros
// dropped, lists are comma-joined
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "on"
		}
		return "off"
	case float64:
		rounded := math.Round(v*1000) / 1000
		return strconv.FormatFloat(rounded, 'f', -1, 64)
	case string:
		return v
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// displayValue applies per-attribute enum mapping on top of the generic
// formatting: numeric camera states and sensor types are reported by name
func displayValue(kind observatory.Kind, attribute string, value any) string {
	if kind == observatory.KindCamera {
		switch attribute {
		case "camera_state":
			if name, ok := enumName(value, observatory.CameraStates); ok {
				return name
			}
		case "sensor_type":
			if name, ok := enumName(value, observatory.CameraSensorTypes); ok {
				return name
			}
		}
	}
	return formatValue(value)
}

// formatRA renders decimal hours as the "H M S" triplet FITS OBJCTRA
// headers use. Non-numeric input is assumed already sexagesimal and
// passed through.
func formatRA(raw string) string {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return raw
	}
	return sexagesimal(v, 24)
}

// formatDec renders decimal degrees as the signed "D M S" triplet FITS
// OBJCTDEC headers use
func formatDec(raw string) string {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return raw
	}
	sign := "+"
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + sexagesimal(v, 0)
}

// sexagesimal splits a non-negative value into whole units, minutes and
// seconds, rounding at the seconds so carries propagate upward; a
// modulus > 0 wraps the unit field (24 for right ascension)
func sexagesimal(v float64, modulus int) string {
	total := int(math.Round(v * 3600))
	units := total / 3600
	if modulus > 0 {
		units %= modulus
	}
	return fmt.Sprintf("%02d %02d %02d", units, total/60%60, total%60)
}

func enumName(value any, names []string) (string, bool) {
	v, ok := value.(float64)
	if !ok {
		return "", false
	}
	idx := int(v)
	if idx < 0 || idx >= len(names) || float64(idx) != v {
		return "", false
	}
	return names[idx], true
}
