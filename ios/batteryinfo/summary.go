package batteryinfo

import (
	"math"

	"github.com/batterymanager/batteryinfo/ios/diagnostics"
	"github.com/spf13/cast"
)

// BatterySummary is the condensed battery state derived from a diagnostics document.
type BatterySummary struct {
	Source                string  `json:"Source"`
	CycleCount            int64   `json:"CycleCount"`
	DesignCapacity        int64   `json:"DesignCapacity"`
	FullChargeCapacity    int64   `json:"FullChargeCapacity"`
	NominalChargeCapacity int64   `json:"NominalChargeCapacity"`
	CurrentCapacity       int64   `json:"CurrentCapacity"`
	Voltage               float64 `json:"VoltageV"`
	Temperature           float64 `json:"TemperatureC"`
	InstantAmperage       float64 `json:"InstantAmperageA"`
	Power                 float64 `json:"PowerW"`
	IsCharging            bool    `json:"IsCharging"`
	FullyCharged          bool    `json:"FullyCharged"`
	ExternalConnected     bool    `json:"ExternalConnected"`
	HealthPercent         float64 `json:"HealthPercent"`
	Health                string  `json:"Health"`
}

// sub-trees searched for battery values, before the document root
var summarySources = []string{"GasGauge", "IORegistry"}

// Summarize extracts a BatterySummary from doc. Values are read from the GasGauge
// dictionary, else the IORegistry dictionary, else the document root. Missing or
// malformed values are left at zero.
func Summarize(doc diagnostics.Document) BatterySummary {
	source, values := summarySource(doc)
	s := BatterySummary{Source: source}

	s.CycleCount = intValue(values, "CycleCount")
	s.DesignCapacity = intValue(values, "DesignCapacity")
	s.FullChargeCapacity = intValue(values, "AppleRawMaxCapacity", "FullChargeCapacity")
	s.NominalChargeCapacity = intValue(values, "NominalChargeCapacity")
	s.CurrentCapacity = intValue(values, "AppleRawCurrentCapacity", "CurrentCapacity")
	s.Voltage = float64(intValue(values, "Voltage")) / 1000
	s.Temperature = float64(intValue(values, "Temperature")) / 100
	s.InstantAmperage = float64(signed16(intValue(values, "InstantAmperage"))) / 1000
	s.Power = finite(s.Voltage * s.InstantAmperage)
	s.IsCharging = boolValue(values, "IsCharging")
	s.FullyCharged = boolValue(values, "FullyCharged")
	s.ExternalConnected = boolValue(values, "ExternalConnected")
	s.HealthPercent = HealthPercent(s.FullChargeCapacity, s.DesignCapacity)
	s.Health = HealthLabel(s.HealthPercent)
	return s
}

// HealthPercent is fullCharge relative to design capacity, clamped to 0..100.
func HealthPercent(fullCharge, design int64) float64 {
	if design <= 0 || fullCharge < 0 {
		return 0
	}
	p := finite(float64(fullCharge) / float64(design) * 100)
	return math.Min(math.Max(p, 0), 100)
}

// HealthLabel names a health percentage.
func HealthLabel(percent float64) string {
	switch {
	case percent >= 100:
		return "Brand New"
	case percent >= 90:
		return "Excellent"
	case percent >= 80:
		return "Good"
	case percent >= 70:
		return "Fair"
	case percent >= 50:
		return "Poor"
	default:
		return "Very Poor"
	}
}

func summarySource(doc diagnostics.Document) (string, map[string]interface{}) {
	for _, name := range summarySources {
		if sub, ok := doc[name].(map[string]interface{}); ok && len(sub) > 0 {
			return name, sub
		}
	}
	return "root", doc
}

// intValue returns the first of keys that holds a number. Plist integers arrive as
// uint64, negative values wrap around.
func intValue(values map[string]interface{}, keys ...string) int64 {
	for _, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		if u, ok := raw.(uint64); ok {
			return int64(u)
		}
		v, err := cast.ToInt64E(raw)
		if err == nil {
			return v
		}
	}
	return 0
}

func boolValue(values map[string]interface{}, key string) bool {
	raw, ok := values[key]
	if !ok {
		return false
	}
	return cast.ToBool(raw)
}

// signed16 reads gauges that report current as an unsigned 16 bit value.
func signed16(v int64) int64 {
	if v > math.MaxInt16 && v <= math.MaxUint16 {
		return v - (math.MaxUint16 + 1)
	}
	return v
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
