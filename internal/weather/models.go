package weather

import (
	"time"

	"github.com/i474232898/querycache/internal/query"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Reading is a single provider's normalized current-weather reading.
type Reading struct {
	Timestamp time.Time // always UTC

	TemperatureC float64
	HumidityPct  float64
	WindSpeedMS  float64
	PressureHpa  float64
	PrecipMm     float64
	Condition    Condition
}

// Result flattens the reading into the field -> scalar form served to
// clients.
func (r Reading) Result() query.Result {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	cond := r.Condition
	if cond == "" {
		cond = ConditionUnknown
	}
	return query.Result{
		"temperature_c": r.TemperatureC,
		"humidity_pct":  r.HumidityPct,
		"wind_speed_ms": r.WindSpeedMS,
		"pressure_hpa":  r.PressureHpa,
		"precip_mm":     r.PrecipMm,
		"condition":     string(cond),
		"observed_at":   ts.UTC().Format(time.RFC3339),
	}
}
