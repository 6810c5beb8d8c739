package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/querycache/internal/common"
	"github.com/i474232898/querycache/internal/query"
	"github.com/i474232898/querycache/internal/weather"
)

// WeatherAPIProvider implements query.Provider for WeatherAPI.com.
type WeatherAPIProvider struct {
	name         string
	apiKey       string
	baseURL      string
	defaultPlace string
	client       *http.Client
	circuit      *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey, defaultPlace string, logger *zap.Logger) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:         "weatherapi",
		apiKey:       apiKey,
		baseURL:      "https://api.weatherapi.com/v1/current.json",
		defaultPlace: defaultPlace,
		client:       client,
		circuit:      newCircuitBreaker("weatherapi", logger),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, q query.Query) (query.Result, error) {
	if p.apiKey == "" {
		return nil, errors.New("weatherapi api key is not configured")
	}

	key := q.Text()
	if key == "" {
		key = p.defaultPlace
	}
	if key == "" {
		return nil, errors.New("weatherapi needs a place or coordinates")
	}

	values := url.Values{}
	values.Set("key", p.apiKey)
	// WeatherAPI uses "q" for location; it accepts "city,country" or "lat,lon".
	if c, ok := ParseCoordinates(key); ok {
		values.Set("q", fmt.Sprintf("%f,%f", c.Lat, c.Lon))
	} else {
		values.Set("q", key)
	}

	var payload struct {
		Location struct {
			LocaltimeEpoch int64 `json:"localtime_epoch"`
		} `json:"location"`
		Current struct {
			LastUpdatedEpoch int64   `json:"last_updated_epoch"`
			TempC            float64 `json:"temp_c"`
			Humidity         float64 `json:"humidity"`
			WindKph          float64 `json:"wind_kph"`
			PressureMb       float64 `json:"pressure_mb"`
			PrecipMm         float64 `json:"precip_mm"`
			Condition        struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}
	if err := getJSON(ctx, p.client, p.circuit, p.baseURL+"?"+values.Encode(), &payload); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	switch {
	case payload.Current.LastUpdatedEpoch > 0:
		ts = time.Unix(payload.Current.LastUpdatedEpoch, 0).UTC()
	case payload.Location.LocaltimeEpoch > 0:
		ts = time.Unix(payload.Location.LocaltimeEpoch, 0).UTC()
	}

	return weather.Reading{
		Timestamp:    ts,
		TemperatureC: payload.Current.TempC,
		HumidityPct:  payload.Current.Humidity,
		WindSpeedMS:  payload.Current.WindKph / 3.6,
		PressureHpa:  payload.Current.PressureMb,
		PrecipMm:     payload.Current.PrecipMm,
		Condition:    mapWeatherAPICondition(payload.Current.Condition.Text),
	}.Result(), nil
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.HasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.HasAny(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case common.HasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.HasAny(text, "mist", "fog"):
		return weather.ConditionMist
	case common.HasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.HasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
