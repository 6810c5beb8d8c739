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

	"github.com/i474232898/querycache/internal/query"
	"github.com/i474232898/querycache/internal/weather"
)

// OpenWeatherProvider implements query.Provider for OpenWeatherMap.
type OpenWeatherProvider struct {
	name         string
	apiKey       string
	baseURL      string
	defaultPlace string
	client       *http.Client
	circuit      *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey, defaultPlace string, logger *zap.Logger) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:         "openweather",
		apiKey:       apiKey,
		baseURL:      "https://api.openweathermap.org/data/2.5/weather",
		defaultPlace: defaultPlace,
		client:       client,
		circuit:      newCircuitBreaker("openweather", logger),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, q query.Query) (query.Result, error) {
	if p.apiKey == "" {
		return nil, errors.New("openweather api key is not configured")
	}

	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")

	key := q.Text()
	if key == "" {
		key = p.defaultPlace
	}
	if c, ok := ParseCoordinates(key); ok {
		values.Set("lat", fmt.Sprintf("%f", c.Lat))
		values.Set("lon", fmt.Sprintf("%f", c.Lon))
	} else if key != "" {
		// city or city,country
		values.Set("q", key)
	} else {
		return nil, errors.New("openweather needs a place or coordinates")
	}

	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
			Pressure float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Rain struct {
			OneH   float64 `json:"1h"`
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
	}
	if err := getJSON(ctx, p.client, p.circuit, p.baseURL+"?"+values.Encode(), &payload); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	if payload.Dt > 0 {
		ts = time.Unix(payload.Dt, 0).UTC()
	}

	precip := payload.Rain.OneH
	if precip == 0 {
		precip = payload.Rain.ThreeH
	}

	var main string
	if len(payload.Weather) > 0 {
		main = payload.Weather[0].Main
	}

	return weather.Reading{
		Timestamp:    ts,
		TemperatureC: payload.Main.Temp,
		HumidityPct:  payload.Main.Humidity,
		WindSpeedMS:  payload.Wind.Speed,
		PressureHpa:  payload.Main.Pressure,
		PrecipMm:     precip,
		Condition:    mapOpenWeatherCondition(main),
	}.Result(), nil
}

func mapOpenWeatherCondition(main string) weather.Condition {
	switch main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
