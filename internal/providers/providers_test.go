package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/querycache/internal/query"
	"github.com/i474232898/querycache/internal/weather"
)

func TestIPAPIProvider(t *testing.T) {
	var gotPath, gotFields string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFields = r.URL.Query().Get("fields")
		_, _ = fmt.Fprint(w, `{"status":"success","lat":38.4237,"lon":27.1428,"city":"Izmir","country":"Turkey","query":"1.2.3.4"}`)
	}))
	defer srv.Close()

	p := NewIPAPIProvider(srv.Client(), srv.URL+"/json/", zap.NewNop())
	assert.Equal(t, "ipapi", p.Name())

	res, err := p.Fetch(context.Background(), query.Query{Key: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, "/json/1.2.3.4", gotPath)
	assert.Equal(t, "status,message,lat,lon,city,country,query", gotFields)
	assert.Equal(t, query.Result{
		"lat":     38.4237,
		"lon":     27.1428,
		"city":    "Izmir",
		"country": "Turkey",
		"ip":      "1.2.3.4",
	}, res)

	_, err = p.Fetch(context.Background(), query.Default())
	require.NoError(t, err)
	assert.Equal(t, "/json", gotPath)
}

func TestIPAPIProviderReportsFailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"status":"fail","message":"invalid query"}`)
	}))
	defer srv.Close()

	p := NewIPAPIProvider(srv.Client(), srv.URL, nil)
	_, err := p.Fetch(context.Background(), query.Query{Key: "not-an-ip"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query")
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewIPAPIProvider(srv.Client(), srv.URL, zap.NewNop())
	for i := 0; i < breakerTrips; i++ {
		_, err := p.Fetch(context.Background(), query.Default())
		require.ErrorIs(t, err, errServerError)
	}

	_, err := p.Fetch(context.Background(), query.Default())
	require.ErrorIs(t, err, errCircuitOpen)
	assert.Equal(t, int32(breakerTrips), hits.Load(), "open breaker must not reach upstream")
}

func TestDoRequestSingleAttemptOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewIPAPIProvider(srv.Client(), srv.URL, zap.NewNop())
	_, err := p.Fetch(context.Background(), query.Default())
	require.ErrorIs(t, err, errRateLimited)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDoRequestWithoutClient(t *testing.T) {
	p := NewIPAPIProvider(nil, "", zap.NewNop())
	_, err := p.Fetch(context.Background(), query.Default())
	require.ErrorIs(t, err, errNoHTTPClient)
}

func TestOpenWeatherProvider(t *testing.T) {
	var gotQ, gotLat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("q")
		gotLat = r.URL.Query().Get("lat")
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		_, _ = fmt.Fprint(w, `{
			"dt": 1700000000,
			"main": {"temp": 21.5, "humidity": 40, "pressure": 1012},
			"wind": {"speed": 3.2},
			"rain": {"3h": 1.5},
			"weather": [{"main": "Rain"}]
		}`)
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), "secret", "Izmir,TR", zap.NewNop())
	p.baseURL = srv.URL

	res, err := p.Fetch(context.Background(), query.Default())
	require.NoError(t, err)
	assert.Equal(t, "Izmir,TR", gotQ)
	assert.Equal(t, 21.5, res["temperature_c"])
	assert.Equal(t, 40.0, res["humidity_pct"])
	assert.Equal(t, 3.2, res["wind_speed_ms"])
	assert.Equal(t, 1012.0, res["pressure_hpa"])
	assert.Equal(t, 1.5, res["precip_mm"])
	assert.Equal(t, "rain", res["condition"])
	assert.Equal(t, time.Unix(1700000000, 0).UTC().Format(time.RFC3339), res["observed_at"])

	_, err = p.Fetch(context.Background(), query.Query{Key: "38.5,27.1"})
	require.NoError(t, err)
	assert.Equal(t, "38.500000", gotLat)
}

func TestOpenWeatherProviderRequiresKey(t *testing.T) {
	p := NewOpenWeatherProvider(http.DefaultClient, "", "Izmir,TR", nil)
	_, err := p.Fetch(context.Background(), query.Default())
	require.Error(t, err)
}

func TestWeatherAPIProvider(t *testing.T) {
	var gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("q")
		_, _ = fmt.Fprint(w, `{
			"current": {
				"last_updated_epoch": 1700000000,
				"temp_c": 18,
				"humidity": 70,
				"wind_kph": 36,
				"pressure_mb": 1008,
				"precip_mm": 0.4,
				"condition": {"text": "Patchy light drizzle"}
			}
		}`)
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(srv.Client(), "secret", "Izmir,TR", zap.NewNop())
	p.baseURL = srv.URL

	res, err := p.Fetch(context.Background(), query.Query{Key: " Berlin,DE "})
	require.NoError(t, err)
	assert.Equal(t, "Berlin,DE", gotQ)
	assert.Equal(t, 18.0, res["temperature_c"])
	assert.InDelta(t, 10.0, res["wind_speed_ms"], 1e-9)
	assert.Equal(t, "rain", res["condition"])
}

func TestOpenMeteoProvider(t *testing.T) {
	var gotLat, gotLon string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLat = r.URL.Query().Get("latitude")
		gotLon = r.URL.Query().Get("longitude")
		_, _ = fmt.Fprint(w, `{"current_weather":{"temperature":12.3,"windspeed":18,"time":"2024-01-02T03:00","weathercode":3}}`)
	}))
	defer srv.Close()

	p := NewOpenMeteoProvider(srv.Client(), nil, Coordinates{Lat: 38.4237, Lon: 27.1428}, zap.NewNop())
	p.baseURL = srv.URL

	res, err := p.Fetch(context.Background(), query.Default())
	require.NoError(t, err)
	assert.Equal(t, "38.423700", gotLat)
	assert.Equal(t, "27.142800", gotLon)
	assert.Equal(t, 12.3, res["temperature_c"])
	assert.InDelta(t, 5.0, res["wind_speed_ms"], 1e-9)
	assert.Equal(t, "cloudy", res["condition"])
	assert.Equal(t, "2024-01-02T03:00:00Z", res["observed_at"])

	_, err = p.Fetch(context.Background(), query.Query{Key: "Paris"})
	require.Error(t, err, "place names need a geocoder")
}

func TestOpenMeteoProviderUsesGeocoder(t *testing.T) {
	var gotLat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLat = r.URL.Query().Get("latitude")
		_, _ = fmt.Fprint(w, `{"current_weather":{"temperature":1,"windspeed":0,"time":"2024-01-02T03:00","weathercode":0}}`)
	}))
	defer srv.Close()

	g := stubGeocoder{coords: Coordinates{Lat: 48.85, Lon: 2.35}}
	p := NewOpenMeteoProvider(srv.Client(), g, Coordinates{}, zap.NewNop())
	p.baseURL = srv.URL

	res, err := p.Fetch(context.Background(), query.Query{Key: "Paris,FR"})
	require.NoError(t, err)
	assert.Equal(t, "48.850000", gotLat)
	assert.Equal(t, "clear", res["condition"])
	assert.Equal(t, 48.85, res["lat"])
}

func TestConditionMappers(t *testing.T) {
	assert.Equal(t, weather.ConditionStorm, mapOpenMeteoCondition(95))
	assert.Equal(t, weather.ConditionSnow, mapOpenMeteoCondition(73))
	assert.Equal(t, weather.ConditionMist, mapOpenMeteoCondition(45))
	assert.Equal(t, weather.ConditionUnknown, mapOpenMeteoCondition(-1))

	assert.Equal(t, weather.ConditionMist, mapOpenWeatherCondition("Haze"))
	assert.Equal(t, weather.ConditionUnknown, mapOpenWeatherCondition("Tornado"))

	assert.Equal(t, weather.ConditionStorm, mapWeatherAPICondition("Thundery outbreaks possible"))
	assert.Equal(t, weather.ConditionCloudy, mapWeatherAPICondition("Overcast"))
	assert.Equal(t, weather.ConditionClear, mapWeatherAPICondition("Sunny"))
	assert.Equal(t, weather.ConditionUnknown, mapWeatherAPICondition(""))
}

type stubGeocoder struct {
	coords Coordinates
	err    error
}

func (s stubGeocoder) Geocode(context.Context, string) (Coordinates, error) {
	return s.coords, s.err
}

func TestGeocoderProvider(t *testing.T) {
	p := NewGeocoderProvider(stubGeocoder{coords: Coordinates{Lat: 41.0, Lon: 29.0}}, "Izmir,TR")
	assert.Equal(t, "geocoder", p.Name())

	res, err := p.Fetch(context.Background(), query.Default())
	require.NoError(t, err)
	assert.Equal(t, query.Result{"lat": 41.0, "lon": 29.0, "place": "Izmir,TR"}, res)

	failing := NewGeocoderProvider(stubGeocoder{err: errors.New("zero results")}, "")
	_, err = failing.Fetch(context.Background(), query.Query{Key: "Atlantis"})
	require.Error(t, err)

	_, err = NewGeocoderProvider(nil, "x").Fetch(context.Background(), query.Default())
	require.Error(t, err)
}

func TestGoogleGeocoder(t *testing.T) {
	var got geocoder.Address
	g := &GoogleGeocoder{
		apiKey: "key",
		lookup: func(a geocoder.Address) (geocoder.Location, error) {
			got = a
			return geocoder.Location{Latitude: 38.42, Longitude: 27.14}, nil
		},
	}

	c, err := g.Geocode(context.Background(), " Izmir , TR ")
	require.NoError(t, err)
	assert.Equal(t, Coordinates{Lat: 38.42, Lon: 27.14}, c)
	assert.Equal(t, "Izmir", got.City)
	assert.Equal(t, "TR", got.Country)

	_, err = (&GoogleGeocoder{}).Geocode(context.Background(), "Izmir")
	require.ErrorIs(t, err, errNoGeocoderKey)
}

func TestNewGoogleGeocoderSetsProcessWideKey(t *testing.T) {
	prev := geocoder.ApiKey
	t.Cleanup(func() { geocoder.ApiKey = prev })

	first := NewGoogleGeocoder("key-one")
	assert.Equal(t, "key-one", geocoder.ApiKey)

	NewGoogleGeocoder("")
	assert.Equal(t, "key-one", geocoder.ApiKey, "an empty key keeps the current one")

	NewGoogleGeocoder("key-two")
	assert.Equal(t, "key-two", geocoder.ApiKey, "the last key wins for every instance")
	assert.Equal(t, "key-one", first.apiKey)
}

func TestGoogleGeocoderHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	g := &GoogleGeocoder{
		apiKey: "key",
		lookup: func(geocoder.Address) (geocoder.Location, error) {
			<-block
			return geocoder.Location{}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Geocode(ctx, "Izmir")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		in   string
		want Coordinates
		ok   bool
	}{
		{"38.4237,27.1428", Coordinates{38.4237, 27.1428}, true},
		{" -33.9 , 151.2 ", Coordinates{-33.9, 151.2}, true},
		{"91,0", Coordinates{}, false},
		{"0,181", Coordinates{}, false},
		{"Izmir,TR", Coordinates{}, false},
		{"38.4", Coordinates{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCoordinates(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildChain(t *testing.T) {
	deps := Deps{Fallback: query.Result{"lat": 38.4237, "lon": 27.1428}}

	chain, err := BuildChain([]string{"ipapi", " Geocoder "}, deps)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "ipapi", chain[0].Name())
	assert.Equal(t, "geocoder", chain[1].Name())
	assert.Equal(t, query.StaticName, chain[2].Name())
	_, terminal := chain[2].(query.Terminal)
	assert.True(t, terminal)

	chain, err = BuildChain([]string{"openweather", "weatherapi", "openmeteo", "static"}, deps)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	_, err = BuildChain([]string{"static", "ipapi"}, deps)
	require.Error(t, err)

	_, err = BuildChain([]string{"ipapi", "ipapi"}, deps)
	require.Error(t, err)

	_, err = BuildChain([]string{"darksky"}, deps)
	require.ErrorContains(t, err, "unknown provider")
}

func TestBuildChainRejectsEmptyFallback(t *testing.T) {
	_, err := BuildChain([]string{"ipapi"}, Deps{})
	require.ErrorContains(t, err, "non-empty fallback")

	_, err = BuildChain([]string{"ipapi", "static"}, Deps{Fallback: query.Result{}})
	require.Error(t, err)
}
