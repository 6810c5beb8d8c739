package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/i474232898/querycache/internal/query"
)

// Deps carries everything the concrete providers may need.
type Deps struct {
	HTTPClient        *http.Client
	Logger            *zap.Logger
	Geocoder          Geocoder
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	IPAPIURL          string
	DefaultPlace      string
	DefaultCoords     Coordinates
	// Fallback is the value served by the static terminal provider.
	Fallback query.Result
}

// Names lists every provider name BuildChain understands.
var Names = []string{"ipapi", "geocoder", "openweather", "weatherapi", "openmeteo", query.StaticName}

// BuildChain turns an ordered list of provider names into a provider chain.
// The static provider must be last; it is appended when missing.
func BuildChain(names []string, deps Deps) ([]query.Provider, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	// An empty value reads as a failed fetch, so the terminal provider could
	// never answer.
	if len(deps.Fallback) == 0 {
		return nil, errors.New("static provider needs a non-empty fallback value")
	}

	cleaned := make([]string, 0, len(names))
	for _, raw := range names {
		if name := strings.ToLower(strings.TrimSpace(raw)); name != "" {
			cleaned = append(cleaned, name)
		}
	}

	chain := make([]query.Provider, 0, len(cleaned)+1)
	seen := make(map[string]bool, len(cleaned))
	for i, name := range cleaned {
		if seen[name] {
			return nil, fmt.Errorf("provider %q listed twice", name)
		}
		seen[name] = true

		if name == query.StaticName && i != len(cleaned)-1 {
			return nil, fmt.Errorf("provider %q must be last in the chain", query.StaticName)
		}

		p, err := newProvider(name, deps)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}

	if !seen[query.StaticName] {
		chain = append(chain, query.NewStaticProvider(deps.Fallback))
	}
	return chain, nil
}

func newProvider(name string, deps Deps) (query.Provider, error) {
	switch name {
	case "ipapi":
		return NewIPAPIProvider(deps.HTTPClient, deps.IPAPIURL, deps.Logger), nil
	case "geocoder":
		return NewGeocoderProvider(deps.Geocoder, deps.DefaultPlace), nil
	case "openweather":
		return NewOpenWeatherProvider(deps.HTTPClient, deps.OpenWeatherAPIKey, deps.DefaultPlace, deps.Logger), nil
	case "weatherapi":
		return NewWeatherAPIProvider(deps.HTTPClient, deps.WeatherAPIKey, deps.DefaultPlace, deps.Logger), nil
	case "openmeteo":
		return NewOpenMeteoProvider(deps.HTTPClient, deps.Geocoder, deps.DefaultCoords, deps.Logger), nil
	case query.StaticName:
		return query.NewStaticProvider(deps.Fallback), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(Names, ", "))
	}
}
