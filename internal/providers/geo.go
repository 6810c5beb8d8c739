package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kelvins/geocoder"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lon float64
}

// ParseCoordinates parses "lat,lon". ok is false when s is not a valid
// coordinate pair.
func ParseCoordinates(s string) (Coordinates, bool) {
	latStr, lonStr, found := strings.Cut(s, ",")
	if !found {
		return Coordinates{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return Coordinates{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil || lon < -180 || lon > 180 {
		return Coordinates{}, false
	}
	return Coordinates{Lat: lat, Lon: lon}, true
}

// Geocoder resolves a free-form place name to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, place string) (Coordinates, error)
}

var errNoGeocoderKey = errors.New("google geocoder api key is not configured")

// GoogleGeocoder forwards place names to the Google Geocoding API.
type GoogleGeocoder struct {
	apiKey string
	lookup func(geocoder.Address) (geocoder.Location, error)
}

// NewGoogleGeocoder creates a geocoder using apiKey. The library keeps its
// key in a package variable, so only one API key per process is supported:
// a later call with a different key replaces it for every GoogleGeocoder.
// An empty apiKey leaves the current key untouched.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	if apiKey != "" {
		geocoder.ApiKey = apiKey
	}
	return &GoogleGeocoder{
		apiKey: apiKey,
		lookup: geocoder.Geocoding,
	}
}

// Geocode resolves place, given as "city" or "city,country".
func (g *GoogleGeocoder) Geocode(ctx context.Context, place string) (Coordinates, error) {
	if g.apiKey == "" {
		return Coordinates{}, errNoGeocoderKey
	}
	addr := placeAddress(place)
	if addr.City == "" {
		return Coordinates{}, fmt.Errorf("empty place name")
	}

	type answer struct {
		loc geocoder.Location
		err error
	}
	// The library call takes no context; run it aside so cancellation
	// still returns promptly.
	ch := make(chan answer, 1)
	go func() {
		loc, err := g.lookup(addr)
		ch <- answer{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return Coordinates{}, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return Coordinates{}, fmt.Errorf("geocode %q: %w", place, a.err)
		}
		return Coordinates{Lat: a.loc.Latitude, Lon: a.loc.Longitude}, nil
	}
}

func placeAddress(place string) geocoder.Address {
	city, country, _ := strings.Cut(place, ",")
	return geocoder.Address{
		City:    strings.TrimSpace(city),
		Country: strings.TrimSpace(country),
	}
}
