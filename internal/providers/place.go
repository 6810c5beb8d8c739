package providers

import (
	"context"
	"errors"

	"github.com/i474232898/querycache/internal/query"
)

// GeocoderProvider answers place-name queries with coordinates.
type GeocoderProvider struct {
	name         string
	geocoder     Geocoder
	defaultPlace string
}

func NewGeocoderProvider(g Geocoder, defaultPlace string) *GeocoderProvider {
	return &GeocoderProvider{
		name:         "geocoder",
		geocoder:     g,
		defaultPlace: defaultPlace,
	}
}

func (p *GeocoderProvider) Name() string {
	return p.name
}

func (p *GeocoderProvider) Fetch(ctx context.Context, q query.Query) (query.Result, error) {
	if p.geocoder == nil {
		return nil, errors.New("geocoder is not configured")
	}

	place := q.Text()
	if place == "" {
		place = p.defaultPlace
	}
	if place == "" {
		return nil, errors.New("no place to geocode and no default place configured")
	}

	coords, err := p.geocoder.Geocode(ctx, place)
	if err != nil {
		return nil, err
	}

	return query.Result{
		"lat":   coords.Lat,
		"lon":   coords.Lon,
		"place": place,
	}, nil
}
