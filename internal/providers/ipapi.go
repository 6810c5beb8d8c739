package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/querycache/internal/query"
)

// DefaultIPAPIURL is the public ip-api.com JSON endpoint.
const DefaultIPAPIURL = "http://ip-api.com/json"

// IPAPIProvider locates an IP address (or the caller, for the default
// query) using ip-api.com.
type IPAPIProvider struct {
	name    string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewIPAPIProvider(client *http.Client, baseURL string, logger *zap.Logger) *IPAPIProvider {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	return &IPAPIProvider{
		name:    "ipapi",
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		circuit: newCircuitBreaker("ipapi", logger),
	}
}

func (p *IPAPIProvider) Name() string {
	return p.name
}

func (p *IPAPIProvider) Fetch(ctx context.Context, q query.Query) (query.Result, error) {
	u := p.baseURL
	if !q.IsDefault() {
		u += "/" + url.PathEscape(q.Text())
	}
	u += "?fields=status,message,lat,lon,city,country,query"

	var payload struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		City    string  `json:"city"`
		Country string  `json:"country"`
		Query   string  `json:"query"`
	}
	if err := getJSON(ctx, p.client, p.circuit, u, &payload); err != nil {
		return nil, err
	}

	if payload.Status != "success" {
		msg := payload.Message
		if msg == "" {
			msg = "unknown failure"
		}
		return nil, fmt.Errorf("ipapi lookup failed: %s", msg)
	}

	return query.Result{
		"lat":     payload.Lat,
		"lon":     payload.Lon,
		"city":    payload.City,
		"country": payload.Country,
		"ip":      payload.Query,
	}, nil
}
