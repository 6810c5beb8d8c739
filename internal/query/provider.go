package query

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Provider abstracts a source able to answer a Query (e.g. ip-api, Google
// geocoding, OpenWeatherMap, a static fallback).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Result, error)
}

// Terminal marks a provider that never fails. A provider chain is expected
// to end with one.
type Terminal interface {
	Provider
	Terminal()
}

// Store is the contract the cache (in-memory today) must satisfy.
type Store interface {
	Get(key string) (CachedEntry, error)
	Set(key string, entry CachedEntry)
}

// StaticName is the name reported by the static terminal provider.
const StaticName = "static"

// StaticProvider always answers with a fixed value.
type StaticProvider struct {
	value Result
}

// NewStaticProvider creates a terminal provider answering with value.
func NewStaticProvider(value Result) *StaticProvider {
	return &StaticProvider{value: value.Clone()}
}

func (p *StaticProvider) Name() string {
	return StaticName
}

// Fetch returns a copy of the fixed value regardless of q or ctx.
func (p *StaticProvider) Fetch(_ context.Context, _ Query) (Result, error) {
	return p.value.Clone(), nil
}

// Terminal implements Terminal.
func (p *StaticProvider) Terminal() {}

// ParseFallback parses "k=v,k=v" into a Result. Numeric values become
// float64, "true"/"false" become bool, everything else stays a string.
func ParseFallback(s string) (Result, error) {
	out := make(Result)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid fallback pair %q: want key=value", pair)
		}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("duplicate fallback field %q", k)
		}
		out[k] = parseScalar(strings.TrimSpace(v))
	}
	return out, nil
}

func parseScalar(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	// NaN and Inf are not representable in a JSON frame.
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return v
}
