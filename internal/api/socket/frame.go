package socketapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/i474232898/querycache/internal/query"
)

// Reasons reported in failed responses.
const (
	ReasonNotAvailable = "not yet available"
	reasonMalformed    = "malformed request"
)

// ErrMalformedRequest marks a frame that could not be parsed. It only
// affects the connection it arrived on.
var ErrMalformedRequest = errors.New(reasonMalformed)

var validate = validator.New()

// Request is the single request frame the daemon understands.
type Request struct {
	Query string `json:"query,omitempty" validate:"max=256"`
}

// Response is written back as one JSON line. Successful responses carry
// Value, Source, FetchedAt and Stale; failed ones carry Reason.
type Response struct {
	OK        bool         `json:"ok"`
	Value     query.Result `json:"value,omitempty"`
	Source    string       `json:"source,omitempty"`
	FetchedAt *time.Time   `json:"fetched_at,omitempty"`
	Stale     *bool        `json:"stale,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// toQuery returns the query the request asks for.
func (r Request) toQuery() query.Query {
	return query.Query{Key: r.Query}
}

// decodeRequest parses one frame. A blank frame asks for the default
// target; anything else must be a single JSON object.
func decodeRequest(frame []byte) (Request, error) {
	var req Request
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return req, nil
	}
	if frame[0] != '{' {
		return Request{}, fmt.Errorf("%w: request must be a JSON object", ErrMalformedRequest)
	}

	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if dec.More() {
		return Request{}, fmt.Errorf("%w: trailing data after request", ErrMalformedRequest)
	}
	if err := validate.Struct(req); err != nil {
		return Request{}, fmt.Errorf("%w: query longer than 256 characters", ErrMalformedRequest)
	}
	return req, nil
}

func okResponse(entry query.CachedEntry, now time.Time, interval time.Duration) Response {
	fetched := entry.FetchedAt.UTC()
	stale := entry.IsStale(now, interval)
	return Response{
		OK:        true,
		Value:     entry.Value,
		Source:    entry.Source,
		FetchedAt: &fetched,
		Stale:     &stale,
	}
}

func failResponse(reason string) Response {
	return Response{OK: false, Reason: reason}
}
