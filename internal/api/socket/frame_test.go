package socketapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	tests := map[string]struct {
		frame     string
		want      Request
		malformed bool
	}{
		"blank":            {frame: "  \t", want: Request{}},
		"empty object":     {frame: "{}", want: Request{}},
		"query":            {frame: ` {"query":"Izmir,TR"} `, want: Request{Query: "Izmir,TR"}},
		"null":             {frame: "null", malformed: true},
		"padded null":      {frame: "  null  ", malformed: true},
		"array":            {frame: `[{"query":"x"}]`, malformed: true},
		"string":           {frame: `"Izmir,TR"`, malformed: true},
		"number":           {frame: "42", malformed: true},
		"unknown field":    {frame: `{"q":"x"}`, malformed: true},
		"two objects":      {frame: `{} {}`, malformed: true},
		"truncated object": {frame: `{"query":`, malformed: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req, err := decodeRequest([]byte(tt.frame))
			if tt.malformed {
				require.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req)
		})
	}
}
