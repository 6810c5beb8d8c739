package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/querycache/internal/query"
)

func TestGetAbsent(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetReplacesEntry(t *testing.T) {
	s := NewMemoryStore()
	first := query.CachedEntry{Value: query.Result{"lat": 1.0}, Source: "ipapi", FetchedAt: time.Now()}
	second := query.CachedEntry{Value: query.Result{"lat": 2.0}, Source: "static", FetchedAt: time.Now()}

	s.Set("izmir", first)
	s.Set("izmir", second)

	got, err := s.Get("izmir")
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.Equal(t, []string{"izmir"}, s.Keys())
}

func TestSetAndGetDoNotAlias(t *testing.T) {
	s := NewMemoryStore()
	v := query.Result{"lat": 1.0}
	s.Set("k", query.CachedEntry{Value: v, Source: "a"})

	v["lat"] = 99.0
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Value["lat"])

	got.Value["lat"] = 42.0
	again, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Value["lat"])
}

// TestConcurrentGetSeesWholeEntries checks that readers racing a writer
// only ever observe entries that were written as a whole.
func TestConcurrentGetSeesWholeEntries(t *testing.T) {
	s := NewMemoryStore()
	entry := func(i int) query.CachedEntry {
		return query.CachedEntry{
			Value: query.Result{
				"gen": float64(i),
				"lat": float64(i) * 10,
				"tag": fmt.Sprintf("gen-%d", i),
			},
			Source:    fmt.Sprintf("provider-%d", i),
			FetchedAt: time.Unix(int64(i), 0),
		}
	}
	s.Set("", entry(0))

	const writes = 2000
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 1; i <= writes; i++ {
			s.Set("", entry(i))
		}
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := s.Get("")
				if !assert.NoError(t, err) {
					return
				}
				i := int(got.Value["gen"].(float64))
				if !assert.Equal(t, entry(i), got) {
					return
				}
			}
		}()
	}

	wg.Wait()
	last, err := s.Get("")
	require.NoError(t, err)
	assert.Equal(t, entry(writes), last)
}
