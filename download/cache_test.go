package download

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyedByURLAndMode(t *testing.T) {
	cache := newResponseCache(time.Minute)
	var fetches atomic.Int64
	fetch := func() ([]byte, error) {
		fetches.Add(1)
		return []byte("body"), nil
	}

	_, _, cached := cache.get("https://example.org/a", ModeRaw, fetch)
	assert.False(t, cached)
	_, _, cached = cache.get("https://example.org/a", ModeRaw, fetch)
	assert.True(t, cached)

	// The translated response of the same URL is a different entry.
	_, _, cached = cache.get("https://example.org/a", ModeTranslated, fetch)
	assert.False(t, cached)

	assert.EqualValues(t, 2, fetches.Load())
	assert.EqualValues(t, 1, cache.Hits())
}

func TestCacheExpiry(t *testing.T) {
	cache := newResponseCache(10 * time.Millisecond)
	var fetches atomic.Int64
	fetch := func() ([]byte, error) {
		fetches.Add(1)
		return []byte("body"), nil
	}

	cache.get("https://example.org/a", ModeRaw, fetch)
	time.Sleep(25 * time.Millisecond)
	_, _, cached := cache.get("https://example.org/a", ModeRaw, fetch)
	assert.False(t, cached)
	assert.EqualValues(t, 2, fetches.Load())
}

func TestCacheRemembersErrors(t *testing.T) {
	cache := newResponseCache(time.Minute)
	fetchErr := errors.New("boom")
	var fetches atomic.Int64
	fetch := func() ([]byte, error) {
		fetches.Add(1)
		return nil, fetchErr
	}

	_, err, _ := cache.get("https://example.org/a", ModeRaw, fetch)
	require.ErrorIs(t, err, fetchErr)
	_, err, cached := cache.get("https://example.org/a", ModeRaw, fetch)
	require.ErrorIs(t, err, fetchErr)
	assert.True(t, cached)
	assert.EqualValues(t, 1, fetches.Load())
}

func TestCacheCoalescesConcurrentFetches(t *testing.T) {
	cache := newResponseCache(time.Minute)
	var fetches atomic.Int64
	gate := make(chan struct{})
	fetch := func() ([]byte, error) {
		fetches.Add(1)
		<-gate
		return []byte("body"), nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err, _ := cache.get("https://example.org/a", ModeRaw, fetch)
			assert.NoError(t, err)
			assert.Equal(t, []byte("body"), body)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, fetches.Load(), "concurrent requests must share one fetch")
	assert.EqualValues(t, waiters-1, cache.Hits())
}
