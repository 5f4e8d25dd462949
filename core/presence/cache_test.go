package presence_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thebandlist/presenced/core/presence"
)

func TestCache(t *testing.T) {
	cache := presence.NewCache()

	_, found := cache.Get(101)
	assert.False(t, found)

	cache.Set(101, presence.StatusOnline)
	cache.Set(102, presence.StatusOffline)

	s, found := cache.Get(101)
	assert.True(t, found)
	assert.Equal(t, presence.StatusOnline, s)

	// offline is a value, distinct from not found
	s, found = cache.Get(102)
	assert.True(t, found)
	assert.Equal(t, presence.StatusOffline, s)

	cache.Set(101, presence.StatusIdle)
	s, _ = cache.Get(101)
	assert.Equal(t, presence.StatusIdle, s)
	assert.Equal(t, 2, cache.Len())
}

func TestCacheConcurrentWrites(t *testing.T) {
	cache := presence.NewCache()
	statuses := []presence.Status{presence.StatusOnline, presence.StatusIdle, presence.StatusDoNotDisturb, presence.StatusOffline}

	var wg sync.WaitGroup

	// each writer owns one id and finishes on a known status, while readers hammer all ids
	for w := 1; w <= 8; w++ {
		wg.Add(2)

		go func(id presence.UserID) {
			defer wg.Done()

			for i := 0; i < 1000; i++ {
				cache.Set(id, statuses[i%len(statuses)])
			}
			cache.Set(id, presence.StatusDoNotDisturb)
		}(presence.UserID(w))

		go func() {
			defer wg.Done()

			for i := 0; i < 1000; i++ {
				cache.Get(presence.UserID(i%8 + 1))
			}
		}()
	}

	wg.Wait()

	for w := 1; w <= 8; w++ {
		s, found := cache.Get(presence.UserID(w))
		assert.True(t, found)
		assert.Equal(t, presence.StatusDoNotDisturb, s)
	}
}
