package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStoreClamps(t *testing.T) {
	s := NewStore(Config{TargetRate: 0, PoolMinSize: -3, PoolMaxSize: 0})
	assert.Equal(t, Config{TargetRate: 1, PoolMinSize: 1, PoolMaxSize: 1}, s.Get())
}

func TestSetRateClamps(t *testing.T) {
	s := NewStore(Config{TargetRate: 10, PoolMinSize: 5, PoolMaxSize: 5})

	old, updated := s.SetRate(25)
	assert.Equal(t, 10, old)
	assert.Equal(t, 25, updated)

	old, updated = s.SetRate(-4)
	assert.Equal(t, 25, old)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, s.Rate())
}

func TestSetPoolBoundsRoundTrip(t *testing.T) {
	s := NewStore(Config{TargetRate: 10, PoolMinSize: 1, PoolMaxSize: 1})

	for min := 1; min <= 6; min++ {
		for max := min; max <= 8; max++ {
			s.SetPoolBounds(min, max)
			cfg := s.Get()
			assert.Equal(t, min, cfg.PoolMinSize)
			assert.Equal(t, max, cfg.PoolMaxSize)
		}
	}
}

func TestSetPoolBoundsChanged(t *testing.T) {
	s := NewStore(Config{TargetRate: 10, PoolMinSize: 5, PoolMaxSize: 5})

	old, updated, changed := s.SetPoolBounds(10, 10)
	assert.True(t, changed)
	assert.Equal(t, 5, old.PoolMaxSize)
	assert.Equal(t, 10, updated.PoolMaxSize)

	_, _, changed = s.SetPoolBounds(10, 10)
	assert.False(t, changed)

	// max below min is raised to min, which equals the current bounds
	_, _, changed = s.SetPoolBounds(10, 3)
	assert.False(t, changed)
}

func TestStoreSnapshotNeverTorn(t *testing.T) {
	s := NewStore(Config{TargetRate: 10, PoolMinSize: 1, PoolMaxSize: 1})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			n := i%50 + 1
			s.SetPoolBounds(n, n)
		}
	}()

	for i := 0; i < 10000; i++ {
		cfg := s.Get()
		if cfg.PoolMinSize != cfg.PoolMaxSize {
			t.Fatalf("torn snapshot: %+v", cfg)
		}
	}
	close(stop)
	wg.Wait()
}
