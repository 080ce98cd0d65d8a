package pricecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	calls atomic.Int32
	items []RetailPrice
	err   error
}

func (f *fakeSource) RetailPrices(ctx context.Context, meterID, currency string) ([]RetailPrice, error) {
	f.calls.Add(1)
	return f.items, f.err
}

func TestCache_UnitPrice(t *testing.T) {
	t.Run("matches meter and sku without slashes", func(t *testing.T) {
		src := &fakeSource{items: []RetailPrice{
			{MeterID: "m-1", SkuID: "DZH318Z0BQ4L/003B", RetailPrice: 0.5},
			{MeterID: "m-1", SkuID: "DZH318Z0BQ4L/003C", RetailPrice: 0.12},
		}}
		cache := New(src, nil)

		assert.Equal(t, 0.12, cache.UnitPrice(context.Background(), "m-1", "DZH318Z0BQ4L003C", "USD"))
		assert.Equal(t, 0.12, cache.UnitPrice(context.Background(), "m-1", "DZH318Z0BQ4L003C", "USD"))
		assert.Equal(t, int32(1), src.calls.Load())
	})

	t.Run("not found caches zero", func(t *testing.T) {
		src := &fakeSource{items: []RetailPrice{{MeterID: "other", SkuID: "x", RetailPrice: 1}}}
		cache := New(src, nil)

		assert.Zero(t, cache.UnitPrice(context.Background(), "m-1", "p-1", "USD"))
		assert.Zero(t, cache.UnitPrice(context.Background(), "m-1", "p-1", "USD"))
		assert.Equal(t, int32(1), src.calls.Load())
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("lookup error is not cached", func(t *testing.T) {
		src := &fakeSource{err: errors.New("503")}
		cache := New(src, nil)

		assert.Zero(t, cache.UnitPrice(context.Background(), "m-1", "p-1", "USD"))
		assert.Zero(t, cache.Len())

		src.err = nil
		src.items = []RetailPrice{{MeterID: "m-1", SkuID: "p-1", RetailPrice: 0.3}}
		assert.Equal(t, 0.3, cache.UnitPrice(context.Background(), "m-1", "p-1", "USD"))
		assert.Equal(t, 0.3, cache.UnitPrice(context.Background(), "m-1", "p-1", "USD"))
		assert.Equal(t, int32(2), src.calls.Load())
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("empty meter id skips lookup", func(t *testing.T) {
		src := &fakeSource{}
		cache := New(src, nil)

		assert.Zero(t, cache.UnitPrice(context.Background(), "", "p-1", "USD"))
		assert.Equal(t, int32(0), src.calls.Load())
	})

	t.Run("concurrent callers share one lookup per key", func(t *testing.T) {
		src := &fakeSource{items: []RetailPrice{{MeterID: "m-1", SkuID: "p/1", RetailPrice: 2}}}
		cache := New(src, nil)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.Equal(t, 2.0, cache.UnitPrice(context.Background(), "m-1", "p1", "USD"))
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), src.calls.Load())
	})
}
