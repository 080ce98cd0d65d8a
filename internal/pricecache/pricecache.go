package pricecache

import (
	"context"
	"strings"
	"sync"

	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"golang.org/x/sync/singleflight"
)

// RetailPrice is one item of the public retail price list
type RetailPrice struct {
	MeterID       string  `json:"meterId"`
	SkuID         string  `json:"skuId"`
	ProductID     string  `json:"productId"`
	CurrencyCode  string  `json:"currencyCode"`
	RetailPrice   float64 `json:"retailPrice"`
	UnitPrice     float64 `json:"unitPrice"`
	UnitOfMeasure string  `json:"unitOfMeasure"`
	PriceType     string  `json:"type"`
}

// Source looks up consumption retail prices for a meter
type Source interface {
	RetailPrices(ctx context.Context, meterID, currency string) ([]RetailPrice, error)
}

// Cache memoizes unit prices per (meter, product) for one collection run.
// Prices a lookup did not find are stored as 0. Failed lookups are not
// stored, so the next record of that meter asks again.
type Cache struct {
	source Source
	logger *logger.Logger

	mu     sync.RWMutex
	prices map[string]float64
	group  singleflight.Group
}

// New creates an empty cache backed by source
func New(source Source, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Discard()
	}
	return &Cache{
		source: source,
		logger: log,
		prices: make(map[string]float64),
	}
}

func cacheKey(meterID, productID string) string {
	return meterID + ":" + productID
}

// UnitPrice returns the retail unit price for a meter and product, looking it
// up on first use. It never returns an error: lookup failures yield 0.
func (c *Cache) UnitPrice(ctx context.Context, meterID, productID, currency string) float64 {
	if meterID == "" {
		return 0
	}
	key := cacheKey(meterID, productID)

	c.mu.RLock()
	price, ok := c.prices[key]
	c.mu.RUnlock()
	if ok {
		return price
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.prices[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		price, err := c.lookup(ctx, meterID, productID, currency)
		if err != nil {
			return 0.0, err
		}

		c.mu.Lock()
		c.prices[key] = price
		c.mu.Unlock()
		return price, nil
	})
	return v.(float64)
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

func (c *Cache) lookup(ctx context.Context, meterID, productID, currency string) (float64, error) {
	if c.source == nil {
		return 0, nil
	}

	items, err := c.source.RetailPrices(ctx, meterID, currency)
	if err != nil {
		c.logger.Error("Failed to get retail price",
			"meter_id", meterID,
			"product_id", productID,
			"error", err)
		return 0, err
	}

	for _, item := range items {
		if item.MeterID == meterID && strings.ReplaceAll(item.SkuID, "/", "") == productID {
			return item.RetailPrice, nil
		}
	}

	c.logger.Debug("No retail price for meter",
		"meter_id", meterID,
		"product_id", productID,
		"candidates", len(items))
	return 0, nil
}
