package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
)

func TestProductCatalogKey_Namespace(t *testing.T) {
	require.Equal(t, "products:catalog:electronics", cache.ProductCatalogKey("Electronics"))
	require.Equal(t, "products:catalog:*", cache.Pattern(cache.DomainProducts, "catalog"))
}

func TestProductListKey_DistinctQueriesNeverCollide(t *testing.T) {
	min10 := 10.0
	queries := []cache.ProductQuery{
		{},
		{Page: 2},
		{Limit: 50},
		{Category: "books"},
		{Sort: "price_asc"},
		{Sort: "price_desc"},
		{MinPrice: &min10},
		{MaxPrice: &min10},
		{Search: "lamp"},
		{ShopID: "s1"},
	}
	seen := map[string]int{}
	for i, q := range queries {
		k := cache.ProductListKey(q)
		if prev, ok := seen[k]; ok {
			t.Fatalf("query %d collides with query %d: %s", i, prev, k)
		}
		seen[k] = i
	}
}

func TestProductListKey_EquivalentQueriesShareKey(t *testing.T) {
	a := cache.ProductListKey(cache.ProductQuery{Category: " Books ", Page: 0, Limit: 0})
	b := cache.ProductListKey(cache.ProductQuery{Category: "books", Page: 1, Limit: 20})
	assert.Equal(t, a, b)
}

func TestKey_EscapesGlobAndSeparators(t *testing.T) {
	k := cache.Key("session", "active", "user:*[1]")
	assert.Equal(t, "session:active:user%3A%2A%5B1%5D", k)
}

func TestTierFor(t *testing.T) {
	tiers := cache.DefaultTTLTiers()
	assert.Equal(t, tiers.Short, tiers.For(cache.KindSearch))
	assert.Equal(t, tiers.Medium, tiers.For(cache.KindCatalogPage))
	assert.Equal(t, tiers.Long, tiers.For(cache.KindBestSellers))
	assert.Equal(t, tiers.VeryLong, tiers.For(cache.KindCategories))

	var zero cache.TTLTiers
	assert.Equal(t, tiers.Long, zero.Duration(cache.TierLong))
}
