package cache

import "time"

// Tier groups data by volatility.
type Tier int

const (
	TierShort Tier = iota
	TierMedium
	TierLong
	TierVeryLong
)

// TTLTiers holds the concrete lifetime of each tier.
type TTLTiers struct {
	Short    time.Duration
	Medium   time.Duration
	Long     time.Duration
	VeryLong time.Duration
}

func DefaultTTLTiers() TTLTiers {
	return TTLTiers{
		Short:    time.Minute,
		Medium:   10 * time.Minute,
		Long:     time.Hour,
		VeryLong: 24 * time.Hour,
	}
}

// Duration resolves a tier, falling back to the defaults for unset tiers.
func (t TTLTiers) Duration(tier Tier) time.Duration {
	def := DefaultTTLTiers()
	pick := func(v, fallback time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return fallback
	}
	switch tier {
	case TierShort:
		return pick(t.Short, def.Short)
	case TierLong:
		return pick(t.Long, def.Long)
	case TierVeryLong:
		return pick(t.VeryLong, def.VeryLong)
	default:
		return pick(t.Medium, def.Medium)
	}
}

// For returns the lifetime for a kind of data.
func (t TTLTiers) For(kind DataKind) time.Duration {
	return t.Duration(TierFor(kind))
}

// DataKind names a family of cached data.
type DataKind string

const (
	KindSearch      DataKind = "search"
	KindCatalogPage DataKind = "catalog_page"
	KindProduct     DataKind = "product"
	KindShop        DataKind = "shop"
	KindUserProfile DataKind = "user_profile"
	KindFeatured    DataKind = "featured"
	KindRecent      DataKind = "recent"
	KindPopular     DataKind = "popular"
	KindBestSellers DataKind = "bestsellers"
	KindCategories  DataKind = "categories"
)

// TierFor maps a data kind to its volatility tier.
func TierFor(kind DataKind) Tier {
	switch kind {
	case KindSearch:
		return TierShort
	case KindCatalogPage, KindProduct, KindShop, KindUserProfile:
		return TierMedium
	case KindFeatured, KindRecent, KindPopular, KindBestSellers:
		return TierLong
	case KindCategories:
		return TierVeryLong
	default:
		return TierMedium
	}
}
