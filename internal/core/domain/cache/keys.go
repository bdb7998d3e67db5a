package cache

import (
	"net/url"
	"strconv"
	"strings"
)

// Key namespaces follow {domain}:{type}:{identifier}[:{qualifier}].
const (
	DomainProducts = "products"
	DomainShops    = "shops"
	DomainSearch   = "search"
	DomainUsers    = "users"
	DomainOrders   = "orders"
)

const (
	PopularProductsKey  = DomainProducts + ":popular"
	FeaturedProductsKey = DomainProducts + ":featured"
	RecentProductsKey   = DomainProducts + ":recent"
	BestSellersKey      = DomainProducts + ":bestsellers"
	CategoriesKey       = DomainProducts + ":categories"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// Key joins the parts of a key, escaping identifiers and qualifiers so that they can
// contain neither separators nor glob metacharacters.
func Key(domain, typ, identifier string, qualifiers ...string) string {
	parts := make([]string, 0, 3+len(qualifiers))
	parts = append(parts, domain, typ, escape(identifier))
	for _, q := range qualifiers {
		parts = append(parts, escape(q))
	}
	return strings.Join(parts, ":")
}

// Pattern matches every key under domain:type.
func Pattern(domain, typ string) string {
	return domain + ":" + typ + ":*"
}

// PrefixPattern matches every key that starts with prefix followed by a separator.
func PrefixPattern(prefix string) string {
	return strings.TrimSuffix(prefix, ":") + ":*"
}

func ProductKey(productID string) string {
	return Key(DomainProducts, "item", productID)
}

func ProductCatalogKey(category string) string {
	return Key(DomainProducts, "catalog", normalize(category))
}

func ShopKey(shopID string) string {
	return Key(DomainShops, "item", shopID)
}

func UserProfileKey(userID string) string {
	return Key(DomainUsers, "profile", userID)
}

// ProductQuery carries everything that changes the result of a product listing.
type ProductQuery struct {
	Page     int
	Limit    int
	Category string
	ShopID   string
	Search   string
	Sort     string
	MinPrice *float64
	MaxPrice *float64
	InStock  *bool
}

// ProductListKey returns a key that is identical for equivalent queries and distinct
// for any difference in pagination, filters or ordering.
func ProductListKey(q ProductQuery) string {
	return DomainProducts + ":list:" + q.canonical()
}

// ShopProductsKey is the listing key scoped to one shop so it can be invalidated alone.
func ShopProductsKey(shopID string, q ProductQuery) string {
	q.ShopID = ""
	return Key(DomainShops, "products", shopID) + ":" + q.canonical()
}

// SearchKey identifies a page of search results.
func SearchKey(term string, page, limit int) string {
	q := ProductQuery{Search: term, Page: page, Limit: limit}
	return DomainSearch + ":results:" + q.canonical()
}

func (q ProductQuery) canonical() string {
	v := url.Values{}
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	if c := normalize(q.Category); c != "" {
		v.Set("category", c)
	}
	if q.ShopID != "" {
		v.Set("shop", q.ShopID)
	}
	if s := normalize(q.Search); s != "" {
		v.Set("q", s)
	}
	if s := normalize(q.Sort); s != "" {
		v.Set("sort", s)
	}
	if q.MinPrice != nil {
		v.Set("min", strconv.FormatFloat(*q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice != nil {
		v.Set("max", strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64))
	}
	if q.InStock != nil {
		v.Set("in_stock", strconv.FormatBool(*q.InStock))
	}
	// Encode sorts by key and escapes glob metacharacters.
	return v.Encode()
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func escape(s string) string {
	return url.QueryEscape(s)
}
