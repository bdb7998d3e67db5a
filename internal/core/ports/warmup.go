package ports

import (
	"context"

	"github.com/avatarctic/marketplace-core/internal/core/domain/cache"
	"github.com/avatarctic/marketplace-core/internal/core/domain/catalog"
)

// CatalogSource is the source of truth queried by cache warmup.
type CatalogSource interface {
	PopularProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error)
	FeaturedProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error)
	RecentProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error)
	BestSellers(ctx context.Context, limit int) ([]catalog.ProductSummary, error)
	Categories(ctx context.Context) ([]catalog.CategorySummary, error)
}

// CacheWarmer keeps frequently read aggregates populated.
type CacheWarmer interface {
	WarmAll(ctx context.Context) map[string]error
	WarmDataset(ctx context.Context, name string) error
	Datasets() []cache.DatasetStatus
}
