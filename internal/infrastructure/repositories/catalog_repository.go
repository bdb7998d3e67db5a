package repositories

import (
	"context"
	"fmt"

	"github.com/avatarctic/marketplace-core/internal/core/domain/catalog"
	"github.com/avatarctic/marketplace-core/internal/core/ports"
	"github.com/avatarctic/marketplace-core/internal/infrastructure/db"
)

const productColumns = `id, shop_id, name, category, price, rating, views, sold, featured, created_at`

// CatalogRepository reads warmup aggregates from the catalog read model.
type CatalogRepository struct {
	db *db.Database
}

func NewCatalogRepository(database *db.Database) ports.CatalogSource {
	return &CatalogRepository{db: database}
}

func (r *CatalogRepository) PopularProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error) {
	return r.products(ctx, "popular products",
		`SELECT `+productColumns+` FROM catalog_products WHERE active ORDER BY views DESC, id LIMIT $1`, limit)
}

func (r *CatalogRepository) FeaturedProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error) {
	return r.products(ctx, "featured products",
		`SELECT `+productColumns+` FROM catalog_products WHERE active AND featured ORDER BY rating DESC, id LIMIT $1`, limit)
}

func (r *CatalogRepository) RecentProducts(ctx context.Context, limit int) ([]catalog.ProductSummary, error) {
	return r.products(ctx, "recent products",
		`SELECT `+productColumns+` FROM catalog_products WHERE active ORDER BY created_at DESC, id LIMIT $1`, limit)
}

func (r *CatalogRepository) BestSellers(ctx context.Context, limit int) ([]catalog.ProductSummary, error) {
	return r.products(ctx, "best sellers",
		`SELECT `+productColumns+` FROM catalog_products WHERE active ORDER BY sold DESC, id LIMIT $1`, limit)
}

func (r *CatalogRepository) Categories(ctx context.Context) ([]catalog.CategorySummary, error) {
	var out []catalog.CategorySummary
	query := `
		SELECT category AS name, COUNT(*) AS product_count
		FROM catalog_products
		WHERE active
		GROUP BY category
		ORDER BY product_count DESC, name`
	if err := r.db.DB.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return out, nil
}

func (r *CatalogRepository) products(ctx context.Context, what, query string, limit int) ([]catalog.ProductSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []catalog.ProductSummary
	if err := r.db.DB.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	return out, nil
}
