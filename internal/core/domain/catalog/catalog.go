package catalog

import "time"

// ProductSummary is the denormalized listing row used for warm aggregates.
type ProductSummary struct {
	ID        string    `json:"id" db:"id"`
	ShopID    string    `json:"shop_id" db:"shop_id"`
	Name      string    `json:"name" db:"name"`
	Category  string    `json:"category" db:"category"`
	Price     float64   `json:"price" db:"price"`
	Rating    float64   `json:"rating" db:"rating"`
	Views     int64     `json:"views" db:"views"`
	Sold      int64     `json:"sold" db:"sold"`
	Featured  bool      `json:"featured" db:"featured"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CategorySummary counts active products per category.
type CategorySummary struct {
	Name         string `json:"name" db:"name"`
	ProductCount int64  `json:"product_count" db:"product_count"`
}
