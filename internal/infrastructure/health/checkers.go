package health

import (
	"context"

	"github.com/avatarctic/marketplace-core/internal/core/ports"
	infraDB "github.com/avatarctic/marketplace-core/internal/infrastructure/db"
)

// dbHealthChecker wraps the catalog database for health checks.
type dbHealthChecker struct{ db *infraDB.Database }

func (d *dbHealthChecker) Name() string                    { return "database" }
func (d *dbHealthChecker) Check(ctx context.Context) error { return d.db.Ping(ctx) }

// storeHealthChecker pings the shared store through the adapter, so an open breaker
// reports unhealthy without waiting on the network.
type storeHealthChecker struct{ store ports.KVStore }

func (r *storeHealthChecker) Name() string                    { return "redis" }
func (r *storeHealthChecker) Check(ctx context.Context) error { return r.store.Ping(ctx) }

// NewDBHealthChecker creates a health checker for the database.
func NewDBHealthChecker(db *infraDB.Database) ports.HealthChecker { return &dbHealthChecker{db: db} }

// NewStoreHealthChecker creates a health checker for the key-value store.
func NewStoreHealthChecker(store ports.KVStore) ports.HealthChecker {
	return &storeHealthChecker{store: store}
}
