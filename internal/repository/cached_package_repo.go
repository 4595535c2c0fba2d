package repository

import (
	"context"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
)

const (
	packageByIDKeyPrefix = "package:id:"
	activePackagesKey    = "package:active"
	packageCacheTTL      = 10 * time.Minute
)

// CachedPackageRepository wraps MongoPackageRepository with Redis caching.
// The catalog is read-mostly; every write invalidates the affected keys.
type CachedPackageRepository struct {
	mongo *MongoPackageRepository
	cache *RedisCacheRepository
}

// NewCachedPackageRepository creates a new cached package repository
func NewCachedPackageRepository(mongo *MongoPackageRepository, cache *RedisCacheRepository) *CachedPackageRepository {
	return &CachedPackageRepository{
		mongo: mongo,
		cache: cache,
	}
}

// GetByID retrieves a package with caching
func (r *CachedPackageRepository) GetByID(ctx context.Context, id string) (*domain.Package, error) {
	key := packageByIDKeyPrefix + id

	// Try cache first
	var pkg domain.Package
	if err := r.cache.Get(ctx, key, &pkg); err == nil {
		return &pkg, nil
	}

	// Cache miss - fetch from MongoDB
	result, err := r.mongo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Store in cache (ignore cache errors)
	_ = r.cache.Set(ctx, key, result, packageCacheTTL)

	return result, nil
}

// GetActivePackages lists the active catalog with caching
func (r *CachedPackageRepository) GetActivePackages(ctx context.Context) ([]*domain.Package, error) {
	var packages []*domain.Package
	if err := r.cache.Get(ctx, activePackagesKey, &packages); err == nil {
		return packages, nil
	}

	result, err := r.mongo.GetActivePackages(ctx)
	if err != nil {
		return nil, err
	}

	_ = r.cache.Set(ctx, activePackagesKey, result, packageCacheTTL)

	return result, nil
}

// Create creates a package and invalidates the catalog listing
func (r *CachedPackageRepository) Create(ctx context.Context, pkg *domain.Package) error {
	if err := r.mongo.Create(ctx, pkg); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, activePackagesKey)
	return nil
}

// Update updates a package and invalidates relevant caches
func (r *CachedPackageRepository) Update(ctx context.Context, pkg *domain.Package) error {
	if err := r.mongo.Update(ctx, pkg); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, packageByIDKeyPrefix+pkg.ID, activePackagesKey)
	return nil
}

// Deactivate deactivates a package and invalidates relevant caches
func (r *CachedPackageRepository) Deactivate(ctx context.Context, id string) error {
	if err := r.mongo.Deactivate(ctx, id); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, packageByIDKeyPrefix+id, activePackagesKey)
	return nil
}
