package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoPackageRepository implements domain.PackageRepository
type MongoPackageRepository struct {
	collection *mongo.Collection
}

// NewMongoPackageRepository creates a new package repository
// Note: No index creation, packages are looked up by _id only
func NewMongoPackageRepository(db *mongo.Database) *MongoPackageRepository {
	coll := db.Collection("packages")
	return &MongoPackageRepository{
		collection: coll,
	}
}

func (r *MongoPackageRepository) Create(ctx context.Context, pkg *domain.Package) error {
	now := time.Now().UTC()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now
	if pkg.Features == nil {
		pkg.Features = []string{}
	}

	doc := bson.M{
		"_id":               pkg.ID, // Using string ID (e.g., "pkg_premium_90")
		"name":              pkg.Name,
		"description":       pkg.Description,
		"type":              string(pkg.Type),
		"price":             pkg.Price,
		"base_amount":       pkg.BaseAmount,
		"currency":          pkg.Currency,
		"duration_days":     pkg.DurationDays,
		"features":          pkg.Features,
		"max_prescriptions": pkg.MaxPrescriptions,
		"is_active":         pkg.IsActive,
		"created_at":        pkg.CreatedAt,
		"updated_at":        pkg.UpdatedAt,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

func (r *MongoPackageRepository) GetByID(ctx context.Context, id string) (*domain.Package, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrPackageNotFound
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return mapBsonToPackage(raw), nil
}

func (r *MongoPackageRepository) GetActivePackages(ctx context.Context) ([]*domain.Package, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list active packages: %w", err)
	}
	defer cursor.Close(ctx)

	var packages []*domain.Package
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		packages = append(packages, mapBsonToPackage(raw))
	}
	return packages, cursor.Err()
}

// Update rewrites the editable catalog fields.
// Existing entitlements keep their own copy of the package type.
func (r *MongoPackageRepository) Update(ctx context.Context, pkg *domain.Package) error {
	pkg.UpdatedAt = time.Now().UTC()
	if pkg.Features == nil {
		pkg.Features = []string{}
	}

	update := bson.M{
		"$set": bson.M{
			"name":              pkg.Name,
			"description":       pkg.Description,
			"type":              string(pkg.Type),
			"price":             pkg.Price,
			"base_amount":       pkg.BaseAmount,
			"currency":          pkg.Currency,
			"duration_days":     pkg.DurationDays,
			"features":          pkg.Features,
			"max_prescriptions": pkg.MaxPrescriptions,
			"is_active":         pkg.IsActive,
			"updated_at":        pkg.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": pkg.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update package: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrPackageNotFound
	}
	return nil
}

func (r *MongoPackageRepository) Deactivate(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to deactivate package: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrPackageNotFound
	}
	return nil
}

// SeedDefaultPackages seeds the default catalog if it doesn't exist
// Idempotency: checks by _id (not by name) to prevent duplicates
func (r *MongoPackageRepository) SeedDefaultPackages(ctx context.Context) error {
	defaults := []*domain.Package{
		{
			ID: "pkg_single_7", Name: "Single Session", Type: domain.PackageTypeSingle,
			Price: 1900, BaseAmount: 1900, Currency: "usd", DurationDays: 7,
			Features: []string{"1 audio prescription"}, MaxPrescriptions: 1, IsActive: true,
		},
		{
			ID: "pkg_basic_30", Name: "Basic", Type: domain.PackageTypeBasic,
			Price: 4900, BaseAmount: 4900, Currency: "usd", DurationDays: 30,
			Features: []string{"monthly prescription", "questionnaire review"}, MaxPrescriptions: 2, IsActive: true,
		},
		{
			ID: "pkg_enhanced_60", Name: "Enhanced", Type: domain.PackageTypeEnhanced,
			Price: 8900, BaseAmount: 8900, Currency: "usd", DurationDays: 60,
			Features: []string{"bi-weekly prescription", "questionnaire review", "messaging"}, MaxPrescriptions: 6, IsActive: true,
		},
		{
			ID: "pkg_premium_90", Name: "Premium", Type: domain.PackageTypePremium,
			Price: 14900, BaseAmount: 14900, Currency: "usd", DurationDays: 90,
			Features: []string{"weekly prescription", "questionnaire review", "messaging", "priority support"}, MaxPrescriptions: 12, IsActive: true,
		},
	}

	for _, pkg := range defaults {
		// Check if package already exists by ID
		_, err := r.GetByID(ctx, pkg.ID)
		if err == nil {
			log.Printf("[Seed] Package %s already exists, skipping", pkg.ID)
			continue
		}
		if err != domain.ErrPackageNotFound {
			return fmt.Errorf("failed to check package existence: %w", err)
		}

		if err := r.Create(ctx, pkg); err != nil {
			return fmt.Errorf("failed to seed package: %w", err)
		}

		log.Printf("[Seed] Created package: %s (%s) - Price: %d, Duration: %d days",
			pkg.ID, pkg.Name, pkg.Price, pkg.DurationDays)
	}

	return nil
}

func mapBsonToPackage(raw bson.M) *domain.Package {
	pkg := &domain.Package{}

	if id, ok := raw["_id"].(string); ok {
		pkg.ID = id
	}
	if name, ok := raw["name"].(string); ok {
		pkg.Name = name
	}
	if desc, ok := raw["description"].(string); ok {
		pkg.Description = desc
	}
	if t, ok := raw["type"].(string); ok {
		pkg.Type = domain.PackageType(t)
	}
	pkg.Price = bsonInt64(raw["price"])
	pkg.BaseAmount = bsonInt64(raw["base_amount"])
	if currency, ok := raw["currency"].(string); ok {
		pkg.Currency = currency
	}
	pkg.DurationDays = int(bsonInt64(raw["duration_days"]))
	pkg.MaxPrescriptions = int(bsonInt64(raw["max_prescriptions"]))
	if features, ok := raw["features"].(primitive.A); ok {
		for _, f := range features {
			if s, ok := f.(string); ok {
				pkg.Features = append(pkg.Features, s)
			}
		}
	}
	if isActive, ok := raw["is_active"].(bool); ok {
		pkg.IsActive = isActive
	}
	if created, ok := raw["created_at"].(interface{ Time() time.Time }); ok {
		pkg.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(interface{ Time() time.Time }); ok {
		pkg.UpdatedAt = updated.Time()
	}

	return pkg
}

// bsonInt64 reads a numeric field that may have been stored as int32 or int64
func bsonInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
