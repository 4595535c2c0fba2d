package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserRepository implements domain.UserRepository
type MongoUserRepository struct {
	collection *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	coll := db.Collection("users")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// active_package_id is sparse-indexed for the reconciliation scan
	_, _ = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "active_package_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})

	return &MongoUserRepository{
		collection: coll,
	}
}

func (r *MongoUserRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	objID := primitive.NewObjectID()
	user.ID = objID.Hex()
	if user.PackageType == "" {
		user.PackageType = domain.PackageTypeNone
	}
	if len(user.Roles) == 0 {
		user.Roles = []string{domain.RoleMember}
	}

	doc := bson.M{
		"_id":               objID,
		"email":             user.Email,
		"name":              user.Name,
		"roles":             user.Roles,
		"package_type":      string(user.PackageType),
		"active_package_id": user.ActivePackageID,
		"created_at":        user.CreatedAt,
		"updated_at":        user.UpdatedAt,
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return mapBsonToUser(raw), nil
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"email": email}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return mapBsonToUser(raw), nil
}

// SetActivePackage swaps the pointer only if it still equals expected.
func (r *MongoUserRepository) SetActivePackage(ctx context.Context, userID, expected, packageID string, pkgType domain.PackageType) error {
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return domain.ErrInvalidID
	}

	filter := bson.M{"_id": objID}
	if expected == "" {
		// matches both an explicit null and a missing field
		filter["active_package_id"] = nil
	} else {
		filter["active_package_id"] = expected
	}

	update := bson.M{
		"$set": bson.M{
			"active_package_id": packageID,
			"package_type":      string(pkgType),
			"updated_at":        time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to set active package: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.missOrConflict(ctx, objID)
	}
	return nil
}

// ClearActivePackage resets the pointer to none if it still references packageID.
// A pointer that already moved on is left alone.
func (r *MongoUserRepository) ClearActivePackage(ctx context.Context, userID, packageID string) error {
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return domain.ErrInvalidID
	}

	filter := bson.M{"_id": objID, "active_package_id": packageID}
	update := bson.M{
		"$set": bson.M{
			"active_package_id": nil,
			"package_type":      string(domain.PackageTypeNone),
			"updated_at":        time.Now().UTC(),
		},
	}

	if _, err := r.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to clear active package: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) ListWithActivePackage(ctx context.Context, fn func(*domain.User) error) error {
	cursor, err := r.collection.Find(ctx, bson.M{"active_package_id": bson.M{"$type": "string"}})
	if err != nil {
		return fmt.Errorf("failed to list users with active package: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return err
		}
		if err := fn(mapBsonToUser(raw)); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// missOrConflict tells a lost compare-and-swap apart from a missing user.
func (r *MongoUserRepository) missOrConflict(ctx context.Context, objID primitive.ObjectID) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": objID})
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if count == 0 {
		return domain.ErrUserNotFound
	}
	return domain.ErrConcurrentUpdate
}

func mapBsonToUser(raw bson.M) *domain.User {
	user := &domain.User{PackageType: domain.PackageTypeNone}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		user.ID = oid.Hex()
	}
	if email, ok := raw["email"].(string); ok {
		user.Email = email
	}
	if name, ok := raw["name"].(string); ok {
		user.Name = name
	}
	if roles, ok := raw["roles"].(primitive.A); ok {
		for _, role := range roles {
			if s, ok := role.(string); ok {
				user.Roles = append(user.Roles, s)
			}
		}
	}
	if t, ok := raw["package_type"].(string); ok && t != "" {
		user.PackageType = domain.PackageType(t)
	}
	if active, ok := raw["active_package_id"].(string); ok && active != "" {
		user.ActivePackageID = &active
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		user.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		user.UpdatedAt = updated.Time()
	}

	return user
}
