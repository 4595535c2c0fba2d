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

// MongoRenewalHistoryRepository implements domain.RenewalHistoryRepository
type MongoRenewalHistoryRepository struct {
	collection *mongo.Collection
}

func NewMongoRenewalHistoryRepository(db *mongo.Database) *MongoRenewalHistoryRepository {
	coll := db.Collection("renewal_history")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "renewed_at", Value: -1}},
	})

	return &MongoRenewalHistoryRepository{
		collection: coll,
	}
}

type renewalHistoryDoc struct {
	ID              primitive.ObjectID     `bson:"_id"`
	UserID          string                 `bson:"user_id"`
	PreviousPackage domain.PackageSnapshot `bson:"previous_package"`
	NewPackage      domain.PackageSnapshot `bson:"new_package"`
	RenewedAt       time.Time              `bson:"renewed_at"`
}

func (r *MongoRenewalHistoryRepository) Create(ctx context.Context, entry *domain.RenewalHistory) error {
	objID := primitive.NewObjectID()
	entry.ID = objID.Hex()

	doc := renewalHistoryDoc{
		ID:              objID,
		UserID:          entry.UserID,
		PreviousPackage: entry.PreviousPackage,
		NewPackage:      entry.NewPackage,
		RenewedAt:       entry.RenewedAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create renewal history: %w", err)
	}
	return nil
}

func (r *MongoRenewalHistoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.RenewalHistory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "renewed_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list renewal history: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.RenewalHistory
	for cursor.Next(ctx) {
		var doc renewalHistoryDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		entries = append(entries, &domain.RenewalHistory{
			ID:              doc.ID.Hex(),
			UserID:          doc.UserID,
			PreviousPackage: doc.PreviousPackage,
			NewPackage:      doc.NewPackage,
			RenewedAt:       doc.RenewedAt.UTC(),
		})
	}
	return entries, cursor.Err()
}
