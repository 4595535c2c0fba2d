package repository

import (
	"context"
	"fmt"

	"github.com/mansoorceksport/wellness/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQuestionnaireRepository reads the questionnaires collection owned by the
// questionnaire feature.
type MongoQuestionnaireRepository struct {
	collection *mongo.Collection
}

func NewMongoQuestionnaireRepository(db *mongo.Database) *MongoQuestionnaireRepository {
	return &MongoQuestionnaireRepository{
		collection: db.Collection("questionnaires"),
	}
}

// GetLatestByUser returns nil, nil when the user never started a questionnaire.
func (r *MongoQuestionnaireRepository) GetLatestByUser(ctx context.Context, userID string) (*domain.Questionnaire, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	var q domain.Questionnaire
	if err := r.collection.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&q); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get questionnaire: %w", err)
	}
	return &q, nil
}

// MongoPrescriptionRepository reads the prescriptions collection.
type MongoPrescriptionRepository struct {
	collection *mongo.Collection
}

func NewMongoPrescriptionRepository(db *mongo.Database) *MongoPrescriptionRepository {
	return &MongoPrescriptionRepository{
		collection: db.Collection("prescriptions"),
	}
}

// GetLatestByUser returns nil, nil when no prescription was generated yet.
func (r *MongoPrescriptionRepository) GetLatestByUser(ctx context.Context, userID string) (*domain.Prescription, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var p domain.Prescription
	if err := r.collection.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}
	return &p, nil
}
