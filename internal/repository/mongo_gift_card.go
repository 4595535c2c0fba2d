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

// MongoGiftCardRepository implements domain.GiftCardRepository
type MongoGiftCardRepository struct {
	collection *mongo.Collection
}

func NewMongoGiftCardRepository(db *mongo.Database) *MongoGiftCardRepository {
	coll := db.Collection("gift_cards")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return &MongoGiftCardRepository{
		collection: coll,
	}
}

type giftCardDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	Code       string             `bson:"code"`
	Amount     int64              `bson:"amount"`
	Balance    int64              `bson:"balance"`
	Currency   string             `bson:"currency"`
	IsRedeemed bool               `bson:"is_redeemed"`
	RedeemedAt *time.Time         `bson:"redeemed_at,omitempty"`
	ExpiresAt  *time.Time         `bson:"expires_at,omitempty"`
	CreatedAt  time.Time          `bson:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at"`
}

func (d *giftCardDoc) toDomain() *domain.GiftCard {
	return &domain.GiftCard{
		ID:         d.ID.Hex(),
		Code:       d.Code,
		Amount:     d.Amount,
		Balance:    d.Balance,
		Currency:   d.Currency,
		IsRedeemed: d.IsRedeemed,
		RedeemedAt: d.RedeemedAt,
		ExpiresAt:  d.ExpiresAt,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

func (r *MongoGiftCardRepository) Create(ctx context.Context, card *domain.GiftCard) error {
	now := time.Now().UTC()
	objID := primitive.NewObjectID()
	card.ID = objID.Hex()
	card.CreatedAt = now
	card.UpdatedAt = now
	if card.Balance == 0 && !card.IsRedeemed {
		card.Balance = card.Amount
	}

	doc := giftCardDoc{
		ID:         objID,
		Code:       card.Code,
		Amount:     card.Amount,
		Balance:    card.Balance,
		Currency:   card.Currency,
		IsRedeemed: card.IsRedeemed,
		RedeemedAt: card.RedeemedAt,
		ExpiresAt:  card.ExpiresAt,
		CreatedAt:  card.CreatedAt,
		UpdatedAt:  card.UpdatedAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create gift card: %w", err)
	}
	return nil
}

func (r *MongoGiftCardRepository) FindByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	var doc giftCardDoc
	if err := r.collection.FindOne(ctx, bson.M{"code": code}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrGiftCardNotFound
		}
		return nil, fmt.Errorf("failed to get gift card: %w", err)
	}
	return doc.toDomain(), nil
}

// Deduct atomically decrements the balance and marks as redeemed if it reaches 0
func (r *MongoGiftCardRepository) Deduct(ctx context.Context, id string, amount int64, at time.Time) (*domain.GiftCard, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidInput
	}

	// Step 1: Decrement only while the balance still covers the amount
	filter := bson.M{
		"_id":         objID,
		"is_redeemed": false,
		"balance":     bson.M{"$gte": amount},
	}
	update := bson.M{
		"$inc": bson.M{"balance": -amount},
		"$set": bson.M{"updated_at": at},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc giftCardDoc
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrInsufficientGiftBalance
		}
		return nil, fmt.Errorf("failed to deduct gift card: %w", err)
	}

	// Step 2: If balance is now 0, mark as redeemed
	if doc.Balance == 0 {
		_, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": objID, "balance": 0},
			bson.M{"$set": bson.M{"is_redeemed": true, "redeemed_at": at}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to mark gift card redeemed: %w", err)
		}
		doc.IsRedeemed = true
		doc.RedeemedAt = &at
	}

	return doc.toDomain(), nil
}
