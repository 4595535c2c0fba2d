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

// MongoUserPackageRepository implements domain.UserPackageRepository
type MongoUserPackageRepository struct {
	collection *mongo.Collection
}

func NewMongoUserPackageRepository(db *mongo.Database) *MongoUserPackageRepository {
	coll := db.Collection("user_packages")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// payment_id is unique only where present, so renewals and gifts (no payment id) never collide
	_, _ = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "payment_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"payment_id": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "gift_code", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "expiry_date", Value: 1}}},
	})

	return &MongoUserPackageRepository{
		collection: coll,
	}
}

type userPackageDoc struct {
	ID                   primitive.ObjectID `bson:"_id"`
	UserID               string             `bson:"user_id"`
	PackageID            string             `bson:"package_id"`
	PackageType          string             `bson:"package_type"`
	PurchaseDate         time.Time          `bson:"purchase_date"`
	ExpiryDate           time.Time          `bson:"expiry_date"`
	Price                int64              `bson:"price"`
	Currency             string             `bson:"currency"`
	PaymentMethod        string             `bson:"payment_method"`
	PaymentID            string             `bson:"payment_id,omitempty"`
	PurchasedBy          string             `bson:"purchased_by,omitempty"`
	GiftCardCode         string             `bson:"gift_card_code,omitempty"`
	GiftCardDeduction    int64              `bson:"gift_card_deduction,omitempty"`
	IsActive             bool               `bson:"is_active"`
	IsGift               bool               `bson:"is_gift"`
	GiftCode             string             `bson:"gift_code,omitempty"`
	IsRenewalEligible    bool               `bson:"is_renewal_eligible"`
	RenewalEligibleDate  *time.Time         `bson:"renewal_eligible_date,omitempty"`
	RenewedFromPackageID *string            `bson:"renewed_from_package_id"`
	RenewedToPackageID   *string            `bson:"renewed_to_package_id"`
	DeactivatedAt        *time.Time         `bson:"deactivated_at"`
	DeactivationReason   string             `bson:"deactivation_reason,omitempty"`
	CreatedAt            time.Time          `bson:"created_at"`
	UpdatedAt            time.Time          `bson:"updated_at"`
}

func newUserPackageDoc(up *domain.UserPackage, id primitive.ObjectID) *userPackageDoc {
	return &userPackageDoc{
		ID:                   id,
		UserID:               up.UserID,
		PackageID:            up.PackageID,
		PackageType:          string(up.PackageType),
		PurchaseDate:         up.PurchaseDate,
		ExpiryDate:           up.ExpiryDate,
		Price:                up.Price,
		Currency:             up.Currency,
		PaymentMethod:        up.PaymentMethod,
		PaymentID:            up.PaymentID,
		PurchasedBy:          up.PurchasedBy,
		GiftCardCode:         up.GiftCardCode,
		GiftCardDeduction:    up.GiftCardDeduction,
		IsActive:             up.IsActive,
		IsGift:               up.IsGift,
		GiftCode:             up.GiftCode,
		IsRenewalEligible:    up.IsRenewalEligible,
		RenewalEligibleDate:  up.RenewalEligibleDate,
		RenewedFromPackageID: up.RenewedFromPackageID,
		RenewedToPackageID:   up.RenewedToPackageID,
		DeactivatedAt:        up.DeactivatedAt,
		DeactivationReason:   up.DeactivationReason,
		CreatedAt:            up.CreatedAt,
		UpdatedAt:            up.UpdatedAt,
	}
}

func (d *userPackageDoc) toDomain() *domain.UserPackage {
	return &domain.UserPackage{
		ID:                   d.ID.Hex(),
		UserID:               d.UserID,
		PackageID:            d.PackageID,
		PackageType:          domain.PackageType(d.PackageType),
		PurchaseDate:         d.PurchaseDate.UTC(),
		ExpiryDate:           d.ExpiryDate.UTC(),
		Price:                d.Price,
		Currency:             d.Currency,
		PaymentMethod:        d.PaymentMethod,
		PaymentID:            d.PaymentID,
		PurchasedBy:          d.PurchasedBy,
		GiftCardCode:         d.GiftCardCode,
		GiftCardDeduction:    d.GiftCardDeduction,
		IsActive:             d.IsActive,
		IsGift:               d.IsGift,
		GiftCode:             d.GiftCode,
		IsRenewalEligible:    d.IsRenewalEligible,
		RenewalEligibleDate:  d.RenewalEligibleDate,
		RenewedFromPackageID: d.RenewedFromPackageID,
		RenewedToPackageID:   d.RenewedToPackageID,
		DeactivatedAt:        d.DeactivatedAt,
		DeactivationReason:   d.DeactivationReason,
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
	}
}

func (r *MongoUserPackageRepository) NewID() string {
	return primitive.NewObjectID().Hex()
}

func (r *MongoUserPackageRepository) Create(ctx context.Context, up *domain.UserPackage) error {
	objID := primitive.NewObjectID()
	if up.ID != "" {
		var err error
		if objID, err = primitive.ObjectIDFromHex(up.ID); err != nil {
			return domain.ErrInvalidID
		}
	}

	now := time.Now().UTC()
	up.ID = objID.Hex()
	up.CreatedAt = now
	up.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, newUserPackageDoc(up, objID)); err != nil {
		if mongo.IsDuplicateKeyError(err) && up.PaymentID != "" {
			return domain.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to create user package: %w", err)
	}
	return nil
}

func (r *MongoUserPackageRepository) GetByID(ctx context.Context, id string) (*domain.UserPackage, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	return r.findOne(ctx, bson.M{"_id": objID})
}

func (r *MongoUserPackageRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.UserPackage, error) {
	return r.findOne(ctx, bson.M{"payment_id": paymentID})
}

func (r *MongoUserPackageRepository) GetByGiftCode(ctx context.Context, code string) (*domain.UserPackage, error) {
	return r.findOne(ctx, bson.M{"gift_code": code})
}

func (r *MongoUserPackageRepository) findOne(ctx context.Context, filter bson.M) (*domain.UserPackage, error) {
	var doc userPackageDoc
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrUserPackageNotFound
		}
		return nil, fmt.Errorf("failed to get user package: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *MongoUserPackageRepository) ListByUser(ctx context.Context, userID string) ([]*domain.UserPackage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "purchase_date", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list user packages: %w", err)
	}
	defer cursor.Close(ctx)

	var packages []*domain.UserPackage
	for cursor.Next(ctx) {
		var doc userPackageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		packages = append(packages, doc.toDomain())
	}
	return packages, cursor.Err()
}

func (r *MongoUserPackageRepository) Activate(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrInvalidID
	}

	filter := bson.M{"_id": objID, "is_active": false, "deactivated_at": nil}
	update := bson.M{"$set": bson.M{"is_active": true, "updated_at": time.Now().UTC()}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to activate user package: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.missOr(ctx, objID, domain.ErrInvalidState)
	}
	return nil
}

func (r *MongoUserPackageRepository) Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, domain.ErrInvalidID
	}

	filter := bson.M{"_id": objID, "deactivated_at": nil}
	update := bson.M{
		"$set": bson.M{
			"is_active":           false,
			"is_renewal_eligible": false,
			"deactivated_at":      at,
			"deactivation_reason": reason,
			"updated_at":          time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate user package: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func (r *MongoUserPackageRepository) MarkRenewed(ctx context.Context, id, renewedToID string, at time.Time) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrInvalidID
	}

	filter := bson.M{
		"_id":                   objID,
		"is_active":             true,
		"deactivated_at":        nil,
		"renewed_to_package_id": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"is_active":             false,
			"is_renewal_eligible":   false,
			"renewed_to_package_id": renewedToID,
			"deactivated_at":        at,
			"deactivation_reason":   domain.DeactivationRenewed,
			"updated_at":            time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark user package renewed: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.missOr(ctx, objID, domain.ErrAlreadyRenewed)
	}
	return nil
}

// ClaimGift binds an unclaimed gift in a single FindOneAndUpdate so two
// redeemers cannot both win.
func (r *MongoUserPackageRepository) ClaimGift(ctx context.Context, code, userID string, claimedAt, expiry time.Time) (*domain.UserPackage, error) {
	filter := bson.M{
		"gift_code":      code,
		"is_gift":        true,
		"user_id":        "",
		"deactivated_at": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"user_id":       userID,
			"purchase_date": claimedAt,
			"expiry_date":   expiry,
			"updated_at":    time.Now().UTC(),
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userPackageDoc
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("failed to claim gift: %w", err)
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"gift_code": code})
	if err != nil {
		return nil, fmt.Errorf("failed to check gift: %w", err)
	}
	if count == 0 {
		return nil, domain.ErrUserPackageNotFound
	}
	return nil, domain.ErrGiftAlreadyRedeemed
}

func (r *MongoUserPackageRepository) UpdateRenewalEligibility(ctx context.Context, id string, eligible bool, eligibleDate time.Time) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrInvalidID
	}

	update := bson.M{
		"$set": bson.M{
			"is_renewal_eligible":   eligible,
			"renewal_eligible_date": eligibleDate,
			"updated_at":            time.Now().UTC(),
		},
	}
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": objID}, update); err != nil {
		return fmt.Errorf("failed to update renewal eligibility: %w", err)
	}
	return nil
}

func (r *MongoUserPackageRepository) RecordGiftCardDeduction(ctx context.Context, id, code string, amount int64) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrInvalidID
	}

	// gift_card_code guards against applying a second deduction to the same record
	filter := bson.M{"_id": objID, "gift_card_code": bson.M{"$exists": false}}
	update := bson.M{
		"$inc": bson.M{"price": -amount},
		"$set": bson.M{
			"gift_card_code":      code,
			"gift_card_deduction": amount,
			"updated_at":          time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to record gift card deduction: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.missOr(ctx, objID, domain.ErrInvalidState)
	}
	return nil
}

func expiredActiveFilter(before time.Time) bson.M {
	return bson.M{"is_active": true, "expiry_date": bson.M{"$lt": before}}
}

func (r *MongoUserPackageRepository) ForEachExpiredActive(ctx context.Context, before time.Time, fn func(*domain.UserPackage) error) error {
	cursor, err := r.collection.Find(ctx, expiredActiveFilter(before))
	if err != nil {
		return fmt.Errorf("failed to find expired packages: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc userPackageDoc
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		if err := fn(doc.toDomain()); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (r *MongoUserPackageRepository) CountExpiredActive(ctx context.Context, before time.Time) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, expiredActiveFilter(before))
	if err != nil {
		return 0, fmt.Errorf("failed to count expired packages: %w", err)
	}
	return count, nil
}

func (r *MongoUserPackageRepository) UsersWithMultipleActive(ctx context.Context) ([]string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"is_active": true}}},
		{{Key: "$group", Value: bson.M{"_id": "$user_id", "count": bson.M{"$sum": 1}}}},
		{{Key: "$match", Value: bson.M{"count": bson.M{"$gt": 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate active packages: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		UserID string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		userIDs = append(userIDs, row.UserID)
	}
	return userIDs, nil
}

func (r *MongoUserPackageRepository) missOr(ctx context.Context, objID primitive.ObjectID, conflict error) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": objID})
	if err != nil {
		return fmt.Errorf("failed to check user package: %w", err)
	}
	if count == 0 {
		return domain.ErrUserPackageNotFound
	}
	return conflict
}
