package domain

import (
	"context"
	"time"
)

// PackageSnapshot freezes the entitlement and catalog fields at renewal time.
type PackageSnapshot struct {
	UserPackageID string      `bson:"user_package_id" json:"user_package_id"`
	PackageID     string      `bson:"package_id" json:"package_id"`
	Name          string      `bson:"name" json:"name"`
	Type          PackageType `bson:"type" json:"type"`
	Price         int64       `bson:"price" json:"price"`
	Currency      string      `bson:"currency" json:"currency"`
	DurationDays  int         `bson:"duration_days" json:"duration_days"`
	PurchaseDate  time.Time   `bson:"purchase_date" json:"purchase_date"`
	ExpiryDate    time.Time   `bson:"expiry_date" json:"expiry_date"`
}

// NewPackageSnapshot captures up together with its catalog entry. pkg may be nil
// when the catalog row could not be loaded.
func NewPackageSnapshot(up *UserPackage, pkg *Package) PackageSnapshot {
	s := PackageSnapshot{
		UserPackageID: up.ID,
		PackageID:     up.PackageID,
		Type:          up.PackageType,
		Price:         up.Price,
		Currency:      up.Currency,
		PurchaseDate:  up.PurchaseDate,
		ExpiryDate:    up.ExpiryDate,
	}
	if pkg != nil {
		s.Name = pkg.Name
		s.DurationDays = pkg.DurationDays
	}
	return s
}

// RenewalHistory is an append-only audit record of one renewal transition.
type RenewalHistory struct {
	ID              string          `bson:"_id,omitempty" json:"id"`
	UserID          string          `bson:"user_id" json:"user_id"`
	PreviousPackage PackageSnapshot `bson:"previous_package" json:"previous_package"`
	NewPackage      PackageSnapshot `bson:"new_package" json:"new_package"`
	RenewedAt       time.Time       `bson:"renewed_at" json:"renewed_at"`
}

// RenewalHistoryRepository has no update or delete: entries are never mutated.
type RenewalHistoryRepository interface {
	Create(ctx context.Context, entry *RenewalHistory) error
	ListByUser(ctx context.Context, userID string) ([]*RenewalHistory, error)
}
