package domain

import (
	"context"
	"time"
)

// PackageType is the tier of a package. It is copied onto entitlements and users.
type PackageType string

const (
	PackageTypeNone     PackageType = "none"
	PackageTypeSingle   PackageType = "single"
	PackageTypeBasic    PackageType = "basic"
	PackageTypeEnhanced PackageType = "enhanced"
	PackageTypePremium  PackageType = "premium"
)

// IsPurchasable reports whether t is a tier that can be sold.
// "none" is only a user state.
func (t PackageType) IsPurchasable() bool {
	switch t {
	case PackageTypeSingle, PackageTypeBasic, PackageTypeEnhanced, PackageTypePremium:
		return true
	}
	return false
}

// Package represents a catalog offering. Packages are never deleted, only deactivated.
type Package struct {
	ID               string      `bson:"_id,omitempty" json:"id"` // e.g. "pkg_basic_30"
	Name             string      `bson:"name" json:"name"`
	Description      string      `bson:"description" json:"description"`
	Type             PackageType `bson:"type" json:"type"`
	Price            int64       `bson:"price" json:"price"`             // smallest currency unit
	BaseAmount       int64       `bson:"base_amount" json:"base_amount"` // currency-agnostic list amount
	Currency         string      `bson:"currency" json:"currency"`
	DurationDays     int         `bson:"duration_days" json:"duration_days"`
	Features         []string    `bson:"features" json:"features"`
	MaxPrescriptions int         `bson:"max_prescriptions" json:"max_prescriptions"`
	IsActive         bool        `bson:"is_active" json:"is_active"`
	CreatedAt        time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `bson:"updated_at" json:"updated_at"`
}

// Validate checks the fields an administrator must provide.
func (p *Package) Validate() error {
	if p.ID == "" || p.Name == "" {
		return ErrInvalidInput
	}
	if !p.Type.IsPurchasable() {
		return ErrInvalidInput
	}
	if p.Price < 0 || p.BaseAmount < 0 || p.DurationDays <= 0 || p.MaxPrescriptions < 0 {
		return ErrInvalidInput
	}
	return nil
}

// Duration returns the entitlement length granted by the package.
func (p *Package) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// PackageRepository defines operations for managing the catalog
type PackageRepository interface {
	Create(ctx context.Context, pkg *Package) error
	GetByID(ctx context.Context, id string) (*Package, error)
	GetActivePackages(ctx context.Context) ([]*Package, error)
	Update(ctx context.Context, pkg *Package) error
	Deactivate(ctx context.Context, id string) error
}
