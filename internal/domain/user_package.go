package domain

import (
	"context"
	"time"
)

// Deactivation reasons
const (
	DeactivationExpired    = "expired"
	DeactivationRenewed    = "renewed"
	DeactivationSuperseded = "superseded"
	DeactivationAbandoned  = "abandoned"
)

// Payment methods recorded on entitlements
const (
	PaymentMethodCard     = "card"
	PaymentMethodRenewal  = "renewal"
	PaymentMethodGift     = "gift"
	PaymentMethodGiftCard = "gift_card"
)

// UserPackage is one purchased, gifted or renewed instance of a package.
//
// Lifecycle: pending (IsActive=false, DeactivatedAt=nil) -> active -> inactive.
// A record with DeactivatedAt set is terminal and never becomes active again.
type UserPackage struct {
	ID                   string      `bson:"_id,omitempty" json:"id"`
	UserID               string      `bson:"user_id" json:"user_id"` // empty while an unclaimed gift
	PackageID            string      `bson:"package_id" json:"package_id"`
	PackageType          PackageType `bson:"package_type" json:"package_type"` // copied at creation
	PurchaseDate         time.Time   `bson:"purchase_date" json:"purchase_date"`
	ExpiryDate           time.Time   `bson:"expiry_date" json:"expiry_date"`
	Price                int64       `bson:"price" json:"price"`
	Currency             string      `bson:"currency" json:"currency"`
	PaymentMethod        string      `bson:"payment_method" json:"payment_method"`
	PaymentID            string      `bson:"payment_id,omitempty" json:"payment_id,omitempty"`
	PurchasedBy          string      `bson:"purchased_by,omitempty" json:"purchased_by,omitempty"` // payer; differs from UserID for gifts
	GiftCardCode         string      `bson:"gift_card_code,omitempty" json:"gift_card_code,omitempty"`
	GiftCardDeduction    int64       `bson:"gift_card_deduction,omitempty" json:"gift_card_deduction,omitempty"`
	IsActive             bool        `bson:"is_active" json:"is_active"`
	IsGift               bool        `bson:"is_gift" json:"is_gift"`
	GiftCode             string      `bson:"gift_code,omitempty" json:"gift_code,omitempty"`
	IsRenewalEligible    bool        `bson:"is_renewal_eligible" json:"is_renewal_eligible"` // display cache only
	RenewalEligibleDate  *time.Time  `bson:"renewal_eligible_date,omitempty" json:"renewal_eligible_date,omitempty"`
	RenewedFromPackageID *string     `bson:"renewed_from_package_id" json:"renewed_from_package_id"`
	RenewedToPackageID   *string     `bson:"renewed_to_package_id" json:"renewed_to_package_id"`
	DeactivatedAt        *time.Time  `bson:"deactivated_at" json:"deactivated_at,omitempty"`
	DeactivationReason   string      `bson:"deactivation_reason,omitempty" json:"deactivation_reason,omitempty"`
	CreatedAt            time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time   `bson:"updated_at" json:"updated_at"`
}

// IsExpired reports whether now is past the expiry date.
func (up *UserPackage) IsExpired(now time.Time) bool {
	return now.After(up.ExpiryDate)
}

// IsTerminal reports whether the record has been deactivated for good.
func (up *UserPackage) IsTerminal() bool {
	return up.DeactivatedAt != nil
}

// IsPending reports whether the record was created but not yet activated.
func (up *UserPackage) IsPending() bool {
	return !up.IsActive && up.DeactivatedAt == nil
}

// Payer returns who paid for the record.
func (up *UserPackage) Payer() string {
	if up.PurchasedBy != "" {
		return up.PurchasedBy
	}
	return up.UserID
}

// EligibleForRenewal recomputes eligibility. The cached IsRenewalEligible field is never consulted.
func (up *UserPackage) EligibleForRenewal(now time.Time) bool {
	if !up.IsActive || up.IsExpired(now) || up.RenewedToPackageID != nil {
		return false
	}
	return up.ExpiryDate.Sub(now) <= RenewalWindow
}

// EligibleFrom is the first instant at which renewal opens.
func (up *UserPackage) EligibleFrom() time.Time {
	return up.ExpiryDate.Add(-RenewalWindow)
}

// UserPackageRepository defines operations on entitlement records.
// Every state transition is a conditional write so that a terminal record
// cannot be revived and a record can be renewed at most once.
type UserPackageRepository interface {
	// NewID allocates an id so callers can link records before inserting them.
	NewID() string
	// Create inserts the record, keeping a preset ID. Returns ErrDuplicatePayment
	// when another record already carries the same payment id.
	Create(ctx context.Context, up *UserPackage) error
	GetByID(ctx context.Context, id string) (*UserPackage, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*UserPackage, error)
	GetByGiftCode(ctx context.Context, code string) (*UserPackage, error)
	ListByUser(ctx context.Context, userID string) ([]*UserPackage, error)

	// Activate flips a pending record to active. ErrInvalidState if it is no longer pending.
	Activate(ctx context.Context, id string) error
	// Deactivate moves a non-terminal record to inactive. Returns false if it was already terminal.
	Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error)
	// MarkRenewed deactivates an active, not yet renewed record and links it forward.
	// ErrAlreadyRenewed when the predicate does not match.
	MarkRenewed(ctx context.Context, id, renewedToID string, at time.Time) error
	// ClaimGift binds an unclaimed gift to a user. ErrGiftAlreadyRedeemed when already claimed.
	ClaimGift(ctx context.Context, code, userID string, claimedAt, expiry time.Time) (*UserPackage, error)
	UpdateRenewalEligibility(ctx context.Context, id string, eligible bool, eligibleDate time.Time) error
	// RecordGiftCardDeduction lowers the recorded price by the deducted amount.
	RecordGiftCardDeduction(ctx context.Context, id, code string, amount int64) error

	// ForEachExpiredActive streams active records whose expiry is before the cutoff.
	ForEachExpiredActive(ctx context.Context, before time.Time, fn func(*UserPackage) error) error
	CountExpiredActive(ctx context.Context, before time.Time) (int64, error)
	// UsersWithMultipleActive returns user ids owning more than one active record.
	UsersWithMultipleActive(ctx context.Context) ([]string, error)
}
