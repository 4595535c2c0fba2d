package domain

import (
	"context"
	"time"
)

// GiftCard is a prepaid balance that can be partially applied to purchases.
type GiftCard struct {
	ID         string     `bson:"_id,omitempty" json:"id"`
	Code       string     `bson:"code" json:"code"`
	Amount     int64      `bson:"amount" json:"amount"`   // initial value
	Balance    int64      `bson:"balance" json:"balance"` // remaining value
	Currency   string     `bson:"currency" json:"currency"`
	IsRedeemed bool       `bson:"is_redeemed" json:"is_redeemed"` // balance reached zero
	RedeemedAt *time.Time `bson:"redeemed_at,omitempty" json:"redeemed_at,omitempty"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updated_at"`
}

// RemainingBalance returns what can still be deducted.
func (g *GiftCard) RemainingBalance() int64 {
	if g.IsRedeemed || g.Balance < 0 {
		return 0
	}
	return g.Balance
}

// CanCover checks a requested deduction without mutating the card.
func (g *GiftCard) CanCover(amount int64, currency string, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidInput
	}
	if g.IsRedeemed {
		return ErrGiftAlreadyRedeemed
	}
	if g.ExpiresAt != nil && now.After(*g.ExpiresAt) {
		return ErrGiftCardExpired
	}
	if currency != "" && g.Currency != "" && g.Currency != currency {
		return ErrGiftCardCurrency
	}
	if g.RemainingBalance() < amount {
		return ErrInsufficientGiftBalance
	}
	return nil
}

// GiftCardRepository is the gift card store.
type GiftCardRepository interface {
	Create(ctx context.Context, card *GiftCard) error
	FindByCode(ctx context.Context, code string) (*GiftCard, error)
	// Deduct atomically decrements the balance if it still covers amount and marks
	// the card redeemed when it reaches zero. ErrInsufficientGiftBalance otherwise.
	Deduct(ctx context.Context, id string, amount int64, at time.Time) (*GiftCard, error)
}
