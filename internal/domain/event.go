package domain

import "time"

// Entitlement event types published after a state change commits
const (
	EventEntitlementProvisioned = "entitlement.provisioned"
	EventEntitlementRenewed     = "entitlement.renewed"
	EventEntitlementExpired     = "entitlement.expired"
	EventGiftRedeemed           = "entitlement.gift_redeemed"
)

// EntitlementEvent is the message downstream consumers receive.
type EntitlementEvent struct {
	Type          string      `json:"type"`
	UserID        string      `json:"user_id"`
	UserPackageID string      `json:"user_package_id"`
	PackageType   PackageType `json:"package_type"`
	ExpiryDate    time.Time   `json:"expiry_date"`
	OccurredAt    time.Time   `json:"occurred_at"`
}
