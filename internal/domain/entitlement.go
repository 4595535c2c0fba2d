package domain

import "time"

// RenewalWindow is the lead time before expiry during which an active package may be renewed.
const RenewalWindow = 36 * time.Hour

// CalculateRenewalExpiry calculates the expiry of a renewed entitlement using stacking logic.
// If currentExpiry is still in the future the new period extends from it, so no
// remaining time is lost. Otherwise the new period starts from now.
func CalculateRenewalExpiry(currentExpiry time.Time, durationDays int, now time.Time) time.Time {
	d := time.Duration(durationDays) * 24 * time.Hour

	if currentExpiry.After(now) {
		return currentExpiry.Add(d)
	}

	return now.Add(d)
}

// RenewalEligibility is the recomputed view of the renewal gate for one entitlement.
type RenewalEligibility struct {
	UserPackageID string        `json:"user_package_id"`
	PackageType   PackageType   `json:"package_type"`
	IsEligible    bool          `json:"is_eligible"`
	IsExpired     bool          `json:"is_expired"`
	ExpiryDate    time.Time     `json:"expiry_date"`
	EligibleFrom  time.Time     `json:"eligible_from"`
	TimeRemaining time.Duration `json:"-"`
	HoursLeft     float64       `json:"hours_remaining"`
}

// EvaluateRenewal computes eligibility for up at now.
func EvaluateRenewal(up *UserPackage, now time.Time) RenewalEligibility {
	remaining := up.ExpiryDate.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return RenewalEligibility{
		UserPackageID: up.ID,
		PackageType:   up.PackageType,
		IsEligible:    up.EligibleForRenewal(now),
		IsExpired:     up.IsExpired(now),
		ExpiryDate:    up.ExpiryDate,
		EligibleFrom:  up.EligibleFrom(),
		TimeRemaining: remaining,
		HoursLeft:     remaining.Hours(),
	}
}

// WalkRenewalChain follows renewed-from links starting at startID and returns the
// chain oldest-first. lookup returns nil for an unknown id, which ends the walk.
// An id seen twice means the links form a cycle.
func WalkRenewalChain(startID string, lookup func(id string) (*UserPackage, error)) ([]*UserPackage, error) {
	seen := make(map[string]struct{})
	var chain []*UserPackage

	id := startID
	for id != "" {
		if _, ok := seen[id]; ok {
			return nil, ErrRenewalChainCycle
		}
		seen[id] = struct{}{}

		up, err := lookup(id)
		if err != nil {
			return nil, err
		}
		if up == nil {
			break
		}
		chain = append(chain, up)

		id = ""
		if up.RenewedFromPackageID != nil {
			id = *up.RenewedFromPackageID
		}
	}

	// reverse to oldest-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
