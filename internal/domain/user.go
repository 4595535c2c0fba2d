package domain

import (
	"context"
	"time"
)

// User holds the account fields the entitlement engine reads and owns.
// PackageType mirrors the active entitlement: it is "none" iff ActivePackageID is nil.
type User struct {
	ID              string      `bson:"_id,omitempty" json:"id"`
	Email           string      `bson:"email" json:"email"`
	Name            string      `bson:"name" json:"name"`
	Roles           []string    `bson:"roles" json:"roles"`
	PackageType     PackageType `bson:"package_type" json:"package_type"`
	ActivePackageID *string     `bson:"active_package_id" json:"active_package_id"`
	CreatedAt       time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `bson:"updated_at" json:"updated_at"`
}

// HasRole checks if user has a specific role
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ActivePackage returns the active pointer or "" when the user has none.
func (u *User) ActivePackage() string {
	if u.ActivePackageID == nil {
		return ""
	}
	return *u.ActivePackageID
}

// UserRepository defines operations on users.
//
// SetActivePackage and ClearActivePackage are the only writers of
// package_type/active_package_id. Both are compare-and-swap updates on
// active_package_id and return ErrConcurrentUpdate when the expected value
// no longer matches.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	// SetActivePackage swaps active_package_id from expected ("" meaning none) to packageID.
	SetActivePackage(ctx context.Context, userID, expected, packageID string, pkgType PackageType) error
	// ClearActivePackage resets the pointer to none only if it still references packageID.
	ClearActivePackage(ctx context.Context, userID, packageID string) error

	// ListWithActivePackage streams users whose pointer is set (reconciliation).
	ListWithActivePackage(ctx context.Context, fn func(*User) error) error
}

// Role constants
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)
