package domain

import "errors"

// Common errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrForbidden    = errors.New("access forbidden: you don't own this resource")
	ErrInvalidID    = errors.New("invalid id")
	ErrInvalidInput = errors.New("invalid input")
)

// Not found
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPackageNotFound     = errors.New("package not found")
	ErrUserPackageNotFound = errors.New("user package not found")
	ErrNoActivePackage     = errors.New("user has no active package")
	ErrGiftCardNotFound    = errors.New("gift card not found")
)

// Invalid state
var (
	ErrInvalidState        = errors.New("invalid entitlement state")
	ErrNotRenewalEligible  = errors.New("package is not eligible for renewal yet")
	ErrAlreadyRenewed      = errors.New("package has already been renewed or superseded")
	ErrPackageInactive     = errors.New("package is not active")
	ErrPaymentMismatch     = errors.New("payment does not match the requested purchase")
	ErrGiftAlreadyRedeemed = errors.New("gift has already been redeemed")
	ErrRenewalChainCycle   = errors.New("renewal chain contains a cycle")
)

// Gift card deductions. These never abort a purchase.
var (
	ErrInsufficientGiftBalance = errors.New("gift card balance does not cover the requested amount")
	ErrGiftCardExpired         = errors.New("gift card has expired")
	ErrGiftCardCurrency        = errors.New("gift card currency does not match package currency")
)

// External failures
var (
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrPaymentNotSucceeded       = errors.New("payment has not succeeded")
)

// ErrDuplicatePayment is returned by storage when a payment id is already provisioned.
var ErrDuplicatePayment = errors.New("payment already provisioned")

// ErrConcurrentUpdate is returned when a compare-and-swap lost against another writer.
var ErrConcurrentUpdate = errors.New("concurrent update detected, please retry")
