package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

// PurchaseRequest asks to provision a package against a payment reference
type PurchaseRequest struct {
	UserID         string
	PackageID      string
	PaymentID      string
	PaymentMethod  string // defaults to card
	GiftCardCode   string // optional gift card to deduct from
	GiftCardAmount int64  // 0 deducts as much of the price as the balance covers
	AsGift         bool   // provision an unclaimed gift instead of activating for the payer
	RecipientEmail string // receives the gift code; required with AsGift
}

// PurchaseResult is the outcome of a confirmation.
// Duplicate means the payment was already provisioned and nothing new was created.
type PurchaseResult struct {
	Entitlement     *domain.UserPackage `json:"entitlement"`
	Package         *domain.Package     `json:"package,omitempty"`
	Duplicate       bool                `json:"duplicate"`
	GiftCardApplied int64               `json:"gift_card_applied,omitempty"`
	GiftCardError   string              `json:"gift_card_error,omitempty"`
	GiftCode        string              `json:"gift_code,omitempty"`
}

type PurchaseService struct {
	entitlements   *EntitlementService
	packages       domain.PackageRepository
	giftCards      domain.GiftCardRepository
	verifier       PaymentVerifier
	trigger        *PrescriptionTrigger
	paymentTimeout time.Duration
}

func NewPurchaseService(
	entitlements *EntitlementService,
	packages domain.PackageRepository,
	giftCards domain.GiftCardRepository,
	verifier PaymentVerifier,
	trigger *PrescriptionTrigger,
	paymentTimeout time.Duration,
) *PurchaseService {
	if paymentTimeout <= 0 {
		paymentTimeout = 10 * time.Second
	}
	return &PurchaseService{
		entitlements:   entitlements,
		packages:       packages,
		giftCards:      giftCards,
		verifier:       verifier,
		trigger:        trigger,
		paymentTimeout: paymentTimeout,
	}
}

// ConfirmPurchase verifies the payment and provisions the package. Confirming
// the same payment again returns the first entitlement with Duplicate set; if
// that entitlement never went live the confirmation finishes activating it.
func (s *PurchaseService) ConfirmPurchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	es := s.entitlements
	ctx, span := es.tracer.Start(ctx, "purchase.ConfirmPurchase")
	defer span.End()

	if req.UserID == "" || req.PackageID == "" || req.PaymentID == "" {
		return nil, domain.ErrInvalidInput
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCard
	}
	span.SetAttributes(attribute.String("payment.id", req.PaymentID), attribute.String("package.id", req.PackageID))

	// Step 1: payment id idempotency
	if existing, err := s.findProvisioned(ctx, req); err != nil || existing != nil {
		return existing, err
	}
	if req.AsGift && req.RecipientEmail == "" {
		return nil, fmt.Errorf("%w: gift purchases need a recipient email", domain.ErrInvalidInput)
	}

	pkg, err := s.packages.GetByID(ctx, req.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, domain.ErrPackageInactive
	}

	// Step 2: verify with the provider under a bounded wait
	if err := s.verify(ctx, req); err != nil {
		return nil, err
	}

	user, err := es.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	// Step 3: insert the entitlement as pending; the unique payment id decides concurrent confirmations
	now := es.now()
	up := &domain.UserPackage{
		ID:            es.userPackages.NewID(),
		UserID:        req.UserID,
		PackageID:     pkg.ID,
		PackageType:   pkg.Type,
		PurchaseDate:  now,
		ExpiryDate:    now.Add(pkg.Duration()),
		Price:         pkg.Price,
		Currency:      pkg.Currency,
		PaymentMethod: req.PaymentMethod,
		PaymentID:     req.PaymentID,
		PurchasedBy:   req.UserID,
	}
	if req.AsGift {
		up.UserID = ""
		up.IsGift = true
		up.GiftCode = ulid.Make().String()
		up.PaymentMethod = domain.PaymentMethodGift
	}

	if err := es.userPackages.Create(ctx, up); err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			log.Printf("[Purchase] Payment %s provisioned concurrently, returning existing entitlement", req.PaymentID)
			return s.findProvisioned(ctx, req)
		}
		return nil, err
	}

	result := &PurchaseResult{Entitlement: up, Package: pkg}

	if req.AsGift {
		// an unclaimed gift has nothing to activate, so the card is charged right away
		if req.GiftCardCode != "" {
			s.applyGiftCard(ctx, req, pkg, up, result)
		}
		result.GiftCode = up.GiftCode
		log.Printf("[Purchase] User %s bought gift %s (%s)", req.UserID, up.GiftCode, pkg.ID)
		es.notifier.GiftPurchased(ctx, user, req.RecipientEmail, pkg, up.GiftCode)
		es.metrics.IncProvisioned(domain.PaymentMethodGift)
		return result, nil
	}

	// Step 4: supersede whatever was active and activate the new entitlement.
	// On failure the record stays pending and a retry of the same payment resumes it.
	if err := s.activate(ctx, req, user, pkg, up, result); err != nil {
		return nil, err
	}
	return result, nil
}

// activate makes up live for the payer and runs the side effects once. The gift
// card is only charged after activation so a failed activation leaves it untouched.
func (s *PurchaseService) activate(ctx context.Context, req PurchaseRequest, user *domain.User, pkg *domain.Package, up *domain.UserPackage, result *PurchaseResult) error {
	es := s.entitlements

	activated, err := es.makeActive(ctx, req.UserID, up)
	if err != nil {
		log.Printf("[Purchase] Activation of %s for payment %s failed, left pending: %v", up.ID, req.PaymentID, err)
		return err
	}
	if !activated {
		// a concurrent confirmation of the same payment finished it
		return nil
	}

	// Step 5: gift card deduction never aborts the purchase
	if req.GiftCardCode != "" && up.GiftCardCode == "" {
		s.applyGiftCard(ctx, req, pkg, up, result)
	}

	log.Printf("[Purchase] User %s provisioned %s (%s) via %s, expires %s",
		req.UserID, up.ID, pkg.ID, req.PaymentID, up.ExpiryDate.Format(time.RFC3339))

	now := es.now()
	s.trigger.DispatchIfQuestionnaireComplete(ctx, req.UserID, pkg.Type, PrescriptionReasonPurchase)
	es.notifier.Publish(ctx, domain.EventEntitlementProvisioned, up, now)
	es.notifier.PackagePurchased(ctx, user, pkg, up)
	es.metrics.IncProvisioned(req.PaymentMethod)
	return nil
}

// findProvisioned returns the entitlement already created for the payment, or
// nil. A pending record of the payer is activated before it is returned.
func (s *PurchaseService) findProvisioned(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	es := s.entitlements
	existing, err := es.userPackages.GetByPaymentID(ctx, req.PaymentID)
	if errors.Is(err, domain.ErrUserPackageNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.Payer() != req.UserID {
		log.Printf("[Purchase] Payment %s already provisioned for another user", req.PaymentID)
		return nil, domain.ErrPaymentMismatch
	}

	result := &PurchaseResult{
		Entitlement: existing,
		Duplicate:   true,
		GiftCode:    existing.GiftCode,
	}
	if existing.IsGift || !existing.IsPending() {
		return result, nil
	}

	log.Printf("[Purchase] Payment %s has pending entitlement %s, resuming activation", req.PaymentID, existing.ID)
	pkg, err := s.packages.GetByID(ctx, existing.PackageID)
	if err != nil {
		return nil, err
	}
	user, err := es.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	result.Package = pkg
	if err := s.activate(ctx, req, user, pkg, existing, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PurchaseService) verify(ctx context.Context, req PurchaseRequest) error {
	metrics := s.entitlements.metrics

	vctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	v, err := s.verifier.VerifyPayment(vctx, req.PaymentID)
	if err != nil {
		metrics.IncPaymentVerification("error")
		if errors.Is(err, domain.ErrPaymentVerificationFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrPaymentVerificationFailed, err)
	}
	if !v.Succeeded() {
		metrics.IncPaymentVerification("not_succeeded")
		log.Printf("[Purchase] Payment %s has status %s", req.PaymentID, v.Status)
		return domain.ErrPaymentNotSucceeded
	}
	if pkgID := v.Metadata["package_id"]; pkgID != "" && pkgID != req.PackageID {
		metrics.IncPaymentVerification("mismatch")
		return domain.ErrPaymentMismatch
	}
	if userID := v.Metadata["user_id"]; userID != "" && userID != req.UserID {
		metrics.IncPaymentVerification("mismatch")
		return domain.ErrPaymentMismatch
	}

	metrics.IncPaymentVerification("succeeded")
	return nil
}

func (s *PurchaseService) applyGiftCard(ctx context.Context, req PurchaseRequest, pkg *domain.Package, up *domain.UserPackage, result *PurchaseResult) {
	now := s.entitlements.now()

	card, err := s.giftCards.FindByCode(ctx, req.GiftCardCode)
	if err != nil {
		result.GiftCardError = err.Error()
		log.Printf("[Purchase] Gift card %s not applied: %v", req.GiftCardCode, err)
		return
	}

	amount := req.GiftCardAmount
	if amount == 0 {
		amount = min(card.RemainingBalance(), pkg.Price)
	}
	if amount > pkg.Price {
		err := fmt.Errorf("%w: gift card amount %d exceeds price %d", domain.ErrInvalidInput, amount, pkg.Price)
		result.GiftCardError = err.Error()
		log.Printf("[Purchase] Gift card %s not applied: %v", req.GiftCardCode, err)
		return
	}

	if err := card.CanCover(amount, pkg.Currency, now); err != nil {
		result.GiftCardError = err.Error()
		log.Printf("[Purchase] Gift card %s not applied: %v", req.GiftCardCode, err)
		return
	}

	if _, err := s.giftCards.Deduct(ctx, card.ID, amount, now); err != nil {
		result.GiftCardError = err.Error()
		log.Printf("[Purchase] Gift card %s deduction failed: %v", req.GiftCardCode, err)
		return
	}

	if err := s.entitlements.userPackages.RecordGiftCardDeduction(ctx, up.ID, card.Code, amount); err != nil {
		log.Printf("[Purchase] Gift card %s deducted but not recorded on %s: %v", card.Code, up.ID, err)
	} else {
		up.Price -= amount
		up.GiftCardCode = card.Code
		up.GiftCardDeduction = amount
	}
	result.GiftCardApplied = amount
}

// RedeemGiftPackage claims an unclaimed gift for userID and activates it.
// The entitlement period starts at redemption.
func (s *PurchaseService) RedeemGiftPackage(ctx context.Context, userID, code string) (*PurchaseResult, error) {
	es := s.entitlements
	ctx, span := es.tracer.Start(ctx, "purchase.RedeemGiftPackage")
	defer span.End()

	if userID == "" || code == "" {
		return nil, domain.ErrInvalidInput
	}

	gift, err := es.userPackages.GetByGiftCode(ctx, code)
	if err != nil {
		return nil, err
	}
	// a claim by the same user that never went live is resumed
	resuming := gift.IsGift && gift.UserID == userID && gift.IsPending()
	if !resuming && (!gift.IsGift || gift.UserID != "" || gift.IsTerminal()) {
		return nil, domain.ErrGiftAlreadyRedeemed
	}

	pkg, err := s.packages.GetByID(ctx, gift.PackageID)
	if err != nil {
		return nil, err
	}
	user, err := es.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := es.now()
	claimed := gift
	if !resuming {
		claimed, err = es.userPackages.ClaimGift(ctx, code, userID, now, now.Add(pkg.Duration()))
		if err != nil {
			return nil, err
		}
	}

	activated, err := es.makeActive(ctx, userID, claimed)
	if err != nil {
		return nil, err
	}

	log.Printf("[Purchase] User %s redeemed gift %s (%s)", userID, code, pkg.ID)

	if activated {
		s.trigger.DispatchIfQuestionnaireComplete(ctx, userID, pkg.Type, PrescriptionReasonGift)
		es.notifier.Publish(ctx, domain.EventGiftRedeemed, claimed, now)
		es.notifier.PackagePurchased(ctx, user, pkg, claimed)
	}

	return &PurchaseResult{Entitlement: claimed, Package: pkg}, nil
}

// HandlePaymentEvent provisions from a verified provider notification. The
// payment metadata must name the user and package; events without them are ignored.
func (s *PurchaseService) HandlePaymentEvent(ctx context.Context, event *domain.PaymentEvent) (*PurchaseResult, error) {
	if event.Type != domain.PaymentEventSucceeded || event.PaymentID == "" {
		return nil, nil
	}

	vctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	v, err := s.verifier.VerifyPayment(vctx, event.PaymentID)
	cancel()
	if err != nil {
		return nil, err
	}

	userID, pkgID := v.Metadata["user_id"], v.Metadata["package_id"]
	if userID == "" || pkgID == "" {
		log.Printf("[Purchase] Webhook %s for %s has no user/package metadata, ignoring", event.ID, event.PaymentID)
		return nil, nil
	}

	return s.ConfirmPurchase(ctx, PurchaseRequest{
		UserID:       userID,
		PackageID:    pkgID,
		PaymentID:    event.PaymentID,
		GiftCardCode:   v.Metadata["gift_card_code"],
		AsGift:         v.Metadata["as_gift"] == "true",
		RecipientEmail: v.Metadata["recipient_email"],
	})
}
