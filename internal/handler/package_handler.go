package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/mansoorceksport/wellness/internal/service"
)

// Catalog is the package catalog
type Catalog interface {
	ListActive(ctx context.Context) ([]*domain.Package, error)
	Get(ctx context.Context, id string) (*domain.Package, error)
	Create(ctx context.Context, pkg *domain.Package) error
	Update(ctx context.Context, pkg *domain.Package) error
	Deactivate(ctx context.Context, id string) error
}

// Entitlements reads and maintains a user's entitlements
type Entitlements interface {
	GetActivePackage(ctx context.Context, userID string) (*domain.UserPackage, error)
	CheckRenewalEligibility(ctx context.Context, userID string) (*domain.RenewalEligibility, error)
	ListHistory(ctx context.Context, userID string) (*service.UserHistory, error)
	GetRenewalChain(ctx context.Context, userID, userPackageID string) ([]*domain.UserPackage, error)
	SweepExpired(ctx context.Context) (*service.SweepReport, error)
}

// Renewer renews the active entitlement
type Renewer interface {
	Renew(ctx context.Context, userID, targetPackageID string) (*service.RenewalResult, error)
}

// Purchaser provisions entitlements from payments and gifts
type Purchaser interface {
	ConfirmPurchase(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error)
	RedeemGiftPackage(ctx context.Context, userID, code string) (*service.PurchaseResult, error)
	HandlePaymentEvent(ctx context.Context, event *domain.PaymentEvent) (*service.PurchaseResult, error)
}

// PackageHandler serves the catalog and the caller's own entitlements
type PackageHandler struct {
	catalog      Catalog
	entitlements Entitlements
	renewals     Renewer
	purchases    Purchaser
}

func NewPackageHandler(catalog Catalog, entitlements Entitlements, renewals Renewer, purchases Purchaser) *PackageHandler {
	return &PackageHandler{
		catalog:      catalog,
		entitlements: entitlements,
		renewals:     renewals,
		purchases:    purchases,
	}
}

// PurchaseBody is the body of POST /v1/packages/purchase
type PurchaseBody struct {
	PackageID       string `json:"package_id" validate:"required"`
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
	PaymentMethod   string `json:"payment_method" validate:"omitempty,oneof=card gift_card"`
	GiftCardCode    string `json:"gift_card_code"`
	GiftCardAmount  int64  `json:"gift_card_amount" validate:"gte=0"`
	AsGift          bool   `json:"as_gift"`
	RecipientEmail  string `json:"recipient_email" validate:"omitempty,email"`
}

func (b PurchaseBody) toRequest(userID string) service.PurchaseRequest {
	return service.PurchaseRequest{
		UserID:         userID,
		PackageID:      b.PackageID,
		PaymentID:      b.PaymentIntentID,
		PaymentMethod:  b.PaymentMethod,
		GiftCardCode:   b.GiftCardCode,
		GiftCardAmount: b.GiftCardAmount,
		AsGift:         b.AsGift,
		RecipientEmail: b.RecipientEmail,
	}
}

// RenewBody is the optional body of POST /v1/packages/user/renew
type RenewBody struct {
	PackageID string `json:"package_id"`
}

// RedeemGiftBody is the body of POST /v1/packages/gift/redeem
type RedeemGiftBody struct {
	GiftCode string `json:"gift_code" validate:"required"`
}

// ListPackages handles GET /v1/packages
func (h *PackageHandler) ListPackages(c *fiber.Ctx) error {
	packages, err := h.catalog.ListActive(c.UserContext())
	if err != nil {
		return writeError(c, "Packages", err)
	}
	return success(c, packages)
}

// GetPackage handles GET /v1/packages/:id
func (h *PackageHandler) GetPackage(c *fiber.Ctx) error {
	pkg, err := h.catalog.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, "Packages", err)
	}
	return success(c, pkg)
}

// GetActive handles GET /v1/packages/user/active
func (h *PackageHandler) GetActive(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	up, err := h.entitlements.GetActivePackage(c.UserContext(), userID)
	if err != nil {
		return writeError(c, "Packages", err)
	}
	return success(c, up)
}

// GetRenewalEligibility handles GET /v1/packages/user/renewal-eligibility
func (h *PackageHandler) GetRenewalEligibility(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	eligibility, err := h.entitlements.CheckRenewalEligibility(c.UserContext(), userID)
	if err != nil {
		return writeError(c, "Renewal", err)
	}
	return success(c, eligibility)
}

// Renew handles POST /v1/packages/user/renew. Without a package_id the current package is renewed.
func (h *PackageHandler) Renew(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var body RenewBody
	if msg := bindBody(c, &body, true); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}

	result, err := h.renewals.Renew(c.UserContext(), userID, body.PackageID)
	if err != nil {
		return writeError(c, "Renewal", err)
	}
	return successMessage(c, fiber.StatusOK, "package renewed", result)
}

// GetHistory handles GET /v1/packages/user/history
func (h *PackageHandler) GetHistory(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	history, err := h.entitlements.ListHistory(c.UserContext(), userID)
	if err != nil {
		return writeError(c, "History", err)
	}
	return success(c, history)
}

// GetChain handles GET /v1/packages/user/:id/chain
func (h *PackageHandler) GetChain(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	chain, err := h.entitlements.GetRenewalChain(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return writeError(c, "History", err)
	}
	return success(c, chain)
}

// Purchase handles POST /v1/packages/purchase
func (h *PackageHandler) Purchase(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var body PurchaseBody
	if msg := bindBody(c, &body, false); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}
	if body.AsGift && body.RecipientEmail == "" {
		return fail(c, fiber.StatusBadRequest, "recipient_email is required for gifts")
	}

	result, err := h.purchases.ConfirmPurchase(c.UserContext(), body.toRequest(userID))
	if err != nil {
		return writeError(c, "Purchase", err)
	}
	return purchaseResponse(c, result)
}

// RedeemGift handles POST /v1/packages/gift/redeem
func (h *PackageHandler) RedeemGift(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var body RedeemGiftBody
	if msg := bindBody(c, &body, false); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}

	result, err := h.purchases.RedeemGiftPackage(c.UserContext(), userID, body.GiftCode)
	if err != nil {
		return writeError(c, "Gift", err)
	}
	return successMessage(c, fiber.StatusOK, "gift redeemed", result)
}

func purchaseResponse(c *fiber.Ctx, result *service.PurchaseResult) error {
	switch {
	case result.Duplicate:
		return successMessage(c, fiber.StatusOK, "payment already processed", result)
	case result.GiftCardError != "":
		return successMessage(c, fiber.StatusCreated, "package purchased, gift card not applied: "+result.GiftCardError, result)
	case result.GiftCode != "":
		return successMessage(c, fiber.StatusCreated, "gift purchased", result)
	default:
		return successMessage(c, fiber.StatusCreated, "package purchased", result)
	}
}
