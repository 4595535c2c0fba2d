package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/wellness/internal/domain"
)

// WebhookParser authenticates a provider notification and decodes it
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*domain.PaymentEvent, error)
}

// StripeHandler handles Stripe confirmations and webhooks
type StripeHandler struct {
	purchases Purchaser
	parser    WebhookParser
}

func NewStripeHandler(purchases Purchaser, parser WebhookParser) *StripeHandler {
	return &StripeHandler{purchases: purchases, parser: parser}
}

// ConfirmPaymentBody is the body of POST /v1/stripe/confirm-payment
type ConfirmPaymentBody struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
	PackageID       string `json:"package_id" validate:"required"`
	GiftCardCode    string `json:"gift_card_code"`
	GiftCardAmount  int64  `json:"gift_card_amount" validate:"gte=0"`
	AsGift          bool   `json:"as_gift"`
	RecipientEmail  string `json:"recipient_email" validate:"omitempty,email"`
}

// ConfirmPayment handles POST /v1/stripe/confirm-payment.
// The client reports a PaymentIntent; it is provisioned only once Stripe says it succeeded.
func (h *StripeHandler) ConfirmPayment(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var body ConfirmPaymentBody
	if msg := bindBody(c, &body, false); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}
	if body.AsGift && body.RecipientEmail == "" {
		return fail(c, fiber.StatusBadRequest, "recipient_email is required for gifts")
	}

	req := PurchaseBody{
		PackageID:       body.PackageID,
		PaymentIntentID: body.PaymentIntentID,
		GiftCardCode:    body.GiftCardCode,
		GiftCardAmount:  body.GiftCardAmount,
		AsGift:          body.AsGift,
		RecipientEmail:  body.RecipientEmail,
	}.toRequest(userID)

	result, err := h.purchases.ConfirmPurchase(c.UserContext(), req)
	if err != nil {
		return writeError(c, "Stripe", err)
	}
	return purchaseResponse(c, result)
}

// Webhook handles POST /v1/stripe/webhook. This is a public endpoint authenticated by the Stripe-Signature header.
func (h *StripeHandler) Webhook(c *fiber.Ctx) error {
	event, err := h.parser.ParseWebhook(c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("[Webhook] Rejected Stripe event: %v", err)
		return fail(c, fiber.StatusBadRequest, "invalid webhook")
	}

	log.Printf("[Webhook] Received %s (%s) for %s", event.Type, event.ID, event.PaymentID)

	result, err := h.purchases.HandlePaymentEvent(c.UserContext(), event)
	if err != nil {
		// a 5xx makes Stripe redeliver; permanent rejections are acknowledged
		if isPermanent(err) {
			log.Printf("[Webhook] Event %s not provisioned: %v", event.ID, err)
			return successMessage(c, fiber.StatusOK, "event acknowledged", nil)
		}
		return writeError(c, "Webhook", err)
	}
	if result == nil {
		return successMessage(c, fiber.StatusOK, "event ignored", nil)
	}
	if result.Duplicate {
		return successMessage(c, fiber.StatusOK, "already processed", nil)
	}
	return successMessage(c, fiber.StatusOK, "payment processed", nil)
}

func isPermanent(err error) bool {
	for _, target := range []error{
		domain.ErrPaymentMismatch,
		domain.ErrPaymentNotSucceeded,
		domain.ErrPackageNotFound,
		domain.ErrPackageInactive,
		domain.ErrUserNotFound,
		domain.ErrInvalidInput,
		domain.ErrInvalidID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
