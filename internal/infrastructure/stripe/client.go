package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/mansoorceksport/wellness/internal/domain"
	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrWebhookDisabled is returned when no webhook secret is configured
var ErrWebhookDisabled = errors.New("stripe webhook secret not configured")

// Config holds Stripe API configuration
type Config struct {
	SecretKey     string
	WebhookSecret string
}

// Client verifies PaymentIntents and webhook signatures
type Client struct {
	api           *client.API
	webhookSecret string
}

// NewClient creates a new Stripe client
func NewClient(cfg Config) *Client {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Client{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
	}
}

// VerifyPayment fetches the PaymentIntent and reports its current status.
// The caller decides what a non-succeeded status means.
func (c *Client) VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentVerification, error) {
	pi, err := c.api.PaymentIntents.Get(paymentID, &stripego.PaymentIntentParams{
		Params: stripego.Params{Context: ctx},
	})
	if err != nil {
		var se *stripego.Error
		if errors.As(err, &se) {
			log.Printf("[Stripe] PaymentIntent %s lookup failed: status=%d code=%s", paymentID, se.HTTPStatusCode, se.Code)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentVerificationFailed, err)
	}

	return toVerification(pi), nil
}

// ParseWebhook checks the Stripe-Signature header and extracts the payment intent.
// Events for other object types come back with an empty PaymentID.
func (c *Client) ParseWebhook(payload []byte, signature string) (*domain.PaymentEvent, error) {
	if c.webhookSecret == "" {
		return nil, ErrWebhookDisabled
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}

	out := &domain.PaymentEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	var pi stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("failed to decode webhook object: %w", err)
	}
	if pi.Object == "payment_intent" {
		out.PaymentID = pi.ID
		out.Status = string(pi.Status)
	}
	return out, nil
}

func toVerification(pi *stripego.PaymentIntent) *domain.PaymentVerification {
	metadata := make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		metadata[k] = v
	}
	return &domain.PaymentVerification{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Metadata: metadata,
	}
}
