package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mansoorceksport/wellness/internal/config"
	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/mansoorceksport/wellness/internal/infrastructure/stripe"
)

// PaymentVerifier confirms the state of a payment reference with the provider
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentVerification, error)
}

// MockPaymentVerifier reports every payment as succeeded except references
// prefixed with "pi_fail", which report requires_payment_method.
type MockPaymentVerifier struct{}

// NewPaymentVerifier returns the Stripe verifier, or the mock when no key is
// configured. The mock is refused in production.
func NewPaymentVerifier(cfg config.StripeConfig, production bool) (PaymentVerifier, *stripe.Client, error) {
	if cfg.SecretKey == "" {
		if production {
			return nil, nil, fmt.Errorf("stripe secret key is required in production")
		}
		log.Println("[Payment] Using mock payment verifier (no Stripe key configured)")
		return &MockPaymentVerifier{}, stripe.NewClient(stripe.Config{WebhookSecret: cfg.WebhookSecret}), nil
	}

	log.Println("[Payment] Using Stripe payment verifier")
	client := stripe.NewClient(stripe.Config{
		SecretKey:     cfg.SecretKey,
		WebhookSecret: cfg.WebhookSecret,
	})
	return client, client, nil
}

// VerifyPayment returns a mock verification
func (m *MockPaymentVerifier) VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentVerification, error) {
	status := domain.PaymentStatusSucceeded
	if strings.HasPrefix(paymentID, "pi_fail") {
		status = "requires_payment_method"
	}
	return &domain.PaymentVerification{
		ID:       paymentID,
		Status:   status,
		Metadata: map[string]string{},
	}, nil
}
