package domain

// PaymentStatusSucceeded is the only status that allows provisioning.
const PaymentStatusSucceeded = "succeeded"

// PaymentVerification is what the payment collaborator reports for a payment reference.
type PaymentVerification struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// Succeeded reports whether the payment can be provisioned.
func (p *PaymentVerification) Succeeded() bool {
	return p.Status == PaymentStatusSucceeded
}

// PaymentEvent is a verified notification pushed by the payment provider.
type PaymentEvent struct {
	ID        string
	Type      string
	PaymentID string
	Status    string
}

// Payment event types that provisioning reacts to
const (
	PaymentEventSucceeded = "payment_intent.succeeded"
)
