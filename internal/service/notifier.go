package service

import (
	"context"
	"fmt"
	"html"
	"log"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
)

// EmailSender delivers one transactional email
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, tag string) error
}

// LogEmailSender logs instead of sending. Used when Postmark is not configured.
type LogEmailSender struct{}

func (LogEmailSender) Send(ctx context.Context, to, subject, htmlBody, tag string) error {
	log.Printf("[Email] (log only) to=%s subject=%q tag=%s", to, subject, tag)
	return nil
}

// EventPublisher announces committed entitlement changes
type EventPublisher interface {
	Publish(ctx context.Context, event domain.EntitlementEvent) error
}

// LogEventPublisher logs events. Used when no broker is configured.
type LogEventPublisher struct{}

func (LogEventPublisher) Publish(ctx context.Context, event domain.EntitlementEvent) error {
	log.Printf("[Events] (log only) %s user=%s entitlement=%s", event.Type, event.UserID, event.UserPackageID)
	return nil
}

// Notifier sends confirmation emails and events. Failures are logged, never returned.
type Notifier struct {
	email  EmailSender
	events EventPublisher
}

func NewNotifier(email EmailSender, events EventPublisher) *Notifier {
	if email == nil {
		email = LogEmailSender{}
	}
	if events == nil {
		events = LogEventPublisher{}
	}
	return &Notifier{email: email, events: events}
}

// Publish emits an entitlement event
func (n *Notifier) Publish(ctx context.Context, eventType string, up *domain.UserPackage, at time.Time) {
	event := domain.EntitlementEvent{
		Type:          eventType,
		UserID:        up.UserID,
		UserPackageID: up.ID,
		PackageType:   up.PackageType,
		ExpiryDate:    up.ExpiryDate,
		OccurredAt:    at,
	}
	if err := n.events.Publish(ctx, event); err != nil {
		log.Printf("[Notifier] Failed to publish %s for %s: %v", eventType, up.ID, err)
	}
}

// PackagePurchased emails the purchase confirmation
func (n *Notifier) PackagePurchased(ctx context.Context, user *domain.User, pkg *domain.Package, up *domain.UserPackage) {
	if user == nil || user.Email == "" {
		return
	}
	subject := fmt.Sprintf("Your %s package is active", pkg.Name)
	body := fmt.Sprintf("<p>Hi %s,</p><p>Your <strong>%s</strong> package is active until %s.</p>",
		html.EscapeString(user.Name), html.EscapeString(pkg.Name), up.ExpiryDate.Format("January 2, 2006"))

	if err := n.email.Send(ctx, user.Email, subject, body, "package-purchased"); err != nil {
		log.Printf("[Notifier] Failed to send purchase email to %s: %v", user.Email, err)
	}
}

// PackageRenewed emails the renewal confirmation
func (n *Notifier) PackageRenewed(ctx context.Context, user *domain.User, pkg *domain.Package, up *domain.UserPackage) {
	if user == nil || user.Email == "" {
		return
	}
	subject := fmt.Sprintf("Your %s package was renewed", pkg.Name)
	body := fmt.Sprintf("<p>Hi %s,</p><p>Your package was renewed to <strong>%s</strong>. It now runs until %s.</p>",
		html.EscapeString(user.Name), html.EscapeString(pkg.Name), up.ExpiryDate.Format("January 2, 2006"))

	if err := n.email.Send(ctx, user.Email, subject, body, "package-renewed"); err != nil {
		log.Printf("[Notifier] Failed to send renewal email to %s: %v", user.Email, err)
	}
}

// GiftPurchased mails the gift code to the recipient
func (n *Notifier) GiftPurchased(ctx context.Context, buyer *domain.User, recipient string, pkg *domain.Package, code string) {
	if recipient == "" {
		return
	}
	from := "Someone"
	if buyer != nil && buyer.Name != "" {
		from = buyer.Name
	}
	subject := fmt.Sprintf("%s sent you a %s package", from, pkg.Name)
	body := fmt.Sprintf("<p>%s gifted you the <strong>%s</strong> package.</p><p>Redeem it with code <strong>%s</strong>.</p>",
		html.EscapeString(from), html.EscapeString(pkg.Name), html.EscapeString(code))

	if err := n.email.Send(ctx, recipient, subject, body, "gift-purchased"); err != nil {
		log.Printf("[Notifier] Failed to send gift code to %s: %v", recipient, err)
	}
}
