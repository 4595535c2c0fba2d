package service

import (
	"context"
	"errors"
	"log"

	"github.com/mansoorceksport/wellness/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// RenewalResult is the outcome of a successful renewal
type RenewalResult struct {
	Previous                *domain.UserPackage    `json:"previous"`
	Current                 *domain.UserPackage    `json:"current"`
	History                 *domain.RenewalHistory `json:"history"`
	PrescriptionRegenerated bool                   `json:"prescription_regenerated"`
}

type RenewalService struct {
	entitlements  *EntitlementService
	packages      domain.PackageRepository
	prescriptions domain.PrescriptionRepository
	questionnaire domain.QuestionnaireRepository
	trigger       *PrescriptionTrigger
}

func NewRenewalService(
	entitlements *EntitlementService,
	packages domain.PackageRepository,
	questionnaire domain.QuestionnaireRepository,
	prescriptions domain.PrescriptionRepository,
	trigger *PrescriptionTrigger,
) *RenewalService {
	return &RenewalService{
		entitlements:  entitlements,
		packages:      packages,
		questionnaire: questionnaire,
		prescriptions: prescriptions,
		trigger:       trigger,
	}
}

// Renew replaces the user's active entitlement with a new one for
// targetPackageID (the current package when empty). Remaining time stacks.
func (s *RenewalService) Renew(ctx context.Context, userID, targetPackageID string) (*RenewalResult, error) {
	es := s.entitlements
	ctx, span := es.tracer.Start(ctx, "renewal.Renew")
	defer span.End()

	user, err := es.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := es.activeFor(ctx, user)
	if err != nil {
		return nil, err
	}

	now := es.now()
	if current.RenewedToPackageID != nil {
		return nil, domain.ErrAlreadyRenewed
	}
	if !current.EligibleForRenewal(now) {
		return nil, domain.ErrNotRenewalEligible
	}

	if targetPackageID == "" {
		targetPackageID = current.PackageID
	}
	target, err := s.packages.GetByID(ctx, targetPackageID)
	if err != nil {
		return nil, err
	}
	if !target.IsActive {
		return nil, domain.ErrPackageInactive
	}

	previousPkg, err := s.packages.GetByID(ctx, current.PackageID)
	if err != nil {
		log.Printf("[Renewal] Previous package %s unavailable for snapshot: %v", current.PackageID, err)
	}

	span.SetAttributes(
		attribute.String("renewal.from", string(current.PackageType)),
		attribute.String("renewal.to", string(target.Type)),
	)

	// Step 1: insert the successor as pending, linked back to the current record
	fromID := current.ID
	next := &domain.UserPackage{
		ID:                   es.userPackages.NewID(),
		UserID:               userID,
		PackageID:            target.ID,
		PackageType:          target.Type,
		PurchaseDate:         now,
		ExpiryDate:           domain.CalculateRenewalExpiry(current.ExpiryDate, target.DurationDays, now),
		Price:                target.Price,
		Currency:             target.Currency,
		PaymentMethod:        domain.PaymentMethodRenewal,
		PurchasedBy:          userID,
		RenewedFromPackageID: &fromID,
	}
	if err := es.userPackages.Create(ctx, next); err != nil {
		return nil, err
	}

	// Step 2: move the pointer to the successor; of concurrent renewals only one swap wins
	if err := es.users.SetActivePackage(ctx, userID, current.ID, next.ID, next.PackageType); err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			log.Printf("[Renewal] Pointer for user %s moved during renewal of %s", userID, current.ID)
		}
		es.abandon(ctx, next)
		return nil, err
	}

	// Step 3: retire the renewed record and link it forward
	if err := es.userPackages.MarkRenewed(ctx, current.ID, next.ID, now); err != nil {
		log.Printf("[Renewal] %s changed state during renewal: %v", current.ID, err)
		es.abandon(ctx, next)
		if clearErr := es.users.ClearActivePackage(ctx, userID, next.ID); clearErr != nil {
			log.Printf("[Renewal] Failed to release pointer for user %s: %v", userID, clearErr)
		}
		return nil, err
	}
	nextID := next.ID
	current.IsActive = false
	current.IsRenewalEligible = false
	current.RenewedToPackageID = &nextID
	current.DeactivatedAt = &now
	current.DeactivationReason = domain.DeactivationRenewed

	if err := es.userPackages.Activate(ctx, next.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// a purchase superseded the successor before it went live
			return nil, domain.ErrConcurrentUpdate
		}
		return nil, err
	}
	next.IsActive = true

	history := &domain.RenewalHistory{
		UserID:          userID,
		PreviousPackage: domain.NewPackageSnapshot(current, previousPkg),
		NewPackage:      domain.NewPackageSnapshot(next, target),
		RenewedAt:       now,
	}
	if err := es.histories.Create(ctx, history); err != nil {
		log.Printf("[Renewal] Failed to write history for %s -> %s: %v", current.ID, next.ID, err)
	}

	regenerate := s.shouldRegenerate(ctx, userID, current.PackageType, next.PackageType)
	if regenerate {
		s.trigger.Dispatch(userID, next.PackageType, PrescriptionReasonRenewal)
	}

	log.Printf("[Renewal] User %s renewed %s -> %s (%s -> %s), expires %s",
		userID, current.ID, next.ID, current.PackageType, next.PackageType, next.ExpiryDate.Format("2006-01-02T15:04:05Z"))

	es.metrics.IncRenewed(string(next.PackageType))
	es.notifier.Publish(ctx, domain.EventEntitlementRenewed, next, now)
	es.notifier.PackageRenewed(ctx, user, target, next)

	return &RenewalResult{
		Previous:                current,
		Current:                 next,
		History:                 history,
		PrescriptionRegenerated: regenerate,
	}, nil
}

// shouldRegenerate reads the questionnaire and the latest prescription concurrently.
// A read failure skips regeneration unless the type changed.
func (s *RenewalService) shouldRegenerate(ctx context.Context, userID string, oldType, newType domain.PackageType) bool {
	if oldType != newType {
		return true
	}

	var (
		q      *domain.Questionnaire
		latest *domain.Prescription
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		q, err = s.questionnaire.GetLatestByUser(gCtx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = s.prescriptions.GetLatestByUser(gCtx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("[Renewal] Skipping prescription check for user %s: %v", userID, err)
		return false
	}

	return domain.ShouldRegeneratePrescription(oldType, newType, q, latest)
}
