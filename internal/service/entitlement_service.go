package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/mansoorceksport/wellness/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// casAttempts bounds the retries of the user pointer compare-and-swap
	casAttempts = 3
	// pendingGrace is how long a provisioning may leave the pointer on a pending record
	pendingGrace = 10 * time.Minute
)

// Anomaly kinds reported by the sweep
const (
	AnomalyExpiredStillActive = "expired_still_active"
	AnomalyMultipleActive     = "multiple_active"
)

// SweepReport summarizes one bulk expiry pass
type SweepReport struct {
	Scanned         int       `json:"scanned"`
	Deactivated     int       `json:"deactivated"`
	PointersCleared int       `json:"pointers_cleared"`
	Completed       int       `json:"completed"`
	Errors          int       `json:"errors"`
	Anomalies       []string  `json:"anomalies"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// UserHistory is everything a user was ever entitled to
type UserHistory struct {
	Packages []*domain.UserPackage    `json:"packages"`
	Renewals []*domain.RenewalHistory `json:"renewals"`
}

// EntitlementService owns the user pointer and the expiry checker.
// Renewal and provisioning go through it to change which record is active.
type EntitlementService struct {
	users        domain.UserRepository
	userPackages domain.UserPackageRepository
	histories    domain.RenewalHistoryRepository
	notifier     *Notifier
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

func NewEntitlementService(
	users domain.UserRepository,
	userPackages domain.UserPackageRepository,
	histories domain.RenewalHistoryRepository,
	notifier *Notifier,
	metrics *telemetry.Metrics,
) *EntitlementService {
	if notifier == nil {
		notifier = NewNotifier(nil, nil)
	}
	return &EntitlementService{
		users:        users,
		userPackages: userPackages,
		histories:    histories,
		notifier:     notifier,
		metrics:      metrics,
		tracer:       otel.Tracer("entitlement-service"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// GetActivePackage returns the user's active entitlement after the lazy expiry
// check. A stale pointer is repaired on the way.
func (s *EntitlementService) GetActivePackage(ctx context.Context, userID string) (*domain.UserPackage, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.activeFor(ctx, user)
}

func (s *EntitlementService) activeFor(ctx context.Context, user *domain.User) (*domain.UserPackage, error) {
	pointer := user.ActivePackage()
	if pointer == "" {
		return nil, domain.ErrNoActivePackage
	}

	up, err := s.userPackages.GetByID(ctx, pointer)
	if errors.Is(err, domain.ErrUserPackageNotFound) || errors.Is(err, domain.ErrInvalidID) {
		log.Printf("[Entitlement] User %s points at missing entitlement %s, clearing", user.ID, pointer)
		if err := s.users.ClearActivePackage(ctx, user.ID, pointer); err != nil {
			return nil, err
		}
		return nil, domain.ErrNoActivePackage
	}
	if err != nil {
		return nil, err
	}

	switch {
	case up.IsPending():
		// a provisioning is between the pointer swap and activation
		return nil, domain.ErrNoActivePackage
	case up.IsTerminal():
		log.Printf("[Entitlement] User %s points at %s entitlement %s, clearing", user.ID, up.DeactivationReason, up.ID)
		if err := s.users.ClearActivePackage(ctx, user.ID, up.ID); err != nil {
			return nil, err
		}
		return nil, domain.ErrNoActivePackage
	case up.UserID != user.ID:
		log.Printf("[Entitlement] Anomaly: user %s points at entitlement %s owned by %s", user.ID, up.ID, up.UserID)
		return nil, domain.ErrNoActivePackage
	}

	expired, err := s.ExpireIfDue(ctx, up, "lazy")
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, domain.ErrNoActivePackage
	}
	return up, nil
}

// ExpireIfDue deactivates up when its expiry has passed and releases the user
// pointer. It reports whether up is now expired.
func (s *EntitlementService) ExpireIfDue(ctx context.Context, up *domain.UserPackage, path string) (bool, error) {
	now := s.now()
	if !up.IsActive || !up.IsExpired(now) {
		return false, nil
	}

	changed, err := s.userPackages.Deactivate(ctx, up.ID, domain.DeactivationExpired, now)
	if err != nil {
		return false, fmt.Errorf("failed to expire %s: %w", up.ID, err)
	}
	up.IsActive = false
	up.IsRenewalEligible = false
	if changed {
		up.DeactivatedAt = &now
		up.DeactivationReason = domain.DeactivationExpired
	}

	if up.UserID != "" {
		if err := s.users.ClearActivePackage(ctx, up.UserID, up.ID); err != nil {
			return true, fmt.Errorf("failed to release pointer for %s: %w", up.ID, err)
		}
	}

	if changed {
		log.Printf("[Entitlement] Expired %s for user %s (%s)", up.ID, up.UserID, path)
		s.metrics.IncExpired(path)
		s.notifier.Publish(ctx, domain.EventEntitlementExpired, up, now)
	}
	return true, nil
}

// CheckRenewalEligibility recomputes the gate and refreshes the display cache
func (s *EntitlementService) CheckRenewalEligibility(ctx context.Context, userID string) (*domain.RenewalEligibility, error) {
	up, err := s.GetActivePackage(ctx, userID)
	if err != nil {
		return nil, err
	}

	eligibility := domain.EvaluateRenewal(up, s.now())
	if eligibility.IsEligible != up.IsRenewalEligible {
		if err := s.userPackages.UpdateRenewalEligibility(ctx, up.ID, eligibility.IsEligible, eligibility.EligibleFrom); err != nil {
			log.Printf("[Entitlement] Failed to cache eligibility for %s: %v", up.ID, err)
		}
	}
	return &eligibility, nil
}

// ListHistory returns the user's entitlements, newest first, with renewal audit entries
func (s *EntitlementService) ListHistory(ctx context.Context, userID string) (*UserHistory, error) {
	packages, err := s.userPackages.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	renewals, err := s.histories.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if packages == nil {
		packages = []*domain.UserPackage{}
	}
	if renewals == nil {
		renewals = []*domain.RenewalHistory{}
	}
	return &UserHistory{Packages: packages, Renewals: renewals}, nil
}

// GetRenewalChain returns the chain ending at userPackageID, oldest first.
// Records owned by someone else end the walk.
func (s *EntitlementService) GetRenewalChain(ctx context.Context, userID, userPackageID string) ([]*domain.UserPackage, error) {
	start, err := s.userPackages.GetByID(ctx, userPackageID)
	if err != nil {
		return nil, err
	}
	if start.UserID != userID {
		return nil, domain.ErrForbidden
	}

	return domain.WalkRenewalChain(userPackageID, func(id string) (*domain.UserPackage, error) {
		up, err := s.userPackages.GetByID(ctx, id)
		if errors.Is(err, domain.ErrUserPackageNotFound) || errors.Is(err, domain.ErrInvalidID) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if up.UserID != userID {
			return nil, nil
		}
		return up, nil
	})
}

// makeActive makes the pending record up the user's only active entitlement.
// The pointer swap is the linearization point: whoever moves the pointer
// supersedes the record it pointed at. It reports whether this call performed
// the activation; false with a nil error means a concurrent caller finished it
// or superseded it first, and up holds the stored state.
func (s *EntitlementService) makeActive(ctx context.Context, userID string, up *domain.UserPackage) (bool, error) {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return false, err
		}
		previous := user.ActivePackage()

		err = s.users.SetActivePackage(ctx, userID, previous, up.ID, up.PackageType)
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			log.Printf("[Entitlement] Pointer swap for user %s lost (attempt %d/%d)", userID, attempt, casAttempts)
			continue
		}
		if err != nil {
			return false, err
		}

		now := s.now()
		if previous != "" && previous != up.ID {
			if _, err := s.userPackages.Deactivate(ctx, previous, domain.DeactivationSuperseded, now); err != nil {
				log.Printf("[Entitlement] Failed to supersede %s for user %s: %v", previous, userID, err)
			}
		}

		if err := s.userPackages.Activate(ctx, up.ID); err != nil {
			if !errors.Is(err, domain.ErrInvalidState) {
				return false, err
			}
			current, getErr := s.userPackages.GetByID(ctx, up.ID)
			if getErr != nil {
				return false, getErr
			}
			if current.IsTerminal() {
				log.Printf("[Entitlement] %s was %s before activation", up.ID, current.DeactivationReason)
			}
			*up = *current
			return false, nil
		}

		up.IsActive = true
		return true, nil
	}

	return false, domain.ErrConcurrentUpdate
}

// abandon retires a pending record that lost a race
func (s *EntitlementService) abandon(ctx context.Context, up *domain.UserPackage) {
	if _, err := s.userPackages.Deactivate(ctx, up.ID, domain.DeactivationAbandoned, s.now()); err != nil {
		log.Printf("[Entitlement] Failed to abandon %s: %v", up.ID, err)
	}
}

// SweepExpired deactivates every expired active record, repairs user pointers
// and reports invariant violations it cannot fix.
func (s *EntitlementService) SweepExpired(ctx context.Context) (*SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "entitlement.SweepExpired")
	defer span.End()

	report := &SweepReport{StartedAt: s.now(), Anomalies: []string{}}

	err := s.userPackages.ForEachExpiredActive(ctx, report.StartedAt, func(up *domain.UserPackage) error {
		report.Scanned++
		expired, err := s.ExpireIfDue(ctx, up, "sweep")
		if err != nil {
			report.Errors++
			log.Printf("[Sweep] %v", err)
			return nil
		}
		if expired && up.DeactivationReason == domain.DeactivationExpired {
			report.Deactivated++
		}
		return ctx.Err()
	})
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("expiry scan failed: %w", err)
	}

	if err := s.reconcilePointers(ctx, report); err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("pointer reconciliation failed: %w", err)
	}

	s.detectAnomalies(ctx, report)

	report.FinishedAt = s.now()
	s.metrics.ObserveSweep(report.FinishedAt.Sub(report.StartedAt).Seconds())
	span.SetAttributes(
		attribute.Int("sweep.scanned", report.Scanned),
		attribute.Int("sweep.deactivated", report.Deactivated),
		attribute.Int("sweep.pointers_cleared", report.PointersCleared),
		attribute.Int("sweep.anomalies", len(report.Anomalies)),
	)

	log.Printf("[Sweep] Scanned %d, deactivated %d, cleared %d pointers, %d errors, %d anomalies",
		report.Scanned, report.Deactivated, report.PointersCleared, report.Errors, len(report.Anomalies))
	return report, nil
}

// reconcilePointers clears pointers to missing, terminal or long-pending records
func (s *EntitlementService) reconcilePointers(ctx context.Context, report *SweepReport) error {
	return s.users.ListWithActivePackage(ctx, func(user *domain.User) error {
		pointer := user.ActivePackage()
		up, err := s.userPackages.GetByID(ctx, pointer)

		var stale bool
		switch {
		case errors.Is(err, domain.ErrUserPackageNotFound), errors.Is(err, domain.ErrInvalidID):
			stale = true
		case err != nil:
			report.Errors++
			log.Printf("[Sweep] Failed to load %s for user %s: %v", pointer, user.ID, err)
			return nil
		case up.IsTerminal():
			stale = true
		case up.IsPending() && s.now().Sub(up.CreatedAt) > pendingGrace:
			if isPaidProvisioning(user, up) {
				s.completePaid(ctx, user, up, report)
				return ctx.Err()
			}
			log.Printf("[Sweep] Provisioning of %s for user %s never completed, abandoning", up.ID, user.ID)
			s.abandon(ctx, up)
			stale = true
		}

		if !stale {
			return ctx.Err()
		}
		if err := s.users.ClearActivePackage(ctx, user.ID, pointer); err != nil {
			report.Errors++
			log.Printf("[Sweep] Failed to clear pointer for user %s: %v", user.ID, err)
			return nil
		}
		report.PointersCleared++
		return ctx.Err()
	})
}

// isPaidProvisioning reports whether a pending record the user points at
// carries a verified payment. Renewal successors carry none.
func isPaidProvisioning(user *domain.User, up *domain.UserPackage) bool {
	return up.PaymentID != "" && up.RenewedFromPackageID == nil && up.UserID == user.ID
}

// completePaid activates a stuck paid record. A failure leaves it pending for
// the next sweep or a retried confirmation; a paid record is never abandoned.
func (s *EntitlementService) completePaid(ctx context.Context, user *domain.User, up *domain.UserPackage, report *SweepReport) {
	if err := s.userPackages.Activate(ctx, up.ID); err != nil {
		report.Errors++
		log.Printf("[Sweep] Failed to complete provisioning of %s for user %s: %v", up.ID, user.ID, err)
		return
	}
	log.Printf("[Sweep] Completed provisioning of %s for user %s (payment %s)", up.ID, user.ID, up.PaymentID)
	report.Completed++
	up.IsActive = true
	s.notifier.Publish(ctx, domain.EventEntitlementProvisioned, up, s.now())
}

func (s *EntitlementService) detectAnomalies(ctx context.Context, report *SweepReport) {
	remaining, err := s.userPackages.CountExpiredActive(ctx, report.StartedAt)
	if err != nil {
		log.Printf("[Sweep] Failed to count expired active records: %v", err)
	} else if remaining > 0 {
		msg := fmt.Sprintf("%s: %d records still active past expiry", AnomalyExpiredStillActive, remaining)
		log.Printf("[Sweep] Anomaly: %s", msg)
		report.Anomalies = append(report.Anomalies, msg)
		s.metrics.AddAnomalies(AnomalyExpiredStillActive, int(remaining))
	}

	users, err := s.userPackages.UsersWithMultipleActive(ctx)
	if err != nil {
		log.Printf("[Sweep] Failed to check for multiple active records: %v", err)
		return
	}
	for _, userID := range users {
		msg := fmt.Sprintf("%s: user %s", AnomalyMultipleActive, userID)
		log.Printf("[Sweep] Anomaly: %s", msg)
		report.Anomalies = append(report.Anomalies, msg)
	}
	s.metrics.AddAnomalies(AnomalyMultipleActive, len(users))
}
