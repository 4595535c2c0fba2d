package service

import (
	"testing"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/mansoorceksport/wellness/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	pkgBasic    = "pkg_basic_30"
	pkgPremium  = "pkg_premium_90"
	pkgRetired  = "pkg_enhanced_60"
	basicPrice  = int64(2900)
	premiumDays = 90
)

type harness struct {
	clock          *testClock
	users          *fakeUsers
	ups            *fakeUserPackages
	packages       *fakePackages
	histories      *fakeHistories
	giftCards      *fakeGiftCards
	questionnaires *fakeQuestionnaires
	prescriptions  *fakePrescriptions
	verifier       *fakeVerifier
	generator      *fakeGenerator
	email          *fakeEmail
	events         *fakeEvents
	metrics        *telemetry.Metrics

	trigger      *PrescriptionTrigger
	entitlements *EntitlementService
	renewals     *RenewalService
	purchases    *PurchaseService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := newTestClock(t0)
	h := &harness{
		clock: clock,
		users: newFakeUsers(),
		ups:   newFakeUserPackages(clock),
		packages: newFakePackages(
			&domain.Package{ID: pkgBasic, Name: "Basic", Type: domain.PackageTypeBasic, Price: basicPrice, Currency: "USD", DurationDays: 30, IsActive: true},
			&domain.Package{ID: pkgPremium, Name: "Premium", Type: domain.PackageTypePremium, Price: 9900, Currency: "USD", DurationDays: premiumDays, IsActive: true},
			&domain.Package{ID: pkgRetired, Name: "Enhanced", Type: domain.PackageTypeEnhanced, Price: 5900, Currency: "USD", DurationDays: 60, IsActive: false},
		),
		histories:      &fakeHistories{},
		giftCards:      newFakeGiftCards(),
		questionnaires: &fakeQuestionnaires{q: &domain.Questionnaire{IsCompleted: true, UpdatedAt: t0.Add(-48 * time.Hour)}},
		prescriptions:  &fakePrescriptions{},
		verifier:       &fakeVerifier{},
		generator:      &fakeGenerator{},
		email:          &fakeEmail{},
		events:         &fakeEvents{},
		metrics:        telemetry.NewMetrics(prometheus.NewRegistry()),
	}

	h.trigger = NewPrescriptionTrigger(h.generator, h.questionnaires, time.Second)
	h.entitlements = NewEntitlementService(h.users, h.ups, h.histories, NewNotifier(h.email, h.events), h.metrics)
	h.entitlements.now = clock.Now
	h.renewals = NewRenewalService(h.entitlements, h.packages, h.questionnaires, h.prescriptions, h.trigger)
	h.purchases = NewPurchaseService(h.entitlements, h.packages, h.giftCards, h.verifier, h.trigger, time.Second)

	t.Cleanup(h.trigger.Wait)
	return h
}

func (h *harness) addUser(t *testing.T, id string) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, Email: id + "@example.com", Name: "User " + id, Roles: []string{domain.RoleMember}}
	if err := h.users.Create(t.Context(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// seedActive stores an active entitlement for userID and points the user at it
func (h *harness) seedActive(t *testing.T, userID, pkgID string, expiry time.Time) *domain.UserPackage {
	t.Helper()
	pkg, err := h.packages.GetByID(t.Context(), pkgID)
	if err != nil {
		t.Fatalf("package %s: %v", pkgID, err)
	}
	up := &domain.UserPackage{
		ID:            h.ups.NewID(),
		UserID:        userID,
		PackageID:     pkg.ID,
		PackageType:   pkg.Type,
		PurchaseDate:  expiry.Add(-pkg.Duration()),
		ExpiryDate:    expiry,
		Price:         pkg.Price,
		Currency:      pkg.Currency,
		PaymentMethod: domain.PaymentMethodCard,
		IsActive:      true,
		CreatedAt:     expiry.Add(-pkg.Duration()),
	}
	h.ups.put(up)
	h.pointAt(userID, up.ID, pkg.Type)
	return up
}

func (h *harness) pointAt(userID, upID string, pkgType domain.PackageType) {
	h.users.mu.Lock()
	defer h.users.mu.Unlock()
	id := upID
	h.users.users[userID].ActivePackageID = &id
	h.users.users[userID].PackageType = pkgType
}

func (h *harness) user(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := h.users.GetByID(t.Context(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return u
}

func (h *harness) record(t *testing.T, id string) *domain.UserPackage {
	t.Helper()
	up, err := h.ups.get(id)
	if err != nil {
		t.Fatalf("get record %s: %v", id, err)
	}
	return up
}
