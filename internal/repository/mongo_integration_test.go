package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/mansoorceksport/wellness/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func newUser(t *testing.T, repo *MongoUserRepository, email string) *domain.User {
	t.Helper()
	u := &domain.User{Email: email, Name: "Test"}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func pendingRecord(userID, paymentID string, expiry time.Time) *domain.UserPackage {
	return &domain.UserPackage{
		UserID:        userID,
		PackageID:     "pkg_basic_30",
		PackageType:   domain.PackageTypeBasic,
		PurchaseDate:  expiry.Add(-30 * 24 * time.Hour),
		ExpiryDate:    expiry,
		Price:         4900,
		Currency:      "usd",
		PaymentMethod: domain.PaymentMethodCard,
		PaymentID:     paymentID,
	}
}

func TestMongoUser_ActivePackagePointer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	users := NewMongoUserRepository(db)
	u := newUser(t, users, "cas@example.com")

	require.NoError(t, users.SetActivePackage(ctx, u.ID, "", "up1", domain.PackageTypeBasic))
	assert.ErrorIs(t, users.SetActivePackage(ctx, u.ID, "", "up2", domain.PackageTypePremium), domain.ErrConcurrentUpdate)
	require.NoError(t, users.SetActivePackage(ctx, u.ID, "up1", "up2", domain.PackageTypePremium))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "up2", got.ActivePackage())
	assert.Equal(t, domain.PackageTypePremium, got.PackageType)

	// clearing a pointer that already moved on is a no-op
	require.NoError(t, users.ClearActivePackage(ctx, u.ID, "up1"))
	got, _ = users.GetByID(ctx, u.ID)
	assert.Equal(t, "up2", got.ActivePackage())

	require.NoError(t, users.ClearActivePackage(ctx, u.ID, "up2"))
	got, _ = users.GetByID(ctx, u.ID)
	assert.Empty(t, got.ActivePackage())
	assert.Equal(t, domain.PackageTypeNone, got.PackageType)

	assert.ErrorIs(t, users.SetActivePackage(ctx, "65f000000000000000000000", "", "up1", domain.PackageTypeBasic), domain.ErrUserNotFound)
	assert.ErrorIs(t, users.SetActivePackage(ctx, "not-an-id", "", "up1", domain.PackageTypeBasic), domain.ErrInvalidID)
}

func TestMongoUser_ConcurrentSwapHasOneWinner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	users := NewMongoUserRepository(db)
	u := newUser(t, users, "race@example.com")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := users.SetActivePackage(ctx, u.ID, "", string(rune('a'+i)), domain.PackageTypeBasic); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMongoUserPackage_Lifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewMongoUserPackageRepository(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	up := pendingRecord("u1", "pi_1", now.Add(20*24*time.Hour))
	up.ID = repo.NewID()
	presetID := up.ID
	require.NoError(t, repo.Create(ctx, up))
	assert.Equal(t, presetID, up.ID, "a preset id is kept")

	dup := pendingRecord("u1", "pi_1", now)
	assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrDuplicatePayment)

	// records without a payment id never collide
	require.NoError(t, repo.Create(ctx, pendingRecord("u1", "", now)))
	require.NoError(t, repo.Create(ctx, pendingRecord("u1", "", now)))

	got, err := repo.GetByPaymentID(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, got.IsPending())

	require.NoError(t, repo.Activate(ctx, up.ID))
	assert.ErrorIs(t, repo.Activate(ctx, up.ID), domain.ErrInvalidState)

	require.NoError(t, repo.MarkRenewed(ctx, up.ID, "next", now))
	assert.ErrorIs(t, repo.MarkRenewed(ctx, up.ID, "other", now), domain.ErrAlreadyRenewed)

	got, err = repo.GetByID(ctx, up.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTerminal())
	assert.Equal(t, domain.DeactivationRenewed, got.DeactivationReason)
	require.NotNil(t, got.RenewedToPackageID)
	assert.Equal(t, "next", *got.RenewedToPackageID)

	changed, err := repo.Deactivate(ctx, up.ID, domain.DeactivationExpired, now)
	require.NoError(t, err)
	assert.False(t, changed, "terminal records keep their first reason")
	assert.ErrorIs(t, repo.Activate(ctx, up.ID), domain.ErrInvalidState, "terminal records never revive")

	_, err = repo.GetByID(ctx, "65f000000000000000000000")
	assert.ErrorIs(t, err, domain.ErrUserPackageNotFound)
	assert.ErrorIs(t, repo.Activate(ctx, "65f000000000000000000000"), domain.ErrUserPackageNotFound)
}

func TestMongoUserPackage_ExpiryQueries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewMongoUserPackageRepository(db)
	now := time.Now().UTC()

	activate := func(up *domain.UserPackage) {
		require.NoError(t, repo.Create(ctx, up))
		require.NoError(t, repo.Activate(ctx, up.ID))
	}
	activate(pendingRecord("u1", "pi_a", now.Add(-time.Hour)))
	activate(pendingRecord("u1", "pi_b", now.Add(time.Hour)))
	activate(pendingRecord("u2", "pi_c", now.Add(-2*time.Hour)))
	require.NoError(t, repo.Create(ctx, pendingRecord("u3", "pi_d", now.Add(-time.Hour))))

	count, err := repo.CountExpiredActive(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	var seen []string
	require.NoError(t, repo.ForEachExpiredActive(ctx, now, func(up *domain.UserPackage) error {
		seen = append(seen, up.PaymentID)
		return nil
	}))
	assert.ElementsMatch(t, []string{"pi_a", "pi_c"}, seen)

	multi, err := repo.UsersWithMultipleActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, multi)
}

func TestMongoUserPackage_GiftsAndDeductions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewMongoUserPackageRepository(db)
	now := time.Now().UTC()

	gift := pendingRecord("", "pi_gift", now)
	gift.IsGift = true
	gift.GiftCode = "01HXGIFT"
	gift.PurchasedBy = "payer"
	require.NoError(t, repo.Create(ctx, gift))

	claimed, err := repo.ClaimGift(ctx, "01HXGIFT", "friend", now, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "friend", claimed.UserID)
	assert.Equal(t, "payer", claimed.Payer())

	_, err = repo.ClaimGift(ctx, "01HXGIFT", "someone-else", now, now)
	assert.ErrorIs(t, err, domain.ErrGiftAlreadyRedeemed)
	_, err = repo.ClaimGift(ctx, "missing", "friend", now, now)
	assert.ErrorIs(t, err, domain.ErrUserPackageNotFound)

	require.NoError(t, repo.RecordGiftCardDeduction(ctx, gift.ID, "CARD", 900))
	assert.ErrorIs(t, repo.RecordGiftCardDeduction(ctx, gift.ID, "CARD", 900), domain.ErrInvalidState)

	got, err := repo.GetByID(ctx, gift.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.Price)
	assert.Equal(t, int64(900), got.GiftCardDeduction)
}

func TestMongoGiftCard_Deduct(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewMongoGiftCardRepository(db)
	now := time.Now().UTC()

	card := &domain.GiftCard{Code: "CARD50", Amount: 5000, Currency: "usd"}
	require.NoError(t, repo.Create(ctx, card))
	assert.Equal(t, int64(5000), card.Balance)

	_, err := repo.Deduct(ctx, card.ID, 6000, now)
	assert.ErrorIs(t, err, domain.ErrInsufficientGiftBalance)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Deduct(ctx, card.ID, 2000, now); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), ok.Load(), "the balance is never overdrawn")

	left, err := repo.Deduct(ctx, card.ID, 1000, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), left.Balance)
	assert.True(t, left.IsRedeemed)

	_, err = repo.FindByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrGiftCardNotFound)
}

func TestCachedPackageRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	mongoRepo := NewMongoPackageRepository(db)
	cache, mr := newTestCache(t)
	repo := NewCachedPackageRepository(mongoRepo, cache)

	require.NoError(t, mongoRepo.SeedDefaultPackages(ctx))
	require.NoError(t, mongoRepo.SeedDefaultPackages(ctx), "seeding twice is a no-op")

	active, err := repo.GetActivePackages(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 4)
	assert.True(t, mr.Exists(activePackagesKey))

	pkg, err := repo.GetByID(ctx, "pkg_basic_30")
	require.NoError(t, err)
	assert.Equal(t, 30, pkg.DurationDays)
	assert.True(t, mr.Exists(packageByIDKeyPrefix+"pkg_basic_30"))

	// a write underneath the cache is hidden until the cache is invalidated
	_, err = db.Collection("packages").UpdateByID(ctx, "pkg_basic_30", bson.M{"$set": bson.M{"name": "Changed"}})
	require.NoError(t, err)
	pkg, _ = repo.GetByID(ctx, "pkg_basic_30")
	assert.Equal(t, "Basic", pkg.Name)

	require.NoError(t, repo.Deactivate(ctx, "pkg_basic_30"))
	assert.False(t, mr.Exists(activePackagesKey))

	pkg, err = repo.GetByID(ctx, "pkg_basic_30")
	require.NoError(t, err)
	assert.False(t, pkg.IsActive)
	assert.Equal(t, "Changed", pkg.Name)

	active, err = repo.GetActivePackages(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	_, err = repo.GetByID(ctx, "pkg_missing")
	assert.ErrorIs(t, err, domain.ErrPackageNotFound)
}
