package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mansoorceksport/wellness/internal/domain"
)

// In-memory repositories with the same conditional-write semantics as the Mongo ones.

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
	// beforeSet runs once before the next SetActivePackage, to simulate a racing writer
	beforeSet func()
	// lostSwaps makes that many SetActivePackage calls fail as if the pointer moved
	lostSwaps int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*domain.User{}}
}

func (f *fakeUsers) Create(ctx context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.PackageType == "" {
		user.PackageType = domain.PackageTypeNone
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	if u.ActivePackageID != nil {
		p := *u.ActivePackageID
		cp.ActivePackageID = &p
	}
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (f *fakeUsers) SetActivePackage(ctx context.Context, userID, expected, packageID string, pkgType domain.PackageType) error {
	if hook := f.takeHook(); hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if f.lostSwaps > 0 {
		f.lostSwaps--
		return domain.ErrConcurrentUpdate
	}
	if u.ActivePackage() != expected {
		return domain.ErrConcurrentUpdate
	}
	id := packageID
	u.ActivePackageID = &id
	u.PackageType = pkgType
	return nil
}

func (f *fakeUsers) takeHook() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	hook := f.beforeSet
	f.beforeSet = nil
	return hook
}

func (f *fakeUsers) ClearActivePackage(ctx context.Context, userID, packageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.ActivePackage() != packageID {
		return nil
	}
	u.ActivePackageID = nil
	u.PackageType = domain.PackageTypeNone
	return nil
}

func (f *fakeUsers) ListWithActivePackage(ctx context.Context, fn func(*domain.User) error) error {
	f.mu.Lock()
	var list []*domain.User
	for _, u := range f.users {
		if u.ActivePackageID != nil {
			cp := *u
			list = append(list, &cp)
		}
	}
	f.mu.Unlock()

	for _, u := range list {
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeUserPackages struct {
	mu      sync.Mutex
	seq     int
	clock   *testClock
	records map[string]*domain.UserPackage
}

func newFakeUserPackages(clock *testClock) *fakeUserPackages {
	return &fakeUserPackages{clock: clock, records: map[string]*domain.UserPackage{}}
}

func (f *fakeUserPackages) NewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("up%03d", f.seq)
}

func (f *fakeUserPackages) put(up *domain.UserPackage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *up
	f.records[up.ID] = &cp
}

func (f *fakeUserPackages) Create(ctx context.Context, up *domain.UserPackage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if up.ID == "" {
		f.seq++
		up.ID = fmt.Sprintf("up%03d", f.seq)
	}
	if up.PaymentID != "" {
		for _, r := range f.records {
			if r.PaymentID == up.PaymentID {
				return domain.ErrDuplicatePayment
			}
		}
	}
	up.CreatedAt = f.clock.Now()
	up.UpdatedAt = up.CreatedAt
	cp := *up
	f.records[up.ID] = &cp
	return nil
}

func (f *fakeUserPackages) get(id string) (*domain.UserPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, domain.ErrUserPackageNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeUserPackages) GetByID(ctx context.Context, id string) (*domain.UserPackage, error) {
	return f.get(id)
}

func (f *fakeUserPackages) findBy(match func(*domain.UserPackage) bool) (*domain.UserPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if match(r) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrUserPackageNotFound
}

func (f *fakeUserPackages) GetByPaymentID(ctx context.Context, paymentID string) (*domain.UserPackage, error) {
	return f.findBy(func(r *domain.UserPackage) bool { return r.PaymentID == paymentID })
}

func (f *fakeUserPackages) GetByGiftCode(ctx context.Context, code string) (*domain.UserPackage, error) {
	return f.findBy(func(r *domain.UserPackage) bool { return r.GiftCode != "" && r.GiftCode == code })
}

func (f *fakeUserPackages) ListByUser(ctx context.Context, userID string) ([]*domain.UserPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UserPackage
	for _, r := range f.records {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchaseDate.After(out[j].PurchaseDate) })
	return out, nil
}

func (f *fakeUserPackages) Activate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return domain.ErrUserPackageNotFound
	}
	if r.IsActive || r.DeactivatedAt != nil {
		return domain.ErrInvalidState
	}
	r.IsActive = true
	return nil
}

func (f *fakeUserPackages) Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.DeactivatedAt != nil {
		return false, nil
	}
	r.IsActive = false
	r.IsRenewalEligible = false
	r.DeactivatedAt = &at
	r.DeactivationReason = reason
	return true, nil
}

func (f *fakeUserPackages) MarkRenewed(ctx context.Context, id, renewedToID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return domain.ErrUserPackageNotFound
	}
	if !r.IsActive || r.DeactivatedAt != nil || r.RenewedToPackageID != nil {
		return domain.ErrAlreadyRenewed
	}
	to := renewedToID
	r.IsActive = false
	r.IsRenewalEligible = false
	r.RenewedToPackageID = &to
	r.DeactivatedAt = &at
	r.DeactivationReason = domain.DeactivationRenewed
	return nil
}

func (f *fakeUserPackages) ClaimGift(ctx context.Context, code, userID string, claimedAt, expiry time.Time) (*domain.UserPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.GiftCode != code {
			continue
		}
		if !r.IsGift || r.UserID != "" || r.DeactivatedAt != nil {
			return nil, domain.ErrGiftAlreadyRedeemed
		}
		r.UserID = userID
		r.PurchaseDate = claimedAt
		r.ExpiryDate = expiry
		cp := *r
		return &cp, nil
	}
	return nil, domain.ErrUserPackageNotFound
}

func (f *fakeUserPackages) UpdateRenewalEligibility(ctx context.Context, id string, eligible bool, eligibleDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[id]; ok {
		r.IsRenewalEligible = eligible
		r.RenewalEligibleDate = &eligibleDate
	}
	return nil
}

func (f *fakeUserPackages) RecordGiftCardDeduction(ctx context.Context, id, code string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return domain.ErrUserPackageNotFound
	}
	if r.GiftCardCode != "" {
		return domain.ErrInvalidState
	}
	r.Price -= amount
	r.GiftCardCode = code
	r.GiftCardDeduction = amount
	return nil
}

func (f *fakeUserPackages) expiredActive(before time.Time) []*domain.UserPackage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UserPackage
	for _, r := range f.records {
		if r.IsActive && r.ExpiryDate.Before(before) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (f *fakeUserPackages) ForEachExpiredActive(ctx context.Context, before time.Time, fn func(*domain.UserPackage) error) error {
	for _, r := range f.expiredActive(before) {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeUserPackages) CountExpiredActive(ctx context.Context, before time.Time) (int64, error) {
	return int64(len(f.expiredActive(before))), nil
}

func (f *fakeUserPackages) UsersWithMultipleActive(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, r := range f.records {
		if r.IsActive {
			counts[r.UserID]++
		}
	}
	var out []string
	for userID, n := range counts {
		if n > 1 {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeUserPackages) activeFor(userID string) []*domain.UserPackage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UserPackage
	for _, r := range f.records {
		if r.UserID == userID && r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (f *fakeUserPackages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakePackages struct {
	mu       sync.Mutex
	packages map[string]*domain.Package
}

func newFakePackages(pkgs ...*domain.Package) *fakePackages {
	f := &fakePackages{packages: map[string]*domain.Package{}}
	for _, p := range pkgs {
		f.packages[p.ID] = p
	}
	return f
}

func (f *fakePackages) Create(ctx context.Context, pkg *domain.Package) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.packages[pkg.ID]; ok {
		return fmt.Errorf("duplicate package %s", pkg.ID)
	}
	cp := *pkg
	f.packages[pkg.ID] = &cp
	return nil
}

func (f *fakePackages) GetByID(ctx context.Context, id string) (*domain.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packages[id]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePackages) GetActivePackages(ctx context.Context) ([]*domain.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Package
	for _, p := range f.packages {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePackages) Update(ctx context.Context, pkg *domain.Package) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.packages[pkg.ID]; !ok {
		return domain.ErrPackageNotFound
	}
	cp := *pkg
	f.packages[pkg.ID] = &cp
	return nil
}

func (f *fakePackages) Deactivate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packages[id]
	if !ok {
		return domain.ErrPackageNotFound
	}
	p.IsActive = false
	return nil
}

type fakeHistories struct {
	mu      sync.Mutex
	entries []*domain.RenewalHistory
}

func (f *fakeHistories) Create(ctx context.Context, entry *domain.RenewalHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = fmt.Sprintf("rh%03d", len(f.entries)+1)
	cp := *entry
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeHistories) ListByUser(ctx context.Context, userID string) ([]*domain.RenewalHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.RenewalHistory
	for _, e := range f.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeGiftCards struct {
	mu    sync.Mutex
	cards map[string]*domain.GiftCard
}

func newFakeGiftCards(cards ...*domain.GiftCard) *fakeGiftCards {
	f := &fakeGiftCards{cards: map[string]*domain.GiftCard{}}
	for _, c := range cards {
		f.cards[c.ID] = c
	}
	return f
}

func (f *fakeGiftCards) Create(ctx context.Context, card *domain.GiftCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *card
	f.cards[card.ID] = &cp
	return nil
}

func (f *fakeGiftCards) FindByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cards {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrGiftCardNotFound
}

func (f *fakeGiftCards) Deduct(ctx context.Context, id string, amount int64, at time.Time) (*domain.GiftCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[id]
	if !ok || c.IsRedeemed || c.Balance < amount {
		return nil, domain.ErrInsufficientGiftBalance
	}
	c.Balance -= amount
	if c.Balance == 0 {
		c.IsRedeemed = true
		c.RedeemedAt = &at
	}
	cp := *c
	return &cp, nil
}

func (f *fakeGiftCards) balance(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cards[id].Balance
}

type fakeQuestionnaires struct {
	q   *domain.Questionnaire
	err error
}

func (f *fakeQuestionnaires) GetLatestByUser(ctx context.Context, userID string) (*domain.Questionnaire, error) {
	return f.q, f.err
}

type fakePrescriptions struct {
	p   *domain.Prescription
	err error
}

func (f *fakePrescriptions) GetLatestByUser(ctx context.Context, userID string) (*domain.Prescription, error) {
	return f.p, f.err
}

type fakeVerifier struct {
	mu     sync.Mutex
	calls  int
	status string
	meta   map[string]string
	err    error
	block  bool
}

func (f *fakeVerifier) VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentVerification, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == "" {
		status = domain.PaymentStatusSucceeded
	}
	return &domain.PaymentVerification{ID: paymentID, Status: status, Metadata: f.meta}, nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type generateCall struct {
	UserID string
	Type   domain.PackageType
	Reason string
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, userID string, pkgType domain.PackageType, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{userID, pkgType, reason})
	return f.err
}

func (f *fakeGenerator) recorded() []generateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]generateCall(nil), f.calls...)
}

type sentEmail struct {
	To, Subject, Tag string
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeEmail) Send(ctx context.Context, to, subject, htmlBody, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{to, subject, tag})
	return f.err
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.EntitlementEvent
}

func (f *fakeEvents) Publish(ctx context.Context, event domain.EntitlementEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}
