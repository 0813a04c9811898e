package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/app/provision"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type countingStore struct {
	*ledger.MemoryStore
	mu      sync.Mutex
	puts    int
	failPut string
}

func (s *countingStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.puts++
	fail := key == s.failPut
	s.mu.Unlock()
	if fail {
		return errors.New("store down")
	}
	return s.MemoryStore.Put(ctx, key, value)
}

func (s *countingStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type fakeProvisioner struct {
	createErr error
	deleteErr error
	created   []provision.CreateRequest
	deleted   []string
}

func (p *fakeProvisioner) CreateAccount(_ context.Context, req provision.CreateRequest) (provision.Account, error) {
	if p.createErr != nil {
		return provision.Account{}, p.createErr
	}
	p.created = append(p.created, req)
	return provision.Account{Email: req.Name, Link: "vless://" + req.Name}, nil
}

func (p *fakeProvisioner) DeleteAccount(_ context.Context, name string, _ int) error {
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted = append(p.deleted, name)
	return nil
}

func testSettings() Settings {
	return Settings{
		ReferralReward: decimal.RequireFromString("0.5"),
		CostPerGB:      decimal.RequireFromString("0.1"),
		RedeemDays:     30,
		PremiumDays:    30,
		PremiumPanel:   2,
		Admins:         []int64{1},
	}
}

func newService(t *testing.T) (*Service, *countingStore, *fakeProvisioner) {
	t.Helper()
	store := &countingStore{MemoryStore: ledger.NewMemoryStore()}
	prov := &fakeProvisioner{}
	names := 0
	svc := New(ledger.New(store), prov, testSettings()).
		WithClock(func() time.Time { return fixedNow }).
		WithNameGenerator(func() string {
			names++
			return "acct" + string(rune('a'+names))
		})
	return svc, store, prov
}

func register(t *testing.T, svc *Service, id, referrer int64) {
	t.Helper()
	_, _, err := svc.Touch(context.Background(), Profile{ID: id, FirstName: "u"}, referrer)
	require.NoError(t, err)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTouchCreatesDefaults(t *testing.T) {
	svc, _, _ := newService(t)
	u, created, err := svc.Touch(context.Background(), Profile{ID: 10, Username: "neo", FirstName: "Neo"}, 0)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, u.Credits.IsZero())
	require.Zero(t, u.ReferredCount)
	require.Nil(t, u.ReferrerID)
	require.Equal(t, ledger.DefaultLang, u.Lang)
	require.Equal(t, fixedNow, u.JoinedAt)

	_, created, err = svc.Touch(context.Background(), Profile{ID: 10, Username: "neo2"}, 0)
	require.NoError(t, err)
	require.False(t, created)
	found, err := svc.Find(context.Background(), "@NEO2")
	require.NoError(t, err)
	require.Equal(t, int64(10), found.UserID)
}

func TestTouchReferrerFirstWinsAndNeverSelf(t *testing.T) {
	svc, _, _ := newService(t)
	register(t, svc, 5, 5)
	u, err := svc.User(context.Background(), 5)
	require.NoError(t, err)
	require.Nil(t, u.ReferrerID)

	register(t, svc, 5, 7)
	register(t, svc, 5, 8)
	u, err = svc.User(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, u.ReferrerID)
	require.Equal(t, int64(7), *u.ReferrerID)
}

func TestParseReferrer(t *testing.T) {
	require.Equal(t, int64(123), ParseReferrer("r_123"))
	require.Equal(t, int64(123), ParseReferrer("123"))
	require.Zero(t, ParseReferrer("r_abc"))
	require.Zero(t, ParseReferrer(""))
}

func TestSerializedAdjustmentsSumToRoundedDeltas(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	register(t, svc, 3, 0)

	type step struct {
		amount string
		op     ledger.CreditOp
	}
	steps := []step{
		{"0.5", ledger.OpAdd},
		{"1.25", ledger.OpAdd},
		{"0.3", ledger.OpDeduct},
		{"0.04", ledger.OpAdd},
		{"2", ledger.OpAdd},
		{"0.7", ledger.OpDeduct},
	}
	want := decimal.Zero
	for _, st := range steps {
		amt := dec(st.amount)
		if st.op == ledger.OpAdd {
			want = want.Add(amt)
		} else {
			want = want.Sub(amt)
		}
		want = want.Round(1)
		got, err := svc.Adjust(ctx, 3, amt, st.op, SourceAdminAdd)
		require.NoError(t, err)
		require.True(t, want.Equal(got), "want %s got %s", want, got)
	}

	hist, total, err := svc.History(ctx, 3, 2)
	require.NoError(t, err)
	require.Equal(t, len(steps), total)
	require.Len(t, hist, 2)
	require.True(t, hist[0].Amount.Equal(dec("0.7")))
	require.Equal(t, ledger.OpDeduct, hist[0].Op)
}

func TestConcurrentAdjustmentsAreNotLost(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	register(t, svc, 3, 0)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Adjust(ctx, 3, dec("0.1"), ledger.OpAdd, SourceAdminAdd)
		}()
	}
	wg.Wait()
	u, err := svc.User(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, "4.0", u.Credits.StringFixed(1))
}

func TestDeductKeepsFloor(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	register(t, svc, 3, 0)
	_, err := svc.Adjust(ctx, 3, dec("0.5"), ledger.OpAdd, SourceAdminAdd)
	require.NoError(t, err)

	puts := store.Puts()
	_, err = svc.Deduct(ctx, 3, dec("0.7"), SourceAdminDeduct)
	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	require.ErrorIs(t, err, ErrInsufficientCredits)
	require.Equal(t, puts, store.Puts())

	_, err = svc.Adjust(ctx, 99, dec("1"), ledger.OpAdd, SourceAdminAdd)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestReferralPaidOnceAcrossRepeatedVerification(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	register(t, svc, 100, 0)   // A
	register(t, svc, 200, 100) // B referred by A

	first, err := svc.ConfirmMembership(ctx, 200)
	require.NoError(t, err)
	require.True(t, first.NewlyVerified)
	require.NotNil(t, first.Payout)
	require.Equal(t, int64(100), first.Payout.ReferrerID)

	second, err := svc.ConfirmMembership(ctx, 200)
	require.NoError(t, err)
	require.False(t, second.NewlyVerified)
	require.Nil(t, second.Payout)

	again, err := svc.PayReferral(ctx, 200)
	require.NoError(t, err)
	require.Nil(t, again)

	a, err := svc.User(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "0.5", a.Credits.StringFixed(1))
	require.Equal(t, 1, a.ReferredCount)

	b, err := svc.User(ctx, 200)
	require.NoError(t, err)
	require.True(t, b.ChannelVerified)
	require.True(t, b.ReferrerCreditPaid)
	require.Len(t, b.CreditHistory, 1)
	require.Equal(t, SourceVerification, b.CreditHistory[0].Source)
}

func TestConcurrentPayReferralPaysOnce(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	register(t, svc, 100, 0)
	register(t, svc, 200, 100)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.PayReferral(ctx, 200)
		}()
	}
	wg.Wait()

	a, err := svc.User(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "0.5", a.Credits.StringFixed(1))
	require.Equal(t, 1, a.ReferredCount)
}

func TestReferralSkippedWhenReferrerMissing(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	register(t, svc, 200, 555)

	res, err := svc.ConfirmMembership(ctx, 200)
	require.NoError(t, err)
	require.True(t, res.NewlyVerified)
	require.Nil(t, res.Payout)

	b, err := svc.User(ctx, 200)
	require.NoError(t, err)
	require.False(t, b.ReferrerCreditPaid)
}

func fund(t *testing.T, svc *Service, id int64, amount string, verified bool) {
	t.Helper()
	ctx := context.Background()
	register(t, svc, id, 0)
	_, err := svc.Adjust(ctx, id, dec(amount), ledger.OpAdd, SourceAdminAdd)
	require.NoError(t, err)
	if verified {
		_, err = svc.ConfirmMembership(ctx, id)
		require.NoError(t, err)
	}
}

func TestRedeemInsufficientCreditsChangesNothing(t *testing.T) {
	svc, store, prov := newService(t)
	fund(t, svc, 7, "0.5", true)

	puts := store.Puts()
	_, err := svc.Redeem(context.Background(), 7, 7, 1)
	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "0.7", insufficient.Required.StringFixed(1))
	require.Equal(t, "0.5", insufficient.Available.StringFixed(1))
	require.Equal(t, puts, store.Puts())
	require.Empty(t, prov.created)
}

func TestRedeemRequiresVerification(t *testing.T) {
	svc, _, prov := newService(t)
	fund(t, svc, 7, "5", false)

	_, err := svc.Redeem(context.Background(), 7, 5, 1)
	require.ErrorIs(t, err, ErrNotVerified)
	require.Empty(t, prov.created)
}

func TestRedeemProvisionFailureChargesNothing(t *testing.T) {
	svc, _, prov := newService(t)
	ctx := context.Background()
	fund(t, svc, 7, "1", true)
	prov.createErr = &provision.APIError{Action: "create", Message: "panel offline"}

	_, err := svc.Redeem(ctx, 7, 5, 1)
	var apiErr *provision.APIError
	require.ErrorAs(t, err, &apiErr)

	u, err := svc.User(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "1.0", u.Credits.StringFixed(1))
	keys, err := svc.Keys(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestRedeemSuccessChargesAndRecords(t *testing.T) {
	svc, _, prov := newService(t)
	ctx := context.Background()
	fund(t, svc, 7, "1", true)

	r, err := svc.Redeem(ctx, 7, 5, 2)
	require.NoError(t, err)
	require.False(t, r.Unrecorded)
	require.Equal(t, "0.5", r.Cost.StringFixed(1))
	require.Equal(t, "0.5", r.Balance.StringFixed(1))
	require.Len(t, prov.created, 1)
	require.Equal(t, provision.CreateRequest{GB: 5, Name: r.Key.Key, Days: 30, Panel: 2}, prov.created[0])

	keys, err := svc.Keys(ctx, 7)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, r.Key.Key, keys[0].Key)

	hist, _, err := svc.History(ctx, 7, 1)
	require.NoError(t, err)
	require.Equal(t, RedeemSource(5), hist[0].Source)
}

func TestRedeemReportsUnrecordedKey(t *testing.T) {
	svc, store, prov := newService(t)
	ctx := context.Background()
	fund(t, svc, 7, "1", true)
	store.failPut = ledger.KeyRedeemedKeys

	r, err := svc.Redeem(ctx, 7, 5, 2)
	require.NoError(t, err)
	require.True(t, r.Unrecorded)
	require.Len(t, prov.created, 1)
	require.Empty(t, prov.deleted)

	u, err := svc.User(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "0.5", u.Credits.StringFixed(1))
	keys, err := svc.Keys(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestDeleteKeyRequiresDeprovisioning(t *testing.T) {
	svc, _, prov := newService(t)
	ctx := context.Background()
	fund(t, svc, 7, "2", true)
	r1, err := svc.Redeem(ctx, 7, 5, 1)
	require.NoError(t, err)
	r2, err := svc.Redeem(ctx, 7, 5, 1)
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteKey(ctx, 7, "missing", 1), ErrKeyNotFound)
	require.ErrorIs(t, svc.DeleteKey(ctx, 7, r1.Key.Key, 9), ErrKeyNotFound)

	prov.deleteErr = errors.New("panel offline")
	require.Error(t, svc.DeleteKey(ctx, 7, r1.Key.Key, 1))
	keys, err := svc.Keys(ctx, 7)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	prov.deleteErr = nil
	require.NoError(t, svc.DeleteKey(ctx, 7, r1.Key.Key, 1))
	keys, err = svc.Keys(ctx, 7)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, r2.Key.Key, keys[0].Key)
}

func TestBanRules(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	register(t, svc, 1, 0)
	register(t, svc, 2, 0)

	_, err := svc.SetBanned(ctx, 1, true)
	require.ErrorIs(t, err, ErrAdminTarget)

	_, err = svc.SetBanned(ctx, 2, false)
	require.ErrorIs(t, err, ErrNotBanned)

	u, err := svc.SetBanned(ctx, 2, true)
	require.NoError(t, err)
	require.True(t, u.IsBanned)

	_, err = svc.SetBanned(ctx, 2, true)
	require.ErrorIs(t, err, ErrAlreadyBanned)

	banned, err := svc.IsBanned(ctx, 2)
	require.NoError(t, err)
	require.True(t, banned)

	banned, err = svc.IsBanned(ctx, 404)
	require.NoError(t, err)
	require.False(t, banned)

	_, err = svc.SetBanned(ctx, 404, true)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestIssuePremiumStoresKey(t *testing.T) {
	svc, _, prov := newService(t)
	ctx := context.Background()
	register(t, svc, 9, 0)

	issued, err := svc.IssuePremium(ctx, 9, 150)
	require.NoError(t, err)
	require.Equal(t, 2, issued.Panel)
	require.Equal(t, 30, issued.Days)
	require.Len(t, prov.created, 1)

	u, err := svc.User(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, issued.Name, u.PremiumKey)
	require.NotNil(t, u.PremiumIssuedAt)
}

func TestActivityWindows(t *testing.T) {
	users := []ledger.User{
		{UserID: 1, LastActive: fixedNow.Add(-time.Hour)},
		{UserID: 2, LastActive: fixedNow.Add(-3 * 24 * time.Hour)},
		{UserID: 3, LastActive: fixedNow.Add(-20 * 24 * time.Hour)},
		{UserID: 4, LastActive: fixedNow.Add(-200 * 24 * time.Hour)},
		{UserID: 5, LastActive: fixedNow.Add(-900 * 24 * time.Hour)},
	}
	a := ActivityOf(users, fixedNow)
	require.Equal(t, Activity{Day: 1, Week: 2, Month: 3, Year: 4, Total: 5}, a)
	require.Len(t, FilterByActivity(users, WindowWeek, fixedNow), 2)
	require.Len(t, FilterByActivity(users, WindowAll, fixedNow), 5)
}
