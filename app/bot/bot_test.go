package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/app/broadcast"
	"github.com/m3rciful/v2raybot/app/config"
	"github.com/m3rciful/v2raybot/app/i18n"
	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/app/provision"
	tg "github.com/m3rciful/v2raybot/core/telegram"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/router"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

const adminID int64 = 1

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type sent struct {
	chat int64
	text string
	kb   *tele.ReplyMarkup
}

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []sent
	edits  []string
	member tele.MemberStatus
	nextID int
}

func (m *fakeMessenger) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, _ := strconv.ParseInt(to.Recipient(), 10, 64)
	s := sent{chat: chat}
	if text, ok := what.(string); ok {
		s.text = text
	}
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			s.kb = so.ReplyMarkup
		}
	}
	m.sent = append(m.sent, s)
	m.nextID++
	return &tele.Message{ID: m.nextID, Chat: &tele.Chat{ID: chat}}, nil
}

func (m *fakeMessenger) Edit(msg tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if text, ok := what.(string); ok {
		m.edits = append(m.edits, text)
	}
	if tm, ok := msg.(*tele.Message); ok {
		return tm, nil
	}
	return &tele.Message{}, nil
}

func (m *fakeMessenger) Delete(tele.Editable) error { return nil }

func (m *fakeMessenger) Respond(*tele.Callback, ...*tele.CallbackResponse) error { return nil }

func (m *fakeMessenger) ChatMemberOf(_, _ tele.Recipient) (*tele.ChatMember, error) {
	return &tele.ChatMember{Role: m.member}, nil
}

// to returns the texts sent to chat, oldest first.
func (m *fakeMessenger) to(chat int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.chat == chat {
			out = append(out, s.text)
		}
	}
	return out
}

func (m *fakeMessenger) last(chat int64) string {
	texts := m.to(chat)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (m *fakeMessenger) count(chat int64, text string) int {
	n := 0
	for _, t := range m.to(chat) {
		if t == text {
			n++
		}
	}
	return n
}

type fakePanel struct {
	mu          sync.Mutex
	created     []provision.CreateRequest
	deleted     []string
	onlineCalls int
}

func (p *fakePanel) CreateTrial(_ context.Context, id int64) (provision.Account, error) {
	return provision.Account{Email: "trial-" + strconv.FormatInt(id, 10)}, nil
}

func (p *fakePanel) GetTrial(_ context.Context, id int64) (provision.Account, error) {
	return provision.Account{Email: "trial-" + strconv.FormatInt(id, 10)}, nil
}

func (p *fakePanel) CreateAccount(_ context.Context, req provision.CreateRequest) (provision.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, req)
	return provision.Account{Email: req.Name, Link: "vless://" + req.Name, PanelName: "S1"}, nil
}

func (p *fakePanel) DeleteAccount(_ context.Context, name string, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, name)
	return nil
}

func (p *fakePanel) DeleteTrial(context.Context, string) error { return nil }

func (p *fakePanel) DeleteExpired(context.Context, int) (provision.CleanupReport, error) {
	return provision.CleanupReport{Status: "ok"}, nil
}

func (p *fakePanel) Check(_ context.Context, config string) (provision.AccountStatus, error) {
	return provision.AccountStatus{Email: config, Enable: true}, nil
}

func (p *fakePanel) Transfer(context.Context, string, int, int) (provision.Account, error) {
	return provision.Account{}, nil
}

func (p *fakePanel) ResetTraffic(context.Context, string, int) (provision.Account, error) {
	return provision.Account{}, nil
}

func (p *fakePanel) Modify(context.Context, provision.ModifyRequest) (provision.Account, error) {
	return provision.Account{}, nil
}

func (p *fakePanel) Bulk(_ context.Context, names []string, _, _, _ int) (provision.BulkReport, error) {
	return provision.BulkReport{Status: "ok", NamesCount: len(names)}, nil
}

func (p *fakePanel) RunWarnings(context.Context) (string, error) { return "ok", nil }

func (p *fakePanel) Optimal(_ context.Context, kind string) (provision.OptimalPanel, error) {
	return provision.OptimalPanel{Panel: 1, PanelName: "S1", AccountType: kind}, nil
}

func (p *fakePanel) Online(context.Context) (provision.Online, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onlineCalls++
	return provision.Online{Total: 2, ByPanel: map[string][]string{"S1": {"a@x", "b@x"}}}, nil
}

type harness struct {
	bot    *Bot
	router *router.Router
	msg    *fakeMessenger
	panel  *fakePanel
	acc    *accounts.Service
	ledger *ledger.Ledger
	states state.Manager
	cat    *i18n.Catalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	panel := &fakePanel{}
	msg := &fakeMessenger{member: tele.Member}
	acc := accounts.New(l, panel, accounts.Settings{
		ReferralReward: decimal.RequireFromString("0.5"),
		CostPerGB:      decimal.RequireFromString("0.1"),
		RedeemDays:     30,
		PremiumDays:    30,
		PremiumPanel:   1,
		Admins:         []int64{adminID},
	}).WithClock(func() time.Time { return fixedNow })
	states := ledger.NewStateManager(l, 0)
	cat := i18n.MustLoad()

	b, err := New(Deps{
		Messenger: msg,
		Accounts:  acc,
		Panel:     panel,
		Ledger:    l,
		States:    states,
		Catalog:   cat,
		Broadcast: broadcast.Options{
			BatchSize: 10,
			Sleep:     func(context.Context, time.Duration) error { return nil },
		},
		Settings: Settings{
			BotUsername:  "v2bot",
			ChannelID:    "@channel",
			CreditPlans:  []int{5, 10},
			PremiumPlans: []config.Plan{{GB: 150, Price: "5000 MMK"}},
			PremiumDays:  30,
			PaymentMethods: []config.PaymentMethod{
				{Key: "kpay", NameEN: "KBZ Pay", AccountName: "Holder", Number: "0900000000"},
			},
			Servers: []config.Server{{Panel: 1, Name: "S1"}},
			Admins:  []int64{adminID},
		},
		Clock: func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	b.spawn = func(fn func()) { fn() }

	reg := tg.NewRegistry()
	require.NoError(t, b.Register(reg))
	return &harness{bot: b, router: b.Router(reg), msg: msg, panel: panel, acc: acc, ledger: l, states: states, cat: cat}
}

func (h *harness) text(user int64, s string) router.Outcome {
	return h.router.Dispatch(context.Background(), event.Event{
		Kind: event.KindMessage, UserID: user, ChatID: user, FirstName: "U" + strconv.FormatInt(user, 10), Text: s,
		Message: &tele.Message{Text: s},
	})
}

func (h *harness) press(user int64, data string) router.Outcome {
	return h.router.Dispatch(context.Background(), event.Event{
		Kind: event.KindCallback, UserID: user, ChatID: user, FirstName: "U" + strconv.FormatInt(user, 10), Data: data,
	})
}

func (h *harness) state(t *testing.T, user int64) state.Session {
	t.Helper()
	sess, err := h.states.Get(context.Background(), user)
	require.NoError(t, err)
	return sess
}

func (h *harness) user(t *testing.T, id int64) ledger.User {
	t.Helper()
	u, err := h.acc.User(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestStartRegistersUser(t *testing.T) {
	h := newHarness(t)

	out := h.text(100, "/start")
	require.Equal(t, "ok", out.Status)

	u := h.user(t, 100)
	require.True(t, u.Credits.IsZero())
	require.Zero(t, u.ReferredCount)
	require.Nil(t, u.ReferrerID)
	require.False(t, h.state(t, 100).Pending())
	require.Contains(t, h.msg.last(100), "U100")
}

func TestReferralRewardPaidOnce(t *testing.T) {
	h := newHarness(t)
	h.text(10, "/start")
	h.text(20, "/start r_10")

	referred := h.user(t, 20)
	require.NotNil(t, referred.ReferrerID)
	require.Equal(t, int64(10), *referred.ReferrerID)

	h.press(20, "verify_channel_join")
	h.press(20, "verify_channel_join")

	referrer := h.user(t, 10)
	require.Equal(t, "0.5", referrer.Credits.StringFixed(1))
	require.Equal(t, 1, referrer.ReferredCount)
	require.True(t, h.user(t, 20).ChannelVerified)

	notice := h.cat.T("en", "referral_reward_notice", "0.5", "0.5")
	require.Equal(t, 1, h.msg.count(10, notice))
}

func TestVerifyJoinRequiresMembership(t *testing.T) {
	h := newHarness(t)
	h.msg.member = tele.Left
	h.text(10, "/start")

	h.press(10, "verify_channel_join")

	require.False(t, h.user(t, 10).ChannelVerified)
	require.Equal(t, h.cat.T("en", "status_not_joined"), h.msg.last(10))
}

func TestCustomQuantityInsufficientKeepsPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.text(30, "/start")
	_, err := h.acc.Adjust(ctx, 30, decimal.RequireFromString("0.5"), ledger.OpAdd, accounts.SourceAdminAdd)
	require.NoError(t, err)

	h.press(30, "redeem_custom_prompt")
	require.Equal(t, StateCustomQuantity, h.state(t, 30).State)

	h.text(30, "7")

	require.Equal(t, StateCustomQuantity, h.state(t, 30).State)
	u := h.user(t, 30)
	require.Equal(t, "0.5", u.Credits.StringFixed(1))
	require.Len(t, u.CreditHistory, 1)
	require.Empty(t, h.panel.created)
	require.Equal(t, h.cat.T("en", "error_insufficient_credits", "0.7", "0.5"), h.msg.last(30))
}

func TestCustomQuantityRejectsNonNumbers(t *testing.T) {
	h := newHarness(t)
	h.text(31, "/start")
	h.press(31, "redeem_custom_prompt")

	h.text(31, "lots")

	require.Equal(t, StateCustomQuantity, h.state(t, 31).State)
	require.Equal(t, h.cat.T("en", "error_invalid_gb"), h.msg.last(31))
}

func TestRedeemChargesAfterProvisioning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.text(40, "/start")
	_, err := h.acc.Adjust(ctx, 40, decimal.RequireFromString("1.0"), ledger.OpAdd, accounts.SourceAdminAdd)
	require.NoError(t, err)
	_, err = h.acc.ConfirmMembership(ctx, 40)
	require.NoError(t, err)

	h.press(40, "redeem_5gb")
	sess := h.state(t, 40)
	require.Equal(t, StateRedeemPanel, sess.State)
	require.Equal(t, "5", sess.Data.String("gb"))

	h.press(40, "redeem_panel_final_5_1")

	require.Len(t, h.panel.created, 1)
	require.Equal(t, 5, h.panel.created[0].GB)
	require.Equal(t, 1, h.panel.created[0].Panel)
	require.Equal(t, "0.5", h.user(t, 40).Credits.StringFixed(1))
	require.False(t, h.state(t, 40).Pending())

	keys, err := h.acc.Keys(ctx, 40)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, h.panel.created[0].Name, keys[0].Key)
}

func TestTextDuringServerChoiceCancelsIt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.text(41, "/start")
	_, err := h.acc.Adjust(ctx, 41, decimal.RequireFromString("1.0"), ledger.OpAdd, accounts.SourceAdminAdd)
	require.NoError(t, err)
	_, err = h.acc.ConfirmMembership(ctx, 41)
	require.NoError(t, err)
	h.press(41, "redeem_5gb")
	require.Equal(t, StateRedeemPanel, h.state(t, 41).State)

	out := h.text(41, "hello")

	require.True(t, out.Cleared)
	require.False(t, h.state(t, 41).Pending())
	require.Equal(t, h.cat.T("en", "error_redemption_state_fail"), h.msg.last(41))
	require.Empty(t, h.panel.created)
}

func TestRedeemRequiresVerification(t *testing.T) {
	h := newHarness(t)
	h.text(41, "/start")
	_, err := h.acc.Adjust(context.Background(), 41, decimal.RequireFromString("1.0"), ledger.OpAdd, accounts.SourceAdminAdd)
	require.NoError(t, err)

	h.press(41, "redeem_5gb")

	require.False(t, h.state(t, 41).Pending())
	require.Equal(t, h.cat.T("en", "error_unverified_redeem"), h.msg.last(41))
}

func TestAdminCommandsDeniedToUsers(t *testing.T) {
	h := newHarness(t)
	h.text(50, "/start")

	out := h.text(50, "/stats")

	require.Equal(t, "denied", out.Status)
	require.Equal(t, h.cat.T("en", "admin_access_denied"), h.msg.last(50))
}

func TestBanBlocksUser(t *testing.T) {
	h := newHarness(t)
	h.text(adminID, "/start")
	h.text(50, "/start")

	h.text(adminID, "/ban 50")
	require.True(t, h.user(t, 50).IsBanned)
	require.Equal(t, h.cat.T("en", "user_banned_notification"), h.msg.last(50))

	out := h.text(50, "/help")
	require.Equal(t, "banned", out.Status)
	require.Equal(t, h.cat.T("en", "access_denied_banned"), h.msg.last(50))

	h.text(adminID, "/ban 1")
	require.Equal(t, h.cat.T("en", "error_cannot_ban_admin"), h.msg.last(adminID))
}

func TestPremiumPurchaseApproval(t *testing.T) {
	h := newHarness(t)
	h.text(adminID, "/start")
	h.text(60, "/start")

	h.press(60, "premium_select_150")
	h.press(60, "method_select_150_kpay")
	sess := h.state(t, 60)
	require.Equal(t, StatePaymentProof, sess.State)
	require.Equal(t, "kpay", sess.Data.String("method"))

	h.text(60, "TX-123 abc")

	require.False(t, h.state(t, 60).Pending())
	require.Equal(t, h.cat.T("en", "txid_submitted", "TX123abc"), h.msg.last(60))
	require.Contains(t, h.msg.last(adminID), "/approve 60 150")

	h.press(adminID, "admin_approve_60_150")

	require.Len(t, h.panel.created, 1)
	require.Equal(t, 150, h.panel.created[0].GB)
	require.Equal(t, h.panel.created[0].Name, h.user(t, 60).PremiumKey)
	require.True(t, strings.HasPrefix(h.msg.last(60), h.cat.T("en", "approval_success_user", 150)))
}

func TestOnlineListingUsesCacheWhilePaging(t *testing.T) {
	h := newHarness(t)
	h.text(adminID, "/start")

	h.text(adminID, "/online")
	_, cached := h.bot.online.Get(onlineKey)
	require.True(t, cached)
	h.press(adminID, "online_page_1")
	require.Equal(t, 1, h.panel.onlineCalls)

	h.press(adminID, "admin_online_users")
	require.Equal(t, 2, h.panel.onlineCalls)
}

func TestSetKVStoresValues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.text(adminID, "/start")

	h.text(adminID, "/setkv custom")
	require.Equal(t, StateKVValue, h.state(t, adminID).State)
	h.text(adminID, `{"a":1}`)
	raw, ok, err := h.ledger.GetRaw(ctx, "custom")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"a":1}`, string(raw))
	require.False(t, h.state(t, adminID).Pending())

	h.text(adminID, "/setkv note hello there")
	raw, _, err = h.ledger.GetRaw(ctx, "note")
	require.NoError(t, err)
	require.Equal(t, `"hello there"`, string(raw))
}

func TestAddCreditNotifiesUser(t *testing.T) {
	h := newHarness(t)
	h.text(adminID, "/start")
	h.text(70, "/start")

	h.text(adminID, "/addcredit 70 1.5")

	require.Equal(t, "1.5", h.user(t, 70).Credits.StringFixed(1))
	require.Equal(t, h.cat.T("en", "credit_added_user", "1.5", "1.5"), h.msg.last(70))

	h.text(adminID, "/addcredit 70 -2")
	require.Equal(t, h.cat.T("en", "credit_value_error"), h.msg.last(adminID))
}

func TestBroadcastReachesEveryUser(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int64{adminID, 80, 81} {
		h.text(id, "/start")
	}

	h.router.Dispatch(context.Background(), event.Event{
		Kind: event.KindMessage, UserID: adminID, ChatID: adminID, Text: "/broadcast",
		Message: &tele.Message{Text: "/broadcast", ReplyTo: &tele.Message{Text: "hello all"}},
	})

	for _, id := range []int64{adminID, 80, 81} {
		require.Equal(t, 1, h.msg.count(id, "hello all"))
	}
	require.NotEmpty(t, h.msg.edits)
	done := h.msg.edits[len(h.msg.edits)-1]
	require.True(t, strings.HasPrefix(done, "✅"))
}
