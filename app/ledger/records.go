package ledger

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Document keys.
const (
	KeyUsers        = "bot_users"
	KeyStates       = "user_state"
	KeyRedeemedKeys = "user_premium_keys"
)

// Current schema versions written by Upgrade.
const (
	UserSchema  = 2
	StateSchema = 1
	KeySchema   = 1
)

// DefaultLang is assigned to records created before a language was stored.
const DefaultLang = "en"

// CreditOp is the direction of a credit adjustment.
type CreditOp string

const (
	OpAdd    CreditOp = "add"
	OpDeduct CreditOp = "deduct"
)

// CreditEntry is one line of a user's append-only credit history.
type CreditEntry struct {
	Amount decimal.Decimal `json:"amount"`
	Op     CreditOp        `json:"operation"`
	Source string          `json:"source"`
	At     time.Time       `json:"timestamp"`
}

// User is the persisted user record.
type User struct {
	Schema    int       `json:"schema"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Lang      string    `json:"lang"`
	JoinedAt  time.Time `json:"joined_at"`
	// LastActive is refreshed on every contact.
	LastActive time.Time `json:"last_active"`
	IsBanned   bool      `json:"is_banned"`

	Credits       decimal.Decimal `json:"credits"`
	CreditHistory []CreditEntry   `json:"credit_history"`

	// ReferrerID is set at most once and never equals UserID.
	ReferrerID         *int64 `json:"referrer_id,omitempty"`
	ReferrerCreditPaid bool   `json:"referrer_credit_paid"`
	ReferredCount      int    `json:"referred_count"`
	ChannelVerified    bool   `json:"channel_verified"`

	PremiumKey      string     `json:"premium_key,omitempty"`
	PremiumIssuedAt *time.Time `json:"premium_issue_date,omitempty"`
}

// DisplayName returns the best human-readable name for the user.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	}
	return strconv.FormatInt(u.UserID, 10)
}

func (u *User) upgrade(key string) {
	if u.UserID == 0 {
		u.UserID, _ = strconv.ParseInt(key, 10, 64)
	}
	if u.Lang == "" {
		u.Lang = DefaultLang
	}
	if u.CreditHistory == nil {
		u.CreditHistory = []CreditEntry{}
	}
	if u.JoinedAt.IsZero() {
		u.JoinedAt = u.LastActive
	}
	if u.ReferrerID != nil && (*u.ReferrerID == 0 || *u.ReferrerID == u.UserID) {
		u.ReferrerID = nil
	}
	if u.ReferredCount < 0 {
		u.ReferredCount = 0
	}
	if u.Schema < 2 {
		// v1 stored unrounded balances.
		u.Credits = u.Credits.Round(1)
	}
	u.Schema = UserSchema
}

// NewUser builds a fresh record for first contact.
func NewUser(id int64, now time.Time, lang string) *User {
	if lang == "" {
		lang = DefaultLang
	}
	return &User{
		Schema:        UserSchema,
		UserID:        id,
		Lang:          lang,
		JoinedAt:      now,
		LastActive:    now,
		Credits:       decimal.Zero,
		CreditHistory: []CreditEntry{},
	}
}

// UserKey formats an id as a document map key.
func UserKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Users is the whole user population, keyed by UserKey.
type Users map[string]*User

// Upgrade implements Upgrader.
func (us *Users) Upgrade() {
	if *us == nil {
		*us = Users{}
	}
	for k, u := range *us {
		if u == nil {
			delete(*us, k)
			continue
		}
		u.upgrade(k)
	}
}

// Get returns the record for id or nil.
func (us Users) Get(id int64) *User {
	return us[UserKey(id)]
}

// Put stores u under its own id.
func (us Users) Put(u *User) {
	us[UserKey(u.UserID)] = u
}

// SortedByActivity returns a copy of all records, most recently active first.
func (us Users) SortedByActivity() []User {
	out := make([]User, 0, len(us))
	for _, u := range us {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActive.Equal(out[j].LastActive) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

// IDs returns every user id in ascending order.
func (us Users) IDs() []int64 {
	ids := make([]int64, 0, len(us))
	for _, u := range us {
		ids = append(ids, u.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// StateRecord is the persisted pending conversation state of one user.
type StateRecord struct {
	Schema    int               `json:"schema"`
	State     string            `json:"state"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// States maps UserKey to the user's pending state.
type States map[string]*StateRecord

// Upgrade implements Upgrader.
func (ss *States) Upgrade() {
	if *ss == nil {
		*ss = States{}
	}
	for k, s := range *ss {
		if s == nil || s.State == "" {
			delete(*ss, k)
			continue
		}
		if s.Data == nil {
			s.Data = map[string]string{}
		}
		s.Schema = StateSchema
	}
}

// RedeemedKey is an account provisioned for a user in exchange for credits.
type RedeemedKey struct {
	Schema     int       `json:"schema"`
	Key        string    `json:"key"`
	GB         int       `json:"gb"`
	Panel      int       `json:"panel"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// RedeemedKeys maps UserKey to the user's keys in redemption order.
type RedeemedKeys map[string][]RedeemedKey

// Upgrade implements Upgrader.
func (rk *RedeemedKeys) Upgrade() {
	if *rk == nil {
		*rk = RedeemedKeys{}
	}
	for owner, keys := range *rk {
		for i := range keys {
			keys[i].Schema = KeySchema
		}
		(*rk)[owner] = keys
	}
}
