// Package accounts holds the ledger-backed user operations: registration,
// credit bookkeeping, referral payouts, key redemption and bans. Every
// mutation is a pure mutator passed to ledger.Update; provisioning calls are
// made outside of any ledger transaction.
package accounts

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/app/provision"
	"github.com/m3rciful/v2raybot/core/logger"
)

// Provisioner is the subset of the panel API the service drives.
type Provisioner interface {
	CreateAccount(ctx context.Context, req provision.CreateRequest) (provision.Account, error)
	DeleteAccount(ctx context.Context, name string, panel int) error
}

// Settings are the credit economics and identities the service needs.
type Settings struct {
	ReferralReward decimal.Decimal
	CostPerGB      decimal.Decimal
	// RedeemDays is the lifetime of accounts bought with credits.
	RedeemDays   int
	PremiumDays  int
	PremiumPanel int
	Admins       []int64
	DefaultLang  string
}

// IsAdmin reports whether id belongs to an administrator.
func (s Settings) IsAdmin(id int64) bool {
	for _, a := range s.Admins {
		if a == id {
			return true
		}
	}
	return false
}

// Service implements the account operations.
type Service struct {
	ledger   *ledger.Ledger
	prov     Provisioner
	settings Settings
	now      func() time.Time
	newName  func() string
}

// New returns a Service.
func New(l *ledger.Ledger, prov Provisioner, settings Settings) *Service {
	if settings.DefaultLang == "" {
		settings.DefaultLang = ledger.DefaultLang
	}
	return &Service{
		ledger:   l,
		prov:     prov,
		settings: settings,
		now:      time.Now,
		newName:  AccountName,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithNameGenerator replaces the generator of provisioned account names.
func (s *Service) WithNameGenerator(gen func() string) *Service {
	s.newName = gen
	return s
}

// Settings returns the configured settings.
func (s *Service) Settings() Settings { return s.settings }

// AccountName returns a random 12 character account name.
func AccountName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Profile is the identity reported by the transport on every contact.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Touch creates the user's record on first contact or refreshes identity
// fields and last activity. referrerID is recorded only when the user has no
// referrer yet and it is not the user's own id.
func (s *Service) Touch(ctx context.Context, p Profile, referrerID int64) (ledger.User, bool, error) {
	now := s.now()
	var (
		out     ledger.User
		created bool
	)
	err := ledger.Update(ctx, s.ledger, ledger.KeyUsers, func(us *ledger.Users) error {
		u := us.Get(p.ID)
		if u == nil {
			u = ledger.NewUser(p.ID, now, s.settings.DefaultLang)
			us.Put(u)
			created = true
		}
		u.Username = p.Username
		u.FirstName = p.FirstName
		if p.LastName != "" || created {
			u.LastName = p.LastName
		}
		u.LastActive = now
		if referrerID != 0 && referrerID != p.ID && u.ReferrerID == nil {
			ref := referrerID
			u.ReferrerID = &ref
		}
		out = *u
		return nil
	})
	if err != nil {
		return ledger.User{}, false, err
	}
	if created {
		logger.Info(ctx, "accounts", "user.created",
			slog.String("status", "ok"),
			slog.Int64("user_id", p.ID),
			slog.Bool("referred", out.ReferrerID != nil),
		)
	}
	return out, created, nil
}

// ParseReferrer extracts a referrer id from a /start payload such as "r_123".
func ParseReferrer(payload string) int64 {
	payload = strings.TrimPrefix(strings.TrimSpace(payload), "r_")
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// User returns a copy of the user's record.
func (s *Service) User(ctx context.Context, id int64) (ledger.User, error) {
	users, err := ledger.Read[ledger.Users](ctx, s.ledger, ledger.KeyUsers)
	if err != nil {
		return ledger.User{}, err
	}
	u := users.Get(id)
	if u == nil {
		return ledger.User{}, ErrUserNotFound
	}
	return *u, nil
}

// Find resolves a numeric id or an @username (case-insensitive).
func (s *Service) Find(ctx context.Context, criteria string) (ledger.User, error) {
	criteria = strings.TrimSpace(criteria)
	if id, err := strconv.ParseInt(criteria, 10, 64); err == nil {
		return s.User(ctx, id)
	}
	name := strings.TrimPrefix(criteria, "@")
	if name == "" {
		return ledger.User{}, ErrUserNotFound
	}
	users, err := ledger.Read[ledger.Users](ctx, s.ledger, ledger.KeyUsers)
	if err != nil {
		return ledger.User{}, err
	}
	for _, u := range users {
		if u.Username != "" && strings.EqualFold(u.Username, name) {
			return *u, nil
		}
	}
	return ledger.User{}, ErrUserNotFound
}

// Lang returns the user's language, or the default when unknown.
func (s *Service) Lang(ctx context.Context, id int64) string {
	u, err := s.User(ctx, id)
	if err != nil || u.Lang == "" {
		return s.settings.DefaultLang
	}
	return u.Lang
}

// SetLang stores the user's language.
func (s *Service) SetLang(ctx context.Context, id int64, lang string) error {
	return ledger.Update(ctx, s.ledger, ledger.KeyUsers, func(us *ledger.Users) error {
		u := us.Get(id)
		if u == nil {
			return ErrUserNotFound
		}
		if u.Lang == lang {
			return ledger.ErrSkip
		}
		u.Lang = lang
		return nil
	})
}

// IsBanned reports the user's ban flag. Unknown users are not banned.
func (s *Service) IsBanned(ctx context.Context, id int64) (bool, error) {
	u, err := s.User(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsBanned, nil
}

// SetBanned flips the ban flag of the user and returns the updated record.
func (s *Service) SetBanned(ctx context.Context, id int64, banned bool) (ledger.User, error) {
	if banned && s.settings.IsAdmin(id) {
		return ledger.User{}, ErrAdminTarget
	}
	var out ledger.User
	err := ledger.Update(ctx, s.ledger, ledger.KeyUsers, func(us *ledger.Users) error {
		u := us.Get(id)
		switch {
		case u == nil:
			return ErrUserNotFound
		case banned && u.IsBanned:
			return ErrAlreadyBanned
		case !banned && !u.IsBanned:
			return ErrNotBanned
		}
		u.IsBanned = banned
		out = *u
		return nil
	})
	if err != nil {
		return ledger.User{}, err
	}
	logger.Info(ctx, "accounts", "user.ban",
		slog.String("status", "ok"),
		slog.Int64("user_id", id),
		slog.Bool("banned", banned),
	)
	return out, nil
}

// Population returns every known user id in ascending order.
func (s *Service) Population(ctx context.Context) ([]int64, error) {
	users, err := ledger.Read[ledger.Users](ctx, s.ledger, ledger.KeyUsers)
	if err != nil {
		return nil, err
	}
	return users.IDs(), nil
}

// Users returns every record, most recently active first.
func (s *Service) Users(ctx context.Context) ([]ledger.User, error) {
	users, err := ledger.Read[ledger.Users](ctx, s.ledger, ledger.KeyUsers)
	if err != nil {
		return nil, err
	}
	return users.SortedByActivity(), nil
}
