package accounts

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/app/provision"
	"github.com/m3rciful/v2raybot/core/logger"
)

// Redemption is a successfully redeemed quota.
type Redemption struct {
	Key     ledger.RedeemedKey
	Account provision.Account
	Cost    decimal.Decimal
	Balance decimal.Decimal
	Days    int
	// Unrecorded is set when the account was provisioned and charged but the
	// key could not be stored, so it is missing from the user's key list.
	Unrecorded bool
}

// CheckRedeem verifies that the user may redeem gb and returns its cost.
func (s *Service) CheckRedeem(ctx context.Context, id int64, gb int) (decimal.Decimal, error) {
	if gb < 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	u, err := s.User(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	cost := s.Quote(gb)
	if u.Credits.LessThan(cost) {
		return cost, &InsufficientCreditsError{Required: cost, Available: u.Credits}
	}
	if !u.ChannelVerified {
		return cost, ErrNotVerified
	}
	return cost, nil
}

// Redeem provisions gb on panel and charges the user. Nothing is charged or
// recorded unless provisioning succeeds. If the charge fails afterwards the
// provisioned account is removed again.
func (s *Service) Redeem(ctx context.Context, id int64, gb, panel int) (Redemption, error) {
	cost, err := s.CheckRedeem(ctx, id, gb)
	if err != nil {
		return Redemption{}, err
	}

	name := s.newName()
	days := s.settings.RedeemDays
	acc, err := s.prov.CreateAccount(ctx, provision.CreateRequest{GB: gb, Name: name, Days: days, Panel: panel})
	if err != nil {
		return Redemption{}, err
	}

	balance, err := s.Deduct(ctx, id, cost, RedeemSource(gb))
	if err != nil {
		s.rollbackAccount(ctx, id, name, panel, err)
		return Redemption{}, err
	}

	key := ledger.RedeemedKey{Schema: ledger.KeySchema, Key: name, GB: gb, Panel: panel, RedeemedAt: s.now()}
	err = ledger.Update(ctx, s.ledger, ledger.KeyRedeemedKeys, func(rk *ledger.RedeemedKeys) error {
		owner := ledger.UserKey(id)
		(*rk)[owner] = append((*rk)[owner], key)
		return nil
	})
	out := Redemption{Key: key, Account: acc, Cost: cost, Balance: balance, Days: days}
	if err != nil {
		// Already charged and provisioned: the key is still handed out.
		out.Unrecorded = true
		logger.Error(ctx, "accounts", "redeem.record_fail",
			slog.String("status", "fail"),
			slog.Int64("user_id", id),
			slog.String("key", name),
			slog.Int("panel", panel),
			slog.String("err", err.Error()),
		)
	}
	logger.Info(ctx, "accounts", "redeem.ok",
		slog.String("status", "ok"),
		slog.Int64("user_id", id),
		slog.Int("gb", gb),
		slog.Int("panel", panel),
		slog.String("cost", cost.StringFixed(1)),
	)
	return out, nil
}

func (s *Service) rollbackAccount(ctx context.Context, id int64, name string, panel int, cause error) {
	attrs := []slog.Attr{
		slog.Int64("user_id", id),
		slog.String("key", name),
		slog.Int("panel", panel),
		slog.String("cause", cause.Error()),
	}
	if err := s.prov.DeleteAccount(ctx, name, panel); err != nil {
		logger.Error(ctx, "accounts", "redeem.rollback_fail",
			append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))...)
		return
	}
	logger.Warn(ctx, "accounts", "redeem.rollback", append(attrs, slog.String("status", "ok"))...)
}

// Keys returns the user's redeemed keys, newest first.
func (s *Service) Keys(ctx context.Context, id int64) ([]ledger.RedeemedKey, error) {
	all, err := ledger.Read[ledger.RedeemedKeys](ctx, s.ledger, ledger.KeyRedeemedKeys)
	if err != nil {
		return nil, err
	}
	keys := append([]ledger.RedeemedKey(nil), all[ledger.UserKey(id)]...)
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].RedeemedAt.After(keys[j].RedeemedAt) })
	return keys, nil
}

// FindKey returns the user's key matching name and panel.
func (s *Service) FindKey(ctx context.Context, id int64, name string, panel int) (ledger.RedeemedKey, error) {
	keys, err := s.Keys(ctx, id)
	if err != nil {
		return ledger.RedeemedKey{}, err
	}
	for _, k := range keys {
		if k.Key == name && k.Panel == panel {
			return k, nil
		}
	}
	return ledger.RedeemedKey{}, ErrKeyNotFound
}

// DeleteKey deprovisions the account and then removes every record of the
// user whose key equals name. The record stays when deprovisioning fails.
func (s *Service) DeleteKey(ctx context.Context, id int64, name string, panel int) error {
	if _, err := s.FindKey(ctx, id, name, panel); err != nil {
		return err
	}
	if err := s.prov.DeleteAccount(ctx, name, panel); err != nil {
		return err
	}
	err := ledger.Update(ctx, s.ledger, ledger.KeyRedeemedKeys, func(rk *ledger.RedeemedKeys) error {
		owner := ledger.UserKey(id)
		keys := (*rk)[owner]
		kept := keys[:0]
		for _, k := range keys {
			if k.Key != name {
				kept = append(kept, k)
			}
		}
		if len(kept) == len(keys) {
			return ledger.ErrSkip
		}
		(*rk)[owner] = kept
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "accounts", "key.deleted",
		slog.String("status", "ok"),
		slog.Int64("user_id", id),
		slog.String("key", name),
		slog.Int("panel", panel),
	)
	return nil
}

// Issued is a premium account created after a payment was approved.
type Issued struct {
	Name    string
	GB      int
	Days    int
	Panel   int
	Account provision.Account
	User    ledger.User
}

// IssuePremium provisions a paid plan for the user and stores it as the
// user's premium key.
func (s *Service) IssuePremium(ctx context.Context, id int64, gb int) (Issued, error) {
	if gb < 1 {
		return Issued{}, ErrInvalidAmount
	}
	u, err := s.User(ctx, id)
	if err != nil {
		return Issued{}, err
	}
	out := Issued{Name: s.newName(), GB: gb, Days: s.settings.PremiumDays, Panel: s.settings.PremiumPanel, User: u}
	out.Account, err = s.prov.CreateAccount(ctx, provision.CreateRequest{GB: gb, Name: out.Name, Days: out.Days, Panel: out.Panel})
	if err != nil {
		return Issued{}, err
	}
	now := s.now()
	err = ledger.Update(ctx, s.ledger, ledger.KeyUsers, func(us *ledger.Users) error {
		rec := us.Get(id)
		if rec == nil {
			return ErrUserNotFound
		}
		rec.PremiumKey = out.Name
		issued := now
		rec.PremiumIssuedAt = &issued
		return nil
	})
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		logger.Error(ctx, "accounts", "premium.record_fail",
			slog.String("status", "fail"),
			slog.Int64("user_id", id),
			slog.String("key", out.Name),
			slog.String("err", err.Error()),
		)
	}
	return out, nil
}
