package accounts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/core/logger"
)

// Credit history sources.
const (
	SourceVerification = "Channel Verification"
	SourceAdminAdd     = "Admin Add"
	SourceAdminDeduct  = "Admin Deduct"
)

// RedeemSource labels a deduction for a redeemed quota.
func RedeemSource(gb int) string { return fmt.Sprintf("Redeem %dGB", gb) }

// ReferralSource labels a reward for referring user id.
func ReferralSource(id int64) string { return fmt.Sprintf("Referral %d", id) }

// Round applies the one decimal precision of balances.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(1) }

// Quote returns the credit cost of gb at the configured per-GB rate.
func (s *Service) Quote(gb int) decimal.Decimal {
	return Round(s.settings.CostPerGB.Mul(decimal.NewFromInt(int64(gb))))
}

// Adjust applies amount to the user's balance and returns the new balance.
// Deductions are not checked against the balance; callers that need a floor
// use Deduct. A history entry is appended when amount is nonzero.
func (s *Service) Adjust(ctx context.Context, id int64, amount decimal.Decimal, op ledger.CreditOp, source string) (decimal.Decimal, error) {
	return s.adjust(ctx, id, amount, op, source, false)
}

// Deduct removes amount from the balance only if the balance covers it.
func (s *Service) Deduct(ctx context.Context, id int64, amount decimal.Decimal, source string) (decimal.Decimal, error) {
	return s.adjust(ctx, id, amount, ledger.OpDeduct, source, true)
}

func (s *Service) adjust(ctx context.Context, id int64, amount decimal.Decimal, op ledger.CreditOp, source string, floor bool) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	now := s.now()
	var balance decimal.Decimal
	err := ledger.Update(ctx, s.ledger, ledger.KeyUsers, func(us *ledger.Users) error {
		u := us.Get(id)
		if u == nil {
			return ErrUserNotFound
		}
		next := u.Credits
		switch op {
		case ledger.OpAdd:
			next = next.Add(amount)
		case ledger.OpDeduct:
			if floor && u.Credits.LessThan(amount) {
				return &InsufficientCreditsError{Required: amount, Available: u.Credits}
			}
			next = next.Sub(amount)
		default:
			return fmt.Errorf("accounts: unknown credit operation %q", op)
		}
		if !amount.IsZero() {
			u.CreditHistory = append(u.CreditHistory, ledger.CreditEntry{Amount: amount, Op: op, Source: source, At: now})
		}
		u.Credits = Round(next)
		balance = u.Credits
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	logger.Info(ctx, "accounts", "credits.adjust",
		slog.String("status", "ok"),
		slog.Int64("user_id", id),
		slog.String("op", string(op)),
		slog.String("amount", amount.StringFixed(1)),
		slog.String("balance", balance.StringFixed(1)),
	)
	return balance, nil
}

// History returns at most limit entries, newest first.
func (s *Service) History(ctx context.Context, id int64, limit int) ([]ledger.CreditEntry, int, error) {
	u, err := s.User(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	total := len(u.CreditHistory)
	n := total
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]ledger.CreditEntry, 0, n)
	for i := total - 1; i >= total-n; i-- {
		out = append(out, u.CreditHistory[i])
	}
	return out, total, nil
}
