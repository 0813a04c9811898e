package accounts

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/core/logger"
)

// Payout describes a referral reward that was credited.
type Payout struct {
	ReferrerID   int64
	ReferrerLang string
	Reward       decimal.Decimal
	Balance      decimal.Decimal
}

// Verification is the outcome of ConfirmMembership.
type Verification struct {
	// NewlyVerified is true only on the call that flipped channel_verified.
	NewlyVerified bool
	// Payout is set when this call paid the user's referrer.
	Payout *Payout
}

// ConfirmMembership records that the user joined the channel. The first
// confirmation stamps the credit history and pays the referrer; later calls
// change nothing.
func (s *Service) ConfirmMembership(ctx context.Context, id int64) (Verification, error) {
	now := s.now()
	var res Verification
	err := ledger.Update(ctx, s.ledger, ledger.KeyUsers, func(us *ledger.Users) error {
		u := us.Get(id)
		if u == nil {
			return ErrUserNotFound
		}
		if u.ChannelVerified {
			return ledger.ErrSkip
		}
		u.ChannelVerified = true
		u.CreditHistory = append(u.CreditHistory, ledger.CreditEntry{
			Amount: decimal.Zero,
			Op:     ledger.OpAdd,
			Source: SourceVerification,
			At:     now,
		})
		res.NewlyVerified = true
		return nil
	})
	if err != nil || !res.NewlyVerified {
		return res, err
	}

	payout, err := s.PayReferral(ctx, id)
	if err != nil {
		return res, err
	}
	res.Payout = payout
	return res, nil
}

// PayReferral credits the referrer of id once. The referred user's paid
// flag and the referrer's counter are claimed in one transaction before the
// reward is credited, so a repeated call finds the flag set and pays nothing.
// A nil payout with a nil error means nothing was owed.
func (s *Service) PayReferral(ctx context.Context, id int64) (*Payout, error) {
	var (
		referrerID int64
		lang       string
	)
	err := ledger.Update(ctx, s.ledger, ledger.KeyUsers, func(us *ledger.Users) error {
		u := us.Get(id)
		if u == nil {
			return ErrUserNotFound
		}
		if u.ReferrerCreditPaid || u.ReferrerID == nil || *u.ReferrerID == id {
			return ledger.ErrSkip
		}
		ref := us.Get(*u.ReferrerID)
		if ref == nil {
			return ledger.ErrSkip
		}
		u.ReferrerCreditPaid = true
		ref.ReferredCount++
		referrerID = ref.UserID
		lang = ref.Lang
		return nil
	})
	if err != nil || referrerID == 0 {
		return nil, err
	}

	reward := s.settings.ReferralReward
	balance, err := s.Adjust(ctx, referrerID, reward, ledger.OpAdd, ReferralSource(id))
	if err != nil {
		logger.Error(ctx, "accounts", "referral.credit_fail",
			slog.String("status", "fail"),
			slog.Int64("user_id", id),
			slog.Int64("referrer_id", referrerID),
			slog.String("err", err.Error()),
		)
		return nil, err
	}
	logger.Info(ctx, "accounts", "referral.paid",
		slog.String("status", "ok"),
		slog.Int64("user_id", id),
		slog.Int64("referrer_id", referrerID),
		slog.String("reward", reward.StringFixed(1)),
	)
	return &Payout{ReferrerID: referrerID, ReferrerLang: lang, Reward: reward, Balance: balance}, nil
}
