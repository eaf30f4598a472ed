package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the log. OTP codes are only logged at debug level.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) SendOTP(_ context.Context, m OTPMessage) error {
	n.Log.Info().Str("kind", string(KindOTP)).Str("email", m.Email).Str("reference", m.Reference).
		Time("expires_at", m.ExpiresAt).Msg("otp issued")
	n.Log.Debug().Str("reference", m.Reference).Str("otp", m.OTP).Msg("otp value")
	return nil
}

func (n LogNotifier) SendTransferAlert(_ context.Context, m TransferAlert) error {
	n.Log.Info().Str("kind", string(KindTransferAlert)).Str("reference", m.Reference).
		Str("sender_email", m.SenderEmail).Str("receiver_email", m.ReceiverEmail).
		Str("amount", m.Amount).Str("converted_amount", m.ConvertedAmount).Msg("transfer completed")
	return nil
}

func (n LogNotifier) SendDepositAlert(_ context.Context, m DepositAlert) error {
	n.Log.Info().Str("kind", string(KindDepositAlert)).Str("reference", m.Reference).
		Str("email", m.Email).Str("amount", m.Amount).Str("currency", m.Currency).Msg("deposit received")
	return nil
}

func (n LogNotifier) SendWithdrawalAlert(_ context.Context, m WithdrawalAlert) error {
	n.Log.Info().Str("kind", string(KindWithdrawalAlert)).Str("reference", m.Reference).
		Str("email", m.Email).Str("amount", m.Amount).Str("currency", m.Currency).Msg("withdrawal made")
	return nil
}

func (n LogNotifier) SendTopUpAlert(_ context.Context, m TopUpAlert) error {
	n.Log.Info().Str("kind", string(KindTopUpAlert)).Str("reference", m.Reference).
		Str("email", m.Email).Str("card_last_four", m.CardLastFour).Str("amount", m.Amount).Msg("card topped up")
	return nil
}
