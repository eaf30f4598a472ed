package ledger

import (
	"context"
	"time"
)

const defaultReapBatch = 100

// ReapExpiredTransfers fails Pending transfers whose OTP window has closed.
func (e *Engine) ReapExpiredTransfers(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultReapBatch
	}
	cutoff := e.now().Add(-(e.cfg.OTPExpiry + e.cfg.ReaperGrace))
	refs, err := e.store.ExpiredPendingTransfers(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, ref := range refs {
		ok, err := e.markTransactionFailed(ctx, ref, ReasonOTPExpired, "otp expired before completion")
		if err != nil {
			return reaped, err
		}
		if ok {
			reaped++
		}
	}
	if e.Observer != nil {
		e.Observer.ObserveReaped(reaped)
	}
	return reaped, nil
}

func (e *Engine) StartReaper(ctx context.Context, interval time.Duration, batchSize int) {
	if interval <= 0 {
		return
	}
	if batchSize <= 0 {
		batchSize = defaultReapBatch
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					reaped, err := e.ReapExpiredTransfers(ctx, batchSize)
					if err != nil {
						e.Log.Error().Err(err).Msg("transfer reaper failed")
						break
					}
					if reaped > 0 {
						e.Log.Info().Int("reaped", reaped).Msg("expired pending transfers failed")
					}
					if reaped < batchSize {
						break
					}
				}
			}
		}
	}()
}
