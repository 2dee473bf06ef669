package payments

import (
	"context"
	"time"
)

// DefaultPollInterval is how often a pending QR payment is re-checked.
const DefaultPollInterval = 5 * time.Second

// StatusPoller repeatedly checks a pending payment until it settles.
type StatusPoller struct {
	Interval time.Duration
	// OnCheck, when set, observes every intermediate result. It is never called after Await returns.
	OnCheck func(Confirmation)
}

// Await calls check immediately and then once per interval until it reports a terminal
// status, returns an error, or ctx is done. Cancellation returns ctx.Err().
func (p StatusPoller) Await(ctx context.Context, check func(context.Context) (Confirmation, error)) (Confirmation, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return Confirmation{}, err
		}
		result, err := check(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Confirmation{}, ctxErr
			}
			return Confirmation{}, err
		}
		if result.Status.Terminal() {
			return result, nil
		}
		if p.OnCheck != nil {
			p.OnCheck(result)
		}
		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
