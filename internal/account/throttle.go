package account

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled paces calls to a Client so polling loops do not trip the
// service's rate limiter. Submit is paced like every other call.
type Throttled struct {
	next    Client
	limiter *rate.Limiter
}

// Throttle wraps c with a token bucket allowing r calls per second with burst b.
func Throttle(c Client, r rate.Limit, b int) *Throttled {
	return &Throttled{next: c, limiter: rate.NewLimiter(r, b)}
}

func (t *Throttled) wait(ctx context.Context, op string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return NewError(KindTransient, op, err)
	}
	return nil
}

func (t *Throttled) Submit(ctx context.Context, req Request) (Submission, error) {
	if err := t.wait(ctx, "submit"); err != nil {
		return Submission{}, err
	}
	return t.next.Submit(ctx, req)
}

func (t *Throttled) WaitForInclusion(ctx context.Context, id string) (Inclusion, error) {
	if err := t.wait(ctx, "wait_inclusion"); err != nil {
		return Inclusion{}, err
	}
	return t.next.WaitForInclusion(ctx, id)
}

func (t *Throttled) OperationReceipt(ctx context.Context, id string) (*OperationReceipt, error) {
	if err := t.wait(ctx, "operation_receipt"); err != nil {
		return nil, err
	}
	return t.next.OperationReceipt(ctx, id)
}

func (t *Throttled) TransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	if err := t.wait(ctx, "transaction_receipt"); err != nil {
		return nil, err
	}
	return t.next.TransactionReceipt(ctx, txHash)
}
