package ledger

import (
	"context"
	"errors"
	"fmt"

	"datapack-backend/internal/model"
	"datapack-backend/internal/store"
)

// ErrQuotaExhausted is returned only when the owner has no active
// allowance at all. A shortfall against existing allowances is not an
// error; it is reported in the AllocationResult.
var ErrQuotaExhausted = errors.New("ledger: no active allowances for owner")

// Entry records how much was consumed from a single allowance.
type Entry struct {
	AllowanceID string `json:"allowance_id"`
	TakenMB     int64  `json:"taken_mb"`
	Exhausted   bool   `json:"exhausted"`
}

// AllocationResult is the per-allowance breakdown of an allocation.
// UnallocatedMB is nonzero when total active capacity was insufficient;
// the caller decides whether that is a rejection or a recorded shortfall.
type AllocationResult struct {
	Entries       []Entry `json:"entries"`
	UnallocatedMB int64   `json:"unallocated_mb"`
}

// Ledger allocates consumption against a user's active allowances,
// soonest-to-expire first so the least capacity is lost to expiry.
type Ledger struct {
	store store.Store

	// conflictRetries bounds how often a lost conditional update is
	// re-read and retried per allowance before the conflict surfaces.
	conflictRetries int
}

// New creates a Ledger backed by the given store.
func New(s store.Store, conflictRetries int) *Ledger {
	if conflictRetries < 0 {
		conflictRetries = 0
	}
	return &Ledger{store: s, conflictRetries: conflictRetries}
}

// Allocate consumes amountMB greedily across the owner's active
// allowances in expiry order. Allowances that become fully consumed
// transition to exhausted as part of the same conditional update.
func (l *Ledger) Allocate(ctx context.Context, ownerID string, amountMB int64) (*AllocationResult, error) {
	if amountMB <= 0 {
		return nil, fmt.Errorf("ledger: allocation amount must be positive, got %d", amountMB)
	}

	allowances, err := l.store.ActiveAllowancesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: fetching active allowances: %w", err)
	}
	if len(allowances) == 0 {
		return nil, ErrQuotaExhausted
	}

	result := &AllocationResult{}
	remaining := amountMB
	for i := range allowances {
		if remaining == 0 {
			break
		}
		taken, exhausted, err := l.consumeOne(ctx, &allowances[i], remaining)
		if err != nil {
			return nil, err
		}
		if taken == 0 {
			continue
		}
		remaining -= taken
		result.Entries = append(result.Entries, Entry{
			AllowanceID: allowances[i].ID,
			TakenMB:     taken,
			Exhausted:   exhausted,
		})
	}

	result.UnallocatedMB = remaining
	return result, nil
}

// Consume is the degenerate single-allowance allocation used by usage
// tracking. It returns how much was actually taken and the refreshed
// allowance so the caller can observe an exhaustion transition.
func (l *Ledger) Consume(ctx context.Context, allowanceID string, amountMB int64) (int64, *model.Allowance, error) {
	if amountMB <= 0 {
		return 0, nil, fmt.Errorf("ledger: consumption amount must be positive, got %d", amountMB)
	}

	a, err := l.store.GetAllowance(ctx, allowanceID)
	if err != nil {
		return 0, nil, err
	}
	if a.Status != model.AllowanceActive {
		return 0, a, nil
	}

	taken, _, err := l.consumeOne(ctx, a, amountMB)
	if err != nil {
		return 0, nil, err
	}
	return taken, a, nil
}

// consumeOne takes up to want MB from a single allowance with a
// compare-and-swap on the consumed counter. On a lost race the row is
// re-read and the attempt repeated, at most conflictRetries times.
// The allowance is updated in place to reflect the committed state.
func (l *Ledger) consumeOne(ctx context.Context, a *model.Allowance, want int64) (int64, bool, error) {
	for attempt := 0; ; attempt++ {
		take := want
		if free := a.RemainingMB(); free < take {
			take = free
		}
		if take <= 0 {
			return 0, false, nil
		}

		newConsumed := a.ConsumedMB + take
		newStatus := model.AllowanceActive
		exhausted := newConsumed == a.CapacityMB
		if exhausted {
			newStatus = model.AllowanceExhausted
		}

		err := l.store.ApplyConsumption(ctx, a.ID, a.ConsumedMB, newConsumed, newStatus)
		if err == nil {
			a.ConsumedMB = newConsumed
			a.Status = newStatus
			return take, exhausted, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= l.conflictRetries {
			return 0, false, err
		}

		fresh, err := l.store.GetAllowance(ctx, a.ID)
		if err != nil {
			return 0, false, err
		}
		*a = *fresh
		if a.Status != model.AllowanceActive {
			return 0, false, nil
		}
	}
}
