package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Sweep runs one greedy two-pointer pass over opted-in requests of a single
// currency. Both sides are processed oldest-created-first (id as tie-break),
// each step allocates min(remaining, remaining) and advances whichever side
// is exhausted. Split allocations across several counterparties are the
// normal case. The inputs are not mutated.
func Sweep(funders, withdrawers []Request) SweepResult {
	fs := sortedCopy(funders)
	ws := sortedCopy(withdrawers)

	var allocations []Allocation
	fi, wi := 0, 0
	for fi < len(fs) && wi < len(ws) {
		funder := &fs[fi]
		withdrawer := &ws[wi]

		amount := minDecimal(funder.Remaining, withdrawer.Remaining)
		if amount.LessThanOrEqual(decimal.Zero) {
			// zero-remaining entries carry no allocatable value
			if funder.Remaining.LessThanOrEqual(decimal.Zero) {
				fi++
			}
			if withdrawer.Remaining.LessThanOrEqual(decimal.Zero) {
				wi++
			}
			continue
		}

		allocations = append(allocations, Allocation{
			FundingID:    funder.ID,
			WithdrawalID: withdrawer.ID,
			Currency:     funder.Currency,
			Amount:       amount,
			Source:       SourceSweep,
		})

		funder.Remaining = funder.Remaining.Sub(amount)
		withdrawer.Remaining = withdrawer.Remaining.Sub(amount)

		if funder.Remaining.IsZero() {
			fi++
		}
		if withdrawer.Remaining.IsZero() {
			wi++
		}
	}

	return SweepResult{
		Allocations:          allocations,
		FundingRemainders:    remainders(fs),
		WithdrawalRemainders: remainders(ws),
	}
}

// Resolve matches the sweep's remainders against the admin wallet. Funding
// remainders are always absorbed (the wallet accepts inbound funds without
// limit); withdrawal remainders consume wallet balance oldest-first and are
// carried forward once the balance runs out. Balance is decremented on the
// receiver.
func (w *AdminWallet) Resolve(result SweepResult) (allocations []Allocation, carried []Request) {
	for _, rem := range result.FundingRemainders {
		allocations = append(allocations, Allocation{
			FundingID:     rem.ID,
			AdminWalletID: w.ID,
			Currency:      rem.Currency,
			Amount:        rem.Remaining,
			Source:        SourceFallback,
		})
	}

	for _, rem := range result.WithdrawalRemainders {
		if w.Balance.LessThan(rem.Remaining) {
			carried = append(carried, rem)
			continue
		}
		w.Balance = w.Balance.Sub(rem.Remaining)
		allocations = append(allocations, Allocation{
			WithdrawalID:  rem.ID,
			AdminWalletID: w.ID,
			Currency:      rem.Currency,
			Amount:        rem.Remaining,
			Source:        SourceFallback,
		})
	}

	return allocations, carried
}

func sortedCopy(requests []Request) []Request {
	out := make([]Request, len(requests))
	copy(out, requests)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func remainders(requests []Request) []Request {
	var out []Request
	for _, req := range requests {
		if req.Remaining.GreaterThan(decimal.Zero) {
			out = append(out, req)
		}
	}
	return out
}
