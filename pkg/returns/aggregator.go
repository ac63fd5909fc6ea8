package returns

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/canopy-network/lpreturns/pkg/pairmath"
)

// AggregateInput is everything the day fold consumes. Nothing in it is modified.
type AggregateInput struct {
	// Buckets are day starts as produced by DayTimestamps.
	Buckets []int64
	// Snapshots are the provider's real snapshots for one pair.
	Snapshots []PositionSnapshot
	// Samples are historical share value samples keyed by timestamp.
	Samples map[int64]ShareValueSample
	// CurrentPair and CurrentReferencePrice stand in for a day's close when no sample exists.
	CurrentPair           PairState
	CurrentReferencePrice float64
}

// closing is the synthetic end-of-day observation of a position.
type closing struct {
	position       pairmath.Position
	reserveUSD     float64
	token0PriceUSD float64
	token1PriceUSD float64
}

// Aggregate folds real snapshots and end-of-day samples into one DailyReturn per bucket.
//
// Within a day every real snapshot strictly inside the day is applied in time order,
// each adding the fees earned since the previous one. The day then closes on the sample
// taken at the next day's start, or on the live pair state when there is none. The
// reported fees are the running total plus what the last held balance earned up to the
// close. Fee deltas are not clamped, so noisy reserves can make a day's fees drop.
func Aggregate(in AggregateInput) (Reconstruction, error) {
	if len(in.Buckets) == 0 || len(in.Snapshots) == 0 {
		return Reconstruction{}, nil
	}

	snapshots := slices.Clone(in.Snapshots)
	slices.SortStableFunc(snapshots, func(a, b PositionSnapshot) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	var (
		out        = make([]DailyReturn, 0, len(in.Buckets))
		liveDays   []int64
		positionT0 = openingPosition(snapshots, in.Buckets[0])
		netFees    float64
	)

	for _, dayStart := range in.Buckets {
		dayEnd := dayStart + SecondsPerDay

		for _, positionT1 := range snapshots {
			if positionT1.Timestamp <= dayStart || positionT1.Timestamp >= dayEnd {
				continue
			}
			fees, err := pairmath.WindowFees(positionT0.position(), positionT1.position(),
				positionT1.Token0PriceUSD, positionT1.Token1PriceUSD)
			if err != nil {
				return Reconstruction{}, fmt.Errorf("day %d, snapshot %d: %w", dayStart, positionT1.Timestamp, err)
			}
			netFees += fees.USD
			positionT0 = positionT1
		}

		tail, live := closeOfDay(in, dayEnd, positionT0)
		if live {
			liveDays = append(liveDays, dayStart)
		}

		value, err := pairmath.PositionValue(tail.position.LiquidityTokenBalance,
			tail.position.LiquidityTokenTotalSupply, tail.reserveUSD)
		if err != nil {
			return Reconstruction{}, fmt.Errorf("day %d close: %w", dayStart, err)
		}
		fees, err := pairmath.WindowFees(positionT0.position(), tail.position,
			tail.token0PriceUSD, tail.token1PriceUSD)
		if err != nil {
			return Reconstruction{}, fmt.Errorf("day %d close: %w", dayStart, err)
		}

		out = append(out, DailyReturn{
			Date:     dayStart,
			USDValue: value,
			Fees:     netFees + fees.USD,
		})
	}

	return Reconstruction{Returns: out, LiveStateDays: liveDays}, nil
}

// openingPosition is the last snapshot taken at or before the first day starts, or the
// earliest snapshot when the position was opened later. snapshots must be sorted.
func openingPosition(snapshots []PositionSnapshot, firstDay int64) PositionSnapshot {
	i, _ := slices.BinarySearchFunc(snapshots, firstDay+1, func(s PositionSnapshot, ts int64) int {
		return cmp.Compare(s.Timestamp, ts)
	})
	if i == 0 {
		return snapshots[0]
	}
	return snapshots[i-1]
}

// closeOfDay builds the observation that closes a day, carrying the balance held at the
// last applied snapshot. The second result reports whether the live pair state was used.
func closeOfDay(in AggregateInput, dayEnd int64, held PositionSnapshot) (closing, bool) {
	if sample, ok := in.Samples[dayEnd]; ok {
		return closing{
			position: pairmath.Position{
				LiquidityTokenBalance:     held.LiquidityTokenBalance,
				LiquidityTokenTotalSupply: sample.TotalSupply,
				Reserve0:                  sample.Reserve0,
				Reserve1:                  sample.Reserve1,
			},
			reserveUSD:     sample.ReserveUSD,
			token0PriceUSD: sample.Token0PriceUSD,
			token1PriceUSD: sample.Token1PriceUSD,
		}, false
	}

	// Approximation: the present state stands in for this day's close. Only the most
	// recent day is expected to get here.
	pair := in.CurrentPair
	return closing{
		position: pairmath.Position{
			LiquidityTokenBalance:     held.LiquidityTokenBalance,
			LiquidityTokenTotalSupply: pair.TotalSupply,
			Reserve0:                  pair.Reserve0,
			Reserve1:                  pair.Reserve1,
		},
		reserveUSD:     pair.ReserveUSD,
		token0PriceUSD: pair.Token0DerivedReference * in.CurrentReferencePrice,
		token1PriceUSD: pair.Token1DerivedReference * in.CurrentReferencePrice,
	}, true
}
