package returns

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/canopy-network/lpreturns/pkg/pairmath"
	"go.uber.org/zap"
)

// PositionReports values every snapshot of user against its pair's live state: how
// prices moved since the snapshot, the resulting impermanent loss, and the fees the
// snapshot's balance has earned since. A snapshot that cannot be valued carries an
// error message instead of failing the whole report.
func (s *Service) PositionReports(ctx context.Context, user string) ([]PositionReport, error) {
	snapshots, err := s.source.UserPositionSnapshots(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots of %s: %w", user, err)
	}

	pairs := make(map[string]PairState)
	reports := make([]PositionReport, 0, len(snapshots))
	for _, snap := range snapshots {
		pair, ok := pairs[snap.PairID]
		if !ok {
			pair, err = s.source.PairState(ctx, snap.PairID)
			if err != nil {
				return nil, fmt.Errorf("fetch pair %s: %w", snap.PairID, err)
			}
			pairs[snap.PairID] = pair
		}

		report, err := ReportPosition(snap, pair)
		if err != nil {
			s.logger.Debug("snapshot could not be valued",
				zap.String("pair", snap.PairID),
				zap.Int64("timestamp", snap.Timestamp),
				zap.Error(err))
			report.Error = err.Error()
		}
		reports = append(reports, report)
	}

	slices.SortStableFunc(reports, func(a, b PositionReport) int {
		if c := cmp.Compare(a.PairID, b.PairID); c != 0 {
			return c
		}
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return reports, nil
}

// ReportPosition values one snapshot against the live state of its pair. The returned
// report is partially filled when err is not nil.
func ReportPosition(snap PositionSnapshot, pair PairState) (PositionReport, error) {
	report := PositionReport{
		PairID:       snap.PairID,
		Token0Symbol: pair.Token0Symbol,
		Token1Symbol: pair.Token1Symbol,
		Timestamp:    snap.Timestamp,
		OldPrice0USD: snap.Token0PriceUSD,
		OldPrice1USD: snap.Token1PriceUSD,
	}

	p0, p1, err := pairmath.DollarPrices(pair.ReserveUSD, pair.Reserve0, pair.Reserve1)
	if err != nil {
		return report, err
	}
	report.NewPrice0USD, report.NewPrice1USD = p0, p1

	il, err := pairmath.ImpermanentLoss(snap.Token0PriceUSD, snap.Token1PriceUSD, p0, p1)
	if err != nil {
		return report, err
	}
	report.ImpermanentLoss = il

	fees, err := pairmath.WindowFees(snap.position(), pairmath.Position{
		LiquidityTokenTotalSupply: pair.TotalSupply,
		Reserve0:                  pair.Reserve0,
		Reserve1:                  pair.Reserve1,
	}, p0, p1)
	if err != nil {
		return report, err
	}
	report.Fees0, report.Fees1, report.FeesUSD = fees.Token0, fees.Token1, fees.USD
	return report, nil
}
