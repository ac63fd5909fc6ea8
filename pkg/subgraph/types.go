package subgraph

import (
	"encoding/json"

	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/shopspring/decimal"
)

// The subgraph serialises BigInt and BigDecimal as strings.

type tokenResponse struct {
	Symbol     string          `json:"symbol"`
	DerivedETH decimal.Decimal `json:"derivedETH"`
}

type pairResponse struct {
	ID                 string          `json:"id"`
	CreatedAtTimestamp decimal.Decimal `json:"createdAtTimestamp"`
	Reserve0           decimal.Decimal `json:"reserve0"`
	Reserve1           decimal.Decimal `json:"reserve1"`
	ReserveUSD         decimal.Decimal `json:"reserveUSD"`
	TotalSupply        decimal.Decimal `json:"totalSupply"`
	Token0             tokenResponse   `json:"token0"`
	Token1             tokenResponse   `json:"token1"`
}

func (p pairResponse) state() returns.PairState {
	return returns.PairState{
		ID:                     p.ID,
		Token0Symbol:           p.Token0.Symbol,
		Token1Symbol:           p.Token1.Symbol,
		CreatedAtTimestamp:     p.CreatedAtTimestamp.IntPart(),
		Reserve0:               p.Reserve0.InexactFloat64(),
		Reserve1:               p.Reserve1.InexactFloat64(),
		ReserveUSD:             p.ReserveUSD.InexactFloat64(),
		TotalSupply:            p.TotalSupply.InexactFloat64(),
		Token0DerivedReference: p.Token0.DerivedETH.InexactFloat64(),
		Token1DerivedReference: p.Token1.DerivedETH.InexactFloat64(),
	}
}

type bundleResponse struct {
	ETHPrice decimal.Decimal `json:"ethPrice"`
}

type blockResponse struct {
	Number decimal.Decimal `json:"number"`
}

type snapshotResponse struct {
	Timestamp decimal.Decimal `json:"timestamp"`
	Pair      struct {
		ID string `json:"id"`
	} `json:"pair"`
	LiquidityTokenBalance     decimal.Decimal `json:"liquidityTokenBalance"`
	LiquidityTokenTotalSupply decimal.Decimal `json:"liquidityTokenTotalSupply"`
	Reserve0                  decimal.Decimal `json:"reserve0"`
	Reserve1                  decimal.Decimal `json:"reserve1"`
	ReserveUSD                decimal.Decimal `json:"reserveUSD"`
	Token0PriceUSD            decimal.Decimal `json:"token0PriceUSD"`
	Token1PriceUSD            decimal.Decimal `json:"token1PriceUSD"`
}

func (s snapshotResponse) snapshot() returns.PositionSnapshot {
	return returns.PositionSnapshot{
		PairID:                    s.Pair.ID,
		Timestamp:                 s.Timestamp.IntPart(),
		LiquidityTokenBalance:     s.LiquidityTokenBalance.InexactFloat64(),
		LiquidityTokenTotalSupply: s.LiquidityTokenTotalSupply.InexactFloat64(),
		Reserve0:                  s.Reserve0.InexactFloat64(),
		Reserve1:                  s.Reserve1.InexactFloat64(),
		ReserveUSD:                s.ReserveUSD.InexactFloat64(),
		Token0PriceUSD:            s.Token0PriceUSD.InexactFloat64(),
		Token1PriceUSD:            s.Token1PriceUSD.InexactFloat64(),
	}
}

// decode unmarshals one aliased field. A JSON null leaves out untouched and reports false.
func decode[T any](field string, raw json.RawMessage, out *T) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, &ParseError{Field: field, Err: err}
	}
	return true, nil
}
