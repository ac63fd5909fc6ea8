package returns

import "github.com/canopy-network/lpreturns/pkg/pairmath"

const (
	// SecondsPerDay is the width of a day bucket.
	SecondsPerDay int64 = 86400
	// DefaultBlockWindow is how far past a timestamp a block may be and still resolve it.
	DefaultBlockWindow int64 = 600
	// DefaultBlockChunkSize is the number of timestamps per block index query.
	DefaultBlockChunkSize = 500
	// DefaultPairChunkSize is the number of blocks per pair state or price query.
	DefaultPairChunkSize = 100
)

// PositionSnapshot is a provider's balance together with the pool state at the moment
// the balance changed.
type PositionSnapshot struct {
	PairID                    string  `json:"pairId"`
	Timestamp                 int64   `json:"timestamp"`
	LiquidityTokenBalance     float64 `json:"liquidityTokenBalance"`
	LiquidityTokenTotalSupply float64 `json:"liquidityTokenTotalSupply"`
	Reserve0                  float64 `json:"reserve0"`
	Reserve1                  float64 `json:"reserve1"`
	ReserveUSD                float64 `json:"reserveUSD"`
	Token0PriceUSD            float64 `json:"token0PriceUSD"`
	Token1PriceUSD            float64 `json:"token1PriceUSD"`
}

func (s PositionSnapshot) position() pairmath.Position {
	return pairmath.Position{
		LiquidityTokenBalance:     s.LiquidityTokenBalance,
		LiquidityTokenTotalSupply: s.LiquidityTokenTotalSupply,
		Reserve0:                  s.Reserve0,
		Reserve1:                  s.Reserve1,
	}
}

// PairState is the state of a pair, either live or read at a historical block.
// Derived reference prices are expressed in the network's native reference asset.
type PairState struct {
	ID                     string  `json:"id"`
	Token0Symbol           string  `json:"token0Symbol,omitempty"`
	Token1Symbol           string  `json:"token1Symbol,omitempty"`
	CreatedAtTimestamp     int64   `json:"createdAtTimestamp"`
	Reserve0               float64 `json:"reserve0"`
	Reserve1               float64 `json:"reserve1"`
	ReserveUSD             float64 `json:"reserveUSD"`
	TotalSupply            float64 `json:"totalSupply"`
	Token0DerivedReference float64 `json:"token0DerivedReference"`
	Token1DerivedReference float64 `json:"token1DerivedReference"`
}

// BlockReference ties a requested calendar timestamp to the block resolving it.
type BlockReference struct {
	Timestamp int64  `json:"timestamp"`
	Number    uint64 `json:"number"`
}

// ShareValueSample is a historical reading of pool state at a resolved block.
// ROIUSD is relative to the first sample of the same batch.
type ShareValueSample struct {
	Timestamp         int64   `json:"timestamp"`
	Block             uint64  `json:"block"`
	SharePriceUSD     float64 `json:"sharePriceUSD"`
	TotalSupply       float64 `json:"totalSupply"`
	Reserve0          float64 `json:"reserve0"`
	Reserve1          float64 `json:"reserve1"`
	ReserveUSD        float64 `json:"reserveUSD"`
	ReferencePriceUSD float64 `json:"referencePriceUSD"`
	Token0PriceUSD    float64 `json:"token0PriceUSD"`
	Token1PriceUSD    float64 `json:"token1PriceUSD"`
	ROIUSD            float64 `json:"roiUSD"`
}

// DailyReturn is the value and cumulative fee income of a position at the end of a day.
type DailyReturn struct {
	Date     int64   `json:"date"`
	USDValue float64 `json:"usdValue"`
	Fees     float64 `json:"fees"`
}

// Reconstruction is the outcome of folding a position's history into days.
type Reconstruction struct {
	Returns []DailyReturn `json:"returns"`
	// LiveStateDays lists the days whose close was approximated with the live pair state
	// because no historical sample was available.
	LiveStateDays []int64 `json:"liveStateDays,omitempty"`
}

// PositionReport values one real snapshot against the pair's live state.
type PositionReport struct {
	PairID          string  `json:"pairId"`
	Token0Symbol    string  `json:"token0Symbol"`
	Token1Symbol    string  `json:"token1Symbol"`
	Timestamp       int64   `json:"timestamp"`
	OldPrice0USD    float64 `json:"oldPrice0USD"`
	OldPrice1USD    float64 `json:"oldPrice1USD"`
	NewPrice0USD    float64 `json:"newPrice0USD"`
	NewPrice1USD    float64 `json:"newPrice1USD"`
	ImpermanentLoss float64 `json:"impermanentLoss"`
	Fees0           float64 `json:"fees0"`
	Fees1           float64 `json:"fees1"`
	FeesUSD         float64 `json:"feesUSD"`
	Error           string  `json:"error,omitempty"`
}
