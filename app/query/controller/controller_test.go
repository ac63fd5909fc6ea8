package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canopy-network/lpreturns/app/query/types"
	"github.com/canopy-network/lpreturns/pkg/batch"
	"github.com/canopy-network/lpreturns/pkg/metrics"
	"github.com/canopy-network/lpreturns/pkg/retry"
	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/canopy-network/lpreturns/pkg/stack"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	day  = returns.SecondsPerDay
	user = "0x001b71fad769b3cd47fd4c9849c704fdfabf6096"
	pair = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) UserPositionSnapshots(ctx context.Context, user string) ([]returns.PositionSnapshot, error) {
	args := m.Called(ctx, user)
	out, _ := args.Get(0).([]returns.PositionSnapshot)
	return out, args.Error(1)
}

func (m *mockSource) PairState(ctx context.Context, pairID string) (returns.PairState, error) {
	args := m.Called(ctx, pairID)
	return args.Get(0).(returns.PairState), args.Error(1)
}

func (m *mockSource) ReferencePrice(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockSource) BlocksNearTimestamps(ctx context.Context, timestamps []int64, window int64) (map[int64][]uint64, error) {
	args := m.Called(ctx, timestamps, window)
	out, _ := args.Get(0).(map[int64][]uint64)
	return out, args.Error(1)
}

func (m *mockSource) PairStatesAtBlocks(ctx context.Context, pairID string, blocks []returns.BlockReference) (map[int64]*returns.PairState, error) {
	args := m.Called(ctx, pairID, blocks)
	out, _ := args.Get(0).(map[int64]*returns.PairState)
	return out, args.Error(1)
}

func (m *mockSource) ReferencePricesAtBlocks(ctx context.Context, blocks []returns.BlockReference) (map[int64]*float64, error) {
	args := m.Called(ctx, blocks)
	out, _ := args.Get(0).(map[int64]*float64)
	return out, args.Error(1)
}

var (
	opening = returns.PositionSnapshot{
		PairID: pair, Timestamp: day,
		LiquidityTokenBalance: 100, LiquidityTokenTotalSupply: 1000,
		Reserve0: 500, Reserve1: 500, ReserveUSD: 1000, Token0PriceUSD: 1, Token1PriceUSD: 1,
	}
	livePair = returns.PairState{
		ID: pair, Token0Symbol: "AAA", Token1Symbol: "BBB", CreatedAtTimestamp: day,
		TotalSupply: 1000, Reserve0: 500, Reserve1: 1000, ReserveUSD: 2000,
		Token0DerivedReference: 0.001, Token1DerivedReference: 0.001,
	}
	closeBlock = []returns.BlockReference{{Timestamp: 2 * day, Number: 7}}
)

func price(v float64) *float64 { return &v }

func newTestRouter(t *testing.T, src *mockSource) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	m := metrics.New()
	exec := batch.NewExecutor(batch.Options{
		Retry:   retry.Config{MaxAttempts: 1},
		Logger:  logger,
		Metrics: m,
	})
	t.Cleanup(exec.Close)

	app := &types.App{
		Stack: &stack.Stack{
			Metrics:  m,
			Executor: exec,
			Service: returns.NewService(returns.ServiceOpts{
				Source:   src,
				Executor: exec,
				Logger:   logger,
				Metrics:  m,
				Now:      func() time.Time { return time.Unix(2*day+3600, 0) },
			}),
		},
		Logger: logger,
	}
	router, err := NewController(app).NewRouter()
	require.NoError(t, err)
	return WithRequestLogging(logger)(WithCORS(router))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleReturns(t *testing.T) {
	src := &mockSource{}
	src.On("UserPositionSnapshots", mock.Anything, user).Return([]returns.PositionSnapshot{opening}, nil)
	src.On("PairState", mock.Anything, pair).Return(livePair, nil)
	src.On("ReferencePrice", mock.Anything).Return(1000.0, nil)
	src.On("BlocksNearTimestamps", mock.Anything, []int64{2 * day}, int64(600)).
		Return(map[int64][]uint64{2 * day: {7}}, nil)
	src.On("PairStatesAtBlocks", mock.Anything, pair, closeBlock).
		Return(map[int64]*returns.PairState{2 * day: {
			TotalSupply: 1000, Reserve0: 520, Reserve1: 480, ReserveUSD: 1100,
			Token0DerivedReference: 0.0012, Token1DerivedReference: 0.001,
		}}, nil)
	src.On("ReferencePricesAtBlocks", mock.Anything, closeBlock).Return(map[int64]*float64{2 * day: price(1000)}, nil)

	// mixed case addresses are normalised
	rec := get(t, newTestRouter(t, src), "/users/0x001B71fad769B3cd47fD4C9849c704FdFaBF6096/pairs/0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc/returns?start=0")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body returnsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, user, body.User)
	assert.Equal(t, pair, body.Pair)
	require.Len(t, body.Returns, 1)
	assert.Equal(t, day, body.Returns[0].Date)
	assert.InDelta(t, 110.0, body.Returns[0].USDValue, 1e-9)
	assert.InDelta(t, 0.4, body.Returns[0].Fees, 1e-9)
	assert.Empty(t, body.LiveStateDays)
	src.AssertExpectations(t)
}

func TestHandleReturns_BadInput(t *testing.T) {
	h := newTestRouter(t, &mockSource{})

	for _, path := range []string{
		"/users/nope/pairs/" + pair + "/returns",
		"/users/" + user + "/pairs/0x12/returns",
		"/users/" + user + "/pairs/" + pair + "/returns?start=yesterday",
		"/users/" + user + "/pairs/" + pair + "/returns?start=-5",
	} {
		rec := get(t, h, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHandleReturns_EmptyWhenPairNotIndexed(t *testing.T) {
	src := &mockSource{}
	src.On("UserPositionSnapshots", mock.Anything, user).Return([]returns.PositionSnapshot{opening}, nil)
	src.On("PairState", mock.Anything, pair).Return(returns.PairState{ID: pair}, nil)

	rec := get(t, newTestRouter(t, src), "/users/"+user+"/pairs/"+pair+"/returns")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"`+user+`","pair":"`+pair+`","start":0,"returns":[]}`, rec.Body.String())
	src.AssertNotCalled(t, "BlocksNearTimestamps", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleReturns_UpstreamFailure(t *testing.T) {
	src := &mockSource{}
	src.On("UserPositionSnapshots", mock.Anything, user).Return([]returns.PositionSnapshot{opening}, nil)
	src.On("PairState", mock.Anything, pair).Return(livePair, nil)
	src.On("ReferencePrice", mock.Anything).Return(1000.0, nil)
	src.On("BlocksNearTimestamps", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("index down"))

	rec := get(t, newTestRouter(t, src), "/users/"+user+"/pairs/"+pair+"/returns")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "reconstruction failed")
}

func TestHandleReturns_DivisionByZero(t *testing.T) {
	src := &mockSource{}
	src.On("UserPositionSnapshots", mock.Anything, user).Return([]returns.PositionSnapshot{opening}, nil)
	src.On("PairState", mock.Anything, pair).Return(livePair, nil)
	src.On("ReferencePrice", mock.Anything).Return(1000.0, nil)
	src.On("BlocksNearTimestamps", mock.Anything, mock.Anything, mock.Anything).
		Return(map[int64][]uint64{2 * day: {7}}, nil)
	src.On("PairStatesAtBlocks", mock.Anything, pair, closeBlock).
		Return(map[int64]*returns.PairState{2 * day: {ReserveUSD: 10}}, nil)
	src.On("ReferencePricesAtBlocks", mock.Anything, closeBlock).Return(map[int64]*float64{2 * day: nil}, nil)

	rec := get(t, newTestRouter(t, src), "/users/"+user+"/pairs/"+pair+"/returns")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlePositions(t *testing.T) {
	src := &mockSource{}
	src.On("UserPositionSnapshots", mock.Anything, user).Return([]returns.PositionSnapshot{opening}, nil)
	src.On("PairState", mock.Anything, pair).Return(livePair, nil)

	rec := get(t, newTestRouter(t, src), "/users/"+user+"/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body positionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	p := body.Positions[0]
	assert.Equal(t, "AAA", p.Token0Symbol)
	assert.InDelta(t, 2.0, p.NewPrice0USD, 1e-9)
	assert.InDelta(t, 1.0, p.NewPrice1USD, 1e-9)
	assert.InDelta(t, 50.0, p.FeesUSD, 1e-9)
	assert.Empty(t, p.Error)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(t, &mockSource{})

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	h := newTestRouter(t, &mockSource{})

	rec := get(t, h, "/health")
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, id)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(requestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, &mockSource{})

	req := httptest.NewRequest(http.MethodOptions, "/users/"+user+"/positions", nil)
	req.Header.Set("Origin", "https://example.org")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}
