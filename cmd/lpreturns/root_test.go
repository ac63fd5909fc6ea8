package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	user = "0x001b71fad769b3cd47fd4c9849c704fdfabf6096"
	pair = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
)

type fakeBackend struct {
	user, pair string
	start      int64
	rec        returns.Reconstruction
	reports    []returns.PositionReport
	released   bool
}

func (f *fakeBackend) HistoricalReturns(_ context.Context, user, pair string, start int64) (returns.Reconstruction, error) {
	f.user, f.pair, f.start = user, pair, start
	return f.rec, nil
}

func (f *fakeBackend) PositionReports(_ context.Context, user string) ([]returns.PositionReport, error) {
	f.user = user
	return f.reports, nil
}

func run(t *testing.T, b *fakeBackend, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(func(context.Context) (Backend, func(), error) {
		return b, func() { b.released = true }, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReturnsCmd_Text(t *testing.T) {
	b := &fakeBackend{rec: returns.Reconstruction{
		Returns: []returns.DailyReturn{
			{Date: 1609459200, USDValue: 110, Fees: 0.4},
			{Date: 1609545600, USDValue: 111.5, Fees: 0.5},
		},
		LiveStateDays: []int64{1609545600},
	}}

	out, err := run(t, b, "returns", "0x001B71fad769B3cd47fD4C9849c704FdFaBF6096", pair, "--start", "2021-01-01")
	require.NoError(t, err)
	assert.Equal(t, user, b.user)
	assert.Equal(t, int64(1609459200), b.start)
	assert.True(t, b.released)
	assert.Contains(t, out, "2021-01-01")
	assert.Contains(t, out, "110.00")
	assert.Contains(t, out, "0.5000*")
	assert.Contains(t, out, "closed on live pool state")
}

func TestReturnsCmd_JSON(t *testing.T) {
	b := &fakeBackend{rec: returns.Reconstruction{Returns: []returns.DailyReturn{{Date: 86400, USDValue: 1, Fees: 2}}}}

	out, err := run(t, b, "returns", user, pair, "-o", "json")
	require.NoError(t, err)
	var got returns.Reconstruction
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, b.rec, got)
	assert.Equal(t, int64(0), b.start)
}

func TestReturnsCmd_Empty(t *testing.T) {
	out, err := run(t, &fakeBackend{}, "returns", user, pair)
	require.NoError(t, err)
	assert.Contains(t, out, "no closed days")
}

func TestReturnsCmd_BadArgs(t *testing.T) {
	b := &fakeBackend{}
	_, err := run(t, b, "returns", "0x12", pair)
	assert.Error(t, err)
	_, err = run(t, b, "returns", user, pair, "--start", "last week")
	assert.Error(t, err)
	_, err = run(t, b, "returns", user)
	assert.Error(t, err)
	assert.False(t, b.released)
}

func TestPositionsCmd(t *testing.T) {
	b := &fakeBackend{reports: []returns.PositionReport{
		{Token0Symbol: "AAA", Token1Symbol: "BBB", Timestamp: 0, NewPrice0USD: 2, ImpermanentLoss: 0.0571909584, FeesUSD: 50},
		{Token0Symbol: "CCC", Token1Symbol: "DDD", Error: "dollar prices: division by zero"},
	}}

	out, err := run(t, b, "positions", user)
	require.NoError(t, err)
	assert.Contains(t, out, "AAA/BBB 1970-01-01T00:00:00Z")
	assert.Contains(t, out, "Impermanent loss: 5.7191%")
	assert.Contains(t, out, "/ 50.00 USD")
	assert.Contains(t, out, "error: dollar prices")
}

func TestParseStart(t *testing.T) {
	n, err := parseStart("86400")
	require.NoError(t, err)
	assert.Equal(t, int64(86400), n)

	n, err = parseStart("1970-01-03")
	require.NoError(t, err)
	assert.Equal(t, int64(172800), n)

	_, err = parseStart("-1")
	assert.Error(t, err)
}
