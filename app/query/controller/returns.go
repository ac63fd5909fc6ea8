package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/canopy-network/lpreturns/pkg/batch"
	"github.com/canopy-network/lpreturns/pkg/pairmath"
	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/canopy-network/lpreturns/pkg/subgraph"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type returnsResponse struct {
	User          string                `json:"user"`
	Pair          string                `json:"pair"`
	Start         int64                 `json:"start"`
	Returns       []returns.DailyReturn `json:"returns"`
	LiveStateDays []int64               `json:"liveStateDays,omitempty"`
}

type positionsResponse struct {
	User      string                   `json:"user"`
	Positions []returns.PositionReport `json:"positions"`
}

// HandleReturns returns the daily value and cumulative fees of a position.
// GET /users/{user}/pairs/{pair}/returns?start=<unix seconds>
func (c *Controller) HandleReturns(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user, err := subgraph.NormalizeAddress(vars["user"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	pair, err := subgraph.NormalizeAddress(vars["pair"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pair address")
		return
	}

	var start int64
	if v := r.URL.Query().Get("start"); v != "" {
		start, err = strconv.ParseInt(v, 10, 64)
		if err != nil || start < 0 {
			writeError(w, http.StatusBadRequest, errInvalidStart.Error())
			return
		}
	}

	rec, err := c.App.Stack.Service.HistoricalReturns(r.Context(), user, pair, start)
	if err != nil {
		c.writeServiceError(w, "reconstruction failed", err)
		return
	}

	out := rec.Returns
	if out == nil {
		out = []returns.DailyReturn{}
	}
	writeJSON(w, http.StatusOK, returnsResponse{
		User:          user,
		Pair:          pair,
		Start:         start,
		Returns:       out,
		LiveStateDays: rec.LiveStateDays,
	})
}

// HandlePositions values every snapshot of a user against live pool state.
// GET /users/{user}/positions
func (c *Controller) HandlePositions(w http.ResponseWriter, r *http.Request) {
	user, err := subgraph.NormalizeAddress(mux.Vars(r)["user"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}

	reports, err := c.App.Stack.Service.PositionReports(r.Context(), user)
	if err != nil {
		c.writeServiceError(w, "position report failed", err)
		return
	}
	writeJSON(w, http.StatusOK, positionsResponse{User: user, Positions: reports})
}

func (c *Controller) writeServiceError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.Canceled):
		// client went away
		return
	case errors.Is(err, pairmath.ErrDivisionByZero):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, batch.ErrFetchFailed), errors.Is(err, subgraph.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusBadGateway
	}
	c.App.Logger.Warn(msg, zap.Int("status", status), zap.Error(err))
	writeError(w, status, msg)
}
