package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/lpreturns/pkg/metrics"
	"github.com/canopy-network/lpreturns/pkg/retry"
	"go.uber.org/zap"
)

// endpoint posts GraphQL queries to one URL behind a token bucket and a circuit breaker.
// There is no failover: an open breaker fails the call until the cooldown has passed.
type endpoint struct {
	name   string
	url    string
	client *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu               sync.Mutex
	failures         int
	openUntil        time.Time
	breakerThreshold int
	breakerCooldown  time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type endpointOpts struct {
	Name            string
	URL             string
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

func newEndpoint(o endpointOpts) *endpoint {
	if o.RPS <= 0 {
		o.RPS = 10
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	e := &endpoint{
		name:             o.Name,
		url:              o.URL,
		client:           o.HTTPClient,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
		logger:           o.Logger,
		metrics:          o.Metrics,
	}
	e.tokens = e.maxTokens
	e.lastRefill.Store(time.Now())
	return e
}

func (e *endpoint) refill() {
	last := e.lastRefill.Load().(time.Time)
	now := time.Now()
	if elapsed := now.Sub(last); elapsed >= e.refillEvery {
		add := int64(elapsed / e.refillEvery)
		if cur := atomic.LoadInt64(&e.tokens); cur+add > e.maxTokens {
			add = e.maxTokens - cur
		}
		if add > 0 {
			atomic.AddInt64(&e.tokens, add)
		}
		e.lastRefill.Store(now)
	}
}

// acquire takes a token, waiting for a refill if the bucket is empty.
func (e *endpoint) acquire(ctx context.Context) error {
	for {
		e.refill()
		if atomic.AddInt64(&e.tokens, -1) >= 0 {
			return nil
		}
		atomic.AddInt64(&e.tokens, 1)

		t := time.NewTimer(e.refillEvery / 2)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (e *endpoint) isOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openUntil.IsZero() {
		return false
	}
	if time.Now().After(e.openUntil) {
		e.openUntil = time.Time{}
		e.failures = 0
		return false
	}
	return true
}

func (e *endpoint) noteFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	if e.failures >= e.breakerThreshold && e.openUntil.IsZero() {
		e.openUntil = time.Now().Add(e.breakerCooldown)
		e.logger.Warn("circuit opened",
			zap.String("endpoint", e.name),
			zap.Int("failures", e.failures),
			zap.Duration("cooldown", e.breakerCooldown))
	}
}

func (e *endpoint) noteSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// do posts query and returns the top level fields of data, keyed by alias.
// Decoding problems and 4xx answers are marked permanent for retry.WithBackoff.
func (e *endpoint) do(ctx context.Context, query string) (map[string]json.RawMessage, error) {
	if e.isOpen() {
		e.metrics.ObserveRequest(e.name, "circuit_open", 0)
		return nil, fmt.Errorf("%s: %w", e.name, ErrCircuitOpen)
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(graphQLRequest{Query: query})
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		e.metrics.ObserveRequest(e.name, "transport_error", time.Since(start))
		if ctx.Err() == nil {
			e.noteFailure()
		}
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	e.metrics.ObserveRequest(e.name, strconv.Itoa(resp.StatusCode), time.Since(start))

	switch {
	case resp.StatusCode >= 500:
		e.noteFailure()
		return nil, &StatusError{Endpoint: e.name, Code: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &StatusError{Endpoint: e.name, Code: resp.StatusCode}
	case resp.StatusCode >= 300:
		return nil, retry.Permanent(&StatusError{Endpoint: e.name, Code: resp.StatusCode})
	}
	e.noteSuccess()

	var out graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, retry.Permanent(&ParseError{Field: e.name + " response", Err: err})
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, m := range out.Errors {
			msgs[i] = m.Message
		}
		return nil, &QueryError{Endpoint: e.name, Messages: msgs}
	}
	if out.Data == nil {
		return nil, retry.Permanent(&ParseError{Field: e.name + " response", Err: errors.New("no data")})
	}
	return out.Data, nil
}
