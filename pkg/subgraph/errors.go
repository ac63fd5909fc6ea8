package subgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCircuitOpen is returned without contacting an endpoint that failed repeatedly.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrInvalidAddress rejects ids that are not 20 byte hex addresses.
	ErrInvalidAddress = errors.New("invalid address")
)

// ParseError reports a response that does not have the expected shape. Retrying the
// same query will not fix it.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// QueryError carries the errors array of a GraphQL response.
type QueryError struct {
	Endpoint string
	Messages []string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query failed: %s", e.Endpoint, strings.Join(e.Messages, "; "))
}

// StatusError is a non-2xx HTTP answer.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d", e.Endpoint, e.Code)
}
