package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotFound is wrapped by lookups of unknown ids.
var ErrNotFound = errors.New("not found")

// InvalidTransitionError reports an operation whose required source state
// does not match the entity's current state.
type InvalidTransitionError struct {
	Entity    string
	Operation string
	From      string
	Allowed   []string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s %s from %s (requires %s)",
		e.Entity, e.Operation, e.From, strings.Join(e.Allowed, " or "))
}

// ConsistencyError reports a violated cross-entity or ledger invariant.
type ConsistencyError struct {
	Reason string
}

func (e ConsistencyError) Error() string {
	return "consistency error: " + e.Reason
}

func consistencyf(format string, args ...any) error {
	return ConsistencyError{Reason: fmt.Sprintf(format, args...)}
}

// InsufficientCollateralizationError is returned when a bounty's
// reserved/claimed ratio falls below the configured lower bound.
type InsufficientCollateralizationError struct {
	Reserved Amount
	Claimed  Amount
	Ratio    decimal.Decimal
	Bound    decimal.Decimal
}

func (e InsufficientCollateralizationError) Error() string {
	return fmt.Sprintf("insufficient collateralization: reserved %d / claimed %d = %s below bound %s",
		e.Reserved, e.Claimed, e.Ratio.StringFixed(4), e.Bound.String())
}

// UnauthorizedError reports a failed sudo, board or team check.
type UnauthorizedError struct {
	Account AccountID
	Action  string
}

func (e UnauthorizedError) Error() string {
	if e.Account == "" {
		return fmt.Sprintf("unauthorized: %s requires an authenticated account", e.Action)
	}
	return fmt.Sprintf("unauthorized: account %s may not %s", e.Account, e.Action)
}

// EventNotFoundError is returned when a collaborator reports success but the
// confirming event (vote id, reservation, release receipt) is missing.
type EventNotFoundError struct {
	Event string
}

func (e EventNotFoundError) Error() string {
	return fmt.Sprintf("event not found: %s", e.Event)
}
