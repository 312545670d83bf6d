package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a categorization target or receipt
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when optimistic-concurrency retries are
	// exhausted during reconciliation.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrOracleUnavailable is returned when the classifier oracle cannot
	// be reached. Never retried automatically.
	ErrOracleUnavailable = errors.New("classifier oracle unavailable")

	// ErrOracleTimeout is returned when the oracle exceeds the configured
	// deadline. Never retried automatically.
	ErrOracleTimeout = errors.New("classifier oracle timed out")

	// ErrBadOracleReply is returned when no JSON array can be extracted
	// from the oracle's response.
	ErrBadOracleReply = errors.New("unparsable oracle reply")

	// ErrBadItemList is returned when a proposed item list references ids
	// that do not belong to the receipt being reconciled.
	ErrBadItemList = errors.New("malformed proposed item list")

	ErrEmptyItemName     = errors.New("empty item name")
	ErrNameTooLong       = errors.New("name too long")
	ErrEmptyCategoryName = errors.New("empty category name")
	ErrEmptyUserID       = errors.New("empty user id")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrNegativeAmount    = errors.New("negative amount")
	ErrInvalidStatus     = errors.New("invalid receipt status")
	ErrDuplicateName     = errors.New("duplicate name")
)

// InternalError wraps an unexpected failure with a correlation id so the
// cause can be found in logs without leaking internals to the caller.
type InternalError struct {
	CorrelationID string
	Err           error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error (correlation_id=%s)", e.CorrelationID)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Internal wraps err as an InternalError with a fresh correlation id.
// Sentinel errors from the taxonomy above pass through untouched.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrNotFound, ErrConflict, ErrOracleUnavailable, ErrOracleTimeout,
		ErrBadOracleReply, ErrBadItemList, ErrEmptyItemName, ErrNameTooLong,
		ErrEmptyCategoryName, ErrEmptyUserID, ErrInvalidQuantity,
		ErrNegativeAmount, ErrInvalidStatus, ErrDuplicateName,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	var internal *InternalError
	if errors.As(err, &internal) {
		return err
	}
	return &InternalError{CorrelationID: uuid.NewString(), Err: err}
}
