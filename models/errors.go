package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinels for errors.Is; every typed error below unwraps to one of them.
var (
	ErrFormat                 = errors.New("format error")
	ErrNotInitialized         = errors.New("not initialized")
	ErrInvariantViolation     = errors.New("invariant violation")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrAlreadyDecided         = errors.New("already decided")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrPersistence            = errors.New("persistence error")
	ErrAuditGap               = errors.New("audit gap")
	ErrForbidden              = errors.New("forbidden")
	ErrRecordNotFound         = errors.New("record not found")
)

type FormatError struct {
	Field  string
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: invalid value %q: %s", e.Field, e.Input, e.Reason)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

// NotInitializedError means the key has no state yet; an admin must seed it.
type NotInitializedError struct {
	Entity string
	Key    string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s %s is not initialized", e.Entity, e.Key)
}

func (e *NotInitializedError) Unwrap() error { return ErrNotInitialized }

type InvariantViolationError struct {
	Field   string
	Opening decimal.Decimal
	Closing decimal.Decimal
	Reason  string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("%s: %s (opening=%s closing=%s)", e.Field, e.Reason, e.Opening.String(), e.Closing.String())
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

type InsufficientStockError struct {
	Key       string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s", e.Key, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type AlreadyDecidedError struct {
	Key    string
	Status TransferStatus
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("transfer %s is already %s", e.Key, e.Status)
}

func (e *AlreadyDecidedError) Unwrap() error { return ErrAlreadyDecided }

type ConcurrentModificationError struct {
	Entity string
	Key    string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently, retry with fresh state", e.Entity, e.Key)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

// PersistenceError wraps a backend failure. Op names the store call that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

// AuditGapError is returned after a mutation committed but its audit entry
// could not be written. The mutation result is still valid.
type AuditGapError struct {
	EntityRef string
	Err       error
}

func (e *AuditGapError) Error() string {
	return fmt.Sprintf("audit gap for %s: %v", e.EntityRef, e.Err)
}

func (e *AuditGapError) Is(target error) bool { return target == ErrAuditGap }

func (e *AuditGapError) Unwrap() error { return e.Err }

type ForbiddenError struct {
	Actor  string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s is not allowed to %s", e.Actor, e.Action)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// ErrorField returns the offending field or key carried by a ledger error.
func ErrorField(err error) string {
	var fe *FormatError
	var ni *NotInitializedError
	var iv *InvariantViolationError
	var is *InsufficientStockError
	var ad *AlreadyDecidedError
	var cm *ConcurrentModificationError
	switch {
	case errors.As(err, &fe):
		return fe.Field
	case errors.As(err, &ni):
		return ni.Key
	case errors.As(err, &iv):
		return iv.Field
	case errors.As(err, &is):
		return is.Key
	case errors.As(err, &ad):
		return ad.Key
	case errors.As(err, &cm):
		return cm.Key
	}
	return ""
}

// IsRetryable reports errors a caller may retry with the same idempotency token.
// An audit gap is never retryable: the mutation already committed.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrAuditGap) {
		return false
	}
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrConcurrentModification)
}
