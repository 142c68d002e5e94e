/*
errors.go - Error taxonomy for the stock engine

PURPOSE:
  All error types in one place. Every structured error unwraps to a sentinel
  so callers classify with errors.Is, and renders a Korean message because
  the UI surfaces these strings directly.

ERROR CATEGORIES:
  1. Validation  - malformed input, never mutates state
  2. NotFound    - item / partner / operation / edge missing
  3. Domain      - insufficient stock, invalid state transition, BOM cycle
  4. Serial      - duplicate serial (retried internally before surfacing)
  5. Storage     - lock timeouts, deadlocks, connectivity (retryable subset)

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
*/
package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateSerial        = errors.New("duplicate serial")
	ErrStorage                = errors.New("storage error")

	// ErrConcurrentModification is returned when a compare-and-swap lost.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrBOMCycle = errors.New("bom cycle")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes the input field that was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// NotFoundError names the kind of record that is missing.
type NotFoundError struct {
	Kind string // "item", "partner", "operation", "transaction", "bom"
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s(ID %d)을(를) 찾을 수 없습니다.", kindLabel(e.Kind), e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func kindLabel(kind string) string {
	switch kind {
	case "item":
		return "품목"
	case "partner":
		return "거래처"
	case "operation":
		return "공정 작업"
	case "transaction":
		return "거래"
	case "bom":
		return "BOM"
	}
	return kind
}

// InsufficientStockError carries the shortfall for the UI.
type InsufficientStockError struct {
	ItemID    ItemID
	ItemName  string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("품목 \"%s\"의 재고가 부족합니다. (필요: %s, 현재: %s, 부족: %s)",
		e.ItemName, e.Required.String(), e.Available.String(), e.Shortfall().String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError reports a process-chain guard violation.
type InvalidTransitionError struct {
	OperationID OperationID
	From        OperationStatus
	To          OperationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("작업(ID %d)을 %s 상태에서 %s 상태로 변경할 수 없습니다.",
		e.OperationID, e.From.Label(), e.To.Label())
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// BOMCycleError lists the item path that closes the cycle.
type BOMCycleError struct {
	Path []ItemID
}

func (e *BOMCycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("BOM 순환 참조가 발생합니다: %s", strings.Join(parts, " → "))
}

func (e *BOMCycleError) Unwrap() error { return ErrBOMCycle }

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Storage wraps err as a StorageError unless it is already classified.
func Storage(op string, err error, retryable bool) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || IsClientError(err) || IsNotFound(err) {
		return err
	}
	return &StorageError{Op: op, Err: err, Retryable: retryable}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true for lock/timeout class failures the caller may retry.
// Domain errors are never retryable.
func IsRetryable(err error) bool {
	if IsClientError(err) {
		return false
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to input or a domain rule.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrBOMCycle)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
