package engine

import (
	"errors"
	"fmt"
	"strings"

	"refurbline/internal/domain"
)

var (
	ErrBatchLocked     = errors.New("batch is verified and locked")
	ErrNoPurchaseOrder = errors.New("batch has no linked purchase order")
)

// InvalidTransitionError rejects a status change outside the pipeline graph.
type InvalidTransitionError struct {
	From domain.DeviceStatus
	To   domain.DeviceStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid device status transition %s -> %s", e.From, e.To)
}

type NotClaimableError struct {
	DeviceID string
	Reason   string
}

func (e NotClaimableError) Error() string {
	return fmt.Sprintf("device %s not claimable: %s", e.DeviceID, e.Reason)
}

// IncompleteParallelWorkError lists every track blocking QC.
type IncompleteParallelWorkError struct {
	DeviceID string
	Missing  []string
}

func (e IncompleteParallelWorkError) Error() string {
	return fmt.Sprintf("device %s cannot go to QC: %s", e.DeviceID, strings.Join(e.Missing, "; "))
}

type PartNotFoundError struct {
	Code string
}

func (e PartNotFoundError) Error() string {
	return fmt.Sprintf("Part %s not found", e.Code)
}

type InsufficientStockError struct {
	Code      string
	Requested int
	Available int
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s: requested %d, available %d", e.Code, e.Requested, e.Available)
}

type NotReadyForQCError struct {
	DeviceID string
	Reasons  []string
}

func (e NotReadyForQCError) Error() string {
	return fmt.Sprintf("device %s not ready for QC: %s", e.DeviceID, strings.Join(e.Reasons, "; "))
}

// ValidationError reports bad input detected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StateError reports an entity in the wrong state for the operation.
type StateError struct {
	Entity  string
	ID      string
	Message string
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
}
