package binding

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("binding conflict")
	ErrConsistencyViolation = errors.New("binding consistency violation")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrVersionConflict      = errors.New("version conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidArgument      = errors.New("invalid argument")

	ErrFlowerNotFound    = fmt.Errorf("flower %w", ErrNotFound)
	ErrSmartPotNotFound  = fmt.Errorf("smart pot %w", ErrNotFound)
	ErrHouseholdNotFound = fmt.Errorf("household %w", ErrNotFound)
)

// ConflictError reports a binding already held by another party.
type ConflictError struct {
	FlowerID     string
	SerialNumber string
	Reason       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("binding conflict: flower=%s serial=%s: %s", e.FlowerID, e.SerialNumber, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func conflict(flowerID, serial, reason string) error {
	return &ConflictError{FlowerID: flowerID, SerialNumber: serial, Reason: reason}
}

type Kind string

const (
	KindConflict                   Kind = "conflict"
	KindConsistencyViolation       Kind = "consistency_violation"
	KindNotFound                   Kind = "not_found"
	KindPreconditionFailed         Kind = "precondition_failed"
	KindVersionConflict            Kind = "version_conflict"
	KindForbidden                  Kind = "forbidden"
	KindInvalidArgument            Kind = "invalid_argument"
	KindManualInterventionRequired Kind = "manual_intervention_required"
	KindInternal                   Kind = "internal"
)

// Classifier lets error types outside this package report a more specific kind.
type Classifier interface {
	Kind() Kind
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified Classifier
	if errors.As(err, &classified) {
		return classified.Kind()
	}
	switch {
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrVersionConflict):
		return KindVersionConflict
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrPreconditionFailed):
		return KindPreconditionFailed
	case errors.Is(err, ErrConsistencyViolation):
		return KindConsistencyViolation
	default:
		return KindInternal
	}
}

// Retryable reports whether a caller may simply try the same request again.
func Retryable(kind Kind) bool {
	return kind == KindConflict || kind == KindVersionConflict
}
