package transplant

import (
	"errors"
	"fmt"
	"strings"

	"smartpot-app-go/internal/domain/binding"
)

var (
	ErrInvalidRequest = fmt.Errorf("invalid transplant request: %w", binding.ErrInvalidArgument)

	ErrTargetPotUnavailable    = fmt.Errorf("target smart pot is bound to another flower: %w", binding.ErrNotFound)
	ErrTargetFlowerUnavailable = fmt.Errorf("target flower is bound to another smart pot: %w", binding.ErrNotFound)

	ErrSameHousehold        = fmt.Errorf("already in target household: %w", binding.ErrPreconditionFailed)
	ErrDifferentHouseholds  = fmt.Errorf("flower and smart pot are in different households: %w", binding.ErrPreconditionFailed)
	ErrFlowerNotBound       = fmt.Errorf("flower has no smart pot: %w", binding.ErrPreconditionFailed)
	ErrSmartPotNotBound     = fmt.Errorf("smart pot serves no flower: %w", binding.ErrPreconditionFailed)
	ErrNotInTargetHousehold = fmt.Errorf("entity is not in the target household: %w", binding.ErrPreconditionFailed)
	ErrNotInSourceHousehold = fmt.Errorf("entity is not in the source household: %w", binding.ErrPreconditionFailed)

	ErrManualInterventionRequired = errors.New("manual intervention required")
)

// ManualInterventionError reports a transplant whose rollback failed. The
// store may hold a partially applied transplant that operators must
// reconcile.
type ManualInterventionError struct {
	TransplantID    string
	Protocol        Protocol
	FailedStep      string
	Cause           error
	CompensationErr error
	Pending         []string
}

func (e *ManualInterventionError) Error() string {
	return fmt.Sprintf("transplant %s (%s): step %s failed: %v; rollback failed: %v; uncompensated steps: %s",
		e.TransplantID, e.Protocol, e.FailedStep, e.Cause, e.CompensationErr, strings.Join(e.Pending, ","))
}

func (e *ManualInterventionError) Is(target error) bool {
	return target == ErrManualInterventionRequired || target == binding.ErrPreconditionFailed
}

func (e *ManualInterventionError) Kind() binding.Kind {
	return binding.KindManualInterventionRequired
}

// targetTaken reports that another actor bound a target between validation
// and apply.
func targetTaken(flowerID, serial, reason string) error {
	return &binding.ConflictError{FlowerID: flowerID, SerialNumber: serial, Reason: reason}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
