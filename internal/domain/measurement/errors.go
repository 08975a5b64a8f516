package measurement

import (
	"fmt"

	"smartpot-app-go/internal/domain/binding"
)

var (
	ErrMeasurementNotFound = fmt.Errorf("measurement %w", binding.ErrNotFound)
	ErrInvalidType         = fmt.Errorf("unknown measurement type: %w", binding.ErrInvalidArgument)
	ErrInvalidValue        = fmt.Errorf("measurement value out of range: %w", binding.ErrInvalidArgument)
	ErrInvalidSerial       = fmt.Errorf("serial number is required: %w", binding.ErrInvalidArgument)
)
