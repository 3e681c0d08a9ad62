package occurrence

import (
	"errors"
	"fmt"

	"github.com/ignite/comms-planner/internal/service/recurrence"
	"github.com/ignite/comms-planner/internal/service/series"
)

// Sentinel errors for the occurrence service layer.
var (
	ErrValidation             = errors.New("validation failed")
	ErrBulkDateEditNotAllowed = fmt.Errorf("%w: dates can only change across a series through a new rule", ErrValidation)
	ErrForbidden              = errors.New("not allowed to edit this occurrence")
	ErrNotFound               = series.ErrNotFound
	ErrNotAHead               = series.ErrNotAHead
)

// invalid wraps err so that it matches ErrValidation.
func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// classify makes rule errors from lower layers match ErrValidation.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrValidation) {
		return err
	}
	if errors.Is(err, recurrence.ErrInvalidRule) {
		return invalid(err)
	}
	return err
}
