package repository

import (
	"errors"
	"fmt"

	"github.com/okian/festboard/internal/domain/model"
)

// ErrClosed is returned by calls on a closed store.
var ErrClosed = errors.New("result store is closed")

// classify keeps domain errors intact and reports every backend failure
// (deadline, lost connection, driver error) as model.ErrStoreUnavailable.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrStoreUnavailable):
		return err
	}
	return fmt.Errorf("%w: %s: %w", model.ErrStoreUnavailable, op, err)
}

// errorKind names an error for metric labels.
func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidState):
		return "invalid_state"
	default:
		return "unavailable"
	}
}

// decisionError tells a missing record apart from one that is no longer
// pending after a conditional write matched no row.
func decisionError(id string, current model.Record, found bool) error {
	if !found {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return fmt.Errorf("%w: record %s is %s", model.ErrInvalidState, id, current.Status)
}
