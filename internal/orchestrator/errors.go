package orchestrator

import (
	"errors"
	"fmt"
)

// ErrRunExists is returned when a run's output directory already holds files.
// An existing bundle is never overwritten.
var ErrRunExists = errors.New("orchestrator: run directory is not empty")

// SystemError is an unrecoverable failure outside the quality gate: a
// collaborator error, a policy or input that cannot be used, a storage fault,
// or a bundle that violates its contract. It aborts the repair loop. Gate
// failures are never SystemErrors.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("orchestrator: %s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

// IsSystemError reports whether err is or wraps a *SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// combine folds every error recorded for a run into one *SystemError that
// keeps the first failing operation.
func combine(errs []*SystemError) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	all := make([]error, 0, len(errs))
	all = append(all, errs[0].Err)
	for _, e := range errs[1:] {
		all = append(all, e)
	}
	return &SystemError{Op: errs[0].Op, Err: errors.Join(all...)}
}
