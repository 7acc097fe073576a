package model

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks missing credentials or unusable mapping settings.
// It is the only error class that aborts a whole batch.
var ErrConfiguration = errors.New("configuration error")

func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// MappingError is fatal for a single entity only.
type MappingError struct {
	Kind   EntityKind
	ID     string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s %s to %s: %s", e.Kind, e.ID, e.Kind.External(), e.Reason)
}

// DispatchError wraps a failed CRM call for one envelope.
type DispatchError struct {
	Kind EntityKind
	ID   string
	Op   Op
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind.External(), e.ID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
