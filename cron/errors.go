package cron

import (
	"errors"
	"fmt"
)

// ErrNoTasks is returned when attempting to add a chain job with no tasks
var ErrNoTasks = errors.New("cron: no tasks provided")

// ErrInvalidSpec is returned when a chain's cron spec cannot be parsed
func ErrInvalidSpec(name, spec string, err error) error {
	return fmt.Errorf("cron: invalid spec %q for chain %s: %w", spec, name, err)
}

// ErrUnknownChain is returned by Run for a chain that was never added
func ErrUnknownChain(name string) error {
	return fmt.Errorf("cron: unknown chain %s", name)
}

// ErrMissingValue is returned by a task that needs a SharedData value an earlier task did not set
func ErrMissingValue(key string) error {
	return fmt.Errorf("cron: shared value %q not set", key)
}
