package broadcast

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when publishing or subscribing on a closed transport
	ErrClosed = errors.New("broadcast: transport is closed")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("broadcast: already started")
	// ErrNilHandler is returned when Start is called without a handler
	ErrNilHandler = errors.New("broadcast: handler is required")
	// ErrEmptySignal is returned when a signal names neither collections nor All
	ErrEmptySignal = errors.New("broadcast: signal names no collections")
)

// ErrInvalidConfig reports a configuration error
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("broadcast: invalid config: %s", msg)
}

// ErrConnection reports a failure to reach the brokers
func ErrConnection(err error) error {
	return fmt.Errorf("broadcast: connection failed: %w", err)
}

// ErrSubscribe reports a failed topic subscription
func ErrSubscribe(topic string, err error) error {
	return fmt.Errorf("broadcast: subscribe to topic %s failed: %w", topic, err)
}

// ErrConsume reports a fatal consumer error
func ErrConsume(err error) error {
	return fmt.Errorf("broadcast: consume failed: %w", err)
}

// ErrPublish reports a failed signal publication
func ErrPublish(err error) error {
	return fmt.Errorf("broadcast: publish failed: %w", err)
}

// ErrDecode reports a payload that is not a signal
func ErrDecode(err error) error {
	return fmt.Errorf("broadcast: decode signal failed: %w", err)
}
