package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dailyyoga/mongoconfigs/store"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// server error codes meaning a change stream cannot be resumed
const (
	codeInvalidResumeToken      = 260
	codeChangeStreamFatal       = 280
	codeChangeStreamHistoryLost = 286
)

// ErrInvalidConfig represents an invalid configuration
func ErrInvalidConfig(msg string) error {
	return fmt.Errorf("mongostore: invalid config: %s", msg)
}

// ErrConnect wraps a connection failure
func ErrConnect(err error) error {
	return fmt.Errorf("mongostore: connect failed: %w", err)
}

// mapError translates driver errors into the store error taxonomy
func mapError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var serverErr mongo.ServerError
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("mongostore: %s %s: %w", op, collection, store.ErrClosed)
	case errors.Is(err, context.Canceled):
		return err
	case mongo.IsTimeout(err):
		return store.ErrTimeout(op, collection, 0, err)
	case errors.As(err, &serverErr) && (serverErr.HasErrorCode(codeInvalidResumeToken) ||
		serverErr.HasErrorCode(codeChangeStreamFatal) ||
		serverErr.HasErrorCode(codeChangeStreamHistoryLost)):
		return fmt.Errorf("mongostore: %s %s: %w: %v", op, collection, store.ErrCursorInvalid, err)
	case mongo.IsNetworkError(err):
		return store.ErrUnavailable(op, collection, err)
	default:
		return fmt.Errorf("mongostore: %s %s: %w", op, collection, err)
	}
}
