package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrNotFound            = errors.New("not found")
)

// StoreError is an I/O failure talking to a backing store. It matches
// ErrStoreUnavailable and unwraps to the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// PartialWriteFailure reports the message ids that could not be marked read.
// Callers can retry exactly those.
type PartialWriteFailure struct {
	ConversationId string
	Failed         []string
	Marked         int
	Err            error
}

func (e *PartialWriteFailure) Error() string {
	return fmt.Sprintf("marked %d of %d messages read in conversation %s: %v",
		e.Marked, e.Marked+len(e.Failed), e.ConversationId, e.Err)
}

func (e *PartialWriteFailure) Unwrap() error { return e.Err }

// storeError classifies err at an operation boundary. Errors that already
// carry a taxonomy are returned untouched.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var partial *PartialWriteFailure
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidParticipants),
		errors.Is(err, ErrStoreUnavailable),
		errors.As(err, &partial):
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// ErrorMessage turns err into the text shown in place of the data a UI
// expected.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var partial *PartialWriteFailure
	switch {
	case errors.Is(err, ErrInvalidParticipants):
		return "A conversation needs two different people."
	case errors.Is(err, ErrNotFound):
		return "That conversation could not be found."
	case errors.As(err, &partial):
		return fmt.Sprintf("Some messages could not be marked as read (%s).", strings.Join(partial.Failed, ", "))
	case errors.Is(err, ErrStoreUnavailable):
		return "Chat is unavailable right now. Please try again."
	}
	return "Something went wrong."
}
