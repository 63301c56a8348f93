package booking

import (
	"errors"
	"fmt"
)

var (
	ErrIdempotencyKey          = errors.New("idempotency key not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrNextID                  = errors.New("get next id from generator")
	ErrRecordNotFound          = errors.New("record not found")
	ErrConflict                = errors.New("record changed concurrently")
	ErrNotPayable              = errors.New("reservation is not awaiting payment")
	ErrPaymentsDisabled        = errors.New("payment gateway is not configured")
)

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reservation cannot move from %s to %s", e.From, e.To)
}

func IsTransitionError(err error) *TransitionError {
	if err == nil {
		return nil
	}

	var transitionErr *TransitionError

	if errors.As(err, &transitionErr) {
		return transitionErr
	}

	return nil
}

// UpstreamUnavailableError wraps failures of the persistence layer or the
// payment gateway. Callers show a generic retry-later message.
type UpstreamUnavailableError struct {
	Op  string
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Op, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}

func IsUpstreamUnavailableError(err error) *UpstreamUnavailableError {
	if err == nil {
		return nil
	}

	var upstreamErr *UpstreamUnavailableError

	if errors.As(err, &upstreamErr) {
		return upstreamErr
	}

	return nil
}

type InputError struct {
	fields map[string][]string
}

func newInputError() *InputError {
	return &InputError{
		fields: make(map[string][]string),
	}
}

func IsInputError(err error) *InputError {
	if err == nil {
		return nil
	}

	var inputError *InputError

	if errors.As(err, &inputError) {
		return inputError
	}

	return nil
}

func (ie *InputError) fieldsCount() int {
	return len(ie.fields)
}

func (ie *InputError) addError(field, msg string) {
	ie.fields[field] = append(ie.fields[field], msg)
}

func (ie *InputError) Error() string {
	return fmt.Sprintf("%+v", ie.fields)
}

func (ie *InputError) Fields() map[string][]string {
	return ie.fields
}
