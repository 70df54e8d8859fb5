package campaign

import (
	"errors"
	"fmt"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound           = errors.New("campaign not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrScheduleInPast     = errors.New("scheduled time must be in the future")
	ErrOutsideSendWindow  = errors.New("outside the campaign's send window")
	ErrNoRecipients       = errors.New("campaign has no eligible recipients")
	ErrNoWinner           = errors.New("no A/B winner recorded")
	ErrNotABTest          = errors.New("campaign has no A/B test")
	ErrRemainderSent      = errors.New("remainder already sent; winner is locked")
	ErrMissingTemplate    = errors.New("template not found")
	ErrInvalidInput       = errors.New("invalid campaign input")
	ErrBusy               = errors.New("campaign is being enqueued by another process")
	ErrUnsupportedChannel = errors.New("channel is not delivered by the engine")
)

// ValidationError is a rejected operator input. It unwraps to one of the
// sentinels above so callers can match with errors.Is.
type ValidationError struct {
	Field string
	Err   error
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Msg)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Err: ErrInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

func transition(from, action string) error {
	return &ValidationError{Err: ErrInvalidTransition, Msg: fmt.Sprintf("cannot %s a %s campaign", action, from)}
}
