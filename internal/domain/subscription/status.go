package subscription

import (
	"fmt"

	"github.com/saasdash/backend/internal/domain/shared"
)

// Status represents the lifecycle state of a subscription
type Status string

const (
	StatusIdle     Status = "idle"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// IsValid checks if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusTrialing, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusCanceled
}

// Event is an input to the subscription state machine
type Event string

const (
	EventStartTrial       Event = "start_trial"
	EventActivate         Event = "activate"
	EventEndTrial         Event = "end_trial"
	EventPaymentFailed    Event = "payment_failed"
	EventPaymentRecovered Event = "payment_recovered"
	EventCancel           Event = "cancel"
)

type transitionKey struct {
	from  Status
	event Event
}

// transitions is the complete state chart. Any pair missing here is rejected.
var transitions = map[transitionKey]Status{
	{StatusIdle, EventStartTrial}: StatusTrialing,
	{StatusIdle, EventActivate}:   StatusActive,
	{StatusIdle, EventCancel}:     StatusCanceled,

	{StatusTrialing, EventEndTrial}:      StatusActive,
	{StatusTrialing, EventPaymentFailed}: StatusPastDue,
	{StatusTrialing, EventCancel}:        StatusCanceled,

	{StatusActive, EventPaymentFailed}: StatusPastDue,
	{StatusActive, EventCancel}:        StatusCanceled,

	{StatusPastDue, EventPaymentRecovered}: StatusActive,
	{StatusPastDue, EventCancel}:           StatusCanceled,
}

// Transition applies event to from and returns the next status
func Transition(from Status, event Event) (Status, error) {
	next, ok := transitions[transitionKey{from, event}]
	if !ok {
		return from, shared.ErrInvalidTransition.WithMessage(
			fmt.Sprintf("cannot apply %s to a %s subscription", event, from))
	}
	return next, nil
}

// CanApply reports whether event is accepted in status s
func (s Status) CanApply(event Event) bool {
	_, ok := transitions[transitionKey{s, event}]
	return ok
}
