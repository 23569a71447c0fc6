package subscription

import (
	"testing"

	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from  Status
		event Event
		want  Status
	}{
		{StatusIdle, EventStartTrial, StatusTrialing},
		{StatusIdle, EventActivate, StatusActive},
		{StatusTrialing, EventEndTrial, StatusActive},
		{StatusTrialing, EventPaymentFailed, StatusPastDue},
		{StatusActive, EventPaymentFailed, StatusPastDue},
		{StatusPastDue, EventPaymentRecovered, StatusActive},
		{StatusIdle, EventCancel, StatusCanceled},
		{StatusTrialing, EventCancel, StatusCanceled},
		{StatusActive, EventCancel, StatusCanceled},
		{StatusPastDue, EventCancel, StatusCanceled},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_Rejected(t *testing.T) {
	events := []Event{EventStartTrial, EventActivate, EventEndTrial, EventPaymentFailed, EventPaymentRecovered, EventCancel}
	for _, e := range events {
		got, err := Transition(StatusCanceled, e)
		assert.ErrorIs(t, err, shared.ErrInvalidTransition, "canceled is terminal")
		assert.Equal(t, StatusCanceled, got)
	}

	_, err := Transition(StatusActive, EventEndTrial)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = Transition(StatusActive, EventStartTrial)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = Transition(StatusTrialing, EventPaymentRecovered)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestStatus_IsValid(t *testing.T) {
	assert.True(t, StatusPastDue.IsValid())
	assert.False(t, Status("paused").IsValid())
	assert.True(t, StatusCanceled.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
}
