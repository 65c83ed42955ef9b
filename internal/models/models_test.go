package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func TestPaymentStatusTransitions(t *testing.T) {
	legal := map[PaymentStatus][]PaymentStatus{
		PaymentPending:   {PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentExpired},
		PaymentCompleted: {PaymentRefunded},
	}
	all := []PaymentStatus{
		PaymentNotRequired, PaymentPending, PaymentCompleted, PaymentFailed,
		PaymentCancelled, PaymentExpired, PaymentRefunded,
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range legal[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestCompletedNeverReturnsToNonRefundState(t *testing.T) {
	for _, to := range []PaymentStatus{PaymentPending, PaymentFailed, PaymentCancelled, PaymentExpired} {
		assert.False(t, PaymentCompleted.CanTransition(to))
	}
}

func TestEventCapacityFlips(t *testing.T) {
	e := &Event{MaxParticipants: intPtr(2), RegistrationStatus: RegistrationOpen}

	e.AddParticipant()
	assert.Equal(t, RegistrationOpen, e.RegistrationStatus)
	e.AddParticipant()
	assert.Equal(t, 2, e.CurrentParticipants)
	assert.Equal(t, RegistrationFull, e.RegistrationStatus)

	e.RemoveParticipant()
	assert.Equal(t, 1, e.CurrentParticipants)
	assert.Equal(t, RegistrationOpen, e.RegistrationStatus)
}

func TestRemoveParticipantNeverNegative(t *testing.T) {
	e := &Event{RegistrationStatus: RegistrationOpen}
	e.RemoveParticipant()
	assert.Equal(t, 0, e.CurrentParticipants)
}

func TestClosedWindowStaysClosedOnRemove(t *testing.T) {
	e := &Event{MaxParticipants: intPtr(1), CurrentParticipants: 1, RegistrationStatus: RegistrationClosed}
	e.RemoveParticipant()
	assert.Equal(t, RegistrationClosed, e.RegistrationStatus)
}

func TestEventPredicates(t *testing.T) {
	deadline := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	e := &Event{Price: decimal.Zero, RegistrationDeadline: &deadline, Mode: EventModeHybrid, OnlineLink: "https://meet.example/x"}
	assert.True(t, e.IsFree())
	assert.True(t, e.DeadlinePassed(deadline.Add(time.Minute)))
	assert.False(t, e.DeadlinePassed(deadline.Add(-time.Minute)))
	assert.True(t, e.HasAccessLink())

	e.Mode = EventModeOffline
	assert.False(t, e.HasAccessLink())

	e.Price = decimal.NewFromInt(500)
	assert.False(t, e.IsFree())
}

func TestRegistrationStatusPredicates(t *testing.T) {
	assert.True(t, RegistrationPending.Active())
	assert.False(t, RegistrationPending.Counted())
	assert.True(t, RegistrationAttended.Counted())
	assert.False(t, RegistrationCancelled.Active())
	assert.False(t, RegistrationRefunded.Active())
}
