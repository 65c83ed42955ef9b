package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is a schedulable event users register for.
type Event struct {
	ID                   uuid.UUID          `json:"id"`
	Title                string             `json:"title"`
	Slug                 string             `json:"slug"`
	Description          string             `json:"description,omitempty"`
	Mode                 EventMode          `json:"event_mode"`
	Status               EventStatus        `json:"event_status"`
	RegistrationStatus   RegistrationWindow `json:"registration_status"`
	StartsAt             time.Time          `json:"start_date"`
	EndsAt               time.Time          `json:"end_date"`
	RegistrationDeadline *time.Time         `json:"registration_deadline,omitempty"`
	MaxParticipants      *int               `json:"max_participants,omitempty"`
	CurrentParticipants  int                `json:"current_participants"`
	Price                decimal.Decimal    `json:"price"`
	Currency             string             `json:"currency"`
	OnlineLink           string             `json:"-"`
	OnlinePlatform       string             `json:"online_platform,omitempty"`
	Venue                string             `json:"venue,omitempty"`
	HasCertificate       bool               `json:"has_certificate"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsFree reports whether the event can be joined without payment.
func (e *Event) IsFree() bool {
	return !e.Price.IsPositive()
}

// AtCapacity reports whether every seat is taken.
func (e *Event) AtCapacity() bool {
	return e.MaxParticipants != nil && e.CurrentParticipants >= *e.MaxParticipants
}

// DeadlinePassed reports whether the registration deadline is before now.
func (e *Event) DeadlinePassed(now time.Time) bool {
	return e.RegistrationDeadline != nil && now.After(*e.RegistrationDeadline)
}

// Finished reports whether the event no longer accepts participants at all.
func (e *Event) Finished() bool {
	return e.Status == EventStatusCompleted || e.Status == EventStatusCancelled
}

// HasAccessLink reports whether an online join link should be sent to participants.
func (e *Event) HasAccessLink() bool {
	return e.Mode != EventModeOffline && e.OnlineLink != ""
}

// AddParticipant increments the counter and closes the window when capacity is reached.
func (e *Event) AddParticipant() {
	e.CurrentParticipants++
	if e.AtCapacity() {
		e.RegistrationStatus = RegistrationFull
	}
}

// RemoveParticipant decrements the counter, never below zero, and reopens a full window.
func (e *Event) RemoveParticipant() {
	if e.CurrentParticipants > 0 {
		e.CurrentParticipants--
	}
	if e.RegistrationStatus == RegistrationFull && !e.AtCapacity() {
		e.RegistrationStatus = RegistrationOpen
	}
}
