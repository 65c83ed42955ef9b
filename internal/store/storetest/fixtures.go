// Package storetest seeds the in-memory store for service tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
)

// User creates a user with the given role.
func User(t *testing.T, s store.Store, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Name:     "Test User",
		Email:    fmt.Sprintf("user-%s@example.com", uuid.NewString()[:8]),
		Password: "hashed",
		Phone:    "01700000000",
		Role:     role,
	}
	require.NoError(t, s.Users().Create(context.Background(), u))
	return u
}

// Event creates an open upcoming online event starting tomorrow. Options run
// before the event is stored.
func Event(t *testing.T, s store.Store, opts ...func(*models.Event)) *models.Event {
	t.Helper()
	start := time.Now().Add(24 * time.Hour)
	e := &models.Event{
		Title:              "Go Workshop",
		Slug:               "go-workshop-" + uuid.NewString()[:8],
		Mode:               models.EventModeOnline,
		Status:             models.EventStatusUpcoming,
		RegistrationStatus: models.RegistrationOpen,
		StartsAt:           start,
		EndsAt:             start.Add(2 * time.Hour),
		Price:              decimal.Zero,
		Currency:           "BDT",
		OnlineLink:         "https://meet.example.com/go",
		OnlinePlatform:     "Meet",
		HasCertificate:     true,
	}
	for _, opt := range opts {
		opt(e)
	}
	require.NoError(t, s.Events().Create(context.Background(), e))
	return e
}

// Capacity limits an event to n seats.
func Capacity(n int) func(*models.Event) {
	return func(e *models.Event) { e.MaxParticipants = &n }
}

// Price makes an event paid.
func Price(amount string) func(*models.Event) {
	return func(e *models.Event) { e.Price = decimal.RequireFromString(amount) }
}

// Completed marks an event as finished.
func Completed() func(*models.Event) {
	return func(e *models.Event) {
		e.Status = models.EventStatusCompleted
		e.RegistrationStatus = models.RegistrationClosed
		e.StartsAt = time.Now().Add(-48 * time.Hour)
		e.EndsAt = e.StartsAt.Add(2 * time.Hour)
	}
}

// Registration creates a registration in the given state.
func Registration(t *testing.T, s store.Store, e *models.Event, u *models.User, status models.RegistrationStatus, payment models.PaymentStatus) *models.Registration {
	t.Helper()
	r := &models.Registration{
		EventID:            e.ID,
		UserID:             u.ID,
		RegistrationNumber: "REG-" + uuid.NewString()[:8],
		Status:             status,
		PaymentStatus:      payment,
		PaymentAmount:      e.Price,
	}
	if status.Counted() {
		now := time.Now()
		r.ConfirmedAt = &now
	}
	require.NoError(t, s.Registrations().Create(context.Background(), r))
	return r
}
