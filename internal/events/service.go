// Package events serves event reads, admin event creation and the periodic
// status refresh.
package events

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/apperr"
	"github.com/oriyet/backend/pkg/utils"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a title into a URL slug.
func Slugify(title string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(title), "-"), "-")
}

// CreateInput describes a new event.
type CreateInput struct {
	Title                string
	Slug                 string
	Description          string
	Mode                 models.EventMode
	StartsAt             time.Time
	EndsAt               time.Time
	RegistrationDeadline *time.Time
	MaxParticipants      *int
	Price                decimal.Decimal
	Currency             string
	OnlineLink           string
	OnlinePlatform       string
	Venue                string
	HasCertificate       bool
}

// Service manages events.
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an event service.
func NewService(s store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger, now: time.Now}
}

// Get returns one event.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	e, err := s.store.Events().GetByID(ctx, id)
	if err != nil {
		return nil, store.Translate(err, "Event not found")
	}
	return e, nil
}

// Create validates and stores a new upcoming event with an open window.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Event, error) {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return nil, apperr.Validation("Title is required")
	case !in.EndsAt.After(in.StartsAt):
		return nil, apperr.Validation("End date must be after start date")
	case in.RegistrationDeadline != nil && in.RegistrationDeadline.After(in.EndsAt):
		return nil, apperr.Validation("Registration deadline must be before the event ends")
	case in.MaxParticipants != nil && *in.MaxParticipants < 1:
		return nil, apperr.Validation("Max participants must be at least 1")
	case in.Price.IsNegative():
		return nil, apperr.Validation("Price cannot be negative")
	}
	mode := in.Mode
	if mode == "" {
		mode = models.EventModeOnline
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "BDT"
	}
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(in.Title)
	}

	e := &models.Event{
		Title:                strings.TrimSpace(in.Title),
		Slug:                 slug,
		Description:          in.Description,
		Mode:                 mode,
		Status:               models.EventStatusUpcoming,
		RegistrationStatus:   models.RegistrationOpen,
		StartsAt:             in.StartsAt,
		EndsAt:               in.EndsAt,
		RegistrationDeadline: in.RegistrationDeadline,
		MaxParticipants:      in.MaxParticipants,
		Price:                in.Price,
		Currency:             currency,
		OnlineLink:           in.OnlineLink,
		OnlinePlatform:       in.OnlinePlatform,
		Venue:                in.Venue,
		HasCertificate:       in.HasCertificate,
	}
	err := s.store.Events().Create(ctx, e)
	if errors.Is(err, store.ErrConflict) {
		suffix, rerr := utils.RandomCode(4)
		if rerr != nil {
			return nil, apperr.Internal("generate slug suffix", rerr)
		}
		e.Slug = slug + "-" + strings.ToLower(suffix)
		err = s.store.Events().Create(ctx, e)
	}
	if err != nil {
		return nil, store.Translate(err, "Event not found")
	}
	s.logger.Info("Event created", zap.String("event_id", e.ID.String()), zap.String("slug", e.Slug))
	return e, nil
}

// RefreshStatuses moves upcoming events to ongoing once started and any
// unfinished event to completed once ended. It returns how many changed.
// Each candidate is re-read under its row lock.
func (s *Service) RefreshStatuses(ctx context.Context) (int, error) {
	now := s.now()
	list, err := s.store.Events().ListByStatus(ctx, models.EventStatusUpcoming, models.EventStatusOngoing)
	if err != nil {
		return 0, store.Translate(err, "Event not found")
	}
	changed := 0
	for _, candidate := range list {
		var from, to models.EventStatus
		err := s.store.Atomic(ctx, func(repos store.Repositories) error {
			e, err := repos.Events().GetByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			status, window := nextStatus(e, now)
			if status == e.Status {
				return nil
			}
			from, to = e.Status, status
			return repos.Events().UpdateStatus(ctx, e.ID, status, window)
		})
		if err != nil {
			s.logger.Error("Failed to refresh event status", zap.Error(err), zap.String("event_id", candidate.ID.String()))
			continue
		}
		if from == to {
			continue
		}
		s.logger.Info("Event status changed",
			zap.String("event_id", candidate.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		changed++
	}
	return changed, nil
}

// nextStatus returns the status and registration window e should have at now.
// Starting an event leaves its window alone; ending it closes registration.
func nextStatus(e *models.Event, now time.Time) (models.EventStatus, models.RegistrationWindow) {
	switch {
	case e.Status != models.EventStatusUpcoming && e.Status != models.EventStatusOngoing:
		return e.Status, e.RegistrationStatus
	case !e.EndsAt.After(now):
		return models.EventStatusCompleted, models.RegistrationClosed
	case e.Status == models.EventStatusUpcoming && !e.StartsAt.After(now):
		return models.EventStatusOngoing, e.RegistrationStatus
	}
	return e.Status, e.RegistrationStatus
}
