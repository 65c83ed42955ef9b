package registrations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/internal/store/storetest"
	"github.com/oriyet/backend/pkg/apperr"
)

type fakeNotifier struct {
	mu         sync.Mutex
	confirmed  int
	accessLink int
}

func (f *fakeNotifier) RegistrationConfirmed(context.Context, *models.User, *models.Event, *models.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed++
	return nil
}

func (f *fakeNotifier) EventAccessLink(context.Context, *models.User, *models.Event, *models.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessLink++
	return nil
}

type RegistrationServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.Memory
	notifier *fakeNotifier
	svc      *Service
}

func (s *RegistrationServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemory()
	s.notifier = &fakeNotifier{}
	s.svc = NewService(s.store, s.notifier, nil)
}

func (s *RegistrationServiceSuite) event(opts ...func(*models.Event)) *models.Event {
	return storetest.Event(s.T(), s.store, opts...)
}

func (s *RegistrationServiceSuite) reload(e *models.Event) *models.Event {
	got, err := s.store.Events().GetByID(s.ctx, e.ID)
	s.Require().NoError(err)
	return got
}

func (s *RegistrationServiceSuite) TestRegisterFreeConfirmsAndCounts() {
	e := s.event()
	u := storetest.User(s.T(), s.store, models.RoleUser)

	reg, err := s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)
	s.Equal(models.RegistrationConfirmed, reg.Status)
	s.Equal(models.PaymentNotRequired, reg.PaymentStatus)
	s.Regexp(`^REG-[0-9A-Z]+-[0-9A-Z]{4}$`, reg.RegistrationNumber)
	s.Equal(1, s.reload(e).CurrentParticipants)
	s.Equal(1, s.notifier.confirmed)
	s.Equal(1, s.notifier.accessLink)
}

func (s *RegistrationServiceSuite) TestRegisterFreeRejectsDuplicate() {
	e := s.event()
	u := storetest.User(s.T(), s.store, models.RoleUser)
	_, err := s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)

	_, err = s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	s.True(apperr.Is(err, apperr.KindBusinessRule))
	s.Equal(1, s.reload(e).CurrentParticipants)
}

func (s *RegistrationServiceSuite) TestRegisterFreeRejectsPaidEvent() {
	e := s.event(storetest.Price("500"))
	u := storetest.User(s.T(), s.store, models.RoleUser)

	_, err := s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	ae, ok := apperr.From(err)
	s.Require().True(ok)
	s.Equal("This is a paid event. Please use the payment endpoint to register.", ae.Message)
}

func (s *RegistrationServiceSuite) TestRegisterFreeRejectsFinishedEvent() {
	e := s.event(storetest.Completed())
	u := storetest.User(s.T(), s.store, models.RoleUser)

	_, err := s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	ae, ok := apperr.From(err)
	s.Require().True(ok)
	s.Equal("This event has been completed", ae.Message)
}

func (s *RegistrationServiceSuite) TestRegisterFreeDeadlinePassed() {
	past := time.Now().Add(-time.Hour)
	e := s.event(func(e *models.Event) { e.RegistrationDeadline = &past })
	u := storetest.User(s.T(), s.store, models.RoleUser)

	_, err := s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	ae, ok := apperr.From(err)
	s.Require().True(ok)
	s.Equal("Registration deadline has passed", ae.Message)
}

func (s *RegistrationServiceSuite) TestRegisterFreeUnknownEvent() {
	u := storetest.User(s.T(), s.store, models.RoleUser)
	_, err := s.svc.RegisterFree(s.ctx, uuid.New(), u.ID)
	s.True(apperr.Is(err, apperr.KindNotFound))
}

func (s *RegistrationServiceSuite) TestConcurrentRegistrationsRespectCapacity() {
	e := s.event(storetest.Capacity(1))
	users := []*models.User{
		storetest.User(s.T(), s.store, models.RoleUser),
		storetest.User(s.T(), s.store, models.RoleUser),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u *models.User) {
			defer wg.Done()
			_, errs[i] = s.svc.RegisterFree(s.ctx, e.ID, u.ID)
		}(i, u)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		ae, isApp := apperr.From(err)
		s.Require().True(isApp)
		s.Equal("This event is full", ae.Message)
		full++
	}
	s.Equal(1, ok)
	s.Equal(1, full)
	s.Equal(1, s.reload(e).CurrentParticipants)
}

func (s *RegistrationServiceSuite) TestCancelReleasesSeat() {
	e := s.event()
	u := storetest.User(s.T(), s.store, models.RoleUser)
	_, err := s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)

	reg, err := s.svc.Cancel(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)
	s.Equal(models.RegistrationCancelled, reg.Status)
	s.Equal(0, s.reload(e).CurrentParticipants)

	_, err = s.svc.Cancel(s.ctx, e.ID, u.ID)
	s.True(apperr.Is(err, apperr.KindBusinessRule))
	s.Equal(0, s.reload(e).CurrentParticipants)
}

func (s *RegistrationServiceSuite) TestReRegisterAfterCancelReusesRow() {
	e := s.event()
	u := storetest.User(s.T(), s.store, models.RoleUser)
	first, err := s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)
	_, err = s.svc.Cancel(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)

	again, err := s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, again.ID)
	s.Equal(models.RegistrationConfirmed, again.Status)
	s.Equal(1, s.reload(e).CurrentParticipants)
}

func (s *RegistrationServiceSuite) TestCancelPendingDoesNotTouchCount() {
	e := s.event(storetest.Price("500"))
	u := storetest.User(s.T(), s.store, models.RoleUser)
	storetest.Registration(s.T(), s.store, e, u, models.RegistrationPending, models.PaymentPending)

	reg, err := s.svc.Cancel(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)
	s.Equal(models.PaymentCancelled, reg.PaymentStatus)
	s.Equal(0, s.reload(e).CurrentParticipants)
}

func (s *RegistrationServiceSuite) TestCheckStatus() {
	e := s.event()
	u := storetest.User(s.T(), s.store, models.RoleUser)

	st, err := s.svc.CheckStatus(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)
	s.False(st.Registered)
	s.Empty(st.OnlineLink)

	_, err = s.svc.RegisterFree(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)
	st, err = s.svc.CheckStatus(s.ctx, e.ID, u.ID)
	s.Require().NoError(err)
	s.True(st.Registered)
	s.Equal(models.RegistrationConfirmed, st.Status)
	s.Equal(e.OnlineLink, st.OnlineLink)
}

func (s *RegistrationServiceSuite) TestListMineEmpty() {
	u := storetest.User(s.T(), s.store, models.RoleUser)
	list, err := s.svc.ListMine(s.ctx, u.ID)
	s.Require().NoError(err)
	s.NotNil(list)
	s.Empty(list)
}

func TestRegistrationServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistrationServiceSuite))
}

func TestCheckOpenFullWindow(t *testing.T) {
	e := &models.Event{
		Status:             models.EventStatusUpcoming,
		RegistrationStatus: models.RegistrationFull,
	}
	err := CheckOpen(e, time.Now(), "This event is full")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBusinessRule))
}
