package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriyet/backend/internal/models"
)

// Memory is an in-process Store. Atomic serializes transactions and restores
// a snapshot when the body fails, which matches the visible behaviour of the
// PostgreSQL store closely enough for service tests and local runs.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	users         map[uuid.UUID]models.User
	events        map[uuid.UUID]models.Event
	registrations map[uuid.UUID]models.Registration
	payments      map[uuid.UUID]models.PaymentTransaction
	certificates  map[uuid.UUID]models.Certificate
	verifications []models.CertificateVerification
	repairs       []models.CertificateRepair
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: &memData{
		users:         make(map[uuid.UUID]models.User),
		events:        make(map[uuid.UUID]models.Event),
		registrations: make(map[uuid.UUID]models.Registration),
		payments:      make(map[uuid.UUID]models.PaymentTransaction),
		certificates:  make(map[uuid.UUID]models.Certificate),
	}}
}

func (d *memData) clone() *memData {
	c := &memData{
		users:         make(map[uuid.UUID]models.User, len(d.users)),
		events:        make(map[uuid.UUID]models.Event, len(d.events)),
		registrations: make(map[uuid.UUID]models.Registration, len(d.registrations)),
		payments:      make(map[uuid.UUID]models.PaymentTransaction, len(d.payments)),
		certificates:  make(map[uuid.UUID]models.Certificate, len(d.certificates)),
		verifications: append([]models.CertificateVerification(nil), d.verifications...),
		repairs:       append([]models.CertificateRepair(nil), d.repairs...),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.registrations {
		c.registrations[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.certificates {
		c.certificates[k] = v
	}
	return c
}

// Atomic runs fn with exclusive access; any error or panic discards its writes.
func (m *Memory) Atomic(_ context.Context, fn AtomicFunc) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.data.clone()
	defer func() {
		if r := recover(); r != nil {
			m.data = snapshot
			panic(r)
		}
		if err != nil {
			m.data = snapshot
		}
	}()
	return fn(&memRepos{m: m, inTx: true})
}

func (m *Memory) repos() *memRepos { return &memRepos{m: m} }

func (m *Memory) Users() UserRepository                 { return m.repos().Users() }
func (m *Memory) Events() EventRepository               { return m.repos().Events() }
func (m *Memory) Registrations() RegistrationRepository { return m.repos().Registrations() }
func (m *Memory) Payments() PaymentRepository           { return m.repos().Payments() }
func (m *Memory) Certificates() CertificateRepository   { return m.repos().Certificates() }

// Verifications returns the recorded certificate verifications.
func (m *Memory) Verifications() []models.CertificateVerification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CertificateVerification(nil), m.data.verifications...)
}

// Repairs returns the recorded certificate id repairs.
func (m *Memory) Repairs() []models.CertificateRepair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CertificateRepair(nil), m.data.repairs...)
}

// memRepos locks the store per call unless it is already inside Atomic.
type memRepos struct {
	m    *Memory
	inTx bool
}

func (r *memRepos) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.m.mu.Lock()
	return r.m.mu.Unlock
}

func (r *memRepos) Users() UserRepository                 { return &memUsers{r} }
func (r *memRepos) Events() EventRepository               { return &memEvents{r} }
func (r *memRepos) Registrations() RegistrationRepository { return &memRegistrations{r} }
func (r *memRepos) Payments() PaymentRepository           { return &memPayments{r} }
func (r *memRepos) Certificates() CertificateRepository   { return &memCertificates{r} }

type memUsers struct{ *memRepos }

func (r *memUsers) Create(_ context.Context, u *models.User) error {
	defer r.lock()()
	for _, existing := range r.m.data.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	now := time.Now()
	u.ID, u.CreatedAt, u.UpdatedAt = uuid.New(), now, now
	r.m.data.users[u.ID] = *u
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	defer r.lock()()
	u, ok := r.m.data.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	defer r.lock()()
	for _, u := range r.m.data.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

type memEvents struct{ *memRepos }

func (r *memEvents) Create(_ context.Context, e *models.Event) error {
	defer r.lock()()
	for _, existing := range r.m.data.events {
		if existing.Slug == e.Slug {
			return ErrConflict
		}
	}
	now := time.Now()
	e.ID, e.CreatedAt, e.UpdatedAt = uuid.New(), now, now
	r.m.data.events[e.ID] = *e
	return nil
}

func (r *memEvents) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	defer r.lock()()
	e, ok := r.m.data.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *memEvents) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return r.GetByID(ctx, id)
}

func (r *memEvents) UpdateCapacity(_ context.Context, e *models.Event) error {
	defer r.lock()()
	stored, ok := r.m.data.events[e.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.MaxParticipants != nil && e.CurrentParticipants > *stored.MaxParticipants {
		return ErrConflict
	}
	stored.CurrentParticipants = e.CurrentParticipants
	stored.RegistrationStatus = e.RegistrationStatus
	stored.UpdatedAt = time.Now()
	e.UpdatedAt = stored.UpdatedAt
	r.m.data.events[e.ID] = stored
	return nil
}

func (r *memEvents) UpdateStatus(_ context.Context, id uuid.UUID, status models.EventStatus, window models.RegistrationWindow) error {
	defer r.lock()()
	stored, ok := r.m.data.events[id]
	if !ok {
		return ErrNotFound
	}
	stored.Status, stored.RegistrationStatus, stored.UpdatedAt = status, window, time.Now()
	r.m.data.events[id] = stored
	return nil
}

func (r *memEvents) ListByStatus(_ context.Context, statuses ...models.EventStatus) ([]models.Event, error) {
	defer r.lock()()
	var list []models.Event
	for _, e := range r.m.data.events {
		for _, s := range statuses {
			if e.Status == s {
				list = append(list, e)
				break
			}
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartsAt.Before(list[j].StartsAt) })
	return list, nil
}

type memRegistrations struct{ *memRepos }

func (r *memRegistrations) conflicts(reg *models.Registration) bool {
	for id, existing := range r.m.data.registrations {
		if id == reg.ID {
			continue
		}
		if existing.RegistrationNumber == reg.RegistrationNumber ||
			(existing.EventID == reg.EventID && existing.UserID == reg.UserID) {
			return true
		}
	}
	return false
}

func (r *memRegistrations) Create(_ context.Context, reg *models.Registration) error {
	defer r.lock()()
	if r.conflicts(reg) {
		return ErrConflict
	}
	now := time.Now()
	reg.ID, reg.CreatedAt, reg.UpdatedAt = uuid.New(), now, now
	r.m.data.registrations[reg.ID] = *reg
	return nil
}

func (r *memRegistrations) GetByID(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	defer r.lock()()
	reg, ok := r.m.data.registrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &reg, nil
}

func (r *memRegistrations) GetByEventAndUser(_ context.Context, eventID, userID uuid.UUID) (*models.Registration, error) {
	defer r.lock()()
	for _, reg := range r.m.data.registrations {
		if reg.EventID == eventID && reg.UserID == userID {
			return &reg, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRegistrations) Update(_ context.Context, reg *models.Registration) error {
	defer r.lock()()
	stored, ok := r.m.data.registrations[reg.ID]
	if !ok {
		return ErrNotFound
	}
	if r.conflicts(reg) {
		return ErrConflict
	}
	reg.CreatedAt = stored.CreatedAt
	reg.UpdatedAt = time.Now()
	r.m.data.registrations[reg.ID] = *reg
	return nil
}

func (r *memRegistrations) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Registration, error) {
	defer r.lock()()
	var list []models.Registration
	for _, reg := range r.m.data.registrations {
		if reg.UserID == userID {
			list = append(list, reg)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

type memPayments struct{ *memRepos }

func (r *memPayments) conflicts(p *models.PaymentTransaction) bool {
	for id, existing := range r.m.data.payments {
		if id == p.ID {
			continue
		}
		if existing.TransactionID == p.TransactionID || (p.InvoiceID != "" && existing.InvoiceID == p.InvoiceID) {
			return true
		}
	}
	return false
}

func (r *memPayments) Create(_ context.Context, p *models.PaymentTransaction) error {
	defer r.lock()()
	if r.conflicts(p) {
		return ErrConflict
	}
	now := time.Now()
	p.ID, p.CreatedAt, p.UpdatedAt = uuid.New(), now, now
	r.m.data.payments[p.ID] = *p
	return nil
}

func (r *memPayments) find(match func(models.PaymentTransaction) bool) (*models.PaymentTransaction, error) {
	defer r.lock()()
	for _, p := range r.m.data.payments {
		if match(p) {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memPayments) GetByTransactionID(_ context.Context, transactionID string) (*models.PaymentTransaction, error) {
	return r.find(func(p models.PaymentTransaction) bool { return p.TransactionID == transactionID })
}

func (r *memPayments) GetByInvoiceID(_ context.Context, invoiceID string) (*models.PaymentTransaction, error) {
	if invoiceID == "" {
		return nil, ErrNotFound
	}
	return r.find(func(p models.PaymentTransaction) bool { return p.InvoiceID == invoiceID })
}

func (r *memPayments) AttachInvoice(_ context.Context, id uuid.UUID, invoiceID, paymentURL string) error {
	defer r.lock()()
	stored, ok := r.m.data.payments[id]
	if !ok {
		return ErrNotFound
	}
	stored.InvoiceID, stored.PaymentURL, stored.UpdatedAt = invoiceID, paymentURL, time.Now()
	if r.conflicts(&stored) {
		return ErrConflict
	}
	r.m.data.payments[id] = stored
	return nil
}

func (r *memPayments) Transition(_ context.Context, p *models.PaymentTransaction, from models.PaymentStatus) (bool, error) {
	defer r.lock()()
	stored, ok := r.m.data.payments[p.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	if p.InvoiceID == "" {
		p.InvoiceID = stored.InvoiceID
	}
	if len(p.GatewayResponse) == 0 {
		p.GatewayResponse = stored.GatewayResponse
	}
	if r.conflicts(p) {
		return false, ErrConflict
	}
	p.CreatedAt = stored.CreatedAt
	p.UpdatedAt = time.Now()
	r.m.data.payments[p.ID] = *p
	return true, nil
}

func (r *memPayments) filter(match func(models.PaymentTransaction) bool) []models.PaymentTransaction {
	var list []models.PaymentTransaction
	for _, p := range r.m.data.payments {
		if match(p) {
			list = append(list, p)
		}
	}
	return list
}

func (r *memPayments) ListPendingByRegistration(_ context.Context, registrationID uuid.UUID) ([]models.PaymentTransaction, error) {
	defer r.lock()()
	list := r.filter(func(p models.PaymentTransaction) bool {
		return p.RegistrationID == registrationID && p.Status == models.PaymentPending
	})
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (r *memPayments) ListExpired(_ context.Context, now time.Time, limit int) ([]models.PaymentTransaction, error) {
	defer r.lock()()
	list := r.filter(func(p models.PaymentTransaction) bool {
		return p.Status == models.PaymentPending && !p.ExpiresAt.After(now)
	})
	sort.Slice(list, func(i, j int) bool { return list[i].ExpiresAt.Before(list[j].ExpiresAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *memPayments) List(_ context.Context, f PaymentFilter) ([]models.PaymentTransaction, int, error) {
	defer r.lock()()
	list := r.filter(func(p models.PaymentTransaction) bool {
		if f.UserID != nil && p.UserID != *f.UserID {
			return false
		}
		return f.Status == nil || p.Status == *f.Status
	})
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	total := len(list)
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if f.Offset >= len(list) {
		return nil, total, nil
	}
	list = list[f.Offset:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list, total, nil
}

type memCertificates struct{ *memRepos }

func (r *memCertificates) Create(_ context.Context, c *models.Certificate) error {
	defer r.lock()()
	for _, existing := range r.m.data.certificates {
		if existing.CertificateID == c.CertificateID || existing.RegistrationID == c.RegistrationID {
			return ErrConflict
		}
	}
	now := time.Now()
	c.ID, c.CreatedAt, c.UpdatedAt = uuid.New(), now, now
	r.m.data.certificates[c.ID] = *c
	return nil
}

func (r *memCertificates) find(match func(models.Certificate) bool) (*models.Certificate, error) {
	defer r.lock()()
	for _, c := range r.m.data.certificates {
		if match(c) {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memCertificates) GetByRegistrationID(_ context.Context, registrationID uuid.UUID) (*models.Certificate, error) {
	return r.find(func(c models.Certificate) bool { return c.RegistrationID == registrationID })
}

func (r *memCertificates) GetByCertificateID(_ context.Context, certificateID string) (*models.Certificate, error) {
	return r.find(func(c models.Certificate) bool { return c.CertificateID == certificateID })
}

func (r *memCertificates) FindCandidates(_ context.Context, fragments []string, limit int) ([]models.Certificate, error) {
	defer r.lock()()
	var list []models.Certificate
	for _, c := range r.m.data.certificates {
		id := strings.ToLower(c.CertificateID)
		for _, f := range fragments {
			if f != "" && strings.Contains(id, strings.ToLower(f)) {
				list = append(list, c)
				break
			}
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].IssuedAt.After(list[j].IssuedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *memCertificates) RecordVerification(_ context.Context, v *models.CertificateVerification) error {
	defer r.lock()()
	stored, ok := r.m.data.certificates[v.CertificateID]
	if !ok {
		return ErrNotFound
	}
	v.ID = uuid.New()
	at := v.VerifiedAt
	stored.VerificationCount++
	stored.LastVerifiedAt = &at
	r.m.data.certificates[stored.ID] = stored
	r.m.data.verifications = append(r.m.data.verifications, *v)
	return nil
}

func (r *memCertificates) Rename(_ context.Context, id uuid.UUID, from, to string) (bool, error) {
	defer r.lock()()
	stored, ok := r.m.data.certificates[id]
	if !ok || stored.CertificateID != from {
		return false, nil
	}
	for otherID, c := range r.m.data.certificates {
		if otherID != id && c.CertificateID == to {
			return false, ErrConflict
		}
	}
	stored.CertificateID, stored.UpdatedAt = to, time.Now()
	r.m.data.certificates[id] = stored
	return true, nil
}

func (r *memCertificates) RecordRepair(_ context.Context, rep *models.CertificateRepair) error {
	defer r.lock()()
	rep.ID = uuid.New()
	r.m.data.repairs = append(r.m.data.repairs, *rep)
	return nil
}

func (r *memCertificates) SetDocumentKey(_ context.Context, id uuid.UUID, key string) error {
	defer r.lock()()
	stored, ok := r.m.data.certificates[id]
	if !ok {
		return ErrNotFound
	}
	stored.DocumentKey = key
	r.m.data.certificates[id] = stored
	return nil
}

func (r *memCertificates) DeleteByRegistrationID(_ context.Context, registrationID uuid.UUID) error {
	defer r.lock()()
	for id, c := range r.m.data.certificates {
		if c.RegistrationID == registrationID {
			delete(r.m.data.certificates, id)
		}
	}
	return nil
}

func (r *memCertificates) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Certificate, error) {
	defer r.lock()()
	var list []models.Certificate
	for _, c := range r.m.data.certificates {
		if c.UserID == userID {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].IssuedAt.After(list[j].IssuedAt) })
	return list, nil
}

var (
	_ Store        = (*Memory)(nil)
	_ Repositories = (*memRepos)(nil)
)
