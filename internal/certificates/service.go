// Package certificates issues participation certificates and verifies
// certificate ids typed in by third parties, repairing drifted stored ids.
package certificates

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/metrics"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/apperr"
	"github.com/oriyet/backend/pkg/queue"
	"github.com/oriyet/backend/pkg/utils"
)

const (
	maxIDAttempts = 5
	maxCandidates = 5

	msgNotFound = "Certificate not found. Please check the ID and try again."
)

// Notifier sends the certificate email. Errors are logged, never returned to callers.
type Notifier interface {
	CertificateIssued(ctx context.Context, user *models.User, event *models.Event, cert *models.Certificate, verificationURL string) error
}

// RenderQueue schedules rendering of the certificate document.
type RenderQueue interface {
	EnqueueCertificateRender(ctx context.Context, payload queue.CertificateRenderPayload) error
}

// Documents presigns rendered certificate documents.
type Documents interface {
	PresignCertificate(ctx context.Context, key string) (string, error)
}

// Issued is the result of Issue.
type Issued struct {
	Certificate     *models.Certificate `json:"certificate"`
	VerificationURL string              `json:"verification_url"`
	AlreadyExisted  bool                `json:"already_existed"`
}

// Verification is the public view of a verified certificate.
type Verification struct {
	CertificateID   string           `json:"certificate_id"`
	HolderName      string           `json:"holder_name"`
	EventTitle      string           `json:"event_title"`
	EventDate       time.Time        `json:"event_date"`
	IssuedAt        time.Time        `json:"issued_at"`
	Match           models.MatchKind `json:"match"`
	VerificationURL string           `json:"verification_url"`
}

// Service issues and verifies certificates.
type Service struct {
	store       store.Store
	notifier    Notifier
	render      RenderQueue
	documents   Documents
	frontendURL string
	logger      *zap.Logger
	now         func() time.Time
	newID       func() (string, error)
}

// NewService creates a certificate service. render and documents may be nil
// when object storage is not configured.
func NewService(s store.Store, notifier Notifier, render RenderQueue, documents Documents, frontendURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       s,
		notifier:    notifier,
		render:      render,
		documents:   documents,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
		now:         time.Now,
		newID:       utils.CertificateID,
	}
}

// VerificationURL returns the public verification page of a certificate id.
func (s *Service) VerificationURL(certificateID string) string {
	return s.frontendURL + "/verify-certificate?id=" + url.QueryEscape(certificateID)
}

// Issue creates the certificate of a registration. Issuing twice returns the
// existing certificate.
func (s *Service) Issue(ctx context.Context, registrationID, userID uuid.UUID) (*Issued, error) {
	reg, err := s.store.Registrations().GetByID(ctx, registrationID)
	if err != nil {
		return nil, store.Translate(err, "Registration not found")
	}
	if reg.UserID != userID {
		return nil, apperr.Forbidden("You can only generate certificates for your own registrations")
	}
	if existing, err := s.store.Certificates().GetByRegistrationID(ctx, reg.ID); err == nil {
		return s.issued(existing, true), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, store.Translate(err, "Certificate not found")
	}

	event, err := s.store.Events().GetByID(ctx, reg.EventID)
	if err != nil {
		return nil, store.Translate(err, "Event not found")
	}
	if err := eligible(event, reg); err != nil {
		return nil, err
	}

	cert, existed, err := s.create(ctx, reg)
	if err != nil {
		return nil, err
	}
	if existed {
		return s.issued(cert, true), nil
	}
	s.logger.Info("Certificate issued",
		zap.String("certificate_id", cert.CertificateID),
		zap.String("registration_id", reg.ID.String()),
	)
	s.followUp(ctx, event, cert)
	return s.issued(cert, false), nil
}

func eligible(event *models.Event, reg *models.Registration) error {
	switch {
	case !event.HasCertificate:
		return apperr.Forbidden("This event does not offer certificates")
	case event.Status != models.EventStatusCompleted:
		return apperr.Forbidden("Certificates are available after the event has completed")
	case !reg.Status.Counted():
		return apperr.Forbidden("Only confirmed participants can receive a certificate")
	case reg.PaymentStatus != models.PaymentCompleted && reg.PaymentStatus != models.PaymentNotRequired:
		return apperr.Forbidden("Payment must be completed before a certificate can be issued")
	}
	return nil
}

// create inserts the certificate, drawing a fresh id on collision. A
// concurrent issue for the same registration resolves to the stored row.
func (s *Service) create(ctx context.Context, reg *models.Registration) (*models.Certificate, bool, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, false, apperr.Internal("generate certificate id", err)
		}
		cert := &models.Certificate{
			CertificateID:  id,
			RegistrationID: reg.ID,
			UserID:         reg.UserID,
			EventID:        reg.EventID,
			IssuedAt:       s.now(),
		}
		err = s.store.Certificates().Create(ctx, cert)
		if err == nil {
			return cert, false, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, false, store.Translate(err, "Certificate not found")
		}
		if existing, err := s.store.Certificates().GetByRegistrationID(ctx, reg.ID); err == nil {
			return existing, true, nil
		}
		s.logger.Warn("Certificate id collision, retrying", zap.String("certificate_id", id), zap.Int("attempt", attempt+1))
	}
	return nil, false, apperr.Internal("certificate id space exhausted", fmt.Errorf("%d collisions", maxIDAttempts))
}

func (s *Service) issued(cert *models.Certificate, existed bool) *Issued {
	return &Issued{Certificate: cert, VerificationURL: s.VerificationURL(cert.CertificateID), AlreadyExisted: existed}
}

func (s *Service) followUp(ctx context.Context, event *models.Event, cert *models.Certificate) {
	if s.render != nil {
		if err := s.render.EnqueueCertificateRender(ctx, queue.CertificateRenderPayload{RegistrationID: cert.RegistrationID}); err != nil {
			s.logger.Warn("Failed to enqueue certificate render", zap.Error(err), zap.String("certificate_id", cert.CertificateID))
		}
	}
	if s.notifier == nil {
		return
	}
	user, err := s.store.Users().GetByID(ctx, cert.UserID)
	if err != nil {
		s.logger.Warn("Skipping certificate email, user lookup failed", zap.Error(err))
		return
	}
	if err := s.notifier.CertificateIssued(ctx, user, event, cert, s.VerificationURL(cert.CertificateID)); err != nil {
		s.logger.Warn("Certificate email failed", zap.Error(err), zap.String("certificate_id", cert.CertificateID))
	}
}

// find resolves a trimmed id through exact, variant and normalized matching.
func (s *Service) find(ctx context.Context, id string) (*models.Certificate, models.MatchKind, error) {
	repo := s.store.Certificates()
	cert, err := repo.GetByCertificateID(ctx, id)
	if err == nil {
		return cert, models.MatchExact, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, "", store.Translate(err, msgNotFound)
	}

	for _, v := range variants(id) {
		cert, err := repo.GetByCertificateID(ctx, v)
		if err == nil {
			return cert, models.MatchVariant, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, "", store.Translate(err, msgNotFound)
		}
	}

	frags := fragments(id)
	if len(frags) == 0 {
		return nil, "", apperr.NotFound(msgNotFound)
	}
	candidates, err := repo.FindCandidates(ctx, frags, maxCandidates)
	if err != nil {
		return nil, "", store.Translate(err, msgNotFound)
	}
	want := normalize(id)
	for i := range candidates {
		if normalize(candidates[i].CertificateID) == want {
			return &candidates[i], models.MatchFuzzy, nil
		}
	}
	return nil, "", apperr.NotFound(msgNotFound)
}

// Verify looks up a certificate by a possibly mistyped id and records the
// verification. A non-exact hit renames the stored id to the trimmed input.
func (s *Service) Verify(ctx context.Context, raw, ip, userAgent string) (*Verification, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return nil, apperr.Validation("Certificate ID is required")
	}
	cert, kind, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Users().GetByID(ctx, cert.UserID)
	if err != nil {
		return nil, store.Translate(err, msgNotFound)
	}
	event, err := s.store.Events().GetByID(ctx, cert.EventID)
	if err != nil {
		return nil, store.Translate(err, msgNotFound)
	}

	err = s.store.Certificates().RecordVerification(ctx, &models.CertificateVerification{
		CertificateID: cert.ID,
		IPAddress:     ip,
		UserAgent:     userAgent,
		MatchKind:     kind,
		VerifiedAt:    s.now(),
	})
	if err != nil {
		return nil, store.Translate(err, msgNotFound)
	}
	metrics.CertificateVerifications.WithLabelValues(string(kind)).Inc()

	current := cert.CertificateID
	if kind != models.MatchExact && cert.CertificateID != id {
		if s.repair(ctx, cert, id) {
			current = id
		}
	}
	return &Verification{
		CertificateID:   current,
		HolderName:      user.Name,
		EventTitle:      event.Title,
		EventDate:       event.StartsAt,
		IssuedAt:        cert.IssuedAt,
		Match:           kind,
		VerificationURL: s.VerificationURL(current),
	}, nil
}

// repair renames the stored id to the canonical input and records it. It
// reports whether the rename happened; failures are logged only.
func (s *Service) repair(ctx context.Context, cert *models.Certificate, canonical string) bool {
	previous := cert.CertificateID
	log := s.logger.With(
		zap.String("certificate_uuid", cert.ID.String()),
		zap.String("previous", previous),
		zap.String("repaired", canonical),
	)
	var renamed bool
	err := s.store.Atomic(ctx, func(repos store.Repositories) error {
		ok, err := repos.Certificates().Rename(ctx, cert.ID, previous, canonical)
		if err != nil || !ok {
			return err
		}
		renamed = true
		return repos.Certificates().RecordRepair(ctx, &models.CertificateRepair{
			CertificateID: cert.ID,
			PreviousValue: previous,
			RepairedValue: canonical,
			Similarity:    similarity(previous, canonical),
			RepairedAt:    s.now(),
		})
	})
	switch {
	case err != nil:
		metrics.CertificateRepairs.WithLabelValues("error").Inc()
		log.Warn("Certificate id repair failed", zap.Error(err))
		return false
	case !renamed:
		metrics.CertificateRepairs.WithLabelValues("stale").Inc()
		log.Info("Certificate id repair skipped, stored id changed concurrently")
		return false
	}
	// Case-only repairs flip back whenever the other spelling is typed next.
	result := "ok"
	if strings.EqualFold(previous, canonical) {
		result = "case_only"
	}
	metrics.CertificateRepairs.WithLabelValues(result).Inc()
	log.Info("Certificate id repaired", zap.String("result", result))
	return true
}

// Download returns a short-lived link to the rendered certificate document.
func (s *Service) Download(ctx context.Context, certificateID string, userID uuid.UUID) (string, error) {
	cert, err := s.store.Certificates().GetByCertificateID(ctx, certificateID)
	if err != nil {
		return "", store.Translate(err, "Certificate not found")
	}
	if cert.UserID != userID {
		return "", apperr.Forbidden("Access denied")
	}
	if cert.DocumentKey == "" || s.documents == nil {
		return "", apperr.NotFound("Certificate document is not ready yet")
	}
	link, err := s.documents.PresignCertificate(ctx, cert.DocumentKey)
	if err != nil {
		return "", apperr.Unavailable("Certificate download is temporarily unavailable")
	}
	return link, nil
}

// ListMine returns the user's certificates.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID) ([]models.Certificate, error) {
	list, err := s.store.Certificates().ListByUser(ctx, userID)
	if err != nil {
		return nil, store.Translate(err, "Certificate not found")
	}
	if list == nil {
		list = []models.Certificate{}
	}
	return list, nil
}
