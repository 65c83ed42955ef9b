package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/queue"
	"github.com/oriyet/backend/pkg/storage"
)

var certificateTemplate = template.Must(template.New("certificate").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Certificate {{.CertificateID}}</title></head>
<body style="font-family: Georgia, serif; text-align: center; padding: 64px; border: 12px double #0b6e4f;">
<h1>Certificate of Participation</h1>
<p>This certifies that</p>
<h2>{{.HolderName}}</h2>
<p>participated in</p>
<h3>{{.EventTitle}}</h3>
<p>held on {{.EventDate}}</p>
<p style="margin-top: 48px; font-size: 13px;">Certificate ID: {{.CertificateID}} &middot; Issued {{.IssuedAt}}</p>
<p style="font-size: 13px;">Verify at <a href="{{.VerificationURL}}">{{.VerificationURL}}</a></p>
</body>
</html>`))

type certificateView struct {
	CertificateID   string
	HolderName      string
	EventTitle      string
	EventDate       string
	IssuedAt        string
	VerificationURL string
}

// Documents stores rendered certificates.
type Documents interface {
	PutCertificate(ctx context.Context, key string, body []byte) error
}

// CertificateRenderer renders certificate documents and uploads them.
type CertificateRenderer struct {
	store       store.Store
	docs        Documents
	frontendURL string
	logger      *zap.Logger
}

// NewCertificateRenderer creates a certificate render processor.
func NewCertificateRenderer(s store.Store, docs Documents, frontendURL string, logger *zap.Logger) *CertificateRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateRenderer{store: s, docs: docs, frontendURL: strings.TrimRight(frontendURL, "/"), logger: logger}
}

// Process renders the certificate of the job's registration. A certificate
// that already has a document is skipped; one deleted since (refund) is dropped.
func (r *CertificateRenderer) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.CertificateRenderPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("decode certificate payload: %w", err)
	}

	cert, err := r.store.Certificates().GetByRegistrationID(ctx, payload.RegistrationID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Info("certificate gone, skipping render", zap.String("registration_id", payload.RegistrationID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}
	if cert.DocumentKey != "" {
		return nil
	}
	user, err := r.store.Users().GetByID(ctx, cert.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	event, err := r.store.Events().GetByID(ctx, cert.EventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}

	var buf bytes.Buffer
	err = certificateTemplate.Execute(&buf, certificateView{
		CertificateID:   cert.CertificateID,
		HolderName:      user.Name,
		EventTitle:      event.Title,
		EventDate:       event.StartsAt.Format("02 January 2006"),
		IssuedAt:        cert.IssuedAt.Format("02 January 2006"),
		VerificationURL: r.frontendURL + "/verify-certificate?id=" + url.QueryEscape(cert.CertificateID),
	})
	if err != nil {
		return fmt.Errorf("render certificate: %w", err)
	}

	key := storage.CertificateKey(cert.EventID.String(), cert.ID.String())
	if err := r.docs.PutCertificate(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("upload certificate: %w", err)
	}
	if err := r.store.Certificates().SetDocumentKey(ctx, cert.ID, key); err != nil {
		return fmt.Errorf("store document key: %w", err)
	}
	r.logger.Info("certificate rendered", zap.String("certificate_id", cert.CertificateID), zap.String("key", key))
	return nil
}
