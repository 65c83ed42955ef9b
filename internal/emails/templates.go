package emails

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/oriyet/backend/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
}

// Data is the template input. Fields unused by a template stay empty.
type Data struct {
	Subject            string
	Name               string
	EventTitle         string
	EventURL           string
	StartsAt           string
	Venue              string
	OnlineLink         string
	Platform           string
	RegistrationNumber string
	Amount             string
	Currency           string
	TransactionID      string
	Reason             string
	CertificateID      string
	VerificationURL    string
}

var subjects = map[string]string{
	models.EmailTypeRegistrationConfirmation: "Registration confirmed: %s",
	models.EmailTypeEventAccessLink:          "Your access link for %s",
	models.EmailTypePaymentSuccess:           "Payment received for %s",
	models.EmailTypePaymentRefunded:          "Payment refunded for %s",
	models.EmailTypeCertificateIssued:        "Your certificate for %s",
}

// Templates renders notification emails.
type Templates struct {
	byType map[string]*template.Template
}

// LoadTemplates parses the embedded templates, one set per email type.
func LoadTemplates() (*Templates, error) {
	t := &Templates{byType: make(map[string]*template.Template, len(subjects))}
	for emailType := range subjects {
		tpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+emailType+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", emailType, err)
		}
		t.byType[emailType] = tpl
	}
	return t, nil
}

// Render builds the subject and HTML body of an email type.
func (t *Templates) Render(emailType string, data Data) (*Message, error) {
	tpl, ok := t.byType[emailType]
	if !ok {
		return nil, fmt.Errorf("unknown email type: %s", emailType)
	}
	data.Subject = fmt.Sprintf(subjects[emailType], data.EventTitle)
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, fmt.Errorf("render %s: %w", emailType, err)
	}
	return &Message{Subject: data.Subject, HTML: buf.String()}, nil
}
