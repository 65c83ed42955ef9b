package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateKey(t *testing.T) {
	assert.Equal(t, "certificates/evt-1/7f9c.html", CertificateKey("evt-1", "7f9c"))
}

func TestPresignCertificate(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:             "ap-south-1",
		AccessKeyID:        "AKIDEXAMPLE",
		SecretAccessKey:    "secret",
		CertificatesBucket: "oriyet-certs",
		Endpoint:           "http://localhost:9000",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, s.PresignExpire())

	url, err := s.PresignCertificate(context.Background(), "certificates/e/c.html")
	require.NoError(t, err)
	assert.Contains(t, url, "localhost:9000/oriyet-certs/certificates/e/c.html")
	assert.Contains(t, url, "X-Amz-Signature=")
}
