package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomCode returns n characters drawn uniformly from A-Z0-9.
func RandomCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(idAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// RegistrationNumber returns a human-readable number like REG-LZ3K1Q2A-7QX2.
func RegistrationNumber(now time.Time) (string, error) {
	suffix, err := RandomCode(4)
	if err != nil {
		return "", err
	}
	return "REG-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)) + "-" + suffix, nil
}

// TransactionID returns a local payment transaction id like TXN-LZ3K1Q2A-9F3KD2LA.
func TransactionID(now time.Time) (string, error) {
	suffix, err := RandomCode(8)
	if err != nil {
		return "", err
	}
	return "TXN-" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)) + "-" + suffix, nil
}

// CertificateID returns an opaque certificate id like CERT-8KD2LA0Q-X7P3.
func CertificateID() (string, error) {
	head, err := RandomCode(8)
	if err != nil {
		return "", err
	}
	tail, err := RandomCode(4)
	if err != nil {
		return "", err
	}
	return "CERT-" + head + "-" + tail, nil
}
