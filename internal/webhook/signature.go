package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Headers sent with every delivery.
const (
	HeaderSignature = "X-Flagship-Signature"
	HeaderEvent     = "X-Flagship-Event"
	HeaderDelivery  = "X-Flagship-Delivery"
)

const (
	signaturePrefix = "sha256="
	secretPrefix    = "whsec_"
)

// ErrBadSignature is returned by Verify when a delivery was not signed with the secret.
var ErrBadSignature = errors.New("webhook signature mismatch")

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(digest(payload, secret))
}

// Verify checks a signature header value against payload.
func Verify(payload []byte, header, secret string) error {
	hexSum, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return fmt.Errorf("%w: missing %q prefix", ErrBadSignature, signaturePrefix)
	}
	sum, err := hex.DecodeString(hexSum)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !hmac.Equal(sum, digest(payload, secret)) {
		return ErrBadSignature
	}
	return nil
}

func digest(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// NewSecret returns a random signing secret for the server's WEBHOOK_SECRET.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return secretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
