package webhook

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const (
	HeaderTransmissionID   = "transmission-id"
	HeaderCertID           = "cert-id"
	HeaderTransmissionTime = "transmission-time"
	HeaderTransmissionSig  = "transmission-sig"

	DefaultClockSkew = 5 * time.Minute
)

// VerificationReason classifies why a delivery failed verification.
type VerificationReason string

const (
	ReasonMissingHeaders VerificationReason = "MISSING_HEADERS"
	ReasonStaleTimestamp VerificationReason = "STALE_TIMESTAMP"
	ReasonBadSignature   VerificationReason = "BAD_SIGNATURE"
)

// VerificationError rejects a delivery before any state is touched. The
// provider receives a 400 and should not retry.
type VerificationError struct {
	Reason VerificationReason
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook verification failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("webhook verification failed (%s)", e.Reason)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// VerifiedEvent is a delivery that passed authenticity and freshness checks.
// RawBody holds the exact bytes received; they are the idempotency anchor
// and the input for any later signature recomputation.
type VerifiedEvent struct {
	TransmissionID   string
	CertID           string
	TransmissionTime time.Time
	RawBody          []byte
	ReceivedAt       time.Time
}

// CertSource resolves a provider certificate id to its RSA public key.
type CertSource interface {
	PublicKey(ctx context.Context, certID string) (*rsa.PublicKey, error)
}

// Verifier authenticates inbound webhook deliveries. It is pure validation;
// no side effects.
type Verifier struct {
	webhookID string
	clockSkew time.Duration
	certs     CertSource
	now       func() time.Time
}

func NewVerifier(webhookID string, clockSkew time.Duration, certs CertSource) *Verifier {
	if clockSkew <= 0 {
		clockSkew = DefaultClockSkew
	}
	return &Verifier{
		webhookID: webhookID,
		clockSkew: clockSkew,
		certs:     certs,
		now:       time.Now,
	}
}

// Verify checks the transmission headers and signature against the raw
// request bytes. Verification operates on the bytes as received; a
// re-serialized body would never match the provider's signature.
func (v *Verifier) Verify(ctx context.Context, header http.Header, rawBody []byte) (*VerifiedEvent, error) {
	transmissionID := header.Get(HeaderTransmissionID)
	certID := header.Get(HeaderCertID)
	transmissionTime := header.Get(HeaderTransmissionTime)
	transmissionSig := header.Get(HeaderTransmissionSig)

	if transmissionID == "" || certID == "" || transmissionTime == "" || transmissionSig == "" {
		return nil, &VerificationError{Reason: ReasonMissingHeaders}
	}

	ts, err := time.Parse(time.RFC3339, transmissionTime)
	if err != nil {
		return nil, &VerificationError{Reason: ReasonMissingHeaders, Err: errors.Wrap(err, "malformed transmission-time")}
	}

	now := v.now()
	if diff := now.Sub(ts); diff > v.clockSkew || diff < -v.clockSkew {
		return nil, &VerificationError{Reason: ReasonStaleTimestamp, Err: fmt.Errorf("transmission-time %s outside %s window", transmissionTime, v.clockSkew)}
	}

	sig, err := base64.StdEncoding.DecodeString(transmissionSig)
	if err != nil {
		return nil, &VerificationError{Reason: ReasonBadSignature, Err: errors.Wrap(err, "transmission-sig is not base64")}
	}

	key, err := v.certs.PublicKey(ctx, certID)
	if err != nil {
		return nil, &VerificationError{Reason: ReasonBadSignature, Err: errors.Wrap(err, "resolving provider certificate")}
	}

	digest := sha256.Sum256(rawBody)
	signingString := fmt.Sprintf("%s|%s|%s|%s",
		transmissionID, transmissionTime, v.webhookID, base64.StdEncoding.EncodeToString(digest[:]))

	hashed := sha256.Sum256([]byte(signingString))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, hashed[:], sig); err != nil {
		return nil, &VerificationError{Reason: ReasonBadSignature, Err: err}
	}

	return &VerifiedEvent{
		TransmissionID:   transmissionID,
		CertID:           certID,
		TransmissionTime: ts,
		RawBody:          rawBody,
		ReceivedAt:       now,
	}, nil
}
