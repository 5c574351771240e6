package model

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// Sentinel errors for the model lifecycle.
var (
	ErrModelNotFound = errors.New("model not found in catalog")
	ErrEngineLoad    = errors.New("engine load failed")
	ErrUpgradeFailed = errors.New("model upgrade failed")
)

// IncompleteError reports the first required component missing from disk.
type IncompleteError struct {
	ModelID   string
	Component string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("model %s incomplete: missing component %s", e.ModelID, e.Component)
}

// VerificationError marks a download that finished but failed the
// completeness check.
type VerificationError struct {
	ModelID string
	Cause   error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("model %s failed verification after download: %v", e.ModelID, e.Cause)
}

func (e *VerificationError) Unwrap() error { return e.Cause }

// DownloadReason classifies a download failure for user display. Purely
// informational: no retry is attempted on the user's behalf.
type DownloadReason string

const (
	ReasonNotConnected           DownloadReason = "not-connected"
	ReasonTimedOut               DownloadReason = "timed-out"
	ReasonConnectionLost         DownloadReason = "connection-lost"
	ReasonHostUnreachable        DownloadReason = "host-unreachable"
	ReasonSecureConnectionFailed DownloadReason = "secure-connection-failed"
	ReasonInsufficientDiskSpace  DownloadReason = "insufficient-disk-space"
	ReasonPermissionDenied       DownloadReason = "permission-denied"
	ReasonVerificationFailed     DownloadReason = "verification-failed"
	ReasonUnknown                DownloadReason = "unknown"
)

// DownloadError wraps a failed download with its classified reason.
type DownloadError struct {
	ModelID string
	Reason  DownloadReason
	Cause   error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s failed (%s): %v", e.ModelID, e.Reason, e.Cause)
}

func (e *DownloadError) Unwrap() error { return e.Cause }

// ClassifyDownloadError derives the user-facing reason from the underlying
// failure.
func ClassifyDownloadError(err error) DownloadReason {
	if err == nil {
		return ReasonUnknown
	}

	var verr *VerificationError
	if errors.As(err, &verr) {
		return ReasonVerificationFailed
	}

	if errors.Is(err, syscall.ENOSPC) {
		return ReasonInsufficientDiskSpace
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return ReasonPermissionDenied
	}

	var certErr x509.CertificateInvalidError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthErr) || errors.As(err, &hostnameErr) {
		return ReasonSecureConnectionFailed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimedOut
	}

	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ReasonHostUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonHostUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETDOWN) {
		return ReasonNotConnected
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ReasonConnectionLost
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassifyDownloadError(urlErr.Err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return ClassifyDownloadError(opErr.Err)
	}

	return ReasonUnknown
}
