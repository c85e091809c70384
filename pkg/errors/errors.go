package cipherchat_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrStorageUnavailable = errors.New("local key store unavailable")
	ErrMissingPrivateKey  = errors.New("no private key provisioned for this device")
	ErrMissingPublicKey   = errors.New("recipient has no public key")
	ErrCryptoFailure      = errors.New("crypto operation failed")
	ErrSignatureInvalid   = errors.New("signature verification failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotConnected       = errors.New("realtime session not connected")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
)

// PartialFanoutError reports recipients that did not receive an
// encrypted copy. The send itself is not aborted; callers inspect
// this to decide whether to warn the user.
type PartialFanoutError struct {
	Expected int
	Produced int
	FailedTo []string
}

func (e *PartialFanoutError) Error() string {
	return fmt.Sprintf("fanout produced %d of %d envelopes (failed recipients: %v)",
		e.Produced, e.Expected, e.FailedTo)
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
