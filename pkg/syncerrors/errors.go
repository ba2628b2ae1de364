package syncerrors

import (
	"errors"
	"fmt"
	"time"
)

// The four failure classes every adapter maps into. The orchestrator decides
// what to do from the class alone:
//
//	authentication -> re-auth, no blind retry
//	validation     -> reported verbatim, never retried
//	transport      -> retried on a later pass
//	maintenance    -> service counted as skipped, not failed
type AuthenticationError struct {
	Service string
	Reason  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Service, e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Reason }

type ValidationError struct {
	Service string
	Reason  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

type TransportError struct {
	Service string
	Reason  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Service, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Reason }

// MaintenanceError reports a request refused because it fell inside a
// service's published recurring downtime window. Until names the end of the
// current window when known.
type MaintenanceError struct {
	Service string
	Until   time.Time
}

func (e *MaintenanceError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("%s: inside maintenance window", e.Service)
	}
	return fmt.Sprintf("%s: inside maintenance window until %s", e.Service, e.Until.UTC().Format(time.RFC3339))
}

func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsMaintenance(err error) bool {
	var me *MaintenanceError
	return errors.As(err, &me)
}
