package ibc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LedgerRejection is returned when a ledger accepts a tx for broadcast but rejects
// it with a non-zero code. RawLog is kept verbatim.
type LedgerRejection struct {
	Code      uint32
	Codespace string
	RawLog    string
	TxHash    string
}

func (e *LedgerRejection) Error() string {
	return fmt.Sprintf("tx %s rejected by ledger (codespace %q, code %d): %s", e.TxHash, e.Codespace, e.Code, e.RawLog)
}

// RejectionFromResult returns a *LedgerRejection for a failed result and nil otherwise.
func RejectionFromResult(res TxResult) error {
	if res.OK() {
		return nil
	}
	return &LedgerRejection{Code: res.Code, Codespace: res.Codespace, RawLog: res.RawLog, TxHash: res.TxHash}
}

// InvariantViolation reports a protocol invariant that observed ledger state broke,
// e.g. a duplicate event, a balance mismatch or a wrong denom trace.
type InvariantViolation struct {
	Invariant string
	Subject   string
	Expected  string
	Observed  string
}

func (e *InvariantViolation) Error() string {
	if e.Expected == "" && e.Observed == "" {
		return fmt.Sprintf("invariant %s violated for %s", e.Invariant, e.Subject)
	}
	return fmt.Sprintf("invariant %s violated for %s: expected %s, observed %s", e.Invariant, e.Subject, e.Expected, e.Observed)
}

// Violation builds an *InvariantViolation from arbitrary expected/observed values.
func Violation(invariant, subject string, expected, observed any) *InvariantViolation {
	return &InvariantViolation{
		Invariant: invariant,
		Subject:   subject,
		Expected:  fmt.Sprint(expected),
		Observed:  fmt.Sprint(observed),
	}
}

// TransientQueryError wraps an I/O failure of a read that may succeed if retried.
type TransientQueryError struct {
	Op  string
	Err error
}

func (e *TransientQueryError) Error() string {
	return fmt.Sprintf("%s: transient query failure: %v", e.Op, e.Err)
}

func (e *TransientQueryError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientQueryError{Op: op, Err: err}
}

// IsTransient reports whether err is a failure worth retrying: an explicit
// TransientQueryError, a gRPC status signalling unavailability or a network timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var tqe *TransientQueryError
	if errors.As(err, &tqe) {
		return true
	}
	if s, ok := status.FromError(unwrapStatus(err)); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsFatal reports whether err must abort a wait regardless of the error policy.
func IsFatal(err error) bool {
	var rejection *LedgerRejection
	var violation *InvariantViolation
	return errors.As(err, &rejection) || errors.As(err, &violation) || errors.Is(err, context.Canceled)
}

// unwrapStatus finds the innermost error carrying a gRPC status.
func unwrapStatus(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if _, ok := e.(interface{ GRPCStatus() *status.Status }); ok {
			return e
		}
	}
	return err
}
