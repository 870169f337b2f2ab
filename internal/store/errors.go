// errors.go - Error kinds reported by the ledger store.
//
// Rejections carry a Kind and a human-readable detail. Callers branch on the
// kind with errors.Is against the sentinels below or with KindOf.

package store

import (
	"errors"
	"fmt"
)

// Kind classifies a store error.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedInput
	KindSignatureInvalid
	KindProofInvalid
	KindUnknownOrSpentInput
	KindReplayedIssuance
	KindDuplicateAssetDefinition
	KindUnknownAsset
	KindUnauthorizedIssuer
	KindNotEnforced
	KindSerialization
	KindDeserialization
	KindIo
	KindIntegrity
	KindInvariantViolation
	KindPoisoned
)

var kindNames = map[Kind]string{
	KindUnknown:                  "unknown",
	KindMalformedInput:           "malformed_input",
	KindSignatureInvalid:         "signature_invalid",
	KindProofInvalid:             "proof_invalid",
	KindUnknownOrSpentInput:      "unknown_or_spent_input",
	KindReplayedIssuance:         "replayed_issuance",
	KindDuplicateAssetDefinition: "duplicate_asset_definition",
	KindUnknownAsset:             "unknown_asset",
	KindUnauthorizedIssuer:       "unauthorized_issuer",
	KindNotEnforced:              "not_enforced",
	KindSerialization:            "serialization",
	KindDeserialization:          "deserialization",
	KindIo:                       "io",
	KindIntegrity:                "integrity",
	KindInvariantViolation:       "invariant_violation",
	KindPoisoned:                 "poisoned",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrMalformedInput           = &Error{Kind: KindMalformedInput}
	ErrSignatureInvalid         = &Error{Kind: KindSignatureInvalid}
	ErrProofInvalid             = &Error{Kind: KindProofInvalid}
	ErrUnknownOrSpentInput      = &Error{Kind: KindUnknownOrSpentInput}
	ErrReplayedIssuance         = &Error{Kind: KindReplayedIssuance}
	ErrDuplicateAssetDefinition = &Error{Kind: KindDuplicateAssetDefinition}
	ErrUnknownAsset             = &Error{Kind: KindUnknownAsset}
	ErrUnauthorizedIssuer       = &Error{Kind: KindUnauthorizedIssuer}
	ErrNotEnforced              = &Error{Kind: KindNotEnforced}
	ErrSerialization            = &Error{Kind: KindSerialization}
	ErrDeserialization          = &Error{Kind: KindDeserialization}
	ErrIo                       = &Error{Kind: KindIo}
	ErrIntegrity                = &Error{Kind: KindIntegrity}
	ErrInvariantViolation       = &Error{Kind: KindInvariantViolation}
	ErrPoisoned                 = &Error{Kind: KindPoisoned}
)

// Error is a classified store error.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
	// Fatal marks failures after in-memory state has advanced. The ledger
	// that returned it refuses further writes.
	Fatal bool
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err left the ledger unable to continue.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Fatal
}

// IsRejection reports whether err is an ordinary rejection of a transaction
// that left the ledger untouched.
func IsRejection(err error) bool {
	switch KindOf(err) {
	case KindMalformedInput, KindSignatureInvalid, KindProofInvalid, KindUnknownOrSpentInput,
		KindReplayedIssuance, KindDuplicateAssetDefinition, KindUnknownAsset,
		KindUnauthorizedIssuer, KindNotEnforced:
		return true
	}
	return false
}
