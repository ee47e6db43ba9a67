package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfig              = errors.New("config error")
	ErrBadRequest          = errors.New("bad request")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateCommitment = errors.New("duplicate commitment")
	ErrUnknownCommitment   = errors.New("unknown commitment")
	ErrSetFull             = errors.New("membership set full")
	ErrStaleMembershipRoot = errors.New("stale membership root")
	ErrInvalidProof        = errors.New("invalid proof")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrSequenceConflict    = errors.New("sequence conflict")
	ErrLedgerCorruption    = errors.New("ledger corruption")
	ErrSecretNotInSet      = errors.New("secret not in set")
	ErrRevokedIdentity     = errors.New("revoked identity")
)

// ConfigError reports a configuration key that prevents the process from starting.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Class is how a caller should treat an error.
type Class struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
	Fatal     bool
}

// Describe classifies err against the error taxonomy. Unknown errors map to a
// generic internal error so that internal details never reach clients.
func Describe(err error) Class {
	switch {
	case err == nil:
		return Class{Status: http.StatusOK, Code: "ok"}
	case errors.Is(err, ErrStaleMembershipRoot):
		return Class{Status: http.StatusConflict, Code: "stale_membership_root", Message: "membership root is no longer accepted; fetch the current root and prove again", Retryable: true}
	case errors.Is(err, ErrInvalidProof):
		// Revocation surfaces here too; the message stays generic on purpose.
		return Class{Status: http.StatusUnprocessableEntity, Code: "invalid_proof", Message: "proof rejected"}
	case errors.Is(err, ErrDuplicateSubmission):
		return Class{Status: http.StatusConflict, Code: "duplicate_submission", Message: "a report was already accepted for this action"}
	case errors.Is(err, ErrDuplicateCommitment):
		return Class{Status: http.StatusConflict, Code: "duplicate_commitment", Message: "commitment already enrolled or permanently barred"}
	case errors.Is(err, ErrUnknownCommitment):
		return Class{Status: http.StatusNotFound, Code: "unknown_commitment", Message: "commitment was never enrolled"}
	case errors.Is(err, ErrSetFull):
		return Class{Status: http.StatusInsufficientStorage, Code: "set_full", Message: "membership set has no free slots"}
	case errors.Is(err, ErrSecretNotInSet):
		return Class{Status: http.StatusBadRequest, Code: "secret_not_in_set", Message: "identity is not a member of the set"}
	case errors.Is(err, ErrRevokedIdentity):
		return Class{Status: http.StatusBadRequest, Code: "revoked_identity", Message: "identity has been revoked"}
	case errors.Is(err, ErrNotFound):
		return Class{Status: http.StatusNotFound, Code: "not_found", Message: err.Error()}
	case errors.Is(err, ErrBadRequest):
		return Class{Status: http.StatusBadRequest, Code: "bad_request", Message: err.Error()}
	case errors.Is(err, ErrSequenceConflict), errors.Is(err, ErrLedgerCorruption):
		return Class{Status: http.StatusInternalServerError, Code: "internal_invariant", Message: "internal error", Fatal: true}
	case errors.Is(err, ErrConfig):
		return Class{Status: http.StatusInternalServerError, Code: "config", Message: "server not configured", Fatal: true}
	default:
		return Class{Status: http.StatusInternalServerError, Code: "internal", Message: "internal error"}
	}
}

// BadRequest wraps a validation message as ErrBadRequest.
func BadRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}
