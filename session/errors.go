package session

import (
	"errors"
	"fmt"
	"strings"
)

// MaxKeyLength bounds each identifier component (agent, user and session
// ids), matching the store's primary-key size limit.
const MaxKeyLength = 1024

// Sentinel errors returned by Store and Backend operations. Wrapped errors
// preserve these, so always check with errors.Is:
//
//	_, err := store.UpdateSession(ctx, agentID, userID, sessionID, patch, version)
//	if errors.Is(err, session.ErrVersionConflict) {
//	    // reload and retry with the fresh version
//	}
var (
	// ErrNotFound indicates the target row of a read, update or delete does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an insert collided with an existing row.
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict indicates a compare-and-set write lost the race:
	// the stored version no longer matches the expected one. The row is
	// unchanged; reload it to retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnavailable indicates the storage service could not serve the
	// request (throttling, transport failure, server fault). Retryable.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrInvalidArgument indicates malformed input or a corrupt stored row.
	// Not retryable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPartialFailure indicates a multi-row operation failed for a subset
	// of rows. The concrete error is a *PartialError carrying the failed
	// keys; re-running the operation retries them.
	ErrPartialFailure = errors.New("partial failure")
)

// RowFailure is one failed row of a batch operation.
type RowFailure struct {
	Key PrimaryKey
	Err error
}

// PartialError reports the failed subset of a multi-row operation. It
// matches ErrPartialFailure under errors.Is, and unwraps to the row-level
// causes so errors.Is also sees those.
type PartialError struct {
	// Op names the failing operation, e.g. "batch delete".
	Op       string
	Failures []RowFailure
}

func (e *PartialError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s: partial failure", e.Op)
	}
	return fmt.Sprintf("%s: %d rows failed: %v", e.Op, len(e.Failures), e.Failures[0].Err)
}

// Is reports true for ErrPartialFailure.
func (e *PartialError) Is(target error) bool {
	return target == ErrPartialFailure
}

// Unwrap exposes the row-level causes.
func (e *PartialError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// validateKey checks one identifier component: non-empty, within
// MaxKeyLength, and free of control characters.
func validateKey(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidArgument, name)
	}
	if len(v) > MaxKeyLength {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidArgument, name, MaxKeyLength)
	}
	if i := strings.IndexFunc(v, func(r rune) bool { return r < 0x20 || r == 0x7f }); i >= 0 {
		return fmt.Errorf("%w: %s contains control character at byte %d", ErrInvalidArgument, name, i)
	}
	return nil
}

// validateSessionKeys checks the full (agent, user, session) triple.
func validateSessionKeys(agentID, userID, sessionID string) error {
	if err := validateKey("agent_id", agentID); err != nil {
		return err
	}
	if err := validateKey("user_id", userID); err != nil {
		return err
	}
	return validateKey("session_id", sessionID)
}
