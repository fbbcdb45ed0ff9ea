package tablestore

import (
	"errors"
	"fmt"

	ots "github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore"

	"github.com/kaiwa0/kaiwa/session"
)

// OTS error codes the adapter recognizes. Codes not listed here are
// treated as transient service faults.
const (
	codeConditionCheckFail  = "OTSConditionCheckFail"
	codeObjectAlreadyExist  = "OTSObjectAlreadyExist"
	codeObjectNotExist      = "OTSObjectNotExist"
	codeParameterInvalid    = "OTSParameterInvalid"
	codeInvalidPK           = "OTSInvalidPK"
	codeAuthFailed          = "OTSAuthFailed"
	codeRequestBodyTooLarge = "OTSRequestBodyTooLarge"
)

// translateError maps a client error onto the session sentinels. cond is
// the condition attached to the failing write, if any; a rejected
// conditional write reports differently depending on what the condition
// guarded.
func translateError(op string, err error, cond session.Condition) error {
	var otsErr *ots.OtsError
	if !errors.As(err, &otsErr) {
		// Transport-level failure, no OTS response.
		return fmt.Errorf("%s: %w: %v", op, session.ErrUnavailable, err)
	}

	var sentinel error
	switch otsErr.Code {
	case codeConditionCheckFail:
		sentinel = conditionSentinel(cond)
	case codeObjectAlreadyExist:
		sentinel = session.ErrAlreadyExists
	case codeObjectNotExist:
		sentinel = session.ErrNotFound
	case codeParameterInvalid, codeInvalidPK, codeAuthFailed, codeRequestBodyTooLarge:
		sentinel = session.ErrInvalidArgument
	default:
		sentinel = session.ErrUnavailable
	}
	return fmt.Errorf("%s: %s: %s (request %s): %w",
		op, otsErr.Code, otsErr.Message, otsErr.RequestId, sentinel)
}

// conditionSentinel picks the sentinel for a failed condition check. The
// store does not report which clause failed, so the version clause wins:
// a caller holding a stale version needs conflict semantics even when the
// row has since been deleted.
func conditionSentinel(cond session.Condition) error {
	if cond.ExpectVersion != nil {
		return session.ErrVersionConflict
	}
	switch cond.Existence {
	case session.MustNotExist:
		return session.ErrAlreadyExists
	case session.MustExist:
		return session.ErrNotFound
	default:
		return session.ErrVersionConflict
	}
}

// rowError maps one failed row of a batch write.
func rowError(e ots.Error) error {
	switch e.Code {
	case codeParameterInvalid, codeInvalidPK:
		return fmt.Errorf("%s: %s: %w", e.Code, e.Message, session.ErrInvalidArgument)
	default:
		return fmt.Errorf("%s: %s: %w", e.Code, e.Message, session.ErrUnavailable)
	}
}
