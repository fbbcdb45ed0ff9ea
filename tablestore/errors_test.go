package tablestore

import (
	"errors"
	"fmt"
	"testing"

	ots "github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaiwa0/kaiwa/session"
)

func otsError(code string) *ots.OtsError {
	return &ots.OtsError{Code: code, Message: "detail", RequestId: "req-1"}
}

func TestTranslateError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		cond session.Condition
		want error
	}{
		{
			name: "transport failure",
			err:  errors.New("connection refused"),
			want: session.ErrUnavailable,
		},
		{
			name: "insert collision",
			err:  otsError("OTSConditionCheckFail"),
			cond: session.Condition{Existence: session.MustNotExist},
			want: session.ErrAlreadyExists,
		},
		{
			name: "stale version",
			err:  otsError("OTSConditionCheckFail"),
			cond: session.Condition{ExpectVersion: ptr(int64(3))},
			want: session.ErrVersionConflict,
		},
		{
			name: "version clause wins over existence",
			err:  otsError("OTSConditionCheckFail"),
			cond: session.Condition{Existence: session.MustExist, ExpectVersion: ptr(int64(3))},
			want: session.ErrVersionConflict,
		},
		{
			name: "update of missing row",
			err:  otsError("OTSConditionCheckFail"),
			cond: session.Condition{Existence: session.MustExist},
			want: session.ErrNotFound,
		},
		{
			name: "object already exists",
			err:  otsError("OTSObjectAlreadyExist"),
			want: session.ErrAlreadyExists,
		},
		{
			name: "object not exist",
			err:  otsError("OTSObjectNotExist"),
			want: session.ErrNotFound,
		},
		{
			name: "parameter invalid",
			err:  otsError("OTSParameterInvalid"),
			want: session.ErrInvalidArgument,
		},
		{
			name: "auth failed",
			err:  otsError("OTSAuthFailed"),
			want: session.ErrInvalidArgument,
		},
		{
			name: "oversized request body",
			err:  otsError("OTSRequestBodyTooLarge"),
			want: session.ErrInvalidArgument,
		},
		{
			name: "server busy",
			err:  otsError("OTSServerBusy"),
			want: session.ErrUnavailable,
		},
		{
			name: "unknown code",
			err:  otsError("OTSSomethingNew"),
			want: session.ErrUnavailable,
		},
		{
			name: "wrapped ots error still recognized",
			err:  fmt.Errorf("retry 3: %w", otsError("OTSObjectNotExist")),
			want: session.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := translateError("put row", tt.err, tt.cond)
			require.Error(t, got)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), "put row")
		})
	}
}

func TestTranslateErrorKeepsRequestID(t *testing.T) {
	t.Parallel()

	got := translateError("get row", otsError("OTSServerBusy"), session.Condition{})
	assert.Contains(t, got.Error(), "OTSServerBusy")
	assert.Contains(t, got.Error(), "req-1")
}

func TestRowError(t *testing.T) {
	t.Parallel()

	invalid := rowError(ots.Error{Code: "OTSParameterInvalid", Message: "bad pk"})
	assert.ErrorIs(t, invalid, session.ErrInvalidArgument)
	assert.Contains(t, invalid.Error(), "bad pk")

	busy := rowError(ots.Error{Code: "OTSServerBusy", Message: "throttled"})
	assert.ErrorIs(t, busy, session.ErrUnavailable)
}
