package session

import (
	"context"
	"fmt"

	"github.com/kaiwa0/kaiwa/internal/codec"
	"github.com/kaiwa0/kaiwa/internal/log"
)

// stateEntity persists the three state tiers. Each tier lives in its own
// table keyed by the scope's identity columns; the payload is one JSON
// document, stored inline when it fits in a single column and split across
// numbered chunk columns when it does not.
type stateEntity struct {
	backend      Backend
	logger       log.Logger
	sessionTable string
	userTable    string
	appTable     string
	now          func() int64
}

// target resolves the table and primary key for one scope, validating the
// identity columns the scope requires.
func (e *stateEntity) target(scope Scope, agentID, userID, sessionID string) (string, PrimaryKey, error) {
	switch scope {
	case ScopeApp:
		if err := validateKey("agent_id", agentID); err != nil {
			return "", nil, err
		}
		return e.appTable, PrimaryKey{{Name: pkAgentID, Value: agentID}}, nil
	case ScopeUser:
		if err := validateKey("agent_id", agentID); err != nil {
			return "", nil, err
		}
		if err := validateKey("user_id", userID); err != nil {
			return "", nil, err
		}
		return e.userTable, PrimaryKey{
			{Name: pkAgentID, Value: agentID},
			{Name: pkUserID, Value: userID},
		}, nil
	case ScopeSession:
		if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
			return "", nil, err
		}
		return e.sessionTable, sessionKey(agentID, userID, sessionID), nil
	default:
		return "", nil, fmt.Errorf("%w: unknown state scope %d", ErrInvalidArgument, int(scope))
	}
}

// chunkCol names the i-th chunk column of an oversized payload.
func chunkCol(i int) string {
	return fmt.Sprintf("%s_%d", colState, i)
}

// get reads one scope's state. Absent state, including a row with no
// payload columns, returns (nil, nil).
func (e *stateEntity) get(ctx context.Context, scope Scope, agentID, userID, sessionID string) (*StateData, error) {
	table, key, err := e.target(scope, agentID, userID, sessionID)
	if err != nil {
		return nil, err
	}
	row, err := e.backend.Get(ctx, table, key, nil)
	if err != nil {
		return nil, fmt.Errorf("get %s state: %w", scope, err)
	}
	if row == nil {
		return nil, nil
	}

	chunkCount := int(row.Int64(colChunkCount))
	var raw string
	if chunkCount > 0 {
		chunks := make([]string, chunkCount)
		for i := 0; i < chunkCount; i++ {
			v, ok := row.Column(chunkCol(i))
			if !ok {
				return nil, fmt.Errorf("%w: %s state row missing chunk %d of %d",
					ErrInvalidArgument, scope, i, chunkCount)
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s state chunk %d is not a string",
					ErrInvalidArgument, scope, i)
			}
			chunks[i] = s
		}
		raw = codec.Join(chunks)
	} else {
		v, ok := row.Column(colState)
		if !ok {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s state column is not a string", ErrInvalidArgument, scope)
		}
		raw = s
	}

	state, err := codec.DecodeMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s state: %v", ErrInvalidArgument, scope, err)
	}

	return &StateData{
		Scope:      scope,
		AgentID:    agentID,
		UserID:     userID,
		SessionID:  sessionID,
		State:      state,
		ChunkCount: chunkCount,
		CreatedAt:  row.Int64(colCreatedAt),
		UpdatedAt:  row.Int64(colUpdatedAt),
		Version:    row.Int64(colVersion),
	}, nil
}

// update merges delta into the stored state and writes the result back
// under the version it read, re-chunking as the payload crosses the
// column-size threshold. Whatever payload columns the rewrite obsoletes
// are deleted in the same write: stale chunks when the payload shrinks,
// the inline column when it grows past the threshold, the chunk columns
// when it shrinks back under it.
func (e *stateEntity) update(ctx context.Context, scope Scope, agentID, userID, sessionID string, delta map[string]any) error {
	table, key, err := e.target(scope, agentID, userID, sessionID)
	if err != nil {
		return err
	}

	cur, err := e.get(ctx, scope, agentID, userID, sessionID)
	if err != nil {
		return err
	}

	now := e.now()
	var base map[string]any
	var curVersion int64
	curChunks := 0
	createdAt := now
	if cur != nil {
		base = cur.State
		curVersion = cur.Version
		curChunks = cur.ChunkCount
		createdAt = cur.CreatedAt
	}

	merged := mergeDelta(base, delta)
	encoded, err := codec.Encode(merged)
	if err != nil {
		return fmt.Errorf("%w: encode %s state: %v", ErrInvalidArgument, scope, err)
	}

	put := []Column{
		{Name: colCreatedAt, Value: createdAt},
		{Name: colUpdatedAt, Value: now},
		{Name: colVersion, Value: curVersion + 1},
	}
	var del []string

	chunkCount := 0
	if len(encoded) > codec.MaxColumnSize {
		chunks, err := codec.Split(encoded, codec.MaxColumnSize)
		if err != nil {
			return fmt.Errorf("chunk %s state: %w", scope, err)
		}
		chunkCount = len(chunks)
		put = append(put, Column{Name: colChunkCount, Value: int64(chunkCount)})
		for i, c := range chunks {
			put = append(put, Column{Name: chunkCol(i), Value: c})
		}
		if cur != nil && curChunks == 0 {
			del = append(del, colState)
		}
	} else {
		put = append(put,
			Column{Name: colState, Value: encoded},
			Column{Name: colChunkCount, Value: int64(0)},
		)
	}
	for i := chunkCount; i < curChunks; i++ {
		del = append(del, chunkCol(i))
	}

	cond := Condition{}
	if cur != nil {
		cond = Condition{Existence: MustExist, ExpectVersion: &curVersion}
	}
	if err := e.backend.Update(ctx, table, key, put, del, cond); err != nil {
		return fmt.Errorf("put %s state: %w", scope, err)
	}

	e.logger.Debug("state updated",
		"scope", scope.String(), "agent_id", agentID,
		"version", curVersion+1, "chunks", chunkCount)
	return nil
}

// delete removes one scope's state row. Absent rows are a no-op.
func (e *stateEntity) delete(ctx context.Context, scope Scope, agentID, userID, sessionID string) error {
	table, key, err := e.target(scope, agentID, userID, sessionID)
	if err != nil {
		return err
	}
	if err := e.backend.Delete(ctx, table, key); err != nil {
		return fmt.Errorf("delete %s state: %w", scope, err)
	}
	return nil
}

// mergeDelta shallow-merges delta over base: a nil value deletes the key,
// anything else replaces it. base is left unchanged.
func mergeDelta(base, delta map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range delta {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}
