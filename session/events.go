package session

import (
	"context"
	"fmt"

	"github.com/kaiwa0/kaiwa/internal/codec"
	"github.com/kaiwa0/kaiwa/internal/log"
)

// eventEntity persists the ordered event log of each session. Sequence ids
// are assigned by the store at write time and only ever grow, so a range
// scan over one session replays its history in order.
type eventEntity struct {
	backend Backend
	logger  log.Logger
	table   string
	now     func() int64
}

func eventKey(agentID, userID, sessionID string, seq any) PrimaryKey {
	return PrimaryKey{
		{Name: pkAgentID, Value: agentID},
		{Name: pkUserID, Value: userID},
		{Name: pkSessionID, Value: sessionID},
		{Name: pkSeqID, Value: seq},
	}
}

func (e *eventEntity) append(ctx context.Context, agentID, userID, sessionID string, data EventData) (*Event, error) {
	createdAt := data.CreatedAt
	if createdAt == 0 {
		createdAt = e.now()
	}
	updatedAt := data.UpdatedAt
	if updatedAt == 0 {
		updatedAt = createdAt
	}

	content := data.Content
	if content == nil {
		content = map[string]any{}
	}
	encoded, err := codec.Encode(content)
	if err != nil {
		return nil, fmt.Errorf("%w: encode event content: %v", ErrInvalidArgument, err)
	}

	cols := []Column{
		{Name: colType, Value: data.Type},
		{Name: colContent, Value: encoded},
		{Name: colCreatedAt, Value: createdAt},
		{Name: colUpdatedAt, Value: updatedAt},
		{Name: colVersion, Value: int64(1)},
	}
	if data.RawEvent != "" {
		cols = append(cols, Column{Name: colRawEvent, Value: data.RawEvent})
	}

	stored, err := e.backend.Put(ctx, e.table, eventKey(agentID, userID, sessionID, AutoIncrement), cols, Condition{})
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	seq := stored.Int64(pkSeqID)
	if seq == 0 {
		// The store assigns positive sequence ids. A write acknowledged
		// without one cannot be placed in the log.
		return nil, fmt.Errorf("append event: store returned no sequence id: %w", ErrUnavailable)
	}

	e.logger.Debug("event appended",
		"agent_id", agentID, "user_id", userID, "session_id", sessionID, "seq_id", seq)
	return &Event{
		AgentID:   agentID,
		UserID:    userID,
		SessionID: sessionID,
		SeqID:     seq,
		Type:      data.Type,
		Content:   content,
		RawEvent:  data.RawEvent,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Version:   1,
	}, nil
}

// list reads events in sequence order; reverse starts from the newest.
// limit <= 0 reads the whole log.
func (e *eventEntity) list(ctx context.Context, agentID, userID, sessionID string, reverse bool, limit int32) ([]*Event, error) {
	start := eventKey(agentID, userID, sessionID, InfMin)
	end := eventKey(agentID, userID, sessionID, InfMax)
	if reverse {
		start, end = end, start
	}

	rng := ScanRange{Start: start, End: end, Reverse: reverse}
	var out []*Event
	for {
		if limit > 0 {
			rng.Limit = limit - int32(len(out))
		}
		rows, next, err := e.backend.Scan(ctx, e.table, rng)
		if err != nil {
			return nil, fmt.Errorf("scan events: %w", err)
		}
		for i := range rows {
			ev, err := rowToEvent(&rows[i])
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
			if limit > 0 && int32(len(out)) >= limit {
				return out, nil
			}
		}
		if next == nil {
			return out, nil
		}
		rng.Start = next
	}
}

// deleteAll removes every event of one session in scan-and-batch rounds,
// returning the number of rows removed. Safe to re-run after a partial
// failure.
func (e *eventEntity) deleteAll(ctx context.Context, agentID, userID, sessionID string) (int, error) {
	rng := ScanRange{
		Start:   eventKey(agentID, userID, sessionID, InfMin),
		End:     eventKey(agentID, userID, sessionID, InfMax),
		Columns: []string{colVersion},
	}

	deleted := 0
	for {
		rows, next, err := e.backend.Scan(ctx, e.table, rng)
		if err != nil {
			return deleted, fmt.Errorf("scan events for delete: %w", err)
		}

		keys := make([]PrimaryKey, len(rows))
		for i := range rows {
			keys[i] = rows[i].Key
		}
		for len(keys) > 0 {
			batch := keys
			if len(batch) > MaxBatchDelete {
				batch = keys[:MaxBatchDelete]
			}
			if err := e.backend.BatchDelete(ctx, e.table, batch); err != nil {
				return deleted, fmt.Errorf("delete events: %w", err)
			}
			deleted += len(batch)
			keys = keys[len(batch):]
		}

		if next == nil {
			if deleted > 0 {
				e.logger.Debug("events deleted",
					"agent_id", agentID, "user_id", userID,
					"session_id", sessionID, "count", deleted)
			}
			return deleted, nil
		}
		rng.Start = next
	}
}

// rowToEvent decodes an event row. A content column holding a non-string
// value decodes to an empty map rather than failing the whole read.
func rowToEvent(row *Row) (*Event, error) {
	ev := &Event{
		AgentID:   row.Key.String(pkAgentID),
		UserID:    row.Key.String(pkUserID),
		SessionID: row.Key.String(pkSessionID),
		SeqID:     row.Key.Int64(pkSeqID),
		Type:      row.String(colType),
		RawEvent:  row.String(colRawEvent),
		CreatedAt: row.Int64(colCreatedAt),
		UpdatedAt: row.Int64(colUpdatedAt),
		Version:   row.Int64(colVersion),
	}

	raw, ok := row.Column(colContent)
	if !ok {
		return ev, nil
	}
	s, ok := raw.(string)
	if !ok {
		ev.Content = map[string]any{}
		return ev, nil
	}
	content, err := codec.DecodeMap(s)
	if err != nil {
		return nil, fmt.Errorf("%w: event %d: decode content: %v", ErrInvalidArgument, ev.SeqID, err)
	}
	ev.Content = content
	return ev, nil
}
