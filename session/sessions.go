package session

import (
	"context"
	"fmt"

	"github.com/kaiwa0/kaiwa/internal/codec"
	"github.com/kaiwa0/kaiwa/internal/log"
)

// sessionEntity persists conversation rows and maintains the recency index
// table alongside them. The index is keyed (agent, user, updated_at,
// session) and carries denormalized copies of the listing attributes, so
// recency listings never read the primary table.
type sessionEntity struct {
	backend     Backend
	logger      log.Logger
	table       string
	indexTable  string
	searchIndex string
	now         func() int64
}

func sessionKey(agentID, userID, sessionID string) PrimaryKey {
	return PrimaryKey{
		{Name: pkAgentID, Value: agentID},
		{Name: pkUserID, Value: userID},
		{Name: pkSessionID, Value: sessionID},
	}
}

func indexKey(agentID, userID string, updatedAt int64, sessionID string) PrimaryKey {
	return PrimaryKey{
		{Name: pkAgentID, Value: agentID},
		{Name: pkUserID, Value: userID},
		{Name: colUpdatedAt, Value: updatedAt},
		{Name: pkSessionID, Value: sessionID},
	}
}

func (e *sessionEntity) create(ctx context.Context, agentID, userID, sessionID string, attrs SessionAttrs) (*Session, error) {
	now := e.now()
	sess := &Session{
		AgentID:    agentID,
		UserID:     userID,
		SessionID:  sessionID,
		CreatedAt:  now,
		UpdatedAt:  now,
		IsPinned:   attrs.IsPinned,
		Summary:    attrs.Summary,
		Labels:     attrs.Labels,
		Framework:  attrs.Framework,
		Extensions: attrs.Extensions,
		Version:    1,
	}

	cols, err := sessionColumns(sess)
	if err != nil {
		return nil, err
	}
	_, err = e.backend.Put(ctx, e.table, sessionKey(agentID, userID, sessionID), cols,
		Condition{Existence: MustNotExist})
	if err != nil {
		return nil, fmt.Errorf("create session %q: %w", sessionID, err)
	}

	// Primary row first, index row second: a crash in between leaves the
	// session unlisted until its next update, never a phantom listing.
	e.writeIndexRow(ctx, sess)

	e.logger.Debug("session created",
		"agent_id", agentID, "user_id", userID, "session_id", sessionID)
	return sess, nil
}

func (e *sessionEntity) get(ctx context.Context, agentID, userID, sessionID string) (*Session, error) {
	row, err := e.backend.Get(ctx, e.table, sessionKey(agentID, userID, sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("get session %q: %w", sessionID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return rowToSession(row)
}

func (e *sessionEntity) update(ctx context.Context, agentID, userID, sessionID string, patch SessionPatch, expectedVersion int64) (*Session, error) {
	cur, err := e.get(ctx, agentID, userID, sessionID)
	if err != nil {
		return nil, err
	}
	// Fast-path check; the conditional write below is the real guard.
	if cur.Version != expectedVersion {
		return nil, fmt.Errorf("update session %q: stored version %d, expected %d: %w",
			sessionID, cur.Version, expectedVersion, ErrVersionConflict)
	}

	next := *cur
	if patch.IsPinned != nil {
		next.IsPinned = *patch.IsPinned
	}
	if patch.Summary != nil {
		next.Summary = *patch.Summary
	}
	if patch.Labels != nil {
		next.Labels = *patch.Labels
	}
	if patch.Framework != nil {
		next.Framework = *patch.Framework
	}
	if patch.Extensions != nil {
		next.Extensions = patch.Extensions
	}
	next.UpdatedAt = e.now()
	next.Version = expectedVersion + 1

	put := []Column{
		{Name: colUpdatedAt, Value: next.UpdatedAt},
		{Name: colVersion, Value: next.Version},
	}
	if patch.IsPinned != nil {
		put = append(put, Column{Name: colIsPinned, Value: next.IsPinned})
	}
	if patch.Summary != nil {
		put = append(put, Column{Name: colSummary, Value: next.Summary})
	}
	if patch.Labels != nil {
		enc, err := codec.Encode(next.Labels)
		if err != nil {
			return nil, fmt.Errorf("%w: encode labels: %v", ErrInvalidArgument, err)
		}
		put = append(put, Column{Name: colLabels, Value: enc})
	}
	if patch.Framework != nil {
		put = append(put, Column{Name: colFramework, Value: next.Framework})
	}
	if patch.Extensions != nil {
		enc, err := codec.Encode(next.Extensions)
		if err != nil {
			return nil, fmt.Errorf("%w: encode extensions: %v", ErrInvalidArgument, err)
		}
		put = append(put, Column{Name: colExtensions, Value: enc})
	}

	cond := Condition{Existence: MustExist, ExpectVersion: &expectedVersion}
	if err := e.backend.Update(ctx, e.table, sessionKey(agentID, userID, sessionID), put, nil, cond); err != nil {
		return nil, fmt.Errorf("update session %q: %w", sessionID, err)
	}

	// The index row is keyed by updated_at, so moving the session is a
	// delete of the old entry plus an insert of the new one.
	e.removeIndexRow(ctx, agentID, userID, cur.UpdatedAt, sessionID)
	e.writeIndexRow(ctx, &next)

	e.logger.Debug("session updated",
		"session_id", sessionID, "version", next.Version, "touch", patch.isZero())
	return &next, nil
}

func (e *sessionEntity) delete(ctx context.Context, agentID, userID, sessionID string) error {
	// Only updated_at is needed, to locate the index row. Deleting an
	// absent session is a no-op.
	key := sessionKey(agentID, userID, sessionID)
	row, err := e.backend.Get(ctx, e.table, key, []string{colUpdatedAt})
	if err != nil {
		return fmt.Errorf("get session %q for delete: %w", sessionID, err)
	}
	if row == nil {
		return nil
	}

	if err := e.backend.Delete(ctx, e.table, key); err != nil {
		return fmt.Errorf("delete session %q: %w", sessionID, err)
	}
	e.removeIndexRow(ctx, agentID, userID, row.Int64(colUpdatedAt), sessionID)

	e.logger.Debug("session deleted",
		"agent_id", agentID, "user_id", userID, "session_id", sessionID)
	return nil
}

// list scans the recency index for one (agent, user) pair, newest first by
// default. Malformed index entries are skipped, not fatal.
func (e *sessionEntity) list(ctx context.Context, agentID, userID string, opts ListOptions) ([]*Session, error) {
	start := PrimaryKey{
		{Name: pkAgentID, Value: agentID},
		{Name: pkUserID, Value: userID},
		{Name: colUpdatedAt, Value: InfMax},
		{Name: pkSessionID, Value: InfMax},
	}
	end := PrimaryKey{
		{Name: pkAgentID, Value: agentID},
		{Name: pkUserID, Value: userID},
		{Name: colUpdatedAt, Value: InfMin},
		{Name: pkSessionID, Value: InfMin},
	}
	if opts.Ascending {
		start, end = end, start
	}
	return e.scanIndex(ctx, ScanRange{Start: start, End: end, Reverse: !opts.Ascending}, opts.Limit)
}

// listAll widens the scan to every user of the agent. Results follow the
// index key order: grouped by user, newest first within each user.
func (e *sessionEntity) listAll(ctx context.Context, agentID string, opts ListOptions) ([]*Session, error) {
	start := PrimaryKey{
		{Name: pkAgentID, Value: agentID},
		{Name: pkUserID, Value: InfMax},
		{Name: colUpdatedAt, Value: InfMax},
		{Name: pkSessionID, Value: InfMax},
	}
	end := PrimaryKey{
		{Name: pkAgentID, Value: agentID},
		{Name: pkUserID, Value: InfMin},
		{Name: colUpdatedAt, Value: InfMin},
		{Name: pkSessionID, Value: InfMin},
	}
	if opts.Ascending {
		start, end = end, start
	}
	return e.scanIndex(ctx, ScanRange{Start: start, End: end, Reverse: !opts.Ascending}, opts.Limit)
}

func (e *sessionEntity) scanIndex(ctx context.Context, rng ScanRange, limit int32) ([]*Session, error) {
	var out []*Session
	for {
		if limit > 0 {
			rng.Limit = limit - int32(len(out))
		}
		rows, next, err := e.backend.Scan(ctx, e.indexTable, rng)
		if err != nil {
			return nil, fmt.Errorf("scan session index: %w", err)
		}
		for i := range rows {
			sess, err := indexRowToSession(&rows[i])
			if err != nil {
				e.logger.Warn("skipping malformed session index row", "error", err)
				continue
			}
			out = append(out, sess)
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

// search queries the search index and hydrates full sessions from the
// returned rows. The index trails writes, so fresh sessions may be missing
// and deleted ones may linger briefly.
func (e *sessionEntity) search(ctx context.Context, agentID string, filter SearchFilter) ([]*Session, int64, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	q := SearchQuery{
		Terms:     []TermFilter{{Field: pkAgentID, Value: agentID}},
		Limit:     limit,
		Offset:    filter.Offset,
		SortField: colUpdatedAt,
		SortDesc:  true,
		WithTotal: true,
	}
	if filter.UserID != "" {
		q.Terms = append(q.Terms, TermFilter{Field: pkUserID, Value: filter.UserID})
	}
	if filter.Framework != "" {
		q.Terms = append(q.Terms, TermFilter{Field: colFramework, Value: filter.Framework})
	}
	if filter.Label != "" {
		q.Terms = append(q.Terms, TermFilter{Field: colLabels, Value: filter.Label})
	}
	if filter.IsPinned != nil {
		q.Terms = append(q.Terms, TermFilter{Field: colIsPinned, Value: *filter.IsPinned})
	}
	if filter.SummaryKeyword != "" {
		q.Matches = append(q.Matches, MatchFilter{Field: colSummary, Text: filter.SummaryKeyword})
	}
	if r := newRangeFilter(colUpdatedAt, filter.UpdatedAfter, filter.UpdatedBefore); r != nil {
		q.Ranges = append(q.Ranges, *r)
	}
	if r := newRangeFilter(colCreatedAt, filter.CreatedAfter, filter.CreatedBefore); r != nil {
		q.Ranges = append(q.Ranges, *r)
	}

	res, err := e.backend.Search(ctx, e.table, e.searchIndex, q)
	if err != nil {
		return nil, 0, fmt.Errorf("search sessions: %w", err)
	}

	out := make([]*Session, 0, len(res.Rows))
	for i := range res.Rows {
		sess, err := rowToSession(&res.Rows[i])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sess)
	}
	return out, res.Total, nil
}

func newRangeFilter(field string, after, before int64) *RangeFilter {
	if after == 0 && before == 0 {
		return nil
	}
	r := &RangeFilter{Field: field}
	if after != 0 {
		r.GreaterThan = &after
	}
	if before != 0 {
		r.LessThan = &before
	}
	return r
}

// writeIndexRow mirrors the session into the recency index. Best-effort:
// the primary row is already committed, and listing tolerates a stale
// index.
func (e *sessionEntity) writeIndexRow(ctx context.Context, sess *Session) {
	cols, err := attrColumns(sess)
	if err == nil {
		_, err = e.backend.Put(ctx, e.indexTable,
			indexKey(sess.AgentID, sess.UserID, sess.UpdatedAt, sess.SessionID), cols, Condition{})
	}
	if err != nil {
		e.logger.Warn("failed to write session index row",
			"agent_id", sess.AgentID, "user_id", sess.UserID,
			"session_id", sess.SessionID, "error", err)
	}
}

// removeIndexRow drops one index entry. Best-effort like writeIndexRow; a
// leftover entry is a stale listing, not data loss.
func (e *sessionEntity) removeIndexRow(ctx context.Context, agentID, userID string, updatedAt int64, sessionID string) {
	if err := e.backend.Delete(ctx, e.indexTable, indexKey(agentID, userID, updatedAt, sessionID)); err != nil {
		e.logger.Warn("failed to delete session index row",
			"agent_id", agentID, "user_id", userID,
			"session_id", sessionID, "error", err)
	}
}

// sessionColumns builds the attribute set of a primary session row. Rows
// are sparse: zero-valued optional attributes stay unwritten.
func sessionColumns(sess *Session) ([]Column, error) {
	cols := []Column{
		{Name: colCreatedAt, Value: sess.CreatedAt},
		{Name: colUpdatedAt, Value: sess.UpdatedAt},
		{Name: colIsPinned, Value: sess.IsPinned},
		{Name: colVersion, Value: sess.Version},
	}
	attrs, err := attrColumns(sess)
	if err != nil {
		return nil, err
	}
	return append(cols, attrs...), nil
}

// attrColumns builds the listing attributes denormalized into the recency
// index: summary, labels, framework and extensions.
func attrColumns(sess *Session) ([]Column, error) {
	var cols []Column
	if sess.Summary != "" {
		cols = append(cols, Column{Name: colSummary, Value: sess.Summary})
	}
	if len(sess.Labels) > 0 {
		enc, err := codec.Encode(sess.Labels)
		if err != nil {
			return nil, fmt.Errorf("%w: encode labels: %v", ErrInvalidArgument, err)
		}
		cols = append(cols, Column{Name: colLabels, Value: enc})
	}
	if sess.Framework != "" {
		cols = append(cols, Column{Name: colFramework, Value: sess.Framework})
	}
	if sess.Extensions != nil {
		enc, err := codec.Encode(sess.Extensions)
		if err != nil {
			return nil, fmt.Errorf("%w: encode extensions: %v", ErrInvalidArgument, err)
		}
		cols = append(cols, Column{Name: colExtensions, Value: enc})
	}
	return cols, nil
}

// rowToSession decodes a primary-table row.
func rowToSession(row *Row) (*Session, error) {
	sess := &Session{
		AgentID:   row.Key.String(pkAgentID),
		UserID:    row.Key.String(pkUserID),
		SessionID: row.Key.String(pkSessionID),
		CreatedAt: row.Int64(colCreatedAt),
		UpdatedAt: row.Int64(colUpdatedAt),
		IsPinned:  row.Bool(colIsPinned),
		Summary:   row.String(colSummary),
		Framework: row.String(colFramework),
		Version:   row.Int64(colVersion),
	}

	labels, err := codec.DecodeStrings(row.String(colLabels))
	if err != nil {
		return nil, fmt.Errorf("%w: session %q: decode labels: %v", ErrInvalidArgument, sess.SessionID, err)
	}
	sess.Labels = labels

	ext, err := codec.DecodeMap(row.String(colExtensions))
	if err != nil {
		return nil, fmt.Errorf("%w: session %q: decode extensions: %v", ErrInvalidArgument, sess.SessionID, err)
	}
	sess.Extensions = ext
	return sess, nil
}

// indexRowToSession decodes a recency-index row. The index stores only the
// denormalized listing attributes, so CreatedAt, IsPinned and Version are
// zero here; GetSession returns the full row.
func indexRowToSession(row *Row) (*Session, error) {
	sess := &Session{
		AgentID:   row.Key.String(pkAgentID),
		UserID:    row.Key.String(pkUserID),
		SessionID: row.Key.String(pkSessionID),
		UpdatedAt: row.Key.Int64(colUpdatedAt),
		Summary:   row.String(colSummary),
		Framework: row.String(colFramework),
	}

	labels, err := codec.DecodeStrings(row.String(colLabels))
	if err != nil {
		return nil, fmt.Errorf("%w: index row for session %q: decode labels: %v", ErrInvalidArgument, sess.SessionID, err)
	}
	sess.Labels = labels

	ext, err := codec.DecodeMap(row.String(colExtensions))
	if err != nil {
		return nil, fmt.Errorf("%w: index row for session %q: decode extensions: %v", ErrInvalidArgument, sess.SessionID, err)
	}
	sess.Extensions = ext
	return sess, nil
}
