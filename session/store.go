package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kaiwa0/kaiwa/internal/log"
)

// Default table and search-index names. WithTablePrefix prepends a
// namespace to every one of them.
const (
	DefaultSessionTable      = "conversation"
	DefaultRecencyIndexTable = "conversation_secondary_index"
	DefaultEventTable        = "event"
	DefaultSessionStateTable = "state"
	DefaultUserStateTable    = "user_state"
	DefaultAppStateTable     = "app_state"
	DefaultSearchIndex       = "conversation_search_index"
	DefaultStateSearchIndex  = "state_search_index"
)

// Store is the conversation persistence facade: sessions, their ordered
// event logs, and three tiers of key-value state, all over one Backend.
//
// A Store is safe for concurrent use. Writers contend through per-row
// version counters: a lost race surfaces as ErrVersionConflict and is
// never retried internally.
type Store struct {
	backend Backend
	logger  log.Logger
	prefix  string
	now     func() int64

	sessions *sessionEntity
	events   *eventEntity
	state    *stateEntity
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTablePrefix namespaces every table and index name, letting several
// deployments share one storage instance. The prefix is prepended
// verbatim: WithTablePrefix("staging_") yields "staging_conversation".
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New builds a Store over backend.
func New(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidArgument)
	}
	s := &Store{
		backend: backend,
		now:     func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.sessions = &sessionEntity{
		backend:     backend,
		logger:      s.logger,
		table:       s.prefix + DefaultSessionTable,
		indexTable:  s.prefix + DefaultRecencyIndexTable,
		searchIndex: s.prefix + DefaultSearchIndex,
		now:         s.now,
	}
	s.events = &eventEntity{
		backend: backend,
		logger:  s.logger,
		table:   s.prefix + DefaultEventTable,
		now:     s.now,
	}
	s.state = &stateEntity{
		backend:      backend,
		logger:       s.logger,
		sessionTable: s.prefix + DefaultSessionStateTable,
		userTable:    s.prefix + DefaultUserStateTable,
		appTable:     s.prefix + DefaultAppStateTable,
		now:          s.now,
	}
	return s, nil
}

// InitTables provisions all six tables. Idempotent: existing tables are
// left untouched.
func (s *Store) InitTables(ctx context.Context) error {
	if err := s.InitCoreTables(ctx); err != nil {
		return err
	}
	return s.InitStateTables(ctx)
}

// InitCoreTables provisions the conversation table, its recency index
// table and the event table.
func (s *Store) InitCoreTables(ctx context.Context) error {
	return s.createTables(ctx,
		TableSchema{Name: s.sessions.table, PrimaryKey: []PrimaryKeySchema{
			{Name: pkAgentID, Type: KeyTypeString},
			{Name: pkUserID, Type: KeyTypeString},
			{Name: pkSessionID, Type: KeyTypeString},
		}},
		TableSchema{Name: s.sessions.indexTable, PrimaryKey: []PrimaryKeySchema{
			{Name: pkAgentID, Type: KeyTypeString},
			{Name: pkUserID, Type: KeyTypeString},
			{Name: colUpdatedAt, Type: KeyTypeInteger},
			{Name: pkSessionID, Type: KeyTypeString},
		}},
		TableSchema{Name: s.events.table, PrimaryKey: []PrimaryKeySchema{
			{Name: pkAgentID, Type: KeyTypeString},
			{Name: pkUserID, Type: KeyTypeString},
			{Name: pkSessionID, Type: KeyTypeString},
			{Name: pkSeqID, Type: KeyTypeInteger, AutoIncrement: true},
		}},
	)
}

// InitStateTables provisions the session, user and app state tables.
func (s *Store) InitStateTables(ctx context.Context) error {
	return s.createTables(ctx,
		TableSchema{Name: s.state.sessionTable, PrimaryKey: []PrimaryKeySchema{
			{Name: pkAgentID, Type: KeyTypeString},
			{Name: pkUserID, Type: KeyTypeString},
			{Name: pkSessionID, Type: KeyTypeString},
		}},
		TableSchema{Name: s.state.userTable, PrimaryKey: []PrimaryKeySchema{
			{Name: pkAgentID, Type: KeyTypeString},
			{Name: pkUserID, Type: KeyTypeString},
		}},
		TableSchema{Name: s.state.appTable, PrimaryKey: []PrimaryKeySchema{
			{Name: pkAgentID, Type: KeyTypeString},
		}},
	)
}

// InitSearchIndex provisions the conversation and session-state search
// indexes. Index builds run asynchronously on the store side; fresh
// indexes serve queries once backfilled.
func (s *Store) InitSearchIndex(ctx context.Context) error {
	for _, schema := range []IndexSchema{s.conversationSearchSchema(), s.stateSearchSchema()} {
		if err := s.backend.CreateSearchIndex(ctx, schema); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				s.logger.Debug("search index already exists", "index", schema.Name)
				continue
			}
			return fmt.Errorf("create search index %q: %w", schema.Name, err)
		}
		s.logger.Debug("search index created", "index", schema.Name)
	}
	return nil
}

func (s *Store) createTables(ctx context.Context, schemas ...TableSchema) error {
	for _, schema := range schemas {
		if err := s.backend.CreateTable(ctx, schema); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				s.logger.Debug("table already exists", "table", schema.Name)
				continue
			}
			return fmt.Errorf("create table %q: %w", schema.Name, err)
		}
		s.logger.Debug("table created", "table", schema.Name)
	}
	return nil
}

func (s *Store) conversationSearchSchema() IndexSchema {
	return IndexSchema{
		Table: s.sessions.table,
		Name:  s.sessions.searchIndex,
		Fields: []IndexField{
			{Name: pkAgentID, Type: FieldKeyword},
			{Name: pkUserID, Type: FieldKeyword},
			{Name: pkSessionID, Type: FieldKeyword},
			{Name: colFramework, Type: FieldKeyword},
			{Name: colLabels, Type: FieldKeyword, Array: true},
			{Name: colIsPinned, Type: FieldBool},
			{Name: colSummary, Type: FieldText},
			{Name: colUpdatedAt, Type: FieldLong},
			{Name: colCreatedAt, Type: FieldLong},
		},
		RoutingFields: []string{pkAgentID},
		SortField:     colUpdatedAt,
		SortDesc:      true,
	}
}

func (s *Store) stateSearchSchema() IndexSchema {
	return IndexSchema{
		Table: s.state.sessionTable,
		Name:  s.prefix + DefaultStateSearchIndex,
		Fields: []IndexField{
			{Name: pkAgentID, Type: FieldKeyword},
			{Name: pkUserID, Type: FieldKeyword},
			{Name: pkSessionID, Type: FieldKeyword},
			{Name: colUpdatedAt, Type: FieldLong},
			{Name: colCreatedAt, Type: FieldLong},
		},
	}
}

// CreateSession inserts a new session owned by (agentID, userID). A blank
// sessionID gets a generated UUID. New sessions start at version 1;
// creating an id that already exists returns ErrAlreadyExists.
func (s *Store) CreateSession(ctx context.Context, agentID, userID, sessionID string, attrs SessionAttrs) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.create(ctx, agentID, userID, sessionID, attrs)
}

// GetSession reads one session. Missing sessions return ErrNotFound.
func (s *Store) GetSession(ctx context.Context, agentID, userID, sessionID string) (*Session, error) {
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.get(ctx, agentID, userID, sessionID)
}

// ListSessions lists one user's sessions from the recency index, most
// recently updated first; set opts.Ascending for oldest first. Results
// hydrate from the index's denormalized columns without touching the
// primary table, so CreatedAt, IsPinned and Version are zero; use
// GetSession for the full row. The index is maintained best-effort and
// can briefly trail the primary table.
func (s *Store) ListSessions(ctx context.Context, agentID, userID string, opts ListOptions) ([]*Session, error) {
	if err := validateKey("agent_id", agentID); err != nil {
		return nil, err
	}
	if err := validateKey("user_id", userID); err != nil {
		return nil, err
	}
	return s.sessions.list(ctx, agentID, userID, opts)
}

// ListAllSessions lists every user's sessions under one agent, grouped by
// user in index order, newest first within each user.
func (s *Store) ListAllSessions(ctx context.Context, agentID string, opts ListOptions) ([]*Session, error) {
	if err := validateKey("agent_id", agentID); err != nil {
		return nil, err
	}
	return s.sessions.listAll(ctx, agentID, opts)
}

// SearchSessions queries the search index for the agent's sessions
// matching filter, newest first, and returns one page plus the total
// match count. The index is eventually consistent: a session written
// moments ago may be missing and a deleted one may linger.
func (s *Store) SearchSessions(ctx context.Context, agentID string, filter SearchFilter) ([]*Session, int64, error) {
	if err := validateKey("agent_id", agentID); err != nil {
		return nil, 0, err
	}
	return s.sessions.search(ctx, agentID, filter)
}

// UpdateSession applies patch to a session, requiring expectedVersion to
// match the stored version; a mismatch returns ErrVersionConflict with the
// row unchanged. On success the returned session carries the refreshed
// UpdatedAt and version expectedVersion+1.
func (s *Store) UpdateSession(ctx context.Context, agentID, userID, sessionID string, patch SessionPatch, expectedVersion int64) (*Session, error) {
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.update(ctx, agentID, userID, sessionID, patch, expectedVersion)
}

// DeleteSession removes a session and everything under it: events first,
// then session-scope state, then the session row and its index entry.
// Every step is idempotent, so a cascade interrupted partway can simply be
// re-run; deleting an absent session succeeds.
func (s *Store) DeleteSession(ctx context.Context, agentID, userID, sessionID string) error {
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return err
	}
	if _, err := s.events.deleteAll(ctx, agentID, userID, sessionID); err != nil {
		return err
	}
	if err := s.state.delete(ctx, ScopeSession, agentID, userID, sessionID); err != nil {
		return err
	}
	return s.sessions.delete(ctx, agentID, userID, sessionID)
}

// AppendEvent appends one event to the session's log and returns it with
// the store-assigned sequence id. The session's UpdatedAt is then touched
// so recency listings move it up; the touch is best-effort and an append
// stands even when it loses the version race.
func (s *Store) AppendEvent(ctx context.Context, agentID, userID, sessionID string, data EventData) (*Event, error) {
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return nil, err
	}
	ev, err := s.events.append(ctx, agentID, userID, sessionID, data)
	if err != nil {
		return nil, err
	}
	s.touchSession(ctx, agentID, userID, sessionID)
	return ev, nil
}

// touchSession refreshes a session's UpdatedAt after an append. Losing to
// a concurrent update, or the session being deleted mid-append, drops the
// touch.
func (s *Store) touchSession(ctx context.Context, agentID, userID, sessionID string) {
	cur, err := s.sessions.get(ctx, agentID, userID, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to load session for touch",
				"session_id", sessionID, "error", err)
		}
		return
	}
	if _, err := s.sessions.update(ctx, agentID, userID, sessionID, SessionPatch{}, cur.Version); err != nil {
		s.logger.Warn("failed to touch session after append",
			"session_id", sessionID, "error", err)
	}
}

// GetEvents reads a session's full event log in sequence order.
func (s *Store) GetEvents(ctx context.Context, agentID, userID, sessionID string) ([]*Event, error) {
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return nil, err
	}
	return s.events.list(ctx, agentID, userID, sessionID, false, 0)
}

// GetRecentEvents reads the newest limit events, returned in ascending
// sequence order like GetEvents.
func (s *Store) GetRecentEvents(ctx context.Context, agentID, userID, sessionID string, limit int32) ([]*Event, error) {
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, limit)
	}
	events, err := s.events.list(ctx, agentID, userID, sessionID, true, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

// DeleteEvents removes a session's whole event log, returning the number
// of events removed.
func (s *Store) DeleteEvents(ctx context.Context, agentID, userID, sessionID string) (int, error) {
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return 0, err
	}
	return s.events.deleteAll(ctx, agentID, userID, sessionID)
}

// GetAppState reads the agent-wide state tier. Absent state is an empty
// map, never nil.
func (s *Store) GetAppState(ctx context.Context, agentID string) (map[string]any, error) {
	return s.scopedState(ctx, ScopeApp, agentID, "", "")
}

// GetUserState reads the per-user state tier.
func (s *Store) GetUserState(ctx context.Context, agentID, userID string) (map[string]any, error) {
	return s.scopedState(ctx, ScopeUser, agentID, userID, "")
}

// GetSessionState reads the per-session state tier.
func (s *Store) GetSessionState(ctx context.Context, agentID, userID, sessionID string) (map[string]any, error) {
	return s.scopedState(ctx, ScopeSession, agentID, userID, sessionID)
}

// UpdateAppState shallow-merges delta into the agent-wide tier: nil values
// delete keys, everything else replaces them. A concurrent writer surfaces
// as ErrVersionConflict; re-run the update to merge over the fresh state.
func (s *Store) UpdateAppState(ctx context.Context, agentID string, delta map[string]any) error {
	return s.state.update(ctx, ScopeApp, agentID, "", "", delta)
}

// UpdateUserState shallow-merges delta into the per-user tier.
func (s *Store) UpdateUserState(ctx context.Context, agentID, userID string, delta map[string]any) error {
	return s.state.update(ctx, ScopeUser, agentID, userID, "", delta)
}

// UpdateSessionState shallow-merges delta into the per-session tier.
func (s *Store) UpdateSessionState(ctx context.Context, agentID, userID, sessionID string, delta map[string]any) error {
	return s.state.update(ctx, ScopeSession, agentID, userID, sessionID, delta)
}

// GetMergedState flattens the three tiers into one view, key by key: user
// state overrides app state, session state overrides both.
func (s *Store) GetMergedState(ctx context.Context, agentID, userID, sessionID string) (map[string]any, error) {
	if err := validateSessionKeys(agentID, userID, sessionID); err != nil {
		return nil, err
	}
	app, err := s.scopedState(ctx, ScopeApp, agentID, "", "")
	if err != nil {
		return nil, err
	}
	user, err := s.scopedState(ctx, ScopeUser, agentID, userID, "")
	if err != nil {
		return nil, err
	}
	sess, err := s.scopedState(ctx, ScopeSession, agentID, userID, sessionID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(app)+len(user)+len(sess))
	for k, v := range app {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	for k, v := range sess {
		merged[k] = v
	}
	return merged, nil
}

func (s *Store) scopedState(ctx context.Context, scope Scope, agentID, userID, sessionID string) (map[string]any, error) {
	sd, err := s.state.get(ctx, scope, agentID, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sd == nil || sd.State == nil {
		return map[string]any{}, nil
	}
	return sd.State, nil
}
