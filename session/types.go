package session

// Primary-key and attribute column names shared by the conversation tables.
const (
	pkAgentID   = "agent_id"
	pkUserID    = "user_id"
	pkSessionID = "session_id"
	pkSeqID     = "seq_id"

	colCreatedAt  = "created_at"
	colUpdatedAt  = "updated_at"
	colVersion    = VersionColumn
	colIsPinned   = "is_pinned"
	colSummary    = "summary"
	colLabels     = "labels"
	colFramework  = "framework"
	colExtensions = "extensions"
	colType       = "type"
	colContent    = "content"
	colRawEvent   = "raw_event"
	colState      = "state"
	colChunkCount = "chunk_count"
)

// Session is one conversation thread owned by an (agent, user) pair.
// Timestamps are nanoseconds since the Unix epoch.
type Session struct {
	AgentID   string
	UserID    string
	SessionID string

	CreatedAt int64
	UpdatedAt int64

	// IsPinned protects the session from bulk cleanup jobs.
	IsPinned bool

	// Summary is a human-readable digest, full-text searchable.
	Summary string

	// Labels are exact-match search tags.
	Labels []string

	// Framework records which adapter wrote the session. The store never
	// interprets it.
	Framework string

	// Extensions is an open JSON object for adapter-specific data. The
	// store round-trips it opaquely.
	Extensions map[string]any

	// Version counts successful writes, starting at 1 on creation. Updates
	// must present the current value (compare-and-set).
	Version int64
}

// SessionAttrs carries the optional attributes of a new session. Zero-value
// fields are not stored.
type SessionAttrs struct {
	IsPinned   bool
	Summary    string
	Labels     []string
	Framework  string
	Extensions map[string]any
}

// SessionPatch mutates a subset of session attributes. Nil fields keep the
// stored value; set fields replace it wholesale (Extensions is replaced, not
// merged).
type SessionPatch struct {
	IsPinned   *bool
	Summary    *string
	Labels     *[]string
	Framework  *string
	Extensions map[string]any
}

// isZero reports whether the patch changes nothing beyond the update
// timestamp and version.
func (p SessionPatch) isZero() bool {
	return p.IsPinned == nil && p.Summary == nil && p.Labels == nil &&
		p.Framework == nil && p.Extensions == nil
}

// Event is one record in a session's ordered history.
type Event struct {
	AgentID   string
	UserID    string
	SessionID string

	// SeqID is assigned by the store on append, strictly increasing within
	// the session. It is the event's position, not necessarily contiguous.
	SeqID int64

	// Type discriminates event kinds for the consuming adapter.
	Type string

	// Content is the structured event payload.
	Content map[string]any

	// RawEvent optionally carries the adapter's verbatim serialized event,
	// stored opaquely.
	RawEvent string

	CreatedAt int64
	UpdatedAt int64
	Version   int64
}

// EventData carries the caller-supplied parts of a new event. Zero
// timestamps default to the append time.
type EventData struct {
	Type      string
	Content   map[string]any
	RawEvent  string
	CreatedAt int64
	UpdatedAt int64
}

// Scope selects one of the three state tiers.
type Scope int

const (
	// ScopeApp is shared by every user and session of an agent.
	ScopeApp Scope = iota
	// ScopeUser is shared by every session of an (agent, user) pair.
	ScopeUser
	// ScopeSession belongs to one session.
	ScopeSession
)

// String returns the scope name for logs.
func (s Scope) String() string {
	switch s {
	case ScopeApp:
		return "app"
	case ScopeUser:
		return "user"
	case ScopeSession:
		return "session"
	default:
		return "unknown"
	}
}

// StateData is one scope's stored key-value state.
type StateData struct {
	Scope     Scope
	AgentID   string
	UserID    string
	SessionID string

	// State is the decoded payload.
	State map[string]any

	// ChunkCount is how many chunk columns hold the payload; 0 means it is
	// stored inline.
	ChunkCount int

	CreatedAt int64
	UpdatedAt int64
	Version   int64
}

// ListOptions tunes session listing.
type ListOptions struct {
	// Limit caps the result; <= 0 returns everything.
	Limit int32

	// Ascending lists oldest-first. Default is most recently updated first.
	Ascending bool
}

// DefaultSearchLimit caps SearchSessions results when the filter does not
// set a limit.
const DefaultSearchLimit = 100

// SearchFilter describes a SearchSessions query. Zero-value fields are
// ignored; set fields are ANDed. Results are eventually consistent with
// writes.
type SearchFilter struct {
	// UserID restricts to one user.
	UserID string

	// SummaryKeyword full-text-matches the summary.
	SummaryKeyword string

	// Label matches sessions carrying this exact label.
	Label string

	// Framework matches the writing adapter's name exactly.
	Framework string

	// IsPinned filters on the pinned flag; nil means both.
	IsPinned *bool

	// Update/creation time bounds, exclusive, in epoch nanoseconds. Zero
	// leaves the bound open.
	UpdatedAfter  int64
	UpdatedBefore int64
	CreatedAfter  int64
	CreatedBefore int64

	// Limit caps the page (default DefaultSearchLimit); Offset skips hits.
	Limit  int32
	Offset int32
}
