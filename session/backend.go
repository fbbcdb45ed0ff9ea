package session

import "context"

// MaxBatchDelete is the largest key set a single BatchDelete call accepts,
// matching the store's batch-write row cap.
const MaxBatchDelete = 200

// Bound is a marker value used in primary keys where a concrete value is not
// known: open range ends and store-assigned key components.
type Bound int

const (
	// InfMin sorts before every concrete key value.
	InfMin Bound = iota
	// InfMax sorts after every concrete key value.
	InfMax
	// AutoIncrement marks an integer key component the store assigns on Put,
	// strictly increasing within the prefix formed by the preceding
	// components.
	AutoIncrement
)

// PrimaryKeyColumn is one component of a row's primary key. Value is a
// string, an int64, or a Bound marker.
type PrimaryKeyColumn struct {
	Name  string
	Value any
}

// PrimaryKey identifies a row. Components are ordered as declared in the
// table schema.
type PrimaryKey []PrimaryKeyColumn

// String returns the named string component, or "" when absent or not a
// string.
func (k PrimaryKey) String(name string) string {
	for _, c := range k {
		if c.Name == name {
			if s, ok := c.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Int64 returns the named integer component, or 0 when absent or not an
// integer.
func (k PrimaryKey) Int64(name string) int64 {
	for _, c := range k {
		if c.Name == name {
			if v, ok := c.Value.(int64); ok {
				return v
			}
		}
	}
	return 0
}

// Column is a named attribute value: string, int64, bool or float64.
type Column struct {
	Name  string
	Value any
}

// Row is a stored row: its primary key and whatever attribute columns the
// read returned. Wide-column rows are sparse, so any column may be absent.
type Row struct {
	Key     PrimaryKey
	Columns []Column
}

// Column returns the named attribute value.
func (r *Row) Column(name string) (any, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// String returns the named attribute as a string, or "" when absent or of
// another type.
func (r *Row) String(name string) string {
	if v, ok := r.Column(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Int64 returns the named attribute as an int64, or 0 when absent or of
// another type.
func (r *Row) Int64(name string) int64 {
	if v, ok := r.Column(name); ok {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}

// Bool returns the named attribute as a bool, or false when absent or of
// another type.
func (r *Row) Bool(name string) bool {
	if v, ok := r.Column(name); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Existence states the row-existence expectation attached to a write.
type Existence int

const (
	// ExistenceAny applies the write whether or not the row exists.
	ExistenceAny Existence = iota
	// MustExist rejects the write when the row is absent.
	MustExist
	// MustNotExist rejects the write when the row is already present.
	MustNotExist
)

// VersionColumn is the attribute column Condition.ExpectVersion checks.
const VersionColumn = "version"

// Condition guards a write. The zero value applies it unconditionally.
type Condition struct {
	Existence Existence

	// ExpectVersion, when set, additionally requires the stored
	// VersionColumn to equal this value (compare-and-set).
	ExpectVersion *int64
}

// ScanRange describes one page of a primary-key range read. Start is
// inclusive and End exclusive; a reverse scan runs from Start down to End,
// so Start must sort after End. Open range ends use InfMin/InfMax key
// components.
type ScanRange struct {
	Start   PrimaryKey
	End     PrimaryKey
	Reverse bool

	// Limit caps the rows returned in this page; <= 0 uses the store's
	// default page size.
	Limit int32

	// Columns restricts the attribute columns returned; nil returns all.
	Columns []string
}

// TermFilter matches a field exactly. Value is a string, int64 or bool.
type TermFilter struct {
	Field string
	Value any
}

// MatchFilter matches an analyzed full-text field.
type MatchFilter struct {
	Field string
	Text  string
}

// RangeFilter bounds a numeric field. Nil bounds leave that end open; both
// bounds are exclusive.
type RangeFilter struct {
	Field       string
	GreaterThan *int64
	LessThan    *int64
}

// SearchQuery is a conjunctive search-index query: every filter must hold.
type SearchQuery struct {
	Terms   []TermFilter
	Matches []MatchFilter
	Ranges  []RangeFilter

	Limit  int32
	Offset int32

	// SortField orders results; empty keeps the index's presorted order.
	SortField string
	SortDesc  bool

	// WithTotal asks the index for the total match count alongside the page.
	WithTotal bool
}

// SearchResult is one page of search hits plus the total match count when
// requested (0 otherwise).
type SearchResult struct {
	Rows  []Row
	Total int64
}

// KeyType enumerates primary-key component types.
type KeyType int

const (
	KeyTypeString KeyType = iota
	KeyTypeInteger
)

// PrimaryKeySchema declares one primary-key component of a table.
type PrimaryKeySchema struct {
	Name          string
	Type          KeyType
	AutoIncrement bool
}

// TableSchema declares a table to provision.
type TableSchema struct {
	Name       string
	PrimaryKey []PrimaryKeySchema
}

// FieldType enumerates search-index field kinds.
type FieldType int

const (
	// FieldKeyword indexes the exact value.
	FieldKeyword FieldType = iota
	// FieldText analyzes the value for full-text matching.
	FieldText
	// FieldLong indexes an integer, sortable and range-queryable.
	FieldLong
	// FieldBool indexes a boolean.
	FieldBool
)

// IndexField declares one search-index field. Array fields index each
// element of a JSON-array column individually.
type IndexField struct {
	Name  string
	Type  FieldType
	Array bool
}

// IndexSchema declares a search index to provision over a table.
type IndexSchema struct {
	Table  string
	Name   string
	Fields []IndexField

	// RoutingFields partition the index; queries filtered on all of them
	// touch a single partition.
	RoutingFields []string

	// SortField presorts the index so unsorted queries return this order.
	SortField string
	SortDesc  bool
}

// Backend is the storage contract the entity stores run on. Implementations
// map these primitives onto a sparse wide-column store; tablestore.Store is
// the production implementation.
//
// Implementations translate store failures into this package's sentinel
// errors: a rejected conditional write surfaces as ErrAlreadyExists,
// ErrVersionConflict or ErrNotFound depending on the condition that failed,
// malformed requests as ErrInvalidArgument, and transport or server faults
// as ErrUnavailable.
type Backend interface {
	// CreateTable provisions a table. An existing table of the same name
	// returns ErrAlreadyExists.
	CreateTable(ctx context.Context, schema TableSchema) error

	// CreateSearchIndex provisions a search index over an existing table. An
	// existing index of the same name returns ErrAlreadyExists.
	CreateSearchIndex(ctx context.Context, schema IndexSchema) error

	// Get reads one row. A missing row returns (nil, nil).
	Get(ctx context.Context, table string, key PrimaryKey, columns []string) (*Row, error)

	// Put writes a full row under cond and returns the stored primary key,
	// which differs from key when a component is AutoIncrement.
	Put(ctx context.Context, table string, key PrimaryKey, cols []Column, cond Condition) (PrimaryKey, error)

	// Update applies column puts and deletes to one row under cond. With
	// ExistenceAny it creates the row when absent.
	Update(ctx context.Context, table string, key PrimaryKey, put []Column, del []string, cond Condition) error

	// Delete removes one row. Deleting an absent row is not an error.
	Delete(ctx context.Context, table string, key PrimaryKey) error

	// Scan reads one page of rows in the range and returns the continuation
	// key for the next page, nil when the range is exhausted.
	Scan(ctx context.Context, table string, rng ScanRange) ([]Row, PrimaryKey, error)

	// BatchDelete removes up to MaxBatchDelete rows in one round trip.
	// Row-level failures are reported as a *PartialError; rows absent from
	// the table are not failures.
	BatchDelete(ctx context.Context, table string, keys []PrimaryKey) error

	// Search runs a conjunctive query against a search index. The index is
	// eventually consistent with the table it covers.
	Search(ctx context.Context, table, index string, query SearchQuery) (SearchResult, error)
}
