package session

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/kaiwa0/kaiwa/internal/codec"
)

// memBackend is an in-memory Backend for tests. It enforces the same
// conditional-write and range semantics the production adapter maps onto
// the store, records every call as "op:table", and injects failures per
// call kind.
type memBackend struct {
	mu      sync.Mutex
	tables  map[string]map[string]*memRow
	schemas map[string]TableSchema
	indexes map[string]IndexSchema
	seqs    map[string]int64

	// pageSize caps Scan pages regardless of ScanRange.Limit, to force
	// pagination. 0 leaves pages unbounded.
	pageSize int

	// dropPutPK makes Put return a nil primary key.
	dropPutPK bool

	// failures maps "op:table" to an error returned before the operation
	// runs.
	failures map[string]error

	// callLog records "op:table" in invocation order.
	callLog []string

	// onUpdate runs at the start of Update, before the condition check,
	// with the backend lock held. It must touch the maps directly.
	onUpdate func(table string)
}

type memRow struct {
	key  PrimaryKey
	cols map[string]any
}

func newMemBackend() *memBackend {
	return &memBackend{
		tables:   map[string]map[string]*memRow{},
		schemas:  map[string]TableSchema{},
		indexes:  map[string]IndexSchema{},
		seqs:     map[string]int64{},
		failures: map[string]error{},
	}
}

func (m *memBackend) CreateTable(_ context.Context, schema TableSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("createTable", schema.Name); err != nil {
		return err
	}
	if _, ok := m.schemas[schema.Name]; ok {
		return fmt.Errorf("table %q: %w", schema.Name, ErrAlreadyExists)
	}
	m.schemas[schema.Name] = schema
	m.bucket(schema.Name)
	return nil
}

func (m *memBackend) CreateSearchIndex(_ context.Context, schema IndexSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("createSearchIndex", schema.Name); err != nil {
		return err
	}
	if _, ok := m.indexes[schema.Name]; ok {
		return fmt.Errorf("index %q: %w", schema.Name, ErrAlreadyExists)
	}
	m.indexes[schema.Name] = schema
	return nil
}

func (m *memBackend) Get(_ context.Context, table string, key PrimaryKey, columns []string) (*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get", table); err != nil {
		return nil, err
	}
	r, ok := m.bucket(table)[canonicalKey(key)]
	if !ok {
		return nil, nil
	}
	row := r.toRow(columns)
	return &row, nil
}

func (m *memBackend) Put(_ context.Context, table string, key PrimaryKey, cols []Column, cond Condition) (PrimaryKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("put", table); err != nil {
		return nil, err
	}

	stored := slices.Clone(key)
	for i, c := range stored {
		if c.Value == AutoIncrement {
			sk := table + "|" + canonicalKey(stored[:i])
			m.seqs[sk]++
			stored[i].Value = m.seqs[sk]
		}
	}

	bkt := m.bucket(table)
	ck := canonicalKey(stored)
	if err := checkCond(bkt[ck], cond); err != nil {
		return nil, err
	}

	row := &memRow{key: stored, cols: map[string]any{}}
	for _, c := range cols {
		row.cols[c.Name] = c.Value
	}
	bkt[ck] = row

	if m.dropPutPK {
		return nil, nil
	}
	return stored, nil
}

func (m *memBackend) Update(_ context.Context, table string, key PrimaryKey, put []Column, del []string, cond Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("update", table); err != nil {
		return err
	}
	if m.onUpdate != nil {
		m.onUpdate(table)
	}

	bkt := m.bucket(table)
	ck := canonicalKey(key)
	row := bkt[ck]
	if err := checkCond(row, cond); err != nil {
		return err
	}
	if row == nil {
		row = &memRow{key: slices.Clone(key), cols: map[string]any{}}
		bkt[ck] = row
	}
	for _, c := range put {
		row.cols[c.Name] = c.Value
	}
	for _, name := range del {
		delete(row.cols, name)
	}
	return nil
}

func (m *memBackend) Delete(_ context.Context, table string, key PrimaryKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete", table); err != nil {
		return err
	}
	delete(m.bucket(table), canonicalKey(key))
	return nil
}

func (m *memBackend) Scan(_ context.Context, table string, rng ScanRange) ([]Row, PrimaryKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("scan", table); err != nil {
		return nil, nil, err
	}

	var rows []*memRow
	for _, r := range m.bucket(table) {
		if inRange(r.key, rng) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rng.Reverse {
			return compareKeys(rows[i].key, rows[j].key) > 0
		}
		return compareKeys(rows[i].key, rows[j].key) < 0
	})

	n := len(rows)
	if rng.Limit > 0 && int(rng.Limit) < n {
		n = int(rng.Limit)
	}
	if m.pageSize > 0 && m.pageSize < n {
		n = m.pageSize
	}

	out := make([]Row, 0, n)
	for _, r := range rows[:n] {
		out = append(out, r.toRow(rng.Columns))
	}
	var next PrimaryKey
	if n < len(rows) {
		next = slices.Clone(rows[n].key)
	}
	return out, next, nil
}

func (m *memBackend) BatchDelete(_ context.Context, table string, keys []PrimaryKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("batchDelete", table); err != nil {
		return err
	}
	if len(keys) > MaxBatchDelete {
		return fmt.Errorf("%d keys exceed the batch cap: %w", len(keys), ErrInvalidArgument)
	}
	for _, k := range keys {
		delete(m.bucket(table), canonicalKey(k))
	}
	return nil
}

func (m *memBackend) Search(_ context.Context, table, index string, query SearchQuery) (SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("search", table); err != nil {
		return SearchResult{}, err
	}

	arrayFields := map[string]bool{}
	if schema, ok := m.indexes[index]; ok {
		for _, f := range schema.Fields {
			if f.Array {
				arrayFields[f.Name] = true
			}
		}
	}

	var hits []*memRow
	for _, r := range m.bucket(table) {
		if matchesQuery(r, query, arrayFields) {
			hits = append(hits, r)
		}
	}

	if query.SortField != "" {
		sort.Slice(hits, func(i, j int) bool {
			vi := fieldInt64(hits[i], query.SortField)
			vj := fieldInt64(hits[j], query.SortField)
			if query.SortDesc {
				return vi > vj
			}
			return vi < vj
		})
	}

	total := int64(len(hits))
	if int(query.Offset) < len(hits) {
		hits = hits[query.Offset:]
	} else {
		hits = nil
	}
	if query.Limit > 0 && int(query.Limit) < len(hits) {
		hits = hits[:query.Limit]
	}

	res := SearchResult{Rows: make([]Row, 0, len(hits))}
	for _, r := range hits {
		res.Rows = append(res.Rows, r.toRow(nil))
	}
	if query.WithTotal {
		res.Total = total
	}
	return res, nil
}

func (m *memBackend) enter(op, name string) error {
	m.callLog = append(m.callLog, op+":"+name)
	return m.failures[op+":"+name]
}

func (m *memBackend) bucket(table string) map[string]*memRow {
	if m.tables[table] == nil {
		m.tables[table] = map[string]*memRow{}
	}
	return m.tables[table]
}

// plant seeds a raw row, bypassing conditions.
func (m *memBackend) plant(table string, key PrimaryKey, cols map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]any, len(cols))
	for k, v := range cols {
		cp[k] = v
	}
	m.bucket(table)[canonicalKey(key)] = &memRow{key: slices.Clone(key), cols: cp}
}

// lookup returns a copy of one row's columns, nil when the row is absent.
func (m *memBackend) lookup(table string, key PrimaryKey) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.bucket(table)[canonicalKey(key)]
	if !ok {
		return nil
	}
	cp := make(map[string]any, len(r.cols))
	for k, v := range r.cols {
		cp[k] = v
	}
	return cp
}

func (m *memBackend) rowCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bucket(table))
}

func (m *memBackend) callCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.callLog {
		if c == call {
			n++
		}
	}
	return n
}

// callIndex returns the position of the first matching call, -1 when it
// never happened.
func (m *memBackend) callIndex(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Index(m.callLog, call)
}

func (r *memRow) toRow(columns []string) Row {
	out := Row{Key: slices.Clone(r.key)}
	names := make([]string, 0, len(r.cols))
	for name := range r.cols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if len(columns) > 0 && !slices.Contains(columns, name) {
			continue
		}
		out.Columns = append(out.Columns, Column{Name: name, Value: r.cols[name]})
	}
	return out
}

func checkCond(row *memRow, cond Condition) error {
	switch cond.Existence {
	case MustNotExist:
		if row != nil {
			return fmt.Errorf("row already exists: %w", ErrAlreadyExists)
		}
	case MustExist:
		if row == nil {
			return fmt.Errorf("row does not exist: %w", ErrNotFound)
		}
	}
	if cond.ExpectVersion == nil {
		return nil
	}
	if row == nil {
		return fmt.Errorf("version check on absent row: %w", ErrVersionConflict)
	}
	v, _ := row.cols[colVersion].(int64)
	if v != *cond.ExpectVersion {
		return fmt.Errorf("stored version %d, expected %d: %w", v, *cond.ExpectVersion, ErrVersionConflict)
	}
	return nil
}

func canonicalKey(key PrimaryKey) string {
	var b strings.Builder
	for _, c := range key {
		fmt.Fprintf(&b, "%s:%T:%v|", c.Name, c.Value, c.Value)
	}
	return b.String()
}

func compareKeys(a, b PrimaryKey) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := compareKeyValue(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareKeyValue(a, b any) int {
	ab, aBound := a.(Bound)
	bb, bBound := b.(Bound)
	switch {
	case aBound && bBound:
		return boundRank(ab) - boundRank(bb)
	case aBound:
		return boundRank(ab)
	case bBound:
		return -boundRank(bb)
	}
	switch av := a.(type) {
	case string:
		return strings.Compare(av, b.(string))
	case int64:
		bv := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

func boundRank(b Bound) int {
	if b == InfMin {
		return -1
	}
	return 1
}

func inRange(key PrimaryKey, rng ScanRange) bool {
	if rng.Reverse {
		return compareKeys(key, rng.Start) <= 0 && compareKeys(key, rng.End) > 0
	}
	return compareKeys(key, rng.Start) >= 0 && compareKeys(key, rng.End) < 0
}

func matchesQuery(r *memRow, q SearchQuery, arrayFields map[string]bool) bool {
	for _, t := range q.Terms {
		if arrayFields[t.Field] {
			s, _ := fieldValue(r, t.Field).(string)
			elems, err := codec.DecodeStrings(s)
			if err != nil || !slices.Contains(elems, t.Value.(string)) {
				return false
			}
			continue
		}
		if fieldValue(r, t.Field) != t.Value {
			return false
		}
	}
	for _, mf := range q.Matches {
		s, _ := fieldValue(r, mf.Field).(string)
		if !strings.Contains(strings.ToLower(s), strings.ToLower(mf.Text)) {
			return false
		}
	}
	for _, rf := range q.Ranges {
		v := fieldInt64(r, rf.Field)
		if rf.GreaterThan != nil && v <= *rf.GreaterThan {
			return false
		}
		if rf.LessThan != nil && v >= *rf.LessThan {
			return false
		}
	}
	return true
}

func fieldValue(r *memRow, field string) any {
	for _, c := range r.key {
		if c.Name == field {
			return c.Value
		}
	}
	return r.cols[field]
}

func fieldInt64(r *memRow, field string) int64 {
	v, _ := fieldValue(r, field).(int64)
	return v
}
