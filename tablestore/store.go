package tablestore

import (
	"context"
	"fmt"

	ots "github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore"
	"github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore/search"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kaiwa0/kaiwa/session"
)

// CreateTable provisions one table. An existing table of the same name
// returns session.ErrAlreadyExists.
func (s *Store) CreateTable(ctx context.Context, schema session.TableSchema) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	span := s.span(ctx, "ots.create_table", schema.Name)
	defer span.End()

	if _, err := s.client.CreateTable(buildCreateTable(schema)); err != nil {
		return s.fail(span, translateError("create table", err, session.Condition{}))
	}
	return nil
}

// CreateSearchIndex provisions one search index. An existing index of the
// same name returns session.ErrAlreadyExists.
func (s *Store) CreateSearchIndex(ctx context.Context, schema session.IndexSchema) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	span := s.span(ctx, "ots.create_search_index", schema.Table,
		attribute.String("ots.index", schema.Name))
	defer span.End()

	if _, err := s.client.CreateSearchIndex(buildCreateSearchIndex(schema)); err != nil {
		return s.fail(span, translateError("create search index", err, session.Condition{}))
	}
	return nil
}

// Get reads one row. A missing row returns (nil, nil).
func (s *Store) Get(ctx context.Context, table string, key session.PrimaryKey, columns []string) (*session.Row, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	span := s.span(ctx, "ots.get_row", table)
	defer span.End()

	criteria := &ots.SingleRowQueryCriteria{
		TableName:  table,
		PrimaryKey: toPrimaryKey(key),
		MaxVersion: 1,
	}
	if len(columns) > 0 {
		criteria.ColumnsToGet = columns
	}

	resp, err := s.client.GetRow(&ots.GetRowRequest{SingleRowQueryCriteria: criteria})
	if err != nil {
		return nil, s.fail(span, translateError("get row", err, session.Condition{}))
	}
	if len(resp.PrimaryKey.PrimaryKeys) == 0 {
		return nil, nil
	}
	row := fromRow(&resp.PrimaryKey, resp.Columns)
	return &row, nil
}

// Put writes a full row under cond and returns the stored primary key,
// with any auto-increment component filled in by the store.
func (s *Store) Put(ctx context.Context, table string, key session.PrimaryKey, cols []session.Column, cond session.Condition) (session.PrimaryKey, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	span := s.span(ctx, "ots.put_row", table)
	defer span.End()

	change := &ots.PutRowChange{
		TableName:  table,
		PrimaryKey: toPrimaryKey(key),
	}
	for _, c := range cols {
		change.AddColumn(c.Name, c.Value)
	}
	applyCondition(change, cond)
	change.SetReturnPk()

	resp, err := s.client.PutRow(&ots.PutRowRequest{PutRowChange: change})
	if err != nil {
		return nil, s.fail(span, translateError("put row", err, cond))
	}
	return fromPrimaryKey(&resp.PrimaryKey), nil
}

// Update applies column puts and deletes to one row under cond.
func (s *Store) Update(ctx context.Context, table string, key session.PrimaryKey, put []session.Column, del []string, cond session.Condition) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	span := s.span(ctx, "ots.update_row", table)
	defer span.End()

	change := &ots.UpdateRowChange{
		TableName:  table,
		PrimaryKey: toPrimaryKey(key),
	}
	for _, c := range put {
		change.PutColumn(c.Name, c.Value)
	}
	for _, name := range del {
		change.DeleteColumn(name)
	}
	applyCondition(change, cond)

	if _, err := s.client.UpdateRow(&ots.UpdateRowRequest{UpdateRowChange: change}); err != nil {
		return s.fail(span, translateError("update row", err, cond))
	}
	return nil
}

// Delete removes one row. Deleting an absent row is not an error.
func (s *Store) Delete(ctx context.Context, table string, key session.PrimaryKey) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	span := s.span(ctx, "ots.delete_row", table)
	defer span.End()

	change := &ots.DeleteRowChange{
		TableName:  table,
		PrimaryKey: toPrimaryKey(key),
	}
	change.SetCondition(ots.RowExistenceExpectation_IGNORE)

	if _, err := s.client.DeleteRow(&ots.DeleteRowRequest{DeleteRowChange: change}); err != nil {
		return s.fail(span, translateError("delete row", err, session.Condition{}))
	}
	return nil
}

// Scan reads one page of rows in the range and returns the continuation
// key, nil when the range is exhausted.
func (s *Store) Scan(ctx context.Context, table string, rng session.ScanRange) ([]session.Row, session.PrimaryKey, error) {
	if err := s.wait(ctx); err != nil {
		return nil, nil, err
	}
	span := s.span(ctx, "ots.get_range", table)
	defer span.End()

	criteria := &ots.RangeRowQueryCriteria{
		TableName:       table,
		StartPrimaryKey: toPrimaryKey(rng.Start),
		EndPrimaryKey:   toPrimaryKey(rng.End),
		Direction:       ots.FORWARD,
		MaxVersion:      1,
	}
	if rng.Reverse {
		criteria.Direction = ots.BACKWARD
	}
	if rng.Limit > 0 {
		criteria.Limit = rng.Limit
	}
	if len(rng.Columns) > 0 {
		criteria.ColumnsToGet = rng.Columns
	}

	resp, err := s.client.GetRange(&ots.GetRangeRequest{RangeRowQueryCriteria: criteria})
	if err != nil {
		return nil, nil, s.fail(span, translateError("get range", err, session.Condition{}))
	}

	rows := make([]session.Row, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		rows = append(rows, fromRow(r.PrimaryKey, r.Columns))
	}
	return rows, fromPrimaryKey(resp.NextStartPrimaryKey), nil
}

// BatchDelete removes up to session.MaxBatchDelete rows in one round
// trip. Row-level failures come back as a *session.PartialError.
func (s *Store) BatchDelete(ctx context.Context, table string, keys []session.PrimaryKey) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > session.MaxBatchDelete {
		return fmt.Errorf("%w: batch of %d exceeds %d rows",
			session.ErrInvalidArgument, len(keys), session.MaxBatchDelete)
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	span := s.span(ctx, "ots.batch_write_row", table,
		attribute.Int("ots.rows", len(keys)))
	defer span.End()

	req := new(ots.BatchWriteRowRequest)
	for _, key := range keys {
		change := &ots.DeleteRowChange{
			TableName:  table,
			PrimaryKey: toPrimaryKey(key),
		}
		change.SetCondition(ots.RowExistenceExpectation_IGNORE)
		req.AddRowChange(change)
	}

	resp, err := s.client.BatchWriteRow(req)
	if err != nil {
		return s.fail(span, translateError("batch delete", err, session.Condition{}))
	}

	var failures []session.RowFailure
	for _, results := range resp.TableToRowsResult {
		for _, r := range results {
			if r.IsSucceed {
				continue
			}
			f := session.RowFailure{Err: rowError(r.Error)}
			if i := int(r.Index); i >= 0 && i < len(keys) {
				f.Key = keys[i]
			}
			failures = append(failures, f)
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("batch delete partially failed",
			"table", table,
			"failed", len(failures),
			"total", len(keys),
		)
		return s.fail(span, &session.PartialError{Op: "batch delete", Failures: failures})
	}
	return nil
}

// Search runs a conjunctive query against a search index.
func (s *Store) Search(ctx context.Context, table, index string, query session.SearchQuery) (session.SearchResult, error) {
	if err := s.wait(ctx); err != nil {
		return session.SearchResult{}, err
	}
	span := s.span(ctx, "ots.search", table,
		attribute.String("ots.index", index))
	defer span.End()

	sq := search.NewSearchQuery().SetQuery(buildQuery(query))
	if query.Limit > 0 {
		sq.SetLimit(query.Limit)
	}
	if query.Offset > 0 {
		sq.SetOffset(query.Offset)
	}
	if query.WithTotal {
		sq.SetGetTotalCount(true)
	}
	if query.SortField != "" {
		sq.SetSort(&search.Sort{
			Sorters: []search.Sorter{
				&search.FieldSort{
					FieldName: query.SortField,
					Order:     sortOrder(query.SortDesc),
				},
			},
		})
	}

	req := &ots.SearchRequest{}
	req.SetTableName(table).SetIndexName(index).SetSearchQuery(sq)
	req.SetColumnsToGet(&ots.ColumnsToGet{ReturnAll: true})

	resp, err := s.client.Search(req)
	if err != nil {
		return session.SearchResult{}, s.fail(span, translateError("search", err, session.Condition{}))
	}

	result := session.SearchResult{Rows: make([]session.Row, 0, len(resp.Rows))}
	for _, r := range resp.Rows {
		result.Rows = append(result.Rows, fromRow(r.PrimaryKey, r.Columns))
	}
	if query.WithTotal {
		result.Total = resp.TotalCount
	}
	return result, nil
}
