package tablestore

import (
	ots "github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore"
	"github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore/search"

	"github.com/kaiwa0/kaiwa/session"
)

// toPrimaryKey converts a key to the wire form, expanding Bound markers
// into the store's virtual min/max columns and auto-increment placeholder.
func toPrimaryKey(key session.PrimaryKey) *ots.PrimaryKey {
	pk := new(ots.PrimaryKey)
	for _, c := range key {
		if b, ok := c.Value.(session.Bound); ok {
			switch b {
			case session.InfMin:
				pk.AddPrimaryKeyColumnWithMinValue(c.Name)
			case session.InfMax:
				pk.AddPrimaryKeyColumnWithMaxValue(c.Name)
			case session.AutoIncrement:
				pk.AddPrimaryKeyColumnWithAutoIncrement(c.Name)
			}
			continue
		}
		pk.AddPrimaryKeyColumn(c.Name, c.Value)
	}
	return pk
}

func fromPrimaryKey(pk *ots.PrimaryKey) session.PrimaryKey {
	if pk == nil || len(pk.PrimaryKeys) == 0 {
		return nil
	}
	out := make(session.PrimaryKey, 0, len(pk.PrimaryKeys))
	for _, c := range pk.PrimaryKeys {
		out = append(out, session.PrimaryKeyColumn{Name: c.ColumnName, Value: c.Value})
	}
	return out
}

func fromRow(pk *ots.PrimaryKey, cols []*ots.AttributeColumn) session.Row {
	row := session.Row{Key: fromPrimaryKey(pk)}
	if len(cols) > 0 {
		row.Columns = make([]session.Column, 0, len(cols))
		for _, c := range cols {
			row.Columns = append(row.Columns, session.Column{Name: c.ColumnName, Value: c.Value})
		}
	}
	return row
}

// conditioned is the condition surface shared by the row change types.
type conditioned interface {
	SetCondition(rowExistenceExpectation ots.RowExistenceExpectation)
	SetColumnCondition(condition ots.ColumnCondition)
}

func applyCondition(rc conditioned, cond session.Condition) {
	switch cond.Existence {
	case session.MustExist:
		rc.SetCondition(ots.RowExistenceExpectation_EXPECT_EXIST)
	case session.MustNotExist:
		rc.SetCondition(ots.RowExistenceExpectation_EXPECT_NOT_EXIST)
	default:
		rc.SetCondition(ots.RowExistenceExpectation_IGNORE)
	}
	if cond.ExpectVersion != nil {
		rc.SetColumnCondition(ots.NewSingleColumnCondition(
			session.VersionColumn, ots.CT_EQUAL, *cond.ExpectVersion))
	}
}

// buildQuery assembles the conjunctive bool query for one search call.
func buildQuery(q session.SearchQuery) *search.BoolQuery {
	bq := &search.BoolQuery{}
	for _, t := range q.Terms {
		bq.MustQueries = append(bq.MustQueries, &search.TermQuery{
			FieldName: t.Field,
			Term:      t.Value,
		})
	}
	for _, m := range q.Matches {
		bq.MustQueries = append(bq.MustQueries, &search.MatchQuery{
			FieldName: m.Field,
			Text:      m.Text,
		})
	}
	for _, r := range q.Ranges {
		rq := &search.RangeQuery{FieldName: r.Field}
		if r.GreaterThan != nil {
			rq.GT(*r.GreaterThan)
		}
		if r.LessThan != nil {
			rq.LT(*r.LessThan)
		}
		bq.MustQueries = append(bq.MustQueries, rq)
	}
	return bq
}

func sortOrder(desc bool) *search.SortOrder {
	if desc {
		return search.SortOrder_DESC.Enum()
	}
	return search.SortOrder_ASC.Enum()
}
