package tablestore

import (
	ots "github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore"
	"github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore/search"
	"github.com/golang/protobuf/proto"

	"github.com/kaiwa0/kaiwa/session"
)

// buildCreateTable converts a table schema into the wire request. Tables
// keep a single version per cell and never expire rows.
func buildCreateTable(schema session.TableSchema) *ots.CreateTableRequest {
	meta := new(ots.TableMeta)
	meta.TableName = schema.Name
	for _, pk := range schema.PrimaryKey {
		keyType := ots.PrimaryKeyType_STRING
		if pk.Type == session.KeyTypeInteger {
			keyType = ots.PrimaryKeyType_INTEGER
		}
		if pk.AutoIncrement {
			meta.AddPrimaryKeyColumnOption(pk.Name, keyType, ots.AUTO_INCREMENT)
			continue
		}
		meta.AddPrimaryKeyColumn(pk.Name, keyType)
	}

	return &ots.CreateTableRequest{
		TableMeta: meta,
		TableOption: &ots.TableOption{
			TimeToAlive: -1,
			MaxVersion:  1,
		},
		ReservedThroughput: &ots.ReservedThroughput{},
	}
}

// buildCreateSearchIndex converts an index schema into the wire request.
func buildCreateSearchIndex(schema session.IndexSchema) *ots.CreateSearchIndexRequest {
	fields := make([]*ots.FieldSchema, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fs := &ots.FieldSchema{
			FieldName: proto.String(f.Name),
			FieldType: fieldType(f.Type),
			Index:     proto.Bool(true),
			// Analyzed text cannot back sorts or aggregations.
			EnableSortAndAgg: proto.Bool(f.Type != session.FieldText),
		}
		if f.Array {
			fs.IsArray = proto.Bool(true)
		}
		fields = append(fields, fs)
	}

	req := &ots.CreateSearchIndexRequest{
		TableName:   schema.Table,
		IndexName:   schema.Name,
		IndexSchema: &ots.IndexSchema{FieldSchemas: fields},
	}
	if len(schema.RoutingFields) > 0 {
		req.IndexSchema.IndexSetting = &ots.IndexSetting{
			RoutingFields: schema.RoutingFields,
		}
	}
	if schema.SortField != "" {
		req.IndexSchema.IndexSort = &search.Sort{
			Sorters: []search.Sorter{
				&search.FieldSort{
					FieldName: schema.SortField,
					Order:     sortOrder(schema.SortDesc),
				},
			},
		}
	}
	return req
}

func fieldType(t session.FieldType) ots.FieldType {
	switch t {
	case session.FieldText:
		return ots.FieldType_TEXT
	case session.FieldLong:
		return ots.FieldType_LONG
	case session.FieldBool:
		return ots.FieldType_BOOLEAN
	default:
		return ots.FieldType_KEYWORD
	}
}
