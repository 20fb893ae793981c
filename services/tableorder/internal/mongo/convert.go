package mongo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

func field(name string) string {
	if name == "id" {
		return "_id"
	}
	return name
}

func buildFilter(filters []backend.Filter) bson.M {
	out := bson.M{}
	var and []bson.M
	for _, f := range filters {
		var cond any
		switch f.Op {
		case backend.OpNeq:
			cond = bson.M{"$ne": f.Value}
		case backend.OpIn:
			vals, _ := f.Value.([]any)
			if vals == nil {
				vals = []any{}
			}
			cond = bson.M{"$in": vals}
		default:
			cond = f.Value
		}
		key := field(f.Field)
		if _, dup := out[key]; dup {
			and = append(and, bson.M{key: cond})
			continue
		}
		out[key] = cond
	}
	if len(and) > 0 {
		out["$and"] = and
	}
	return out
}

func buildSort(order []backend.Sort) bson.D {
	var out bson.D
	for _, s := range order {
		dir := 1
		if s.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: field(s.Field), Value: dir})
	}
	return out
}

func toDocument(rec backend.Record) bson.M {
	doc := make(bson.M, len(rec))
	for k, v := range rec {
		doc[field(k)] = v
	}
	return doc
}

func toRecord(doc bson.M) backend.Record {
	rec := make(backend.Record, len(doc))
	for k, v := range doc {
		if k == "_id" {
			k = "id"
		}
		rec[k] = plain(v)
	}
	return rec
}

// plain converts driver value types into the shapes record decoding expects.
func plain(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		return t.String()
	case bson.M:
		return map[string]any(toRecord(t))
	case bson.D:
		return map[string]any(toRecord(t.Map()))
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}
