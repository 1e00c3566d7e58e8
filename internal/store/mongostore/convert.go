package mongostore

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"bookcatalog/internal/catalog"
)

// toBSON maps catalog keys and values to their stored form.
// ok is false when the "id" value is not a valid ObjectID, so nothing can match it.
func toBSON(m map[string]any) (bson.M, bool) {
	out := make(bson.M, len(m))
	for k, v := range m {
		if k == catalog.FieldID {
			oid, ok := objectID(v)
			if !ok {
				return nil, false
			}
			out["_id"] = oid
			continue
		}
		if id, ok := v.(catalog.ID); ok {
			if oid, err := primitive.ObjectIDFromHex(string(id)); err == nil {
				out[k] = oid
				continue
			}
			out[k] = string(id)
			continue
		}
		out[k] = v
	}
	return out, true
}

func objectID(v any) (primitive.ObjectID, bool) {
	var s string
	switch x := v.(type) {
	case primitive.ObjectID:
		return x, true
	case catalog.ID:
		s = string(x)
	case string:
		s = x
	default:
		return primitive.NilObjectID, false
	}
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return oid, true
}

func fromBSON(m bson.M) catalog.Document {
	doc := make(catalog.Document, len(m))
	for k, v := range m {
		if k == "_id" {
			doc[catalog.FieldID] = idString(v)
			continue
		}
		if oid, ok := v.(primitive.ObjectID); ok {
			doc[k] = catalog.ID(oid.Hex())
			continue
		}
		doc[k] = v
	}
	return doc
}

func idString(v any) catalog.ID {
	switch x := v.(type) {
	case primitive.ObjectID:
		return catalog.ID(x.Hex())
	case string:
		return catalog.ID(x)
	default:
		return ""
	}
}
