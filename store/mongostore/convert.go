package mongostore

import (
	"github.com/dailyyoga/mongoconfigs/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// toDocument converts a decoded BSON document into plain Go values
func toDocument(d bson.D) store.Document {
	if d == nil {
		return nil
	}
	out := make(store.Document, len(d))
	for _, e := range d {
		out[e.Key] = toValue(e.Value)
	}
	return out
}

func toValue(v any) any {
	switch x := v.(type) {
	case bson.D:
		return map[string]any(toDocument(x))
	case bson.M:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = toValue(val)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = toValue(val)
		}
		return out
	case bson.DateTime:
		return x.Time().UTC()
	case bson.Decimal128:
		// kept as text so it can be parsed without precision loss
		return x.String()
	case bson.ObjectID:
		return x.Hex()
	case bson.Null, bson.Undefined:
		return nil
	case bson.Symbol:
		return string(x)
	default:
		return v
	}
}

// changeDoc is the subset of a change stream event the caches need
type changeDoc struct {
	OperationType string `bson:"operationType"`
	DocumentKey   bson.D `bson:"documentKey"`
	FullDocument  bson.D `bson:"fullDocument"`
	Namespace     struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	UpdateDescription struct {
		UpdatedFields bson.D   `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription"`
}

func (c *changeDoc) toEvent(collection string, token store.ResumeToken) store.ChangeEvent {
	ev := store.ChangeEvent{
		Collection: collection,
		Token:      token,
	}
	if key := toDocument(c.DocumentKey); key != nil {
		ev.DocumentID = key.ID()
	}
	switch c.OperationType {
	case "insert":
		ev.Op = store.OpInsert
	case "replace":
		ev.Op = store.OpReplace
	case "update":
		ev.Op = store.OpUpdate
		ev.Updated = toDocument(c.UpdateDescription.UpdatedFields)
		ev.Removed = c.UpdateDescription.RemovedFields
	case "delete":
		ev.Op = store.OpDelete
	default:
		// drop, rename, dropDatabase and invalidate all end the stream
		ev.Op = store.OpInvalidate
	}
	if c.FullDocument != nil {
		ev.FullDocument = toDocument(c.FullDocument)
	}
	return ev
}
