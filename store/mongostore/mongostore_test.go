package mongostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := &Config{URI: "mongodb://db:27017"}
	cfg.MergeDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mongodb://db:27017", cfg.URI)
	assert.Equal(t, "configs", cfg.Database)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestConfig_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestToDocument_Normalizes(t *testing.T) {
	oid := bson.NewObjectID()
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dec, err := bson.ParseDecimal128("12.50")
	require.NoError(t, err)

	doc := toDocument(bson.D{
		{Key: "_id", Value: oid},
		{Key: "nested", Value: bson.D{{Key: "lines", Value: bson.A{"a", "b"}}}},
		{Key: "at", Value: bson.NewDateTimeFromTime(when)},
		{Key: "price", Value: dec},
		{Key: "nothing", Value: bson.Null{}},
		{Key: "count", Value: int32(3)},
	})

	assert.Equal(t, oid.Hex(), doc.ID())
	assert.Equal(t, map[string]any{"lines": []any{"a", "b"}}, doc["nested"])
	assert.Equal(t, when, doc["at"])
	assert.Equal(t, "12.50", doc["price"])
	assert.Nil(t, doc["nothing"])
	assert.Equal(t, int32(3), doc["count"])
}

func TestChangeDoc_ToEvent(t *testing.T) {
	c := changeDoc{
		OperationType: "update",
		DocumentKey:   bson.D{{Key: "_id", Value: "pl"}},
		FullDocument:  bson.D{{Key: "_id", Value: "pl"}, {Key: "greeting", Value: "Cześć"}},
	}
	c.UpdateDescription.UpdatedFields = bson.D{{Key: "greeting", Value: "Cześć"}}
	c.UpdateDescription.RemovedFields = []string{"old"}

	ev := c.toEvent("shop", store.ResumeToken("tok"))
	assert.Equal(t, store.OpUpdate, ev.Op)
	assert.Equal(t, "shop", ev.Collection)
	assert.Equal(t, "pl", ev.DocumentID)
	assert.Equal(t, store.Document{"greeting": "Cześć"}, ev.Updated)
	assert.Equal(t, []string{"old"}, ev.Removed)
	assert.Equal(t, "Cześć", ev.FullDocument["greeting"])
	assert.Equal(t, store.ResumeToken("tok"), ev.Token)
}

func TestChangeDoc_StreamEndingOps(t *testing.T) {
	for _, op := range []string{"drop", "rename", "dropDatabase", "invalidate"} {
		ev := (&changeDoc{OperationType: op}).toEvent("c", nil)
		assert.Equal(t, store.OpInvalidate, ev.Op, op)
	}
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError("find", "c", mongo.ErrNoDocuments), store.ErrNotFound)
	assert.ErrorIs(t, mapError("find", "c", mongo.ErrClientDisconnected), store.ErrClosed)
	assert.ErrorIs(t, mapError("find", "c", context.Canceled), context.Canceled)
	assert.Nil(t, mapError("find", "c", nil))

	var timeout *store.TimeoutError
	assert.ErrorAs(t, mapError("find", "c", context.DeadlineExceeded), &timeout)

	historyLost := mongo.CommandError{Code: codeChangeStreamHistoryLost, Message: "history lost"}
	assert.ErrorIs(t, mapError("watch", "c", historyLost), store.ErrCursorInvalid)

	badToken := mongo.CommandError{Code: codeInvalidResumeToken, Message: "bad token"}
	assert.ErrorIs(t, mapError("watch", "c", badToken), store.ErrCursorInvalid)

	other := errors.New("boom")
	assert.ErrorIs(t, mapError("find", "c", other), other)
	assert.False(t, store.IsTransient(mapError("find", "c", other)))
}
