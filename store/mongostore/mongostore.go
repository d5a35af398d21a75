// Package mongostore implements store.Client on MongoDB.
package mongostore

import (
	"context"
	"sync/atomic"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

type client struct {
	log    logger.Logger
	client *mongo.Client
	db     *mongo.Database
	closed atomic.Bool
}

var _ store.Client = (*client)(nil)

// New connects to MongoDB and verifies the connection with a ping
func New(ctx context.Context, log logger.Logger, cfg *Config) (store.Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	mc, err := mongo.Connect(opts)
	if err != nil {
		return nil, ErrConnect(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := mc.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, ErrConnect(err)
	}

	log.Info("mongodb connected", zap.String("database", cfg.Database))
	return &client{
		log:    log,
		client: mc,
		db:     mc.Database(cfg.Database),
	}, nil
}

func (c *client) Find(ctx context.Context, collection string, filter store.Filter) (store.Document, error) {
	var doc bson.D
	err := c.db.Collection(collection).FindOne(ctx, bson.M(filter)).Decode(&doc)
	if err != nil {
		return nil, mapError("find", collection, err)
	}
	return toDocument(doc), nil
}

func (c *client) BulkUpsert(ctx context.Context, collection string, upserts []store.Upsert) (store.WriteResult, error) {
	if len(upserts) == 0 {
		return store.WriteResult{}, nil
	}
	models := make([]mongo.WriteModel, len(upserts))
	for i, up := range upserts {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M(up.Filter)).
			SetReplacement(bson.M(up.Document)).
			SetUpsert(true)
	}

	res, err := c.db.Collection(collection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return store.WriteResult{}, mapError("bulk upsert", collection, err)
	}
	return store.WriteResult{
		Matched:  res.MatchedCount,
		Modified: res.ModifiedCount,
		Upserted: res.UpsertedCount,
	}, nil
}

func (c *client) Watch(ctx context.Context, collection string, opts store.WatchOptions) (store.Stream, error) {
	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if opts.ResumeAfter != nil {
		csOpts.SetResumeAfter(bson.Raw(opts.ResumeAfter))
	}

	cs, err := c.db.Collection(collection).Watch(ctx, mongo.Pipeline{}, csOpts)
	if err != nil {
		return nil, mapError("watch", collection, err)
	}
	c.log.Debug("change stream opened",
		zap.String("collection", collection),
		zap.Bool("resumed", opts.ResumeAfter != nil),
	)
	return &stream{collection: collection, cs: cs}, nil
}

func (c *client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.client.Disconnect(ctx); err != nil {
		return mapError("disconnect", "", err)
	}
	c.log.Info("mongodb disconnected")
	return nil
}

type stream struct {
	collection string
	cs         *mongo.ChangeStream
	ended      bool
}

func (s *stream) Next(ctx context.Context) (store.ChangeEvent, error) {
	if s.ended {
		// the server closes a stream after an invalidate event; it can only be restarted, not resumed
		return store.ChangeEvent{}, store.ErrCursorInvalid
	}
	if !s.cs.Next(ctx) {
		if err := s.cs.Err(); err != nil {
			return store.ChangeEvent{}, mapError("watch", s.collection, err)
		}
		if err := ctx.Err(); err != nil {
			return store.ChangeEvent{}, err
		}
		return store.ChangeEvent{}, store.ErrUnavailable("watch", s.collection, store.ErrClosed)
	}

	var doc changeDoc
	if err := s.cs.Decode(&doc); err != nil {
		return store.ChangeEvent{}, mapError("decode change", s.collection, err)
	}
	ev := doc.toEvent(s.collection, s.ResumeToken())
	if ev.Op == store.OpInvalidate {
		s.ended = true
	}
	return ev, nil
}

func (s *stream) ResumeToken() store.ResumeToken {
	tok := s.cs.ResumeToken()
	if tok == nil {
		return nil
	}
	return store.ResumeToken(append([]byte(nil), tok...))
}

func (s *stream) Close(ctx context.Context) error {
	return mapError("close stream", s.collection, s.cs.Close(ctx))
}
