// Package mongokv implements a MongoDB-backed Storage, using
// go.mongodb.org/mongo-driver as the client. It retries transient
// AutoReconnect-style errors and lazily creates its TTL and uniqueness
// indexes on first use.
package mongokv

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/raid-newvicx/cachex/cacheerrors"
	"github.com/raid-newvicx/cachex/envelope"
	"github.com/raid-newvicx/cachex/internal/backoff"
	"github.com/raid-newvicx/cachex/storage"
)

// Default backoff parameters for the AutoReconnect retry loop.
const (
	DefaultMaxBackoff  = 512 * time.Millisecond
	DefaultBaseBackoff = 8 * time.Millisecond
	DefaultMaxFailures = 4
)

// neverExpires is the sentinel expiresAt for non-expiring entries: a
// far-future timestamp rather than a nullable field, so the TTL index
// applies uniformly to every document.
var neverExpires = time.Date(2999, time.December, 31, 0, 0, 0, 0, time.UTC)

type document struct {
	Key       string    `bson:"key"`
	Value     []byte    `bson:"value"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// indexState is the lazy-initialization state machine
// {uninitialized, initialized}, transitioning exactly once under a
// construction lock, permanently failing (never retried) on an
// OperationFailure from the driver.
type indexState int

const (
	stateUninitialized indexState = iota
	stateInitialized
)

// Mongo is one-document-per-key Storage with a TTL index on expiresAt and
// a unique index on key, created lazily on first use.
type Mongo struct {
	collection *mongo.Collection
	keyPrefix  string

	maxBackoff, baseBackoff time.Duration
	maxFailures             int

	mu    sync.Mutex
	state indexState
	// permanentErr is set once index creation has failed with an
	// OperationFailure; every subsequent call fails immediately without
	// retrying the driver call.
	permanentErr error
}

// Option configures a Mongo storage instance.
type Option func(*Mongo)

// WithBackoff overrides the truncated-exponential-backoff parameters used
// to retry transient AutoReconnect-style errors.
func WithBackoff(base, max time.Duration, maxFailures int) Option {
	return func(m *Mongo) {
		m.baseBackoff = base
		m.maxBackoff = max
		m.maxFailures = maxFailures
	}
}

// New wraps collection with the lazy-index Storage behavior. keyPrefix
// defaults to "cachex".
func New(collection *mongo.Collection, keyPrefix string, opts ...Option) *Mongo {
	if keyPrefix == "" {
		keyPrefix = "cachex"
	}
	m := &Mongo{
		collection:  collection,
		keyPrefix:   keyPrefix,
		maxBackoff:  DefaultMaxBackoff,
		baseBackoff: DefaultBaseBackoff,
		maxFailures: DefaultMaxFailures,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ storage.Storage = (*Mongo)(nil)

func (m *Mongo) makeKey(key string) string {
	return m.keyPrefix + "_" + key
}

// ensureIndexes lazily creates the collection's indexes. Every call takes
// the mutex and checks the state under it, so concurrent first-use
// callers create the indexes exactly once.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateInitialized {
		return nil
	}
	if m.permanentErr != nil {
		return m.permanentErr
	}

	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "key", Value: "text"}},
			Options: options.Index().SetUnique(true),
		},
	}

	err := m.retry(ctx, func() error {
		_, err := m.collection.Indexes().CreateMany(ctx, models)
		return err
	})
	if err != nil {
		if isOperationFailure(err) {
			m.permanentErr = &cacheerrors.ImproperlyConfiguredException{
				Msg: "unable to create indexes on the collection: this may happen when " +
					"attempting to use an existing collection with competing indices on the " +
					"same keys used as this storage instance; remove the indices from the " +
					"existing collection or use a different collection name",
				Cause: err,
			}
			return m.permanentErr
		}
		return &cacheerrors.CacheError{Op: "mongo: create indexes", Cause: err}
	}

	m.state = stateInitialized
	return nil
}

// retry wraps op with the truncated-exponential-backoff retry loop,
// retrying only on transient "auto-reconnect"-shaped errors.
func (m *Mongo) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(ctx, m.maxFailures, m.baseBackoff, m.maxBackoff, isAutoReconnect, op)
}

func isAutoReconnect(err error) bool {
	if err == nil {
		return false
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

func isOperationFailure(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return true
	}
	var writeErr mongo.WriteException
	return errors.As(err, &writeErr)
}

func (m *Mongo) Set(ctx context.Context, key string, value []byte, expiresIn time.Duration) error {
	if err := m.ensureIndexes(ctx); err != nil {
		return err
	}

	expiresAt := neverExpires
	if expiresIn > 0 {
		expiresAt = time.Now().UTC().Add(expiresIn)
	}

	env, err := envelope.New(value, expiresIn)
	if err != nil {
		return &cacheerrors.CacheError{Op: "mongo: set", Cause: err}
	}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return &cacheerrors.CacheError{Op: "mongo: marshal envelope", Cause: err}
	}

	k := m.makeKey(key)
	err = m.retry(ctx, func() error {
		_, err := m.collection.UpdateOne(ctx,
			bson.M{"key": k},
			bson.M{
				"$set":         bson.M{"value": envBytes, "expiresAt": expiresAt},
				"$setOnInsert": bson.M{"key": k},
			},
			options.Update().SetUpsert(true),
		)
		return err
	})
	if err != nil {
		return &cacheerrors.CacheError{Op: "mongo: set", Cause: err}
	}
	return nil
}

// Get returns (nil, false, nil) both when the document is absent and when
// it is present but logically expired.
func (m *Mongo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, false, err
	}

	k := m.makeKey(key)
	var doc document
	err := m.retry(ctx, func() error {
		res := m.collection.FindOne(ctx, bson.M{"key": k}, options.FindOne().SetProjection(bson.M{"value": 1, "_id": 0}))
		return res.Decode(&doc)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, &cacheerrors.CacheError{Op: "mongo: get", Cause: err}
	}

	var env envelope.Envelope
	if err := json.Unmarshal(doc.Value, &env); err != nil {
		return nil, false, &cacheerrors.CacheError{Op: "mongo: decode envelope", Cause: err}
	}
	if env.Expired() {
		return nil, false, nil
	}
	return env.Data, true, nil
}

func (m *Mongo) Delete(ctx context.Context, key string) error {
	if err := m.ensureIndexes(ctx); err != nil {
		return err
	}
	k := m.makeKey(key)
	err := m.retry(ctx, func() error {
		_, err := m.collection.DeleteOne(ctx, bson.M{"key": k})
		return err
	})
	if err != nil {
		return &cacheerrors.CacheError{Op: "mongo: delete", Cause: err}
	}
	return nil
}

// DeleteAll removes every document whose key carries this instance's
// "{key_prefix}_" namespace.
func (m *Mongo) DeleteAll(ctx context.Context) error {
	if err := m.ensureIndexes(ctx); err != nil {
		return err
	}
	err := m.retry(ctx, func() error {
		_, err := m.collection.DeleteMany(ctx, bson.M{"key": bson.M{"$regex": "^" + m.keyPrefix + "_"}})
		return err
	})
	if err != nil {
		return &cacheerrors.CacheError{Op: "mongo: delete_all", Cause: err}
	}
	return nil
}
