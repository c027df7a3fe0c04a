package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCacheDatabase   = "stockstream"
	mongoCacheCollection = "quote_cache"
	mongoConnectTimeout  = 10 * time.Second
	mongoOpTimeout       = 5 * time.Second
)

// cacheDocument is the persisted shape of one cache entry
type cacheDocument struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// MongoCache is the durable cache backend shared across instances
type MongoCache struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoCache connects to MongoDB and verifies it is reachable.
// A connection or ping failure is returned so the caller can fall
// back to the in-process cache.
func NewMongoCache(uri string) (*MongoCache, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(serverAPI).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(mongoConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	cache := &MongoCache{
		client:     client,
		collection: client.Database(mongoCacheDatabase).Collection(mongoCacheCollection),
	}

	if err := cache.ensureIndexes(ctx); err != nil {
		log.Printf("Failed to create cache indexes: %v", err)
	}

	log.Printf("Connected to MongoDB at %s", maskMongoURI(uri))
	return cache, nil
}

// ensureIndexes creates the TTL index that lets MongoDB expire stale
// documents on its own. Reads still check expires_at because the TTL
// monitor only sweeps periodically.
func (m *MongoCache) ensureIndexes(ctx context.Context) error {
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	_, err := m.collection.Indexes().CreateOne(ctx, model)
	return err
}

// Get returns the cached value. Missing documents, expired documents
// and backend errors all read as a miss.
func (m *MongoCache) Get(ctx context.Context, key string) ([]byte, bool) {
	opCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc cacheDocument
	err := m.collection.FindOne(opCtx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			log.Printf("Cache read failed for %s: %v", key, err)
		}
		return nil, false
	}

	if time.Now().After(doc.ExpiresAt) {
		return nil, false
	}
	return doc.Value, true
}

// Set upserts a value with a TTL. Write failures are logged and dropped.
func (m *MongoCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	opCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if ttl <= 0 {
		if _, err := m.collection.DeleteOne(opCtx, bson.M{"_id": key}); err != nil {
			log.Printf("Cache delete failed for %s: %v", key, err)
		}
		return
	}

	doc := cacheDocument{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}
	_, err := m.collection.ReplaceOne(opCtx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		log.Printf("Cache write failed for %s: %v", key, err)
	}
}

// Close disconnects from MongoDB
func (m *MongoCache) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// maskMongoURI hides credentials when logging the connection target
func maskMongoURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	scheme := strings.Index(uri, "://")
	if at != -1 && scheme != -1 && at > scheme {
		return uri[:scheme+3] + "***" + uri[at:]
	}
	return uri
}
