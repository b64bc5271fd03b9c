// Package mongo is a reference subscription.Store backed by MongoDB,
// using bson.M filters and a collection passed in rather than owned. It
// mirrors the expiry TTL at the database level with a TTL index so a crashed
// process's subscribers still age out even without the in-process sweep
// running.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relaybus/relaybus/subscription"
)

type subscriberDoc struct {
	Topic     string     `bson:"topic"`
	URI       string     `bson:"uri"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

type subscriptionStore struct {
	coll *mongo.Collection
}

// NewSubscriptionStore returns a subscription.Store backed by coll.
// EnsureIndexes should be called once at startup to create the
// (topic, uri) uniqueness constraint and the expires_at TTL index.
func NewSubscriptionStore(coll *mongo.Collection) subscription.Store {
	return &subscriptionStore{coll: coll}
}

// EnsureIndexes creates the unique (topic, uri) index and the TTL
// index on expires_at that lets MongoDB itself reap expired
// subscribers, independent of the Tracker's background sweep.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "topic", Value: 1}, {Key: "uri", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return err
}

func (s *subscriptionStore) Add(ctx context.Context, sub subscription.Subscriber) error {
	filter := bson.M{"topic": sub.Topic, "uri": sub.URI}
	doc := subscriberDoc{Topic: sub.Topic, URI: sub.URI}
	if !sub.ExpiresAt.IsZero() {
		doc.ExpiresAt = &sub.ExpiresAt
	}
	update := bson.M{"$set": doc}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *subscriptionStore) Remove(ctx context.Context, topic, uri string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"topic": topic, "uri": uri})
	return err
}

func (s *subscriptionStore) List(ctx context.Context, topic string) ([]subscription.Subscriber, error) {
	cursor, err := s.coll.Find(ctx, bson.M{"topic": topic})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []subscription.Subscriber
	for cursor.Next(ctx) {
		var doc subscriberDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		sub := subscription.Subscriber{Topic: doc.Topic, URI: doc.URI}
		if doc.ExpiresAt != nil {
			sub.ExpiresAt = *doc.ExpiresAt
		}
		out = append(out, sub)
	}
	return out, cursor.Err()
}

func (s *subscriptionStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	result, err := s.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before, "$ne": nil}})
	if err != nil {
		return 0, err
	}
	return int(result.DeletedCount), nil
}

var _ subscription.Store = (*subscriptionStore)(nil)
