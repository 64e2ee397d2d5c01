package relaysub

import (
	"context"

	"social_fed/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// Repo stores the standing subscriptions relay servers have declared,
	// by scope "all" or by hashtag.
	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("relay_subscriptions"),
	}
}

func (r *Repo) List(ctx context.Context) ([]model.RelaySubscription, error) {
	cur, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var subs []model.RelaySubscription
	if err := cur.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *Repo) Upsert(ctx context.Context, sub *model.RelaySubscription) error {
	filter := bson.M{"url": sub.URL}
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, filter, sub, opts)
	return err
}
