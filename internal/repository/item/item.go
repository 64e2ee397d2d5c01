package item

import (
	"context"

	"social_fed/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	// Repo stores received federated content. It is the content
	// collaborator the receiver's handlers work against.
	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("items"),
	}
}

// Exists reports whether the user already holds an item with this GUID.
func (r *Repo) Exists(ctx context.Context, userGUID, guid string) (bool, error) {
	err := r.collection.FindOne(ctx, bson.M{"user_guid": userGUID, "guid": guid}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) GetByGUID(ctx context.Context, guid string) (*model.Item, error) {
	var it model.Item
	err := r.collection.FindOne(ctx, bson.M{"guid": guid}).Decode(&it)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &it, nil
}

// GetPublicByGUID returns the item only if it is public; the fetch
// endpoint must never leak private content.
func (r *Repo) GetPublicByGUID(ctx context.Context, guid string) (*model.Item, error) {
	var it model.Item
	err := r.collection.FindOne(ctx, bson.M{"guid": guid, "private": false}).Decode(&it)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &it, nil
}

func (r *Repo) Insert(ctx context.Context, it *model.Item) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, it)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	it.ID = id
	return id, nil
}

// Delete removes an item by GUID for one user, honoring a retraction.
func (r *Repo) Delete(ctx context.Context, userGUID, guid string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"user_guid": userGUID, "guid": guid})
	return err
}

// DeleteByAuthor removes everything a deleted remote account authored.
func (r *Repo) DeleteByAuthor(ctx context.Context, author string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"author": author})
	return err
}
