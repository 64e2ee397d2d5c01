package contact

import (
	"context"

	"social_fed/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// Repo stores federated contacts, the resolver's cache of remote
	// identities and the relay engine's synthetic relay records.
	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("federated_contacts"),
	}
}

func (r *Repo) GetByHandle(ctx context.Context, handle string) (*model.FederatedContact, error) {
	return r.getOne(ctx, bson.M{"handle": handle})
}

func (r *Repo) GetByURL(ctx context.Context, url string) (*model.FederatedContact, error) {
	return r.getOne(ctx, bson.M{"url": url})
}

func (r *Repo) GetByID(ctx context.Context, id primitive.ObjectID) (*model.FederatedContact, error) {
	return r.getOne(ctx, bson.M{"_id": id})
}

func (r *Repo) getOne(ctx context.Context, filter bson.M) (*model.FederatedContact, error) {
	var c model.FederatedContact
	err := r.collection.FindOne(ctx, filter).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &c, nil
}

// Upsert replaces the record keyed by handle, inserting when absent.
func (r *Repo) Upsert(ctx context.Context, c *model.FederatedContact) error {
	filter := bson.M{"handle": c.Handle}
	opts := options.Replace().SetUpsert(true)
	res, err := r.collection.ReplaceOne(ctx, filter, c, opts)
	if err != nil {
		return err
	}
	if id, ok := res.UpsertedID.(primitive.ObjectID); ok {
		c.ID = id
	}
	return nil
}

// SetArchived flips the dead-peer mark on one contact.
func (r *Repo) SetArchived(ctx context.Context, id primitive.ObjectID, archived bool) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{"$set": bson.M{"archived": archived}})
	return err
}

// UpdateHandle moves a contact record to a migrated account's new handle.
func (r *Repo) UpdateHandle(ctx context.Context, oldHandle, newHandle string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"handle": oldHandle},
		bson.M{"$set": bson.M{"handle": newHandle}})
	return err
}
