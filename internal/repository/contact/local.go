package contact

import (
	"context"

	"social_fed/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	// LocalRepo stores the contact rows local users own. Thread
	// participant resolution prefers these and falls back to the
	// federated record for missing endpoints.
	LocalRepo struct {
		collection *mongo.Collection
	}
)

func NewLocalRepo(db *mongo.Database) *LocalRepo {
	return &LocalRepo{
		collection: db.Collection("contacts"),
	}
}

func (r *LocalRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*model.LocalContact, error) {
	var c model.LocalContact
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *LocalRepo) Create(ctx context.Context, c *model.LocalContact) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, c)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	c.ID = id
	return id, nil
}
