package user

import (
	"context"

	"social_fed/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	UserRepo struct {
		collection *mongo.Collection
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

func (r *UserRepo) GetByGUID(ctx context.Context, guid string) (*model.LocalUser, error) {
	return r.getOne(ctx, bson.M{"guid": guid})
}

func (r *UserRepo) GetByHandle(ctx context.Context, handle string) (*model.LocalUser, error) {
	return r.getOne(ctx, bson.M{"handle": handle})
}

func (r *UserRepo) getOne(ctx context.Context, filter bson.M) (*model.LocalUser, error) {
	var user model.LocalUser
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.LocalUser) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	user.ID = id
	return id, nil
}
