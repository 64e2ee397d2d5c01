package participation

import (
	"context"

	"social_fed/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("participations"),
	}
}

func (r *Repo) ListByThread(ctx context.Context, threadGUID string) ([]model.ParticipationRecord, error) {
	cur, err := r.collection.Find(ctx, bson.M{"thread_guid": threadGUID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []model.ParticipationRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Repo) Create(ctx context.Context, rec *model.ParticipationRecord) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, rec)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	rec.ID = id
	return id, nil
}

// DeleteByThread drops every participation record of a retracted thread.
func (r *Repo) DeleteByThread(ctx context.Context, threadGUID string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"thread_guid": threadGUID})
	return err
}
