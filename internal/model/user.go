package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// LocalUser is an account hosted on this node.
	LocalUser struct {
		ID            primitive.ObjectID `bson:"_id,omitempty"`
		GUID          string             `bson:"guid"`
		Handle        string             `bson:"handle"`
		Name          string             `bson:"name"`
		PrivateKeyPEM string             `bson:"private_key"`
		PublicKeyPEM  string             `bson:"public_key"`
	}

	// Item is a stored piece of federated content (post, comment, mail,
	// ...), kept as its canonical field mapping so the original message
	// XML can be rebuilt for the fetch endpoint and for redistribution.
	Item struct {
		ID         primitive.ObjectID `bson:"_id,omitempty"`
		UserGUID   string             `bson:"user_guid"`
		GUID       string             `bson:"guid"`
		Type       MessageType        `bson:"type"`
		Author     string             `bson:"author"`
		ParentGUID string             `bson:"parent_guid"`
		Fields     []Field            `bson:"fields"`
		Private    bool               `bson:"private"`
		ReceivedAt time.Time          `bson:"received_at"`
	}
)
