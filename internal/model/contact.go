package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// FederatedContact is the cached identity of a remote person or relay
	// server. Refreshed by the identity resolver on a 14-day staleness
	// policy, or immediately when the cached record lacks a GUID.
	FederatedContact struct {
		ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
		Handle         string             `bson:"handle" json:"handle"`
		URL            string             `bson:"url" json:"url"`
		Name           string             `bson:"name" json:"name"`
		Photo          string             `bson:"photo" json:"photo"`
		GUID           string             `bson:"guid" json:"guid"`
		PublicKeyPEM   string             `bson:"public_key" json:"public_key"`
		BatchEndpoint  string             `bson:"batch" json:"batch"`
		NotifyEndpoint string             `bson:"notify" json:"notify"`
		Network        string             `bson:"network" json:"network"`
		LastRefreshed  time.Time          `bson:"last_refreshed" json:"last_refreshed"`
		IsRelay        bool               `bson:"is_relay" json:"is_relay"`
		Archived       bool               `bson:"archived" json:"archived"`
		Blocked        bool               `bson:"blocked" json:"blocked"`
	}

	// LocalContact is a contact row owned by a local user. Delivery
	// prefers the federated record's endpoints when these are empty.
	LocalContact struct {
		ID            primitive.ObjectID `bson:"_id,omitempty"`
		UserGUID      string             `bson:"user_guid"`
		Handle        string             `bson:"handle"`
		Name          string             `bson:"name"`
		BatchEndpoint string             `bson:"batch"`
		Network       string             `bson:"network"`
	}

	// ParticipationRecord tracks a server that must receive follow-up
	// updates for a thread. Created on receipt of a participation message
	// or on first public distribution; never mutated; deleted with the
	// thread.
	ParticipationRecord struct {
		ID                 primitive.ObjectID `bson:"_id,omitempty"`
		ThreadGUID         string             `bson:"thread_guid"`
		ContactID          primitive.ObjectID `bson:"contact_id,omitempty"`
		FederatedContactID primitive.ObjectID `bson:"fcontact_id,omitempty"`
		Server             string             `bson:"server"`
	}

	// RelaySubscription is a relay server's standing request for public
	// content, either everything or posts matching its tags.
	RelaySubscription struct {
		ID    primitive.ObjectID `bson:"_id,omitempty"`
		URL   string             `bson:"url"`
		Scope string             `bson:"scope"` // "all" or "tags"
		Tags  []string           `bson:"tags"`
	}
)
