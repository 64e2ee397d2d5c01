// Package receiver runs the inbound pipeline: envelope codec, message
// normalizer, dispatcher, and the domain handlers behind it.
package receiver

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"social_fed/internal/config"
	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/protocol/dispatch"
	"social_fed/internal/protocol/magicenv"
	"social_fed/internal/protocol/normalize"
	"social_fed/internal/utils/log"
)

// ErrUnknownUser marks a private delivery addressed to no local account.
var ErrUnknownUser = errors.New("unknown recipient user")

const (
	lockTTL   = 30 * time.Second
	dedupeTTL = 15 * time.Minute
)

type (
	// ContentStore is the content collaborator handlers work against.
	ContentStore interface {
		Exists(ctx context.Context, userGUID, guid string) (bool, error)
		Insert(ctx context.Context, it *model.Item) (primitive.ObjectID, error)
		GetByGUID(ctx context.Context, guid string) (*model.Item, error)
		Delete(ctx context.Context, userGUID, guid string) error
		DeleteByAuthor(ctx context.Context, author string) error
	}

	Users interface {
		GetByGUID(ctx context.Context, guid string) (*model.LocalUser, error)
		GetByHandle(ctx context.Context, handle string) (*model.LocalUser, error)
	}

	// Cache is the atomic key-value collaborator: the idempotency cache
	// plus the named mutual-exclusion scope of the mail guard.
	Cache interface {
		Get(ctx context.Context, key string) (string, error)
		Set(ctx context.Context, key string, value any, ttl time.Duration) error
		AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
		ReleaseLock(ctx context.Context, name, token string) error
	}

	Participations interface {
		Create(ctx context.Context, rec *model.ParticipationRecord) (primitive.ObjectID, error)
		DeleteByThread(ctx context.Context, threadGUID string) error
	}

	Contacts interface {
		GetByHandle(ctx context.Context, handle string) (*model.FederatedContact, error)
		Upsert(ctx context.Context, c *model.FederatedContact) error
		SetArchived(ctx context.Context, id primitive.ObjectID, archived bool) error
		UpdateHandle(ctx context.Context, oldHandle, newHandle string) error
	}

	// Resolver is the identity resolver's contract as the receiver
	// consumes it.
	Resolver interface {
		magicenv.KeyResolver
		Contact(ctx context.Context, handle string) (*model.FederatedContact, error)
	}

	Distributor interface {
		DistributeRelayable(ctx context.Context, owner *model.LocalUser, msg *model.Message, threadGUID string, tags []string) error
	}

	Receiver struct {
		cfg            *config.Config
		resolver       Resolver
		dispatcher     *dispatch.Dispatcher
		content        ContentStore
		users          Users
		cache          Cache
		participations Participations
		contacts       Contacts
		distributor    Distributor
		now            func() time.Time
	}
)

func NewReceiver(
	cfg *config.Config,
	resolver Resolver,
	content ContentStore,
	users Users,
	cache Cache,
	participations Participations,
	contacts Contacts,
	distributor Distributor,
) *Receiver {
	r := &Receiver{
		cfg:            cfg,
		resolver:       resolver,
		dispatcher:     dispatch.New(),
		content:        content,
		users:          users,
		cache:          cache,
		participations: participations,
		contacts:       contacts,
		distributor:    distributor,
		now:            time.Now,
	}
	r.registerHandlers()
	return r
}

// ReceivePublic processes one delivery from the public batch channel.
func (r *Receiver) ReceivePublic(ctx context.Context, body []byte) error {
	decoded, err := r.decode(ctx, body, nil)
	if err != nil {
		return err
	}
	return r.process(ctx, decoded, dispatch.Delivery{Sender: decoded.Author})
}

// ReceivePrivate processes one delivery addressed to a local user,
// unwrapping the encrypted layer with the user's key.
func (r *Receiver) ReceivePrivate(ctx context.Context, userGUID string, body []byte) error {
	user, err := r.users.GetByGUID(ctx, userGUID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("%w: %s", ErrUnknownUser, userGUID)
	}

	privKey, err := signature.ParsePrivateKeyPEM([]byte(user.PrivateKeyPEM))
	if err != nil {
		return fmt.Errorf("%w: user key: %v", protocol.ErrCryptoFailure, err)
	}

	decoded, err := r.decode(ctx, body, privKey)
	if err != nil {
		return err
	}
	return r.process(ctx, decoded, dispatch.Delivery{
		Private:  true,
		Sender:   decoded.Author,
		UserGUID: userGUID,
	})
}

func (r *Receiver) process(ctx context.Context, decoded *model.DecodedMessage, del dispatch.Delivery) error {
	msg, err := normalize.Normalize(ctx, decoded, r.resolver)
	if err != nil {
		return err
	}

	log.Info("inbound message",
		zap.String("type", string(msg.Type)),
		zap.String("guid", msg.GUID()),
		zap.String("sender", del.Sender),
		zap.Bool("private", del.Private))

	return r.dispatcher.Dispatch(ctx, del, msg)
}

// decode picks the wire generation: a legacy root is unmistakable, JSON
// or a bare envelope goes through the modern path.
func (r *Receiver) decode(ctx context.Context, body []byte, privKey *rsa.PrivateKey) (*model.DecodedMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		if root, err := protocol.ParseXML(trimmed); err == nil && root.Name() == "diaspora" {
			return magicenv.DecodeLegacy(ctx, trimmed, privKey, r.resolver)
		}
	}
	return magicenv.DecodeRaw(ctx, trimmed, privKey, r.resolver)
}
