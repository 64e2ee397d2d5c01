package relay

import (
	"context"
	"crypto/rsa"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"social_fed/internal/cryptographic/signature"
	"social_fed/internal/model"
	"social_fed/internal/protocol"
	"social_fed/internal/protocol/magicenv"
	"social_fed/internal/protocol/normalize"
	"social_fed/internal/utils/log"
)

// BuildAndTransmit serializes the message, envelopes it (public, or
// encrypted for the recipient when not), and either spools it or
// transmits immediately, returning the numeric delivery outcome.
func (e *Engine) BuildAndTransmit(ctx context.Context, sender *model.LocalUser, msg *model.Message, recipient *model.FederatedContact, publicBatch, spool bool) (int, error) {
	if recipient == nil {
		return model.DeliveryFailed, fmt.Errorf("%w: no recipient contact", protocol.ErrNoDestination)
	}

	body, err := e.buildPayload(ctx, sender, msg, recipient, publicBatch)
	if err != nil {
		return model.DeliveryFailed, err
	}

	if spool {
		job := &model.DeliveryJob{
			TargetContactID: recipient.ID.Hex(),
			Protocol:        protocolTag,
			Envelope:        body,
			PublicBatch:     publicBatch,
			GUID:            msg.GUID(),
		}
		if err := e.queue.EnqueueDelivery(ctx, job); err != nil {
			return model.DeliveryFailed, err
		}
		return model.DeliveryQueued, nil
	}

	return e.Transmit(ctx, recipient, body, publicBatch, msg.GUID(), false)
}

// buildPayload produces the wire bytes for one message: signed envelope
// XML for the public channel, the encrypted JSON wrapping for private.
func (e *Engine) buildPayload(ctx context.Context, sender *model.LocalUser, msg *model.Message, recipient *model.FederatedContact, publicBatch bool) ([]byte, error) {
	privKey, err := signature.ParsePrivateKeyPEM([]byte(sender.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: sender key: %v", protocol.ErrCryptoFailure, err)
	}

	env, err := magicenv.Build(normalize.RenderXML(msg), sender.Handle, privKey)
	if err != nil {
		return nil, err
	}
	envXML := magicenv.RenderXML(env)
	if publicBatch {
		return envXML, nil
	}

	if recipient == nil {
		return nil, fmt.Errorf("%w: private delivery without a recipient", protocol.ErrNoDestination)
	}
	recipientKey, err := e.recipientKey(ctx, recipient)
	if err != nil {
		return nil, err
	}
	return magicenv.EncodePrivate(envXML, recipientKey)
}

func (e *Engine) recipientKey(ctx context.Context, recipient *model.FederatedContact) (*rsa.PublicKey, error) {
	if recipient.PublicKeyPEM != "" {
		key, err := signature.ParsePublicKeyPEM([]byte(recipient.PublicKeyPEM))
		if err == nil {
			return key, nil
		}
	}
	return e.resolver.ResolvePublicKey(ctx, recipient.Handle)
}

// DistributePublic broadcasts a newly built public message to the
// configured and subscribed relay servers.
func (e *Engine) DistributePublic(ctx context.Context, sender *model.LocalUser, msg *model.Message, tags []string) error {
	body, err := e.buildPayload(ctx, sender, msg, nil, true)
	if err != nil {
		return err
	}

	targets, err := e.RelayList(ctx, tags, nil)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if _, err := e.Transmit(ctx, targetContact(t), body, true, msg.GUID(), false); err != nil {
			log.Warn("public distribution failed",
				zap.String("batch", t.Batch), zap.String("guid", msg.GUID()), zap.Error(err))
		}
	}
	return nil
}

// DistributeRelayable re-signs a relayed comment or like as the thread
// owner and broadcasts it to the thread's participants and the relay
// servers for the post's tags.
func (e *Engine) DistributeRelayable(ctx context.Context, owner *model.LocalUser, msg *model.Message, threadGUID string, tags []string) error {
	privKey, err := signature.ParsePrivateKeyPEM([]byte(owner.PrivateKeyPEM))
	if err != nil {
		return fmt.Errorf("%w: owner key: %v", protocol.ErrCryptoFailure, err)
	}

	if len(msg.ParentAuthorSignature) == 0 {
		sig, err := normalize.SignRelayable(msg, privKey)
		if err != nil {
			return err
		}
		msg.ParentAuthorSignature = sig
	}

	env, err := magicenv.Build(normalize.RenderXML(msg), owner.Handle, privKey)
	if err != nil {
		return err
	}
	body := magicenv.RenderXML(env)

	targets, err := e.RelayList(ctx, tags, nil)
	if err != nil {
		return err
	}
	targets, err = e.ParticipantsForThread(ctx, threadGUID, targets)
	if err != nil {
		return err
	}

	for _, t := range targets {
		contact := targetContact(t)
		if _, err := e.Transmit(ctx, contact, body, true, msg.GUID(), false); err != nil {
			log.Warn("relayable distribution failed",
				zap.String("batch", t.Batch), zap.String("guid", msg.GUID()), zap.Error(err))
		}
	}
	return nil
}

// targetContact rebuilds the minimal contact a Transmit call needs from a
// merged target.
func targetContact(t model.Target) *model.FederatedContact {
	c := &model.FederatedContact{
		BatchEndpoint: t.Batch,
		Name:          t.Name,
		Network:       t.Network,
		IsRelay:       t.IsRelay,
	}
	if id, err := primitive.ObjectIDFromHex(t.ContactID); err == nil {
		c.ID = id
	}
	return c
}
